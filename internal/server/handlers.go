package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/buto-labs/buto-backend/internal/auth"
	"github.com/buto-labs/buto-backend/internal/bookmarks"
	"github.com/buto-labs/buto-backend/internal/messages"
	"github.com/buto-labs/buto-backend/internal/projects"
	"github.com/buto-labs/buto-backend/internal/users"
)

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required"`
}

type verifyOTPRequest struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"otp" binding:"required"`
}

type resetPasswordRequest struct {
	Email       string `json:"email" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

type createProjectRequest struct {
	Name string `json:"projectName" binding:"required"`
}

type renameProjectRequest struct {
	Name string `json:"projectName" binding:"required"`
}

type addCollaboratorsRequest struct {
	ProjectID string   `json:"projectId" binding:"required"`
	Emails    []string `json:"emails" binding:"required"`
}

type saveMessageRequest struct {
	ProjectID string `json:"projectId" binding:"required"`
	Sender    string `json:"sender" binding:"required"`
	Message   string `json:"message" binding:"required"`
}

func (h *httpHandler) currentUser(c *gin.Context) (id string, email string) {
	return c.GetString(userIDContextKey), c.GetString(userEmailContextKey)
}

// respondServiceError maps domain sentinel errors onto HTTP statuses. Anything
// unrecognized is logged and reported as a 500 without leaking internals.
func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, users.ErrEmailTaken), errors.Is(err, projects.ErrNameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, users.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, projects.ErrNotMember), errors.Is(err, auth.ErrNoResetGrant):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, projects.ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, users.ErrNotFound),
		errors.Is(err, projects.ErrNotFound),
		errors.Is(err, messages.ErrNotFound),
		errors.Is(err, bookmarks.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrOTPCooldown):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrOTPNotFound), errors.Is(err, auth.ErrOTPMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func projectPayload(detail projects.Detail) gin.H {
	return gin.H{
		"_id":         detail.ID,
		"projectName": detail.Name,
		"users":       detail.MemberIDs,
		"createdAt":   detail.CreatedAt,
	}
}

func messagePayload(message messages.Message) gin.H {
	payload := gin.H{
		"_id":          message.ID,
		"projectId":    message.ProjectID,
		"sender":       message.Sender,
		"isAiResponse": message.Body.IsAIResponse(),
		"timestamp":    message.TimestampMS,
	}
	if message.Body.IsAIResponse() {
		payload["message"] = message.Body.AI
	} else {
		payload["message"] = message.Body.Text
	}
	if message.Prompt != nil {
		payload["prompt"] = *message.Prompt
	}
	return payload
}

// handleRegister creates the account and signs the user straight in. The
// verification code is sent best-effort; a delivery failure never loses the
// freshly created account.
func (h *httpHandler) handleRegister(c *gin.Context) {
	var request credentialsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	account, err := h.users.Register(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	token, expiresIn, err := h.tokens.Issue(c.Request.Context(), account.ID, account.Email)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	if h.otp != nil {
		if err := h.otp.Send(c.Request.Context(), account.Email); err != nil {
			h.logger.Warn("verification code send failed",
				zap.String("email", account.Email), zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"token":     token,
		"expiresIn": expiresIn,
		"user":      account.Public(),
	})
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	account, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	token, expiresIn, err := h.tokens.Issue(c.Request.Context(), account.ID, account.Email)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresIn": expiresIn,
		"user":      account.Public(),
	})
}

// handleLogout blacklists the presented token for the remainder of its
// lifetime so it cannot be replayed.
func (h *httpHandler) handleLogout(c *gin.Context) {
	token := c.GetString(rawTokenContextKey)
	if h.revoker != nil && token != "" {
		if err := h.revoker.Revoke(c.Request.Context(), token, h.tokens.TokenTTL()); err != nil {
			h.respondServiceError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *httpHandler) handleProfile(c *gin.Context) {
	userID, _ := h.currentUser(c)
	account, err := h.users.FindByID(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": account.Public()})
}

// handleListUsers returns every account except the caller's, for the
// collaborator picker.
func (h *httpHandler) handleListUsers(c *gin.Context) {
	userID, _ := h.currentUser(c)
	others, err := h.users.ListOthers(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": others})
}

func (h *httpHandler) handleForgotPassword(c *gin.Context) {
	var request emailRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}

	if _, err := h.users.FindByEmail(c.Request.Context(), request.Email); err != nil {
		h.respondServiceError(c, err)
		return
	}
	if err := h.otp.Send(c.Request.Context(), request.Email); err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "code sent"})
}

func (h *httpHandler) handleVerifyOTP(c *gin.Context) {
	var request verifyOTPRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and otp are required"})
		return
	}

	if err := h.otp.Verify(c.Request.Context(), request.Email, request.Code); err != nil {
		h.respondServiceError(c, err)
		return
	}
	if err := h.users.MarkVerified(c.Request.Context(), request.Email); err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "code verified"})
}

// handleResetPassword rotates the password after a successful OTP
// verification. Each reset consumes the single-use grant the verification
// left behind, so a reset is never possible on email alone.
func (h *httpHandler) handleResetPassword(c *gin.Context) {
	var request resetPasswordRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and newPassword are required"})
		return
	}

	if _, err := h.users.FindByEmail(c.Request.Context(), request.Email); err != nil {
		h.respondServiceError(c, err)
		return
	}
	if err := h.otp.ConsumeResetGrant(c.Request.Context(), request.Email); err != nil {
		h.respondServiceError(c, err)
		return
	}

	if err := h.users.ResetPassword(c.Request.Context(), request.Email, request.NewPassword); err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

func (h *httpHandler) handleCreateProject(c *gin.Context) {
	var request createProjectRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "projectName is required"})
		return
	}
	if strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "projectName is required"})
		return
	}

	userID, _ := h.currentUser(c)
	detail, err := h.projects.Create(c.Request.Context(), request.Name, userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"project": projectPayload(detail)})
}

func (h *httpHandler) handleListProjects(c *gin.Context) {
	userID, _ := h.currentUser(c)
	details, err := h.projects.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	payloads := make([]gin.H, 0, len(details))
	for _, detail := range details {
		payloads = append(payloads, projectPayload(detail))
	}
	c.JSON(http.StatusOK, gin.H{"projects": payloads})
}

func (h *httpHandler) handleAddCollaborators(c *gin.Context) {
	var request addCollaboratorsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "projectId and emails are required"})
		return
	}
	if len(request.Emails) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "emails must not be empty"})
		return
	}

	userID, _ := h.currentUser(c)
	detail, err := h.projects.AddCollaborators(c.Request.Context(), request.ProjectID, userID, request.Emails)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"project": projectPayload(detail)})
}

func (h *httpHandler) handleGetProject(c *gin.Context) {
	projectID := c.Param("projectId")
	if err := projects.ValidateID(projectID); err != nil {
		h.respondServiceError(c, err)
		return
	}

	userID, _ := h.currentUser(c)
	member, err := h.projects.IsMember(c.Request.Context(), projectID, userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	if !member {
		h.respondServiceError(c, projects.ErrNotMember)
		return
	}

	detail, err := h.projects.GetByID(c.Request.Context(), projectID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"project": projectPayload(detail)})
}

func (h *httpHandler) handleRenameProject(c *gin.Context) {
	var request renameProjectRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "projectName is required"})
		return
	}
	if strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "projectName is required"})
		return
	}

	userID, _ := h.currentUser(c)
	detail, err := h.projects.Rename(c.Request.Context(), c.Param("projectId"), request.Name, userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"project": projectPayload(detail)})
}

func (h *httpHandler) handleDeleteProject(c *gin.Context) {
	userID, _ := h.currentUser(c)
	if err := h.projects.Delete(c.Request.Context(), c.Param("projectId"), userID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "project deleted"})
}

// requireMembership guards message and bookmark reads behind project
// membership. It reports whether the caller may proceed.
func (h *httpHandler) requireMembership(c *gin.Context, projectID string) bool {
	if err := projects.ValidateID(projectID); err != nil {
		h.respondServiceError(c, err)
		return false
	}
	userID, _ := h.currentUser(c)
	member, err := h.projects.IsMember(c.Request.Context(), projectID, userID)
	if err != nil {
		h.respondServiceError(c, err)
		return false
	}
	if !member {
		h.respondServiceError(c, projects.ErrNotMember)
		return false
	}
	return true
}

func (h *httpHandler) handleListMessages(c *gin.Context) {
	projectID := c.Param("projectId")
	if !h.requireMembership(c, projectID) {
		return
	}

	records, err := h.messages.ListByProject(c.Request.Context(), projectID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	payloads := make([]gin.H, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, messagePayload(record))
	}
	c.JSON(http.StatusOK, gin.H{"messages": payloads})
}

func (h *httpHandler) handleFileHistory(c *gin.Context) {
	projectID := c.Param("projectId")
	if !h.requireMembership(c, projectID) {
		return
	}

	history, err := h.messages.FileHistory(c.Request.Context(), projectID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

// handleSaveMessage persists a plain text message over HTTP. Assistant
// results are only ever written by the realtime pipeline.
func (h *httpHandler) handleSaveMessage(c *gin.Context) {
	var request saveMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "projectId, sender and message are required"})
		return
	}
	if !h.requireMembership(c, request.ProjectID) {
		return
	}

	saved, err := h.messages.SaveText(c.Request.Context(), request.ProjectID, request.Sender, request.Message)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": messagePayload(saved)})
}

func (h *httpHandler) handleBookmarkCount(c *gin.Context) {
	userID, _ := h.currentUser(c)
	count, err := h.bookmarks.Count(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *httpHandler) handleBookmarkedProjects(c *gin.Context) {
	userID, _ := h.currentUser(c)
	bookmarked, err := h.bookmarks.BookmarkedProjects(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	payloads := make([]gin.H, 0, len(bookmarked))
	for _, project := range bookmarked {
		payloads = append(payloads, gin.H{
			"_id":         project.ID,
			"projectName": project.Name,
			"createdAt":   project.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"projects": payloads})
}

func (h *httpHandler) handleBookmarkedMessages(c *gin.Context) {
	projectID := c.Param("projectId")
	if !h.requireMembership(c, projectID) {
		return
	}

	userID, _ := h.currentUser(c)
	records, err := h.bookmarks.BookmarkedMessages(c.Request.Context(), userID, projectID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	payloads := make([]gin.H, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, messagePayload(record))
	}
	c.JSON(http.StatusOK, gin.H{"messages": payloads})
}

func (h *httpHandler) handleToggleProjectBookmark(c *gin.Context) {
	projectID := c.Param("projectId")
	if !h.requireMembership(c, projectID) {
		return
	}

	userID, _ := h.currentUser(c)
	bookmarked, err := h.bookmarks.ToggleProject(c.Request.Context(), userID, projectID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookmarked": bookmarked})
}

func (h *httpHandler) handleToggleMessageBookmark(c *gin.Context) {
	projectID := c.Param("projectId")
	if !h.requireMembership(c, projectID) {
		return
	}

	userID, _ := h.currentUser(c)
	bookmarked, err := h.bookmarks.ToggleMessage(c.Request.Context(), userID, projectID, c.Param("messageId"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookmarked": bookmarked})
}

func (h *httpHandler) handleRemoveMessageBookmark(c *gin.Context) {
	projectID := c.Param("projectId")
	if !h.requireMembership(c, projectID) {
		return
	}

	userID, _ := h.currentUser(c)
	if err := h.bookmarks.RemoveMessage(c.Request.Context(), userID, projectID, c.Param("messageId")); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "bookmark removed"})
}
