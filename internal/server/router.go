package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/buto-labs/buto-backend/internal/auth"
	"github.com/buto-labs/buto-backend/internal/bookmarks"
	"github.com/buto-labs/buto-backend/internal/messages"
	"github.com/buto-labs/buto-backend/internal/projects"
	"github.com/buto-labs/buto-backend/internal/realtime"
	"github.com/buto-labs/buto-backend/internal/users"
)

const (
	userIDContextKey    = "buto_user_id"
	userEmailContextKey = "buto_user_email"
	rawTokenContextKey  = "buto_raw_token"
)

var (
	errMissingTokenIssuer   = errors.New("token issuer dependency required")
	errMissingUsersService  = errors.New("users service dependency required")
	errMissingProjects      = errors.New("projects service dependency required")
	errMissingMessages      = errors.New("messages service dependency required")
	errMissingBookmarks     = errors.New("bookmarks service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Tokens    *auth.TokenIssuer
	Revoker   auth.TokenRevoker
	OTP       *auth.OTPStore
	Users     *users.Service
	Projects  *projects.Service
	Messages  *messages.Service
	Bookmarks *bookmarks.Service
	Realtime  *realtime.Handler
	Logger    *zap.Logger
}

// NewHTTPHandler builds the gin router for the whole HTTP surface,
// including the realtime websocket endpoint.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Projects == nil {
		return nil, errMissingProjects
	}
	if deps.Messages == nil {
		return nil, errMissingMessages
	}
	if deps.Bookmarks == nil {
		return nil, errMissingBookmarks
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:    deps.Tokens,
		revoker:   deps.Revoker,
		otp:       deps.OTP,
		users:     deps.Users,
		projects:  deps.Projects,
		messages:  deps.Messages,
		bookmarks: deps.Bookmarks,
		logger:    logger,
	}

	router.POST("/users/register", handler.handleRegister)
	router.POST("/users/login", handler.handleLogin)

	if deps.OTP != nil {
		router.POST("/auth/forgot-password", handler.handleForgotPassword)
		router.POST("/auth/resend-otp", handler.handleForgotPassword)
		router.POST("/auth/verify-otp", handler.handleVerifyOTP)
		router.POST("/auth/reset-password", handler.handleResetPassword)
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/users/logout", handler.handleLogout)
	protected.GET("/users/profile", handler.handleProfile)
	protected.GET("/users/all", handler.handleListUsers)

	protected.POST("/projects/create", handler.handleCreateProject)
	protected.GET("/projects/all", handler.handleListProjects)
	protected.PUT("/projects/add-user", handler.handleAddCollaborators)
	protected.GET("/projects/get-project/:projectId", handler.handleGetProject)
	protected.PUT("/projects/:projectId/rename", handler.handleRenameProject)
	protected.DELETE("/projects/:projectId", handler.handleDeleteProject)

	protected.GET("/messages/:projectId", handler.handleListMessages)
	protected.GET("/messages/:projectId/file-history", handler.handleFileHistory)
	protected.POST("/messages/save", handler.handleSaveMessage)

	protected.GET("/bookmarks/count", handler.handleBookmarkCount)
	protected.GET("/bookmarks/projects/bookmarked", handler.handleBookmarkedProjects)
	protected.GET("/bookmarks/projects/:projectId/bookmarked-messages", handler.handleBookmarkedMessages)
	protected.POST("/bookmarks/projects/:projectId/bookmark", handler.handleToggleProjectBookmark)
	protected.POST("/bookmarks/projects/:projectId/messages/:messageId/bookmark", handler.handleToggleMessageBookmark)
	protected.DELETE("/bookmarks/projects/:projectId/messages/:messageId/bookmark", handler.handleRemoveMessageBookmark)

	if deps.Realtime != nil {
		router.GET("/ws", gin.WrapH(deps.Realtime))
	}

	return router, nil
}

type httpHandler struct {
	tokens    *auth.TokenIssuer
	revoker   auth.TokenRevoker
	otp       *auth.OTPStore
	users     *users.Service
	projects  *projects.Service
	messages  *messages.Service
	bookmarks *bookmarks.Service
	logger    *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	if h.revoker != nil {
		revoked, err := h.revoker.IsRevoked(c.Request.Context(), token)
		if err != nil {
			h.logger.Error("revocation check failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authorization_unavailable"})
			return
		}
		if revoked {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
	}

	claims, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Set(userIDContextKey, claims.UserID)
	c.Set(userEmailContextKey, claims.Email)
	c.Set(rawTokenContextKey, token)
	c.Next()
}
