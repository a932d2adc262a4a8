package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	sqlite "github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/buto-labs/buto-backend/internal/auth"
	"github.com/buto-labs/buto-backend/internal/bookmarks"
	"github.com/buto-labs/buto-backend/internal/messages"
	"github.com/buto-labs/buto-backend/internal/projects"
	"github.com/buto-labs/buto-backend/internal/users"
)

type capturedCode struct {
	email string
	code  string
}

func (c *capturedCode) SendCode(_ context.Context, email, code string) error {
	c.email = email
	c.code = code
	return nil
}

type testServer struct {
	server   *httptest.Server
	tokens   *auth.TokenIssuer
	users    *users.Service
	projects *projects.Service
	messages *messages.Service
	otpCode  *capturedCode
	redis    *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "server.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&users.User{}, &projects.Project{}, &projects.Membership{}, &messages.Record{}, &bookmarks.Bookmark{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	redisServer := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: redisServer.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("unexpected users constructor error: %v", err)
	}
	projectService, err := projects.NewService(projects.ServiceConfig{Database: db, Users: userService})
	if err != nil {
		t.Fatalf("unexpected projects constructor error: %v", err)
	}
	messageService, err := messages.NewService(messages.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("unexpected messages constructor error: %v", err)
	}
	bookmarkService, err := bookmarks.NewService(bookmarks.ServiceConfig{Database: db, Messages: messageService})
	if err != nil {
		t.Fatalf("unexpected bookmarks constructor error: %v", err)
	}

	tokens := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		TokenTTL:      time.Hour,
	})

	otpCode := &capturedCode{}
	otpStore, err := auth.NewOTPStore(auth.OTPStoreConfig{Client: redisClient, Sender: otpCode})
	if err != nil {
		t.Fatalf("unexpected otp constructor error: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Tokens:    tokens,
		Revoker:   auth.NewRedisTokenRevoker(redisClient),
		OTP:       otpStore,
		Users:     userService,
		Projects:  projectService,
		Messages:  messageService,
		Bookmarks: bookmarkService,
	})
	if err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &testServer{
		server:   server,
		tokens:   tokens,
		users:    userService,
		projects: projectService,
		messages: messageService,
		otpCode:  otpCode,
		redis:    redisServer,
	}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	request, err := http.NewRequest(method, ts.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := ts.server.Client().Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(response.Body).Decode(&decoded)
	return response, decoded
}

func (ts *testServer) registerAndLogin(t *testing.T, email string) (string, string) {
	t.Helper()
	response, _ := ts.do(t, http.MethodPost, "/users/register", "", map[string]string{
		"email": email, "password": "hunter22",
	})
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("register failed with %d", response.StatusCode)
	}

	response, body := ts.do(t, http.MethodPost, "/users/login", "", map[string]string{
		"email": email, "password": "hunter22",
	})
	if response.StatusCode != http.StatusOK {
		t.Fatalf("login failed with %d", response.StatusCode)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("expected token in login response, got %#v", body)
	}
	user, _ := body["user"].(map[string]any)
	id, _ := user["id"].(string)
	if id == "" {
		t.Fatalf("expected user id in login response, got %#v", body)
	}
	return token, id
}

func (ts *testServer) createProject(t *testing.T, token, name string) string {
	t.Helper()
	response, body := ts.do(t, http.MethodPost, "/projects/create", token, map[string]string{"projectName": name})
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("create project failed with %d: %#v", response.StatusCode, body)
	}
	project, _ := body["project"].(map[string]any)
	id, _ := project["_id"].(string)
	if id == "" {
		t.Fatalf("expected project id, got %#v", body)
	}
	return id
}

func TestRegisterConflictsOnDuplicateEmail(t *testing.T) {
	ts := newTestServer(t)

	response, _ := ts.do(t, http.MethodPost, "/users/register", "", map[string]string{
		"email": "dev@example.com", "password": "hunter22",
	})
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", response.StatusCode)
	}

	response, _ = ts.do(t, http.MethodPost, "/users/register", "", map[string]string{
		"email": "dev@example.com", "password": "hunter22",
	})
	if response.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", response.StatusCode)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t)
	ts.registerAndLogin(t, "dev@example.com")

	response, _ := ts.do(t, http.MethodPost, "/users/login", "", map[string]string{
		"email": "dev@example.com", "password": "wrong",
	})
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", response.StatusCode)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	response, _ := ts.do(t, http.MethodGet, "/users/profile", "", nil)
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", response.StatusCode)
	}

	response, _ = ts.do(t, http.MethodGet, "/users/profile", "garbage", nil)
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", response.StatusCode)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.registerAndLogin(t, "dev@example.com")

	response, _ := ts.do(t, http.MethodGet, "/users/profile", token, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected profile to load, got %d", response.StatusCode)
	}

	response, _ = ts.do(t, http.MethodGet, "/users/logout", token, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected logout to succeed, got %d", response.StatusCode)
	}

	response, _ = ts.do(t, http.MethodGet, "/users/profile", token, nil)
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", response.StatusCode)
	}
}

func TestListUsersExcludesCaller(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.registerAndLogin(t, "alpha@example.com")
	ts.registerAndLogin(t, "beta@example.com")

	response, body := ts.do(t, http.MethodGet, "/users/all", token, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
	listed, _ := body["users"].([]any)
	if len(listed) != 1 {
		t.Fatalf("expected one other user, got %#v", body)
	}
}

func TestProjectLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	token, userID := ts.registerAndLogin(t, "owner@example.com")

	projectID := ts.createProject(t, token, "Demo")

	// Duplicate names conflict.
	response, _ := ts.do(t, http.MethodPost, "/projects/create", token, map[string]string{"projectName": "Demo"})
	if response.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", response.StatusCode)
	}

	response, body := ts.do(t, http.MethodGet, "/projects/all", token, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
	listed, _ := body["projects"].([]any)
	if len(listed) != 1 {
		t.Fatalf("expected one project, got %#v", body)
	}

	response, body = ts.do(t, http.MethodGet, "/projects/get-project/"+projectID, token, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
	project, _ := body["project"].(map[string]any)
	members, _ := project["users"].([]any)
	if len(members) != 1 || members[0] != userID {
		t.Fatalf("expected creator as sole member, got %#v", project)
	}

	response, _ = ts.do(t, http.MethodPut, "/projects/"+projectID+"/rename", token, map[string]string{"projectName": "Renamed"})
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected rename to succeed, got %d", response.StatusCode)
	}

	response, _ = ts.do(t, http.MethodDelete, "/projects/"+projectID, token, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected delete to succeed, got %d", response.StatusCode)
	}

	response, _ = ts.do(t, http.MethodGet, "/projects/get-project/"+projectID, token, nil)
	if response.StatusCode != http.StatusForbidden {
		t.Fatalf("expected membership to be gone with the project, got %d", response.StatusCode)
	}
}

func TestAddCollaboratorsOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ownerToken, _ := ts.registerAndLogin(t, "owner@example.com")
	peerToken, _ := ts.registerAndLogin(t, "peer@example.com")

	projectID := ts.createProject(t, ownerToken, "Demo")

	// Non-members cannot see the project.
	response, _ := ts.do(t, http.MethodGet, "/projects/get-project/"+projectID, peerToken, nil)
	if response.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-member, got %d", response.StatusCode)
	}

	response, _ = ts.do(t, http.MethodPut, "/projects/add-user", ownerToken, map[string]any{
		"projectId": projectID,
		"emails":    []string{"peer@example.com"},
	})
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected add-user to succeed, got %d", response.StatusCode)
	}

	response, _ = ts.do(t, http.MethodGet, "/projects/get-project/"+projectID, peerToken, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected new member to see the project, got %d", response.StatusCode)
	}

	// Unknown collaborator emails fail the whole call.
	response, _ = ts.do(t, http.MethodPut, "/projects/add-user", ownerToken, map[string]any{
		"projectId": projectID,
		"emails":    []string{"ghost@example.com"},
	})
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected unknown email to 404, got %d", response.StatusCode)
	}
}

func TestMessageEndpoints(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.registerAndLogin(t, "dev@example.com")
	projectID := ts.createProject(t, token, "Demo")

	response, body := ts.do(t, http.MethodPost, "/messages/save", token, map[string]string{
		"projectId": projectID,
		"sender":    "dev@example.com",
		"message":   "hello over http",
	})
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %#v", response.StatusCode, body)
	}

	response, body = ts.do(t, http.MethodGet, "/messages/"+projectID, token, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
	listed, _ := body["messages"].([]any)
	if len(listed) != 1 {
		t.Fatalf("expected one message, got %#v", body)
	}
	first, _ := listed[0].(map[string]any)
	if first["message"] != "hello over http" {
		t.Fatalf("unexpected message payload %#v", first)
	}
	if first["isAiResponse"] != false {
		t.Fatalf("expected plain message, got %#v", first)
	}

	response, body = ts.do(t, http.MethodGet, "/messages/"+projectID+"/file-history", token, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
	history, _ := body["history"].([]any)
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %#v", body)
	}

	// Membership guards the whole message surface.
	otherToken, _ := ts.registerAndLogin(t, "outsider@example.com")
	response, _ = ts.do(t, http.MethodGet, "/messages/"+projectID, otherToken, nil)
	if response.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-member, got %d", response.StatusCode)
	}
}

func TestBookmarkEndpoints(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.registerAndLogin(t, "dev@example.com")
	projectID := ts.createProject(t, token, "Demo")

	saved, err := ts.messages.SaveText(context.Background(), projectID, "dev@example.com", "keep this")
	if err != nil {
		t.Fatalf("failed to seed message: %v", err)
	}

	response, body := ts.do(t, http.MethodPost, "/bookmarks/projects/"+projectID+"/bookmark", token, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
	if body["bookmarked"] != true {
		t.Fatalf("expected bookmark to be created, got %#v", body)
	}

	response, body = ts.do(t, http.MethodPost, "/bookmarks/projects/"+projectID+"/messages/"+saved.ID+"/bookmark", token, nil)
	if response.StatusCode != http.StatusOK || body["bookmarked"] != true {
		t.Fatalf("expected message bookmark, got %d %#v", response.StatusCode, body)
	}

	response, body = ts.do(t, http.MethodGet, "/bookmarks/count", token, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
	if body["count"] != float64(2) {
		t.Fatalf("expected count 2, got %#v", body)
	}

	response, body = ts.do(t, http.MethodGet, "/bookmarks/projects/bookmarked", token, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
	if listed, _ := body["projects"].([]any); len(listed) != 1 {
		t.Fatalf("expected one bookmarked project, got %#v", body)
	}

	response, body = ts.do(t, http.MethodGet, "/bookmarks/projects/"+projectID+"/bookmarked-messages", token, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
	if listed, _ := body["messages"].([]any); len(listed) != 1 {
		t.Fatalf("expected one bookmarked message, got %#v", body)
	}

	response, _ = ts.do(t, http.MethodDelete, "/bookmarks/projects/"+projectID+"/messages/"+saved.ID+"/bookmark", token, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected removal to succeed, got %d", response.StatusCode)
	}

	// Removing again reports the bookmark as missing.
	response, _ = ts.do(t, http.MethodDelete, "/bookmarks/projects/"+projectID+"/messages/"+saved.ID+"/bookmark", token, nil)
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", response.StatusCode)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.registerAndLogin(t, "dev@example.com")

	// Reset without a verified code is refused.
	response, _ := ts.do(t, http.MethodPost, "/auth/reset-password", "", map[string]string{
		"email": "dev@example.com", "newPassword": "new-password",
	})
	if response.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 before verification, got %d", response.StatusCode)
	}

	// Registration already sent a verification code; step past its cooldown.
	ts.redis.FastForward(2 * time.Minute)

	response, _ = ts.do(t, http.MethodPost, "/auth/forgot-password", "", map[string]string{"email": "dev@example.com"})
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected code to be sent, got %d", response.StatusCode)
	}
	if ts.otpCode.code == "" {
		t.Fatalf("expected a delivered code")
	}

	// Resend inside the cooldown window is throttled.
	response, _ = ts.do(t, http.MethodPost, "/auth/resend-otp", "", map[string]string{"email": "dev@example.com"})
	if response.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", response.StatusCode)
	}

	wrongCode := "000000"
	if ts.otpCode.code == wrongCode {
		wrongCode = "111111"
	}
	response, _ = ts.do(t, http.MethodPost, "/auth/verify-otp", "", map[string]string{
		"email": "dev@example.com", "otp": wrongCode,
	})
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected wrong code to be rejected, got %d", response.StatusCode)
	}

	response, _ = ts.do(t, http.MethodPost, "/auth/verify-otp", "", map[string]string{
		"email": "dev@example.com", "otp": ts.otpCode.code,
	})
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected code to verify, got %d", response.StatusCode)
	}

	response, _ = ts.do(t, http.MethodPost, "/auth/reset-password", "", map[string]string{
		"email": "dev@example.com", "newPassword": "new-password",
	})
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected reset to succeed, got %d", response.StatusCode)
	}

	response, _ = ts.do(t, http.MethodPost, "/users/login", "", map[string]string{
		"email": "dev@example.com", "password": "new-password",
	})
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected login with the new password, got %d", response.StatusCode)
	}
	response, _ = ts.do(t, http.MethodPost, "/users/login", "", map[string]string{
		"email": "dev@example.com", "password": "hunter22",
	})
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected old password to stop working, got %d", response.StatusCode)
	}

	// A second reset needs a freshly verified code; the grant was consumed.
	response, _ = ts.do(t, http.MethodPost, "/auth/reset-password", "", map[string]string{
		"email": "dev@example.com", "newPassword": "stolen-password",
	})
	if response.StatusCode != http.StatusForbidden {
		t.Fatalf("expected reset without a fresh code to be refused, got %d", response.StatusCode)
	}
	response, _ = ts.do(t, http.MethodPost, "/users/login", "", map[string]string{
		"email": "dev@example.com", "password": "stolen-password",
	})
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected refused reset to leave the password alone, got %d", response.StatusCode)
	}

	response, _ = ts.do(t, http.MethodPost, "/auth/forgot-password", "", map[string]string{"email": "ghost@example.com"})
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected unknown email to 404, got %d", response.StatusCode)
	}
}

func TestRegisterSignsInAndSendsVerificationCode(t *testing.T) {
	ts := newTestServer(t)

	response, body := ts.do(t, http.MethodPost, "/users/register", "", map[string]string{
		"email": "dev@example.com", "password": "hunter22",
	})
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", response.StatusCode)
	}

	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("expected a session token in the register response, got %#v", body)
	}
	if ts.otpCode.code == "" || ts.otpCode.email != "dev@example.com" {
		t.Fatalf("expected a verification code for the new account, got %#v", ts.otpCode)
	}

	// The issued token works immediately.
	response, _ = ts.do(t, http.MethodGet, "/users/profile", token, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected register token to authorize requests, got %d", response.StatusCode)
	}
}

func TestNewHTTPHandlerRejectsMissingDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err == nil {
		t.Fatalf("expected missing token issuer to be rejected")
	}

	tokens := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		TokenTTL:      time.Hour,
	})
	if _, err := NewHTTPHandler(Dependencies{Tokens: tokens}); err == nil {
		t.Fatalf("expected missing users service to be rejected")
	}
}
