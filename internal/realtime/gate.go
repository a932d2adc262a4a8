package realtime

import (
	"context"
	"errors"
	"strings"

	"github.com/buto-labs/buto-backend/internal/auth"
	"github.com/buto-labs/buto-backend/internal/projects"
)

var (
	// ErrInvalidProject indicates a malformed project identifier.
	ErrInvalidProject = errors.New("realtime: invalid project id")
	// ErrProjectNotFound indicates the project does not exist.
	ErrProjectNotFound = errors.New("realtime: project not found")
	// ErrUnauthenticated indicates the token was absent.
	ErrUnauthenticated = errors.New("realtime: authentication required")
	// ErrInvalidToken indicates the token failed verification or was revoked.
	ErrInvalidToken = errors.New("realtime: invalid token")
)

// Gate authenticates and authorizes a realtime connection attempt before it
// may join a project room. It runs exactly once per connection, before the
// connection is usable for message exchange.
type Gate struct {
	projects *projects.Service
	tokens   *auth.TokenIssuer
	revoker  auth.TokenRevoker
}

// NewGate constructs the session gate.
func NewGate(projectService *projects.Service, tokens *auth.TokenIssuer, revoker auth.TokenRevoker) *Gate {
	return &Gate{projects: projectService, tokens: tokens, revoker: revoker}
}

// Authorize either admits the connection, returning a session bound to the
// resolved (user, project) pair, or rejects it. Validation order: project id
// shape, project existence, token presence, token verification/revocation.
func (g *Gate) Authorize(ctx context.Context, token, projectID string) (*Session, error) {
	if err := projects.ValidateID(projectID); err != nil {
		return nil, ErrInvalidProject
	}

	project, err := g.projects.GetByID(ctx, projectID)
	if errors.Is(err, projects.ErrNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := g.tokens.Validate(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if g.revoker != nil {
		revoked, err := g.revoker.IsRevoked(ctx, token)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrInvalidToken
		}
	}

	return newSession(claims.UserID, claims.Email, project.ID), nil
}
