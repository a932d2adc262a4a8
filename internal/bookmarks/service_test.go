package bookmarks

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/buto-labs/buto-backend/internal/messages"
	"github.com/buto-labs/buto-backend/internal/projects"
)

type fixture struct {
	service  *Service
	messages *messages.Service
	db       *gorm.DB
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "bookmarks.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&projects.Project{}, &messages.Record{}, &Bookmark{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	messageService, err := messages.NewService(messages.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("unexpected messages constructor error: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db, Messages: messageService})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return fixture{service: service, messages: messageService, db: db}
}

func (f fixture) createProject(t *testing.T, name string) string {
	t.Helper()
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("failed to generate id: %v", err)
	}
	project := projects.Project{ID: id.String(), Name: name}
	if err := f.db.Create(&project).Error; err != nil {
		t.Fatalf("failed to insert project: %v", err)
	}
	return project.ID
}

func TestToggleProjectBookmarkFlipsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	projectID := f.createProject(t, "Demo")

	bookmarked, err := f.service.ToggleProject(ctx, "user-1", projectID)
	if err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	if !bookmarked {
		t.Fatalf("expected first toggle to create the bookmark")
	}

	bookmarked, err = f.service.ToggleProject(ctx, "user-1", projectID)
	if err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	if bookmarked {
		t.Fatalf("expected second toggle to remove the bookmark")
	}

	count, err := f.service.Count(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no bookmarks after toggling twice, got %d", count)
	}
}

func TestToggleMessageBookmarkIsIndependentOfProjectLevel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	projectID := f.createProject(t, "Demo")

	saved, err := f.messages.SaveText(ctx, projectID, "dev@example.com", "keep this")
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	if _, err := f.service.ToggleProject(ctx, "user-1", projectID); err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	bookmarked, err := f.service.ToggleMessage(ctx, "user-1", projectID, saved.ID)
	if err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	if !bookmarked {
		t.Fatalf("expected message bookmark to be created")
	}

	count, err := f.service.Count(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected project and message bookmarks to coexist, got %d", count)
	}

	// Removing the message bookmark leaves the project-level one alone.
	if _, err := f.service.ToggleMessage(ctx, "user-1", projectID, saved.ID); err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	count, err = f.service.Count(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected project bookmark to survive, got %d", count)
	}
}

func TestBookmarkedProjectsAreDistinct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	projectID := f.createProject(t, "Demo")

	first, err := f.messages.SaveText(ctx, projectID, "dev@example.com", "one")
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	second, err := f.messages.SaveText(ctx, projectID, "dev@example.com", "two")
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	if _, err := f.service.ToggleMessage(ctx, "user-1", projectID, first.ID); err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	if _, err := f.service.ToggleMessage(ctx, "user-1", projectID, second.ID); err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}

	bookmarked, err := f.service.BookmarkedProjects(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(bookmarked) != 1 {
		t.Fatalf("expected one distinct project, got %d", len(bookmarked))
	}
	if bookmarked[0].ID != projectID {
		t.Fatalf("unexpected project %s", bookmarked[0].ID)
	}
}

func TestBookmarkedMessagesResolveRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	projectID := f.createProject(t, "Demo")

	saved, err := f.messages.SaveText(ctx, projectID, "dev@example.com", "keep this")
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	if _, err := f.service.ToggleMessage(ctx, "user-1", projectID, saved.ID); err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	// Project-level bookmarks never surface in the message list.
	if _, err := f.service.ToggleProject(ctx, "user-1", projectID); err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}

	resolved, err := f.service.BookmarkedMessages(ctx, "user-1", projectID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(resolved) != 1 {
		t.Fatalf("expected one message, got %d", len(resolved))
	}
	if resolved[0].Body.Text != "keep this" {
		t.Fatalf("unexpected message %#v", resolved[0])
	}
}

func TestRemoveMessageBookmark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	projectID := f.createProject(t, "Demo")

	saved, err := f.messages.SaveText(ctx, projectID, "dev@example.com", "keep this")
	if err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	if err := f.service.RemoveMessage(ctx, "user-1", projectID, saved.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected missing bookmark to report not found, got %v", err)
	}

	if _, err := f.service.ToggleMessage(ctx, "user-1", projectID, saved.ID); err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	if err := f.service.RemoveMessage(ctx, "user-1", projectID, saved.ID); err != nil {
		t.Fatalf("unexpected remove error: %v", err)
	}

	bookmarked, err := f.service.IsMessageBookmarked(ctx, "user-1", projectID, saved.ID)
	if err != nil {
		t.Fatalf("unexpected lookup error: %v", err)
	}
	if bookmarked {
		t.Fatalf("expected bookmark to be gone")
	}
}

func TestBookmarksAreScopedPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	projectID := f.createProject(t, "Demo")

	if _, err := f.service.ToggleProject(ctx, "user-1", projectID); err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}

	count, err := f.service.Count(ctx, "user-2")
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected other users to see no bookmarks, got %d", count)
	}
}

func TestProjectBookmarkUniquenessInSchema(t *testing.T) {
	f := newFixture(t)
	projectID := f.createProject(t, "Demo")
	userID := uuid.Must(uuid.NewV7()).String()

	first := Bookmark{ID: uuid.Must(uuid.NewV7()).String(), UserID: userID, ProjectID: projectID}
	if err := f.db.Create(&first).Error; err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}

	// The partial unique index rejects a second project-level row even when
	// written around the service.
	duplicate := Bookmark{ID: uuid.Must(uuid.NewV7()).String(), UserID: userID, ProjectID: projectID}
	if err := f.db.Create(&duplicate).Error; err == nil {
		t.Fatalf("expected duplicate project bookmark to violate the schema")
	}
}
