package bookmarks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/buto-labs/buto-backend/internal/messages"
	"github.com/buto-labs/buto-backend/internal/projects"
)

var (
	errMissingDatabase = errors.New("bookmarks: database connection required")
	errMissingMessages = errors.New("bookmarks: messages service required")

	// ErrNotFound indicates the bookmark does not exist.
	ErrNotFound = errors.New("bookmarks: not found")
)

// ServiceConfig describes the dependencies for the bookmark service.
type ServiceConfig struct {
	Database *gorm.DB
	Messages *messages.Service
	Clock    func() time.Time
}

// Service manages project- and message-level bookmarks. The compound
// (user, project, message) key is unique; toggles are read-check-then-write
// and the end state is always "exists" or "absent".
type Service struct {
	db       *gorm.DB
	messages *messages.Service
	now      func() time.Time
}

// NewService constructs the bookmark service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Messages == nil {
		return nil, errMissingMessages
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, messages: cfg.Messages, now: clock}, nil
}

// Count returns the user's total bookmark count, project and message level.
func (s *Service) Count(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("bookmarks: user id is required")
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&Bookmark{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

// BookmarkedProjects returns the distinct projects the user has bookmarks in.
func (s *Service) BookmarkedProjects(ctx context.Context, userID string) ([]projects.Project, error) {
	if userID == "" {
		return nil, fmt.Errorf("bookmarks: user id is required")
	}
	var result []projects.Project
	err := s.db.WithContext(ctx).Model(&projects.Project{}).
		Distinct("projects.*").
		Joins("JOIN bookmarks ON bookmarks.project_id = projects.id").
		Where("bookmarks.user_id = ?", userID).
		Find(&result).Error
	return result, err
}

// BookmarkedMessages resolves the user's message-level bookmarks in a
// project to the underlying message records.
func (s *Service) BookmarkedMessages(ctx context.Context, userID, projectID string) ([]messages.Message, error) {
	if userID == "" || projectID == "" {
		return nil, fmt.Errorf("bookmarks: user id and project id are required")
	}
	if err := projects.ValidateID(projectID); err != nil {
		return nil, err
	}

	var rows []Bookmark
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND project_id = ? AND message_id IS NOT NULL", userID, projectID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]messages.Message, 0, len(rows))
	for _, row := range rows {
		message, err := s.messages.GetByID(ctx, *row.MessageID)
		if errors.Is(err, messages.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, message)
	}
	return result, nil
}

// ToggleProject flips the user's project-level bookmark and reports the new
// state: true when the bookmark now exists.
func (s *Service) ToggleProject(ctx context.Context, userID, projectID string) (bool, error) {
	return s.toggle(ctx, userID, projectID, nil)
}

// ToggleMessage flips the user's bookmark on one message and reports the
// new state: true when the bookmark now exists.
func (s *Service) ToggleMessage(ctx context.Context, userID, projectID, messageID string) (bool, error) {
	if messageID == "" {
		return false, fmt.Errorf("bookmarks: message id is required")
	}
	return s.toggle(ctx, userID, projectID, &messageID)
}

// RemoveMessage deletes the user's bookmark for one message in one project.
// Missing bookmarks surface as ErrNotFound.
func (s *Service) RemoveMessage(ctx context.Context, userID, projectID, messageID string) error {
	if userID == "" || projectID == "" || messageID == "" {
		return fmt.Errorf("bookmarks: user, project and message ids are required")
	}
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND project_id = ? AND message_id = ?", userID, projectID, messageID).
		Delete(&Bookmark{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IsMessageBookmarked reports whether the user bookmarked the message.
func (s *Service) IsMessageBookmarked(ctx context.Context, userID, projectID, messageID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Bookmark{}).
		Where("user_id = ? AND project_id = ? AND message_id = ?", userID, projectID, messageID).
		Count(&count).Error
	return count > 0, err
}

func (s *Service) toggle(ctx context.Context, userID, projectID string, messageID *string) (bool, error) {
	if userID == "" || projectID == "" {
		return false, fmt.Errorf("bookmarks: user id and project id are required")
	}
	if err := projects.ValidateID(projectID); err != nil {
		return false, err
	}

	query := s.db.WithContext(ctx).Where("user_id = ? AND project_id = ?", userID, projectID)
	if messageID == nil {
		query = query.Where("message_id IS NULL")
	} else {
		query = query.Where("message_id = ?", *messageID)
	}

	var existing Bookmark
	err := query.Take(&existing).Error
	if err == nil {
		if err := s.db.WithContext(ctx).Where("id = ?", existing.ID).Delete(&Bookmark{}).Error; err != nil {
			return false, err
		}
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return false, err
	}
	bookmark := Bookmark{
		ID:        id.String(),
		UserID:    userID,
		ProjectID: projectID,
		MessageID: messageID,
	}
	if err := s.db.WithContext(ctx).Create(&bookmark).Error; err != nil {
		return false, err
	}
	return true, nil
}
