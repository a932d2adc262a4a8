package projects

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/buto-labs/buto-backend/internal/users"
)

var (
	// ErrNameTaken indicates another project already uses the name.
	ErrNameTaken = errors.New("projects: name already exists")
	// ErrNotFound indicates no project exists for the identifier.
	ErrNotFound = errors.New("projects: not found")
	// ErrNotMember indicates the acting user does not belong to the project.
	ErrNotMember = errors.New("projects: user is not a member")
	// ErrInvalidID indicates a malformed project identifier.
	ErrInvalidID = errors.New("projects: invalid project id")

	errMissingDatabase = errors.New("projects: database connection required")
	errMissingUsers    = errors.New("projects: users service required")
)

// ServiceConfig describes the dependencies for the project service.
type ServiceConfig struct {
	Database *gorm.DB
	Users    *users.Service
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages projects and their memberships.
type Service struct {
	db     *gorm.DB
	users  *users.Service
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the project service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Users == nil {
		return nil, errMissingUsers
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, users: cfg.Users, now: clock, logger: logger}, nil
}

// ValidateID reports whether the raw value is a well-formed project id.
func ValidateID(raw string) error {
	if _, err := uuid.Parse(strings.TrimSpace(raw)); err != nil {
		return ErrInvalidID
	}
	return nil
}

// Create makes a new project with the creator as its first member.
func (s *Service) Create(ctx context.Context, name, creatorID string) (Detail, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Detail{}, fmt.Errorf("projects: name is required")
	}
	if creatorID == "" {
		return Detail{}, fmt.Errorf("projects: creator id is required")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Detail{}, err
	}
	project := Project{ID: id.String(), Name: name}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&project).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrNameTaken
			}
			return err
		}
		return tx.Create(&Membership{ProjectID: project.ID, UserID: creatorID, Position: 0}).Error
	})
	if txErr != nil {
		return Detail{}, txErr
	}

	s.logger.Info("project created", zap.String("project_id", project.ID), zap.String("name", name))
	return Detail{Project: project, MemberIDs: []string{creatorID}}, nil
}

// ListByUser returns every project the user belongs to, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Detail, error) {
	if userID == "" {
		return nil, fmt.Errorf("projects: user id is required")
	}

	var projects []Project
	err := s.db.WithContext(ctx).
		Joins("JOIN project_members ON project_members.project_id = projects.id").
		Where("project_members.user_id = ?", userID).
		Order("projects.created_at DESC").
		Find(&projects).Error
	if err != nil {
		return nil, err
	}

	details := make([]Detail, 0, len(projects))
	for _, project := range projects {
		memberIDs, err := s.memberIDs(ctx, project.ID)
		if err != nil {
			return nil, err
		}
		details = append(details, Detail{Project: project, MemberIDs: memberIDs})
	}
	return details, nil
}

// GetByID fetches one project with its ordered member ids.
func (s *Service) GetByID(ctx context.Context, projectID string) (Detail, error) {
	if err := ValidateID(projectID); err != nil {
		return Detail{}, err
	}

	var project Project
	err := s.db.WithContext(ctx).Where("id = ?", projectID).Take(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Detail{}, ErrNotFound
	}
	if err != nil {
		return Detail{}, err
	}

	memberIDs, err := s.memberIDs(ctx, project.ID)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Project: project, MemberIDs: memberIDs}, nil
}

// IsMember reports whether the user belongs to the project.
func (s *Service) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Membership{}).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Rename changes the project name. The actor must be a member and the new
// name must not collide with another project.
func (s *Service) Rename(ctx context.Context, projectID, name, actorID string) (Detail, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Detail{}, fmt.Errorf("projects: name is required")
	}
	if err := s.requireMember(ctx, projectID, actorID); err != nil {
		return Detail{}, err
	}

	result := s.db.WithContext(ctx).Model(&Project{}).
		Where("id = ?", projectID).
		Update("name", name)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return Detail{}, ErrNameTaken
		}
		return Detail{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Detail{}, ErrNotFound
	}

	return s.GetByID(ctx, projectID)
}

// Delete removes the project and its memberships. The actor must be a member.
func (s *Service) Delete(ctx context.Context, projectID, actorID string) error {
	if err := s.requireMember(ctx, projectID, actorID); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", projectID).Delete(&Membership{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", projectID).Delete(&Project{}).Error
	})
}

// AddCollaborators resolves the emails to accounts and adds each as a
// member. Every email must belong to a registered user; unknown addresses
// fail the whole call, naming the missing ones. Existing members are left
// untouched.
func (s *Service) AddCollaborators(ctx context.Context, projectID, actorID string, emails []string) (Detail, error) {
	if len(emails) == 0 {
		return Detail{}, fmt.Errorf("projects: at least one collaborator email is required")
	}
	if err := s.requireMember(ctx, projectID, actorID); err != nil {
		return Detail{}, err
	}

	resolved := make([]users.User, 0, len(emails))
	var missing []string
	for _, email := range emails {
		user, err := s.users.FindByEmail(ctx, email)
		if errors.Is(err, users.ErrNotFound) {
			missing = append(missing, email)
			continue
		}
		if err != nil {
			return Detail{}, err
		}
		resolved = append(resolved, user)
	}
	if len(missing) > 0 {
		return Detail{}, fmt.Errorf("%w with emails: %s", users.ErrNotFound, strings.Join(missing, ", "))
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var nextPosition int
		if err := tx.Model(&Membership{}).
			Where("project_id = ?", projectID).
			Select("COALESCE(MAX(position), -1) + 1").
			Scan(&nextPosition).Error; err != nil {
			return err
		}
		for _, user := range resolved {
			var count int64
			if err := tx.Model(&Membership{}).
				Where("project_id = ? AND user_id = ?", projectID, user.ID).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}
			membership := Membership{ProjectID: projectID, UserID: user.ID, Position: nextPosition}
			if err := tx.Create(&membership).Error; err != nil {
				return err
			}
			nextPosition++
		}
		return nil
	})
	if txErr != nil {
		return Detail{}, txErr
	}

	return s.GetByID(ctx, projectID)
}

func (s *Service) requireMember(ctx context.Context, projectID, actorID string) error {
	if err := ValidateID(projectID); err != nil {
		return err
	}
	member, err := s.IsMember(ctx, projectID, actorID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotMember
	}
	return nil
}

func (s *Service) memberIDs(ctx context.Context, projectID string) ([]string, error) {
	var memberships []Membership
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("position ASC").
		Find(&memberships).Error
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(memberships))
	for _, membership := range memberships {
		ids = append(ids, membership.UserID)
	}
	return ids, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
