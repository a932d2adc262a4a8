package messages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/buto-labs/buto-backend/internal/ai"
)

var (
	errMissingDatabase = errors.New("messages: database connection required")

	// ErrNotFound indicates no message exists for the identifier.
	ErrNotFound = errors.New("messages: not found")
)

// ServiceConfig describes the dependencies for the message service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service persists and reads chat messages.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the message service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// SaveText persists a plain team message and returns it with its assigned id.
func (s *Service) SaveText(ctx context.Context, projectID, sender, text string) (Message, error) {
	if projectID == "" || sender == "" {
		return Message{}, fmt.Errorf("messages: project id and sender are required")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Message{}, err
	}
	record := Record{
		ID:          id.String(),
		ProjectID:   projectID,
		Sender:      sender,
		Kind:        string(BodyKindText),
		Text:        text,
		TimestampMS: s.now().UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return Message{}, err
	}
	return toMessage(record)
}

// SaveAIResult persists a structured assistant answer together with the
// stripped prompt that produced it.
func (s *Service) SaveAIResult(ctx context.Context, projectID string, result ai.Result, prompt string) (Message, error) {
	if projectID == "" {
		return Message{}, fmt.Errorf("messages: project id is required")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Message{}, err
	}

	filesJSON, err := json.Marshal(result.Files)
	if err != nil {
		return Message{}, err
	}
	stepsJSON, err := json.Marshal(result.BuildSteps)
	if err != nil {
		return Message{}, err
	}
	commandsJSON, err := json.Marshal(result.RunCommands)
	if err != nil {
		return Message{}, err
	}

	record := Record{
		ID:              id.String(),
		ProjectID:       projectID,
		Sender:          AISenderName,
		Kind:            string(BodyKindAIResult),
		Explanation:     result.Explanation,
		FilesJSON:       string(filesJSON),
		BuildStepsJSON:  string(stepsJSON),
		RunCommandsJSON: string(commandsJSON),
		Prompt:          &prompt,
		HasFiles:        result.HasFiles(),
		TimestampMS:     s.now().UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return Message{}, err
	}
	return toMessage(record)
}

// ListByProject returns the project's messages in timestamp order.
func (s *Service) ListByProject(ctx context.Context, projectID string) ([]Message, error) {
	var records []Record
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("timestamp_ms ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	result := make([]Message, 0, len(records))
	for _, record := range records {
		message, err := toMessage(record)
		if err != nil {
			s.logger.Warn("skipping unreadable message row",
				zap.String("message_id", record.ID), zap.Error(err))
			continue
		}
		result = append(result, message)
	}
	return result, nil
}

// GetByID fetches one message.
func (s *Service) GetByID(ctx context.Context, messageID string) (Message, error) {
	var record Record
	err := s.db.WithContext(ctx).Where("id = ?", messageID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}
	return toMessage(record)
}

// FileHistory returns the project's generated file sets, most recent first.
// Each entry is one file-bearing AI turn; entries are immutable once written.
func (s *Service) FileHistory(ctx context.Context, projectID string) ([]HistoryEntry, error) {
	var records []Record
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND has_files = ?", projectID, true).
		Order("timestamp_ms DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	history := make([]HistoryEntry, 0, len(records))
	for _, record := range records {
		message, err := toMessage(record)
		if err != nil || message.Body.AI == nil {
			continue
		}
		history = append(history, HistoryEntry{
			TimestampMS: message.TimestampMS,
			Files:       message.Body.AI.Files,
			BuildSteps:  message.Body.AI.BuildSteps,
			RunCommands: message.Body.AI.RunCommands,
			Prompt:      message.Prompt,
		})
	}
	return history, nil
}

func toMessage(record Record) (Message, error) {
	message := Message{
		ID:          record.ID,
		ProjectID:   record.ProjectID,
		Sender:      record.Sender,
		Prompt:      record.Prompt,
		TimestampMS: record.TimestampMS,
	}

	switch BodyKind(record.Kind) {
	case BodyKindText:
		message.Body = TextBody(record.Text)
	case BodyKindAIResult:
		result := ai.Result{Explanation: record.Explanation}
		if record.FilesJSON != "" {
			if err := json.Unmarshal([]byte(record.FilesJSON), &result.Files); err != nil {
				return Message{}, fmt.Errorf("messages: decode files: %w", err)
			}
		}
		if record.BuildStepsJSON != "" {
			if err := json.Unmarshal([]byte(record.BuildStepsJSON), &result.BuildSteps); err != nil {
				return Message{}, fmt.Errorf("messages: decode build steps: %w", err)
			}
		}
		if record.RunCommandsJSON != "" {
			if err := json.Unmarshal([]byte(record.RunCommandsJSON), &result.RunCommands); err != nil {
				return Message{}, fmt.Errorf("messages: decode run commands: %w", err)
			}
		}
		message.Body = AIBody(result)
	default:
		return Message{}, fmt.Errorf("messages: unknown body kind %q", record.Kind)
	}

	return message, nil
}
