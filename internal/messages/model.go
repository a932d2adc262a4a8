package messages

import (
	"github.com/buto-labs/buto-backend/internal/ai"
)

// AISenderName is the display identity attached to assistant messages.
const AISenderName = "BUTO AI"

// BodyKind tags the polymorphic message body. The kind is the single source
// of truth; "is this an AI response" is derived from it rather than stored
// alongside.
type BodyKind string

const (
	// BodyKindText is a plain chat message.
	BodyKindText BodyKind = "text"
	// BodyKindAIResult is a structured assistant answer.
	BodyKindAIResult BodyKind = "ai_result"
)

// Body is the tagged message payload: either plain text or an AI result.
type Body struct {
	Kind BodyKind
	Text string
	AI   *ai.Result
}

// TextBody wraps plain chat text.
func TextBody(text string) Body {
	return Body{Kind: BodyKindText, Text: text}
}

// AIBody wraps a structured assistant answer.
func AIBody(result ai.Result) Body {
	return Body{Kind: BodyKindAIResult, AI: &result}
}

// IsAIResponse derives the assistant flag from the body tag.
func (b Body) IsAIResponse() bool {
	return b.Kind == BodyKindAIResult
}

// Record is the persisted message row. Structured AI fields are stored as
// JSON text columns and reassembled into a Body on read.
type Record struct {
	ID              string  `gorm:"column:id;primaryKey;size:36;not null"`
	ProjectID       string  `gorm:"column:project_id;size:36;not null;index:idx_messages_project_time,priority:1"`
	Sender          string  `gorm:"column:sender;size:320;not null"`
	Kind            string  `gorm:"column:kind;size:16;not null"`
	Text            string  `gorm:"column:text;type:text"`
	Explanation     string  `gorm:"column:explanation;type:text"`
	FilesJSON       string  `gorm:"column:files_json;type:text"`
	BuildStepsJSON  string  `gorm:"column:build_steps_json;type:text"`
	RunCommandsJSON string  `gorm:"column:run_commands_json;type:text"`
	Prompt          *string `gorm:"column:prompt;type:text"`
	HasFiles        bool    `gorm:"column:has_files;not null;default:false;index"`
	TimestampMS     int64   `gorm:"column:timestamp_ms;not null;index:idx_messages_project_time,priority:2"`
}

// TableName exposes the table backing chat messages.
func (Record) TableName() string {
	return "messages"
}

// Message is the domain view of one chat message.
type Message struct {
	ID          string
	ProjectID   string
	Sender      string
	Body        Body
	Prompt      *string
	TimestampMS int64
}

// HistoryEntry is one AI turn's generated file set, as surfaced by the
// per-project file history.
type HistoryEntry struct {
	TimestampMS int64       `json:"timestamp"`
	Files       ai.FileList `json:"files"`
	BuildSteps  []string    `json:"buildSteps"`
	RunCommands []string    `json:"runCommands"`
	Prompt      *string     `json:"prompt"`
}
