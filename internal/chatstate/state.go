// Package chatstate is the client-side reducer for the project chat: it
// consumes the ordered event stream (local optimistic sends plus remote
// realtime deliveries) and rebuilds the UI-facing projections: message
// lists per channel, the current generated file set, the per-project file
// history stack and per-message bookmark flags.
package chatstate

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/buto-labs/buto-backend/internal/ai"
	"github.com/buto-labs/buto-backend/internal/messages"
	"github.com/buto-labs/buto-backend/internal/realtime"
)

const localIDPrefix = "local-"

// EntryKind distinguishes the rendered entry flavors.
type EntryKind string

const (
	// EntryText is a plain chat message.
	EntryText EntryKind = "text"
	// EntryAIExplanation is the markdown explanation of an assistant turn.
	EntryAIExplanation EntryKind = "ai_explanation"
	// EntryBuildSteps is the synthetic build-instructions entry that follows
	// a file-bearing assistant turn.
	EntryBuildSteps EntryKind = "build_steps"
	// EntryRunCommands is the synthetic run-commands entry that follows a
	// file-bearing assistant turn.
	EntryRunCommands EntryKind = "run_commands"
	// EntryError is the synthetic entry standing in for an assistant answer
	// that could not be rendered.
	EntryError EntryKind = "error"
)

// Entry is one rendered chat item.
type Entry struct {
	ID          string
	Sender      string
	Channel     realtime.Channel
	Kind        EntryKind
	Text        string
	Result      *ai.Result
	Steps       []string
	Bookmarked  bool
	Optimistic  bool
	TimestampMS int64
}

// SelectedFile is the file currently shown in the code pane.
type SelectedFile struct {
	Name    string
	Content string
}

// HistoryEntry is one past assistant turn's immutable file set.
type HistoryEntry struct {
	TimestampMS int64
	Files       ai.FileList
	BuildSteps  []string
	RunCommands []string
}

// RemoteMessage is the decoded realtime delivery handed to the reducer. The
// message field stays raw because assistant payloads arrive as objects and
// peer messages as strings; malformed frames must degrade, not panic.
type RemoteMessage struct {
	ID      string          `json:"_id"`
	Sender  string          `json:"sender"`
	Message json.RawMessage `json:"message"`
	Prompt  string          `json:"prompt"`
}

// State is the reducer. It is a plain single-owner structure: the client
// event loop is its only writer.
type State struct {
	entries        []Entry
	generatedFiles ai.FileList
	selected       *SelectedFile
	pinned         bool
	history        []HistoryEntry

	clock func() time.Time
	newID func() string
}

// Option customizes a State.
type Option func(*State)

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(s *State) { s.clock = clock }
}

// WithIDGenerator overrides the optimistic-id source.
func WithIDGenerator(newID func() string) Option {
	return func(s *State) { s.newID = newID }
}

// New constructs an empty reducer.
func New(opts ...Option) *State {
	state := &State{
		clock: time.Now,
		newID: func() string { return localIDPrefix + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(state)
	}
	return state
}

// AppendLocal records an optimistic entry for a message the user just sent
// and returns its local id. The text is marker-tagged exactly as it goes on
// the wire, so the channel classification matches what peers will compute.
func (s *State) AppendLocal(text, sender string, channel realtime.Channel) Entry {
	tagged := realtime.TagOutgoing(text, channel)
	entry := Entry{
		ID:          s.newID(),
		Sender:      sender,
		Channel:     realtime.RenderChannel(false, tagged),
		Kind:        EntryText,
		Text:        tagged,
		Optimistic:  true,
		TimestampMS: s.clock().UnixMilli(),
	}
	s.entries = append(s.entries, entry)
	return entry
}

// Reconcile replaces an optimistic entry's local id with the
// server-confirmed one, in place and exactly once. It reports whether the
// local id was found.
func (s *State) Reconcile(localID, serverID string) bool {
	for index := range s.entries {
		if s.entries[index].ID == localID {
			s.entries[index].ID = serverID
			s.entries[index].Optimistic = false
			return true
		}
	}
	return false
}

// Apply reduces one remote delivery. Assistant payloads append the
// explanation entry plus synthetic build-step and run-command entries in
// emission order, and file-bearing turns replace the generated file set and
// push a history entry. A malformed assistant payload collapses to a single
// error entry in the AI channel and leaves all previously reduced state
// untouched.
func (s *State) Apply(message RemoteMessage) {
	if message.Sender == messages.AISenderName {
		s.applyAI(message)
		return
	}

	var text string
	if err := json.Unmarshal(message.Message, &text); err != nil {
		text = string(message.Message)
	}
	s.entries = append(s.entries, Entry{
		ID:          message.ID,
		Sender:      message.Sender,
		Channel:     realtime.RenderChannel(false, text),
		Kind:        EntryText,
		Text:        text,
		TimestampMS: s.clock().UnixMilli(),
	})
}

func (s *State) applyAI(message RemoteMessage) {
	result, err := decodeAIResult(message.Message)
	if err != nil {
		s.entries = append(s.entries, Entry{
			ID:          message.ID,
			Sender:      messages.AISenderName,
			Channel:     realtime.ChannelAI,
			Kind:        EntryError,
			Text:        "Error processing the response",
			TimestampMS: s.clock().UnixMilli(),
		})
		return
	}

	now := s.clock().UnixMilli()
	s.entries = append(s.entries, Entry{
		ID:          message.ID,
		Sender:      messages.AISenderName,
		Channel:     realtime.ChannelAI,
		Kind:        EntryAIExplanation,
		Text:        result.Explanation,
		Result:      &result,
		TimestampMS: now,
	})

	if result.HasFiles() {
		s.generatedFiles = result.Files
		if !s.pinned {
			first := result.Files[0]
			s.selected = &SelectedFile{Name: first.Name, Content: first.Content}
		}
		s.history = append([]HistoryEntry{{
			TimestampMS: now,
			Files:       result.Files,
			BuildSteps:  result.BuildSteps,
			RunCommands: result.RunCommands,
		}}, s.history...)
	}

	if len(result.BuildSteps) > 0 {
		s.entries = append(s.entries, Entry{
			ID:          message.ID + ":build",
			Sender:      messages.AISenderName,
			Channel:     realtime.ChannelAI,
			Kind:        EntryBuildSteps,
			Steps:       result.BuildSteps,
			TimestampMS: now,
		})
	}
	if len(result.RunCommands) > 0 {
		s.entries = append(s.entries, Entry{
			ID:          message.ID + ":run",
			Sender:      messages.AISenderName,
			Channel:     realtime.ChannelAI,
			Kind:        EntryRunCommands,
			Steps:       result.RunCommands,
			TimestampMS: now,
		})
	}
}

// SetBookmarked applies a server-confirmed bookmark state to the entry with
// the given id. The value is absolute, never a blind toggle, so replaying
// the same confirmation is harmless.
func (s *State) SetBookmarked(entryID string, bookmarked bool) {
	for index := range s.entries {
		if s.entries[index].ID == entryID {
			s.entries[index].Bookmarked = bookmarked
			return
		}
	}
}

// SelectFile pins the named file from the current generated set as the shown
// one. Unknown names are ignored.
func (s *State) SelectFile(name string) {
	content, ok := s.generatedFiles.Get(name)
	if !ok {
		return
	}
	s.selected = &SelectedFile{Name: name, Content: content}
	s.pinned = true
}

// RestoreHistory makes a past turn's file set the current one and selects
// its first file. The history entry itself is immutable and stays in place.
func (s *State) RestoreHistory(index int) bool {
	if index < 0 || index >= len(s.history) {
		return false
	}
	entry := s.history[index]
	s.generatedFiles = entry.Files
	s.pinned = false
	if len(entry.Files) > 0 {
		first := entry.Files[0]
		s.selected = &SelectedFile{Name: first.Name, Content: first.Content}
	}
	return true
}

// Entries returns the channel's messages in arrival order. Interleaved
// deliveries on the other channel never disturb this order.
func (s *State) Entries(channel realtime.Channel) []Entry {
	result := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		if entry.Channel == channel {
			result = append(result, entry)
		}
	}
	return result
}

// AllEntries returns every entry in arrival order.
func (s *State) AllEntries() []Entry {
	result := make([]Entry, len(s.entries))
	copy(result, s.entries)
	return result
}

// GeneratedFiles returns the current generated file set.
func (s *State) GeneratedFiles() ai.FileList {
	return s.generatedFiles
}

// Selected returns the file shown in the code pane, or nil.
func (s *State) Selected() *SelectedFile {
	if s.selected == nil {
		return nil
	}
	selected := *s.selected
	return &selected
}

// FileHistory returns the stack of past file sets, most recent first.
func (s *State) FileHistory() []HistoryEntry {
	result := make([]HistoryEntry, len(s.history))
	copy(result, s.history)
	return result
}

// decodeAIResult accepts the two wire forms an assistant message arrives
// in: a JSON object, or a JSON string holding the object's text.
func decodeAIResult(raw json.RawMessage) (ai.Result, error) {
	var result ai.Result
	if err := json.Unmarshal(raw, &result); err == nil {
		return result.WithDefaults(), nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return ai.Result{}, err
	}
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return ai.Result{}, err
	}
	return result.WithDefaults(), nil
}
