package realtime

import (
	"sync"

	"github.com/google/uuid"
)

const sessionBufferSize = 16

// Session is one admitted realtime connection, bound to a single (user,
// project) pair for its whole lifetime. Sessions are never shared or
// serialized.
type Session struct {
	ID        string
	UserID    string
	Email     string
	ProjectID string

	stream chan Event
	done   chan struct{}
	once   sync.Once
}

func newSession(userID, email, projectID string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Email:     email,
		ProjectID: projectID,
		stream:    make(chan Event, sessionBufferSize),
		done:      make(chan struct{}),
	}
}

// Stream exposes the session's deliveries.
func (s *Session) Stream() <-chan Event {
	return s.stream
}

// Done is closed once the session has left its room.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Hub maintains the mapping from project id to connected sessions and fans
// events out to the right subset of a room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Session
}

// NewHub constructs an empty room router.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]*Session)}
}

// Join adds the session to its project's room. Idempotent per session; a
// session belongs to exactly one room for its lifetime.
func (h *Hub) Join(session *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[session.ProjectID]
	if !ok {
		room = make(map[string]*Session)
		h.rooms[session.ProjectID] = room
	}
	room[session.ID] = session
}

// Leave removes the session from its room and signals Done. No further
// deliveries reach it.
func (h *Hub) Leave(session *Session) {
	h.mu.Lock()
	room := h.rooms[session.ProjectID]
	if room != nil {
		delete(room, session.ID)
		if len(room) == 0 {
			delete(h.rooms, session.ProjectID)
		}
	}
	h.mu.Unlock()
	session.once.Do(func() {
		close(session.done)
	})
}

// RoomSize reports the number of sessions currently in the project's room.
func (h *Hub) RoomSize(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[projectID])
}

// Broadcast delivers the event to every session in the room except the one
// identified by excludeSessionID. Delivery to an empty room is a no-op.
// Sessions with a full buffer are skipped rather than blocked on.
func (h *Hub) Broadcast(projectID string, event Event, excludeSessionID string) {
	h.deliver(projectID, event, excludeSessionID)
}

// EmitToAll delivers the event to every session in the room, originator
// included.
func (h *Hub) EmitToAll(projectID string, event Event) {
	h.deliver(projectID, event, "")
}

func (h *Hub) deliver(projectID string, event Event, excludeSessionID string) {
	h.mu.RLock()
	room := h.rooms[projectID]
	if len(room) == 0 {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Session, 0, len(room))
	for _, session := range room {
		if session.ID == excludeSessionID {
			continue
		}
		targets = append(targets, session)
	}
	h.mu.RUnlock()

	for _, session := range targets {
		select {
		case session.stream <- event:
		default:
		}
	}
}
