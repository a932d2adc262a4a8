package realtime

import (
	"encoding/json"

	"github.com/buto-labs/buto-backend/internal/ai"
)

// EventProjectMessage is the single chat event name on the realtime channel.
const EventProjectMessage = "project-message"

// Envelope frames every realtime frame: a named event plus its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// InboundMessage is a client-authored chat message.
type InboundMessage struct {
	Message   string `json:"message"`
	Sender    string `json:"sender"` // user id
	ProjectID string `json:"projectId"`
}

// TeamMessagePayload is a peer-authored message fanned out to the room,
// excluding the author (who already rendered an optimistic copy).
type TeamMessagePayload struct {
	ID      string `json:"_id"`
	Message string `json:"message"`
	Sender  string `json:"sender"` // author email
}

// AIMessagePayload is an assistant answer fanned out to the entire room,
// requester included, since no client holds a local copy yet.
type AIMessagePayload struct {
	ID      string    `json:"_id"`
	Message ai.Result `json:"message"`
	Sender  string    `json:"sender"`
	Prompt  string    `json:"prompt"`
}

// Event is one deliverable realtime frame.
type Event struct {
	Name    string
	Payload any
}

// Encode frames the event for the wire.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: e.Name, Data: data})
}
