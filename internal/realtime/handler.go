package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/buto-labs/buto-backend/internal/ai"
	"github.com/buto-labs/buto-backend/internal/messages"
)

var errMissingDependency = errors.New("realtime: gate, hub, generator and messages are required")

// HandlerConfig wires the realtime endpoint.
type HandlerConfig struct {
	Gate      *Gate
	Hub       *Hub
	Generator *ai.Generator
	Messages  *messages.Service
	Logger    *zap.Logger
}

// Handler serves the websocket endpoint. Each connection is authorized by
// the gate before the upgrade, joins exactly one project room, and then has
// its events processed to completion one at a time. Handlers for different
// connections interleave freely; the completion gateway call only blocks
// its own requester's read loop.
type Handler struct {
	gate      *Gate
	hub       *Hub
	generator *ai.Generator
	messages  *messages.Service
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

// NewHandler constructs the realtime handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Gate == nil || cfg.Hub == nil || cfg.Generator == nil || cfg.Messages == nil {
		return nil, errMissingDependency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		gate:      cfg.Gate,
		hub:       cfg.Hub,
		generator: cfg.Generator,
		messages:  cfg.Messages,
		logger:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// ServeHTTP authorizes and upgrades one realtime connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	projectID := r.URL.Query().Get("projectId")

	session, err := h.gate.Authorize(r.Context(), token, projectID)
	if err != nil {
		status := http.StatusUnauthorized
		switch {
		case errors.Is(err, ErrInvalidProject):
			status = http.StatusBadRequest
		case errors.Is(err, ErrProjectNotFound):
			status = http.StatusNotFound
		case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrInvalidToken):
			status = http.StatusUnauthorized
		default:
			status = http.StatusInternalServerError
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.hub.Join(session)
	h.logger.Info("realtime session joined",
		zap.String("project_id", session.ProjectID),
		zap.String("user_id", session.UserID))

	go h.writePump(conn, session)
	h.readPump(r.Context(), conn, session)

	h.hub.Leave(session)
	_ = conn.Close()
	h.logger.Info("realtime session left",
		zap.String("project_id", session.ProjectID),
		zap.String("user_id", session.UserID))
}

func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, session *Session) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var envelope Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			h.logger.Warn("discarding malformed frame", zap.Error(err))
			continue
		}
		if envelope.Event != EventProjectMessage {
			continue
		}

		var inbound InboundMessage
		if err := json.Unmarshal(envelope.Data, &inbound); err != nil {
			h.logger.Warn("discarding malformed project message", zap.Error(err))
			continue
		}

		h.handleProjectMessage(ctx, session, inbound)
	}
}

func (h *Handler) writePump(conn *websocket.Conn, session *Session) {
	for {
		select {
		case <-session.Done():
			return
		case event := <-session.Stream():
			frame, err := event.Encode()
			if err != nil {
				h.logger.Error("failed to encode realtime event", zap.Error(err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}

// handleProjectMessage classifies the message and runs either the team or
// the AI path. Persistence completes before fan-out; a crash between the
// two loses the delivery, not the record.
func (h *Handler) handleProjectMessage(ctx context.Context, session *Session, inbound InboundMessage) {
	if ContainsMarker(inbound.Message) {
		h.handleAIMessage(ctx, session, inbound)
		return
	}

	saved, err := h.messages.SaveText(ctx, session.ProjectID, session.Email, inbound.Message)
	if err != nil {
		h.logger.Error("failed to persist team message", zap.Error(err))
		return
	}

	h.hub.Broadcast(session.ProjectID, Event{
		Name: EventProjectMessage,
		Payload: TeamMessagePayload{
			ID:      saved.ID,
			Message: inbound.Message,
			Sender:  session.Email,
		},
	}, session.ID)
}

func (h *Handler) handleAIMessage(ctx context.Context, session *Session, inbound InboundMessage) {
	prompt := ExtractPrompt(inbound.Message)

	result := h.generator.Generate(ctx, prompt)

	saved, err := h.messages.SaveAIResult(ctx, session.ProjectID, result, prompt)
	if err != nil {
		h.logger.Error("failed to persist ai message", zap.Error(err))
		return
	}

	h.hub.EmitToAll(session.ProjectID, Event{
		Name: EventProjectMessage,
		Payload: AIMessagePayload{
			ID:      saved.ID,
			Message: result,
			Sender:  messages.AISenderName,
			Prompt:  prompt,
		},
	})
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}
