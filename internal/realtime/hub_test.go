package realtime

import "testing"

func drain(session *Session) []Event {
	var events []Event
	for {
		select {
		case event := <-session.Stream():
			events = append(events, event)
		default:
			return events
		}
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	hub := NewHub()
	author := newSession("user-1", "author@example.com", "project-1")
	peer := newSession("user-2", "peer@example.com", "project-1")
	hub.Join(author)
	hub.Join(peer)

	event := Event{Name: EventProjectMessage, Payload: TeamMessagePayload{ID: "m1", Message: "hi", Sender: "author@example.com"}}
	hub.Broadcast("project-1", event, author.ID)

	if got := drain(author); len(got) != 0 {
		t.Fatalf("expected author to be excluded, got %d events", len(got))
	}
	got := drain(peer)
	if len(got) != 1 {
		t.Fatalf("expected one delivery to the peer, got %d", len(got))
	}
	if got[0].Name != EventProjectMessage {
		t.Fatalf("unexpected event name %s", got[0].Name)
	}
}

func TestEmitToAllIncludesEveryRoomMember(t *testing.T) {
	hub := NewHub()
	requester := newSession("user-1", "requester@example.com", "project-1")
	peer := newSession("user-2", "peer@example.com", "project-1")
	elsewhere := newSession("user-3", "other@example.com", "project-2")
	hub.Join(requester)
	hub.Join(peer)
	hub.Join(elsewhere)

	hub.EmitToAll("project-1", Event{Name: EventProjectMessage})

	if got := drain(requester); len(got) != 1 {
		t.Fatalf("expected requester to receive the event, got %d", len(got))
	}
	if got := drain(peer); len(got) != 1 {
		t.Fatalf("expected peer to receive the event, got %d", len(got))
	}
	if got := drain(elsewhere); len(got) != 0 {
		t.Fatalf("expected other rooms to be untouched, got %d", len(got))
	}
}

func TestDeliverToEmptyRoomIsNoOp(t *testing.T) {
	hub := NewHub()
	// Must not panic or create the room.
	hub.EmitToAll("project-1", Event{Name: EventProjectMessage})
	if size := hub.RoomSize("project-1"); size != 0 {
		t.Fatalf("expected empty room, got %d", size)
	}
}

func TestLeaveRemovesSessionAndSignalsDone(t *testing.T) {
	hub := NewHub()
	session := newSession("user-1", "dev@example.com", "project-1")
	hub.Join(session)
	if size := hub.RoomSize("project-1"); size != 1 {
		t.Fatalf("expected one member, got %d", size)
	}

	hub.Leave(session)
	if size := hub.RoomSize("project-1"); size != 0 {
		t.Fatalf("expected empty room, got %d", size)
	}

	select {
	case <-session.Done():
	default:
		t.Fatalf("expected done to be signalled")
	}

	// Leaving twice is safe.
	hub.Leave(session)

	hub.EmitToAll("project-1", Event{Name: EventProjectMessage})
	if got := drain(session); len(got) != 0 {
		t.Fatalf("expected no deliveries after leaving, got %d", len(got))
	}
}

func TestJoinIsIdempotentPerSession(t *testing.T) {
	hub := NewHub()
	session := newSession("user-1", "dev@example.com", "project-1")
	hub.Join(session)
	hub.Join(session)

	if size := hub.RoomSize("project-1"); size != 1 {
		t.Fatalf("expected one member, got %d", size)
	}

	hub.EmitToAll("project-1", Event{Name: EventProjectMessage})
	if got := drain(session); len(got) != 1 {
		t.Fatalf("expected a single delivery, got %d", len(got))
	}
}

func TestDeliverSkipsSaturatedSessions(t *testing.T) {
	hub := NewHub()
	session := newSession("user-1", "dev@example.com", "project-1")
	hub.Join(session)

	for range sessionBufferSize + 5 {
		hub.EmitToAll("project-1", Event{Name: EventProjectMessage})
	}

	if got := drain(session); len(got) != sessionBufferSize {
		t.Fatalf("expected deliveries capped at the buffer, got %d", len(got))
	}
}
