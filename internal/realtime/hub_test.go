package realtime

import (
	"encoding/json"
	"testing"
)

func newTestSession(hub *Hub, uid string, buffer int) *Session {
	return &Session{
		ID:     uid + "-sess",
		UID:    uid,
		hub:    hub,
		send:   make(chan []byte, buffer),
		joined: make(map[uint64]bool),
	}
}

func recv(t *testing.T, s *Session) Envelope {
	t.Helper()
	select {
	case frame := <-s.send:
		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return env
	default:
		t.Fatalf("no frame queued")
		return Envelope{}
	}
}

func TestPublishToUserReachesAllSessions(t *testing.T) {
	hub := NewHub()
	a1 := newTestSession(hub, "alice", 4)
	a1.ID = "a1"
	a2 := newTestSession(hub, "alice", 4)
	a2.ID = "a2"
	b := newTestSession(hub, "bob", 4)
	hub.register(a1)
	hub.register(a2)
	hub.register(b)

	hub.PublishToUser("alice", EventNegotiationAccepted, map[string]uint64{"id": 9})

	for _, s := range []*Session{a1, a2} {
		env := recv(t, s)
		if env.Event != EventNegotiationAccepted {
			t.Fatalf("event=%q want=%q", env.Event, EventNegotiationAccepted)
		}
	}
	if len(b.send) != 0 {
		t.Fatalf("bob received %d frames, want 0", len(b.send))
	}
}

func TestPublishToOfflineUserIsNoop(t *testing.T) {
	hub := NewHub()
	hub.PublishToUser("ghost", EventMessageNew, nil)
}

func TestConversationRoomFanout(t *testing.T) {
	hub := NewHub()
	a := newTestSession(hub, "alice", 4)
	b := newTestSession(hub, "bob", 4)
	c := newTestSession(hub, "carol", 4)
	hub.register(a)
	hub.register(b)
	hub.register(c)
	hub.join(a, 42)
	hub.join(b, 42)
	hub.join(c, 99)

	hub.PublishToConversation(42, EventMessageNew, map[string]string{"body": "hi"})

	if env := recv(t, a); env.Event != EventMessageNew {
		t.Fatalf("event=%q", env.Event)
	}
	if env := recv(t, b); env.Event != EventMessageNew {
		t.Fatalf("event=%q", env.Event)
	}
	if len(c.send) != 0 {
		t.Fatalf("carol received %d frames, want 0", len(c.send))
	}
}

func TestLeaveStopsDelivery(t *testing.T) {
	hub := NewHub()
	a := newTestSession(hub, "alice", 4)
	hub.register(a)
	hub.join(a, 42)
	hub.leave(a, 42)

	hub.PublishToConversation(42, EventMessageNew, nil)
	if len(a.send) != 0 {
		t.Fatalf("received %d frames after leave, want 0", len(a.send))
	}
}

func TestSlowSessionIsDropped(t *testing.T) {
	hub := NewHub()
	s := newTestSession(hub, "alice", 1)
	hub.register(s)
	hub.join(s, 42)

	hub.PublishToUser("alice", EventMessageNew, nil) // fills the buffer
	hub.PublishToUser("alice", EventMessageNew, nil) // overflows: dropped

	if hub.UserOnline("alice") {
		t.Fatalf("slow session still registered")
	}
	hub.mu.RLock()
	_, roomAlive := hub.rooms[42]
	hub.mu.RUnlock()
	if roomAlive {
		t.Fatalf("room membership not cleaned up")
	}
	// channel was closed on drop; drain the buffered frame then observe close
	<-s.send
	if _, ok := <-s.send; ok {
		t.Fatalf("send channel not closed")
	}
}

func TestUnregisterCleansRooms(t *testing.T) {
	hub := NewHub()
	s := newTestSession(hub, "alice", 4)
	hub.register(s)
	hub.join(s, 7)
	hub.unregister(s)

	if hub.UserOnline("alice") {
		t.Fatalf("still online after unregister")
	}
	hub.PublishToConversation(7, EventMessageNew, nil)
}

func TestCloseRefusesNewSessions(t *testing.T) {
	hub := NewHub()
	a := newTestSession(hub, "alice", 4)
	hub.register(a)
	hub.Close()

	if _, ok := <-a.send; ok {
		t.Fatalf("send channel not closed on hub close")
	}
	late := newTestSession(hub, "bob", 4)
	hub.register(late)
	if hub.UserOnline("bob") {
		t.Fatalf("registration accepted after close")
	}
}
