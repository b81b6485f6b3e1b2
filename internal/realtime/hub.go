package realtime

import (
	"encoding/json"
	"log"
	"sync"
)

// Hub is the in-process connection registry: every authenticated websocket
// session is indexed by user, and sessions additionally join per-conversation
// rooms. The hub is created at process start and torn down at shutdown;
// membership is ephemeral and rebuilt by clients on reconnect.
type Hub struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*Session // uid -> session id -> session
	rooms  map[uint64]map[string]*Session // conversation id -> session id -> session
	closed bool
}

func NewHub() *Hub {
	return &Hub{
		byUser: make(map[string]map[string]*Session),
		rooms:  make(map[uint64]map[string]*Session),
	}
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.send)
		return
	}
	set, ok := h.byUser[s.UID]
	if !ok {
		set = make(map[string]*Session)
		h.byUser[s.UID] = set
	}
	set[s.ID] = s
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(s)
}

// dropLocked removes s from the user index and every room. Caller holds mu.
func (h *Hub) dropLocked(s *Session) {
	if set, ok := h.byUser[s.UID]; ok {
		if _, present := set[s.ID]; present {
			delete(set, s.ID)
			close(s.send)
		}
		if len(set) == 0 {
			delete(h.byUser, s.UID)
		}
	}
	for convID := range s.joined {
		if room, ok := h.rooms[convID]; ok {
			delete(room, s.ID)
			if len(room) == 0 {
				delete(h.rooms, convID)
			}
		}
	}
}

// join adds the session to a conversation room. Membership authorization
// happens before this is called.
func (h *Hub) join(s *Session, convID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	room, ok := h.rooms[convID]
	if !ok {
		room = make(map[string]*Session)
		h.rooms[convID] = room
	}
	room[s.ID] = s
	s.joined[convID] = true
}

func (h *Hub) leave(s *Session, convID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[convID]; ok {
		delete(room, s.ID)
		if len(room) == 0 {
			delete(h.rooms, convID)
		}
	}
	delete(s.joined, convID)
}

func (h *Hub) PublishToUser(uid string, event string, payload interface{}) {
	frame, err := marshal(event, payload)
	if err != nil {
		log.Printf("realtime: marshal %s: %v", event, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.byUser[uid] {
		h.offerLocked(s, frame)
	}
}

func (h *Hub) PublishToConversation(convID uint64, event string, payload interface{}) {
	frame, err := marshal(event, payload)
	if err != nil {
		log.Printf("realtime: marshal %s: %v", event, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.rooms[convID] {
		h.offerLocked(s, frame)
	}
}

// offer delivers a frame to a single still-registered session. Used for
// sender-only error frames; going through the registry avoids racing a
// concurrent drop of the session.
func (h *Hub) offer(s *Session, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.byUser[s.UID]; ok {
		if _, present := set[s.ID]; present {
			h.offerLocked(s, frame)
		}
	}
}

// offerLocked hands a frame to one session without blocking. A session that
// cannot keep up is dropped entirely; the client reconnects and re-fetches.
func (h *Hub) offerLocked(s *Session, frame []byte) {
	select {
	case s.send <- frame:
	default:
		h.dropLocked(s)
	}
}

// Close drops every session. Further registrations are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.byUser {
		for _, s := range set {
			close(s.send)
		}
	}
	h.byUser = make(map[string]map[string]*Session)
	h.rooms = make(map[uint64]map[string]*Session)
}

// UserOnline reports whether at least one session exists for uid.
func (h *Hub) UserOnline(uid string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[uid]) > 0
}

func marshal(event string, payload interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Event: event, Payload: payload})
}
