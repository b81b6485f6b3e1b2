package realtime

// Wire event names. The names are the contract with clients; payloads are
// the corresponding API entities.
const (
	EventNegotiationCreated   = "negotiation:created"
	EventNegotiationAccepted  = "negotiation:accepted"
	EventNegotiationRejected  = "negotiation:rejected"
	EventNegotiationCompleted = "negotiation:completed"
	EventConversationUpdated  = "conversation:updated"
	EventMessageNew           = "message:new"
	EventMessageRead          = "message:read"
	EventError                = "error"
)

// Envelope is the frame pushed to clients.
type Envelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// Publisher is the fan-out surface services depend on. Delivery is
// at-most-once to currently connected sessions; offline users get nothing
// and clients re-fetch state on reconnect.
type Publisher interface {
	PublishToUser(uid string, event string, payload interface{})
	PublishToConversation(convID uint64, event string, payload interface{})
}

// NopPublisher discards events; used before the hub is wired and in tests.
type NopPublisher struct{}

func (NopPublisher) PublishToUser(string, string, interface{})          {}
func (NopPublisher) PublishToConversation(uint64, string, interface{}) {}
