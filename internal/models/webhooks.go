package models

// Inbound webhook event types
const (
	EventMessage  = "message"
	EventFollow   = "follow"
	EventUnfollow = "unfollow"
	EventPostback = "postback"
)

// Inbound message content types
const (
	MessageTypeText    = "text"
	MessageTypeImage   = "image"
	MessageTypeSticker = "sticker"
)

// WebhookPayload is the batch delivered by the upstream chat platform.
// Only the fields the relay consumes are declared.
type WebhookPayload struct {
	Destination string         `json:"destination,omitempty"`
	Events      []WebhookEvent `json:"events"`
}

type WebhookEvent struct {
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Message   *WebhookMessage `json:"message,omitempty"`
	Source    WebhookSource   `json:"source"`
}

type WebhookMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

type WebhookSource struct {
	Type   string `json:"type,omitempty"`
	UserID string `json:"userId"`
}

// IsTextMessage reports whether the event carries a text message that
// should be queued.
func (e WebhookEvent) IsTextMessage() bool {
	return e.Type == EventMessage && e.Message != nil && e.Message.Type == MessageTypeText
}
