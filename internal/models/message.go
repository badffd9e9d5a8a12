package models

// QueuedMessage is a text message waiting for the downstream consumer to
// pull and acknowledge it. It is written once at ingestion and never
// updated afterwards.
type QueuedMessage struct {
	MessageID  string `json:"messageId"`
	UserID     string `json:"userId"`
	Text       string `json:"text"`
	ReceivedAt int64  `json:"receivedAt"`
	CreatedAt  int64  `json:"createdAt"`
}

// MessageMetadata is attached to every queued entry alongside its value.
// Ack matches on it without decoding the value.
type MessageMetadata struct {
	MessageID string `json:"messageId"`
}

// PullResponse is the body returned by GET /pull
type PullResponse struct {
	Messages []QueuedMessage `json:"messages"`
}

// AckRequest is the body accepted by POST /ack
type AckRequest struct {
	MessageIDs []string `json:"messageIds"`
}

// AckResponse is the body returned by POST /ack
type AckResponse struct {
	Deleted int `json:"deleted"`
}
