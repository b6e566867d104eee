package domain

import "time"

// SenderType identifies which party of a conversation authored a message.
type SenderType string

const (
	// SenderCustomer message authored by the customer side
	SenderCustomer SenderType = "CUSTOMER"
	// SenderProvider message authored by the service-provider side
	SenderProvider SenderType = "PROVIDER"
)

// Other returns the opposite party.
func (s SenderType) Other() SenderType {
	if s == SenderCustomer {
		return SenderProvider
	}
	return SenderCustomer
}

// MessageStatus is a client-local annotation layered onto cached message
// copies. It is never persisted server-side.
type MessageStatus string

const (
	// StatusSending optimistic entry, no server response yet
	StatusSending MessageStatus = "sending"
	// StatusSent the emit was accepted locally
	StatusSent MessageStatus = "sent"
	// StatusDelivered confirmed by an ack or inbound echo
	StatusDelivered MessageStatus = "delivered"
	// StatusRead the counterpart has read the message
	StatusRead MessageStatus = "read"
	// StatusFailed the emit raised a synchronous error
	StatusFailed MessageStatus = "failed"
)

// DuplicateWindow bounds the createdAt distance within which two messages
// with identical content and sender are treated as the same logical message.
const DuplicateWindow = 10 * time.Second

// Message is one chat message. ID is server-assigned and zero on
// optimistic entries; TempID is the client-generated correlation token
// present only on optimistic entries.
type Message struct {
	ID             int64         `json:"id,omitempty"`
	TempID         string        `json:"temp_id,omitempty"`
	ConversationID int64         `json:"conversation_id"`
	SenderID       int64         `json:"sender_id"`
	SenderType     SenderType    `json:"sender_type"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"created_at"`
	Status         MessageStatus `json:"status,omitempty"`
}

// SameLogical reports whether other is the same logical message: same
// sender, same content, createdAt within DuplicateWindow. Used to
// supersede optimistic entries when the authoritative echo arrives
// without a round-tripped temp id.
func (m Message) SameLogical(other Message) bool {
	if m.SenderID != other.SenderID || m.Content != other.Content {
		return false
	}
	d := m.CreatedAt.Sub(other.CreatedAt)
	if d < 0 {
		d = -d
	}
	return d <= DuplicateWindow
}
