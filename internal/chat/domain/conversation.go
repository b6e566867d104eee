package domain

import "time"

// Participant is one party of a conversation as shown in list previews.
type Participant struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Conversation links a customer profile with a service-provider profile.
// LastMessage/LastMessageAt are denormalized previews refreshed on every
// message; the unread counters are independent per party.
type Conversation struct {
	ID               int64       `json:"id"`
	Customer         Participant `json:"customer"`
	Provider         Participant `json:"provider"`
	LastMessage      string      `json:"last_message,omitempty"`
	LastMessageAt    time.Time   `json:"last_message_at,omitempty"`
	UnreadByCustomer int         `json:"unread_by_customer"`
	UnreadByProvider int         `json:"unread_by_provider"`
	CreatedAt        time.Time   `json:"created_at"`
}

// ApplyMessage refreshes the preview and increments the unread counter
// of whichever party did not send the message.
func (c *Conversation) ApplyMessage(msg Message) {
	c.LastMessage = msg.Content
	c.LastMessageAt = msg.CreatedAt

	switch msg.SenderType {
	case SenderProvider:
		c.UnreadByCustomer++
	case SenderCustomer:
		c.UnreadByProvider++
	}
}

// ParticipantFor returns the participant matching the given role.
func (c *Conversation) ParticipantFor(role SenderType) Participant {
	if role == SenderCustomer {
		return c.Customer
	}
	return c.Provider
}

// HasParticipant reports whether userID belongs to either side.
func (c *Conversation) HasParticipant(userID int64) bool {
	return c.Customer.ID == userID || c.Provider.ID == userID
}
