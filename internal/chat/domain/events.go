package domain

import (
	"encoding/json"
	"errors"
)

// Server-to-client event names.
const (
	// EventNewMessage a message was stored and broadcast to the room
	EventNewMessage = "new_message"
	// EventMessageUpdated a stored message was edited
	EventMessageUpdated = "message_updated"
	// EventMessageDeleted a stored message was removed
	EventMessageDeleted = "message_deleted"
	// EventMessageSent ack that a send_message emission was processed
	EventMessageSent = "message_sent"
	// EventConversationUpdated a conversation preview changed
	EventConversationUpdated = "conversation_updated"
	// EventTypingStart counterpart started typing
	EventTypingStart = "typing_start"
	// EventTypingStop counterpart stopped typing
	EventTypingStop = "typing_stop"
	// EventError gateway-side rejection of an emission
	EventError = "error"
)

// Client-to-server emission names.
const (
	// EmitJoinRoom subscribe to a conversation room
	EmitJoinRoom = "join_room"
	// EmitLeaveRoom unsubscribe from a conversation room
	EmitLeaveRoom = "leave_room"
	// EmitSendMessage send a chat message
	EmitSendMessage = "send_message"
)

// Envelope is the wire frame for both directions: an event name plus a
// raw payload decoded by the receiver.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomPayload is the body of join_room / leave_room / typing emissions.
type RoomPayload struct {
	ConversationID int64      `json:"conversation_id"`
	SenderType     SenderType `json:"sender_type,omitempty"`
}

// SendMessagePayload is the body of a send_message emission.
type SendMessagePayload struct {
	ConversationID int64  `json:"conversation_id"`
	Content        string `json:"content"`
	TempID         string `json:"temp_id"`
}

// MessageEvent is the canonical shape every inbound message event is
// normalized to before any cache logic runs.
type MessageEvent struct {
	ConversationID int64
	Message        Message
}

// SendAck is the body of a message_sent event, correlating the stored
// message back to the client's temp id.
type SendAck struct {
	TempID  string  `json:"temp_id"`
	Message Message `json:"message"`
}

// DeletePayload is the body of a message_deleted event.
type DeletePayload struct {
	ConversationID int64 `json:"conversation_id"`
	ID             int64 `json:"id"`
}

// wrappedMessage is the {conversationId, message} event shape.
type wrappedMessage struct {
	ConversationID int64    `json:"conversation_id"`
	Message        *Message `json:"message"`
}

// ErrBadMessageEvent marks an inbound message event that fits neither
// recognized payload shape.
var ErrBadMessageEvent = errors.New("message event payload has no recognizable shape")

// DecodeMessageEvent accepts both tolerated payload shapes, a bare
// message object or a wrapped {conversation_id, message}, and returns
// the canonical form.
func DecodeMessageEvent(raw json.RawMessage) (MessageEvent, error) {
	var w wrappedMessage
	if err := json.Unmarshal(raw, &w); err == nil && w.Message != nil {
		msg := *w.Message
		if msg.ConversationID == 0 {
			msg.ConversationID = w.ConversationID
		}
		if msg.ConversationID == 0 {
			return MessageEvent{}, ErrBadMessageEvent
		}
		return MessageEvent{ConversationID: msg.ConversationID, Message: msg}, nil
	}

	var bare Message
	if err := json.Unmarshal(raw, &bare); err != nil {
		return MessageEvent{}, err
	}
	if bare.ConversationID == 0 {
		return MessageEvent{}, ErrBadMessageEvent
	}
	return MessageEvent{ConversationID: bare.ConversationID, Message: bare}, nil
}
