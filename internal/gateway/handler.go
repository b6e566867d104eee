package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofiber/websocket/v2"

	"marketplace_chat/internal/chat/domain"
	"marketplace_chat/pkg/logger"
	"marketplace_chat/pkg/middlewares"
)

// WSHandler owns the realtime side of the gateway: room membership and
// the join/leave/send/typing emissions.
type WSHandler struct {
	store    *Store
	hub      *Hub
	pubsub   *PubSub   // optional
	archiver *Archiver // optional
}

// NewWSHandler wires the handler. pubsub and archiver may be nil.
func NewWSHandler(store *Store, hub *Hub, pubsub *PubSub, archiver *Archiver) *WSHandler {
	return &WSHandler{
		store:    store,
		hub:      hub,
		pubsub:   pubsub,
		archiver: archiver,
	}
}

// HandleConnection is the websocket entry point. The JWT middleware has
// already populated the connection locals.
func (h *WSHandler) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	userID, ok := conn.Locals(middlewares.TokenUserID).(int64)
	if !ok || userID == 0 {
		logger.Log.Warn("websocket rejected: missing user id in token")
		conn.Close()
		return
	}
	role, _ := conn.Locals(middlewares.TokenRole).(string)
	name, _ := conn.Locals(middlewares.TokenName).(string)

	client := &Client{
		conn:   conn,
		UserID: userID,
		Role:   domain.SenderType(role),
		Name:   name,
	}

	logger.Log.Info(fmt.Sprintf("websocket connected user=%d role=%s", userID, role))
	defer func() {
		h.hub.LeaveAll(client)
		conn.Close()
		logger.Log.Info(fmt.Sprintf("websocket closed user=%d", userID))
	}()

	for {
		var env domain.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Log.Info(fmt.Sprintf("websocket closed by client user=%d", userID))
			} else {
				logger.Log.Warn(fmt.Sprintf("websocket read error user=%d: %v", userID, err))
			}
			return
		}
		h.execEmission(ctx, client, env)
	}
}

func (h *WSHandler) execEmission(ctx context.Context, client *Client, env domain.Envelope) {
	switch env.Event {
	case domain.EmitJoinRoom:
		h.joinRoom(client, env.Data)

	case domain.EmitLeaveRoom:
		var p domain.RoomPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			h.sendError(client, "malformed leave_room payload")
			return
		}
		h.hub.Leave(p.ConversationID, client)

	case domain.EmitSendMessage:
		h.sendMessage(ctx, client, env.Data)

	case domain.EventTypingStart, domain.EventTypingStop:
		h.relayTyping(client, env.Event, env.Data)

	default:
		h.sendError(client, "unknown emission "+env.Event)
	}
}

// joinRoom admits a client to a conversation room after checking it is
// one of the two participants. Replayed joins are idempotent.
func (h *WSHandler) joinRoom(client *Client, data json.RawMessage) {
	var p domain.RoomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID <= 0 {
		h.sendError(client, "malformed join_room payload")
		return
	}

	conv, ok := h.store.Get(p.ConversationID)
	if !ok {
		h.sendError(client, fmt.Sprintf("conversation %d not found", p.ConversationID))
		return
	}
	if !conv.HasParticipant(client.UserID) {
		h.sendError(client, fmt.Sprintf("not a participant of conversation %d", p.ConversationID))
		return
	}

	h.hub.Join(p.ConversationID, client)
}

// sendMessage stores the message, acks the sender with the temp id
// correlation, and broadcasts the wrapped new_message echo to the room
// (sender included).
func (h *WSHandler) sendMessage(ctx context.Context, client *Client, data json.RawMessage) {
	var p domain.SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(client, "malformed send_message payload")
		return
	}
	p.Content = strings.TrimSpace(p.Content)
	if p.ConversationID <= 0 || p.Content == "" {
		h.sendError(client, "send_message requires a conversation id and content")
		return
	}

	msg, conv, err := h.store.AppendMessage(p.ConversationID, client.UserID, client.Role, p.Content)
	if err != nil {
		h.sendError(client, err.Error())
		return
	}

	if err := client.Send(domain.EventMessageSent, domain.SendAck{TempID: p.TempID, Message: msg}); err != nil {
		logger.Log.Warn(fmt.Sprintf("ack write failed user=%d: %v", client.UserID, err))
	}

	wrapped := struct {
		ConversationID int64          `json:"conversation_id"`
		Message        domain.Message `json:"message"`
	}{msg.ConversationID, msg}

	h.hub.Broadcast(msg.ConversationID, domain.EventNewMessage, wrapped, nil)
	h.hub.Broadcast(msg.ConversationID, domain.EventConversationUpdated, conv, nil)

	if h.pubsub != nil {
		if err := h.pubsub.Publish(msg.ConversationID, domain.EventNewMessage, wrapped); err != nil {
			logger.Log.Warn(fmt.Sprintf("fanout publish failed: %v", err))
		}
	}
	if h.archiver != nil {
		go h.archiver.Archive(ctx, msg)
	}
}

// relayTyping forwards typing indicators to the rest of the room with
// the sender's role stamped on, never echoing back to the sender.
func (h *WSHandler) relayTyping(client *Client, event string, data json.RawMessage) {
	var p domain.RoomPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID <= 0 {
		return
	}
	p.SenderType = client.Role

	h.hub.Broadcast(p.ConversationID, event, p, client)
	if h.pubsub != nil {
		if err := h.pubsub.Publish(p.ConversationID, event, p); err != nil {
			logger.Log.Warn(fmt.Sprintf("fanout publish failed: %v", err))
		}
	}
}

// NotifyMessageUpdated broadcasts an edit to the conversation room.
func (h *WSHandler) NotifyMessageUpdated(msg domain.Message) {
	payload := struct {
		ConversationID int64          `json:"conversation_id"`
		Message        domain.Message `json:"message"`
	}{msg.ConversationID, msg}

	h.hub.Broadcast(msg.ConversationID, domain.EventMessageUpdated, payload, nil)
	if h.pubsub != nil {
		if err := h.pubsub.Publish(msg.ConversationID, domain.EventMessageUpdated, payload); err != nil {
			logger.Log.Warn(fmt.Sprintf("fanout publish failed: %v", err))
		}
	}
}

// NotifyMessageDeleted broadcasts a removal to the conversation room.
func (h *WSHandler) NotifyMessageDeleted(conversationID, messageID int64) {
	payload := domain.DeletePayload{ConversationID: conversationID, ID: messageID}

	h.hub.Broadcast(conversationID, domain.EventMessageDeleted, payload, nil)
	if h.pubsub != nil {
		if err := h.pubsub.Publish(conversationID, domain.EventMessageDeleted, payload); err != nil {
			logger.Log.Warn(fmt.Sprintf("fanout publish failed: %v", err))
		}
	}
}

func (h *WSHandler) sendError(client *Client, msg string) {
	if err := client.Send(domain.EventError, map[string]string{"error": msg}); err != nil {
		logger.Log.Warn(fmt.Sprintf("error write failed user=%d: %v", client.UserID, err))
	}
}
