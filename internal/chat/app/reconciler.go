package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"marketplace_chat/internal/chat/domain"
	"marketplace_chat/internal/chat/repository"
	"marketplace_chat/pkg/logger"
)

const (
	conversationsKey = "conversations"
	historyLimit     = 50

	reconcilerKey = "cache_reconciler"
)

func messagesKey(conversationID int64) string {
	return "messages:" + strconv.FormatInt(conversationID, 10)
}

// HistoryFetcher loads conversation and message history over HTTP.
type HistoryFetcher interface {
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	GetMessages(ctx context.Context, conversationID int64, limit int) ([]domain.Message, error)
}

// Identity describes the local user for optimistic entries and unread
// targeting.
type Identity struct {
	UserID int64
	Role   domain.SenderType
}

// TypingFunc observes counterpart typing activity.
type TypingFunc func(conversationID int64, senderType domain.SenderType, typing bool)

// CacheReconciler merges the inbound event stream into the cached
// conversation list and per-conversation message slices, resolving
// optimistic entries, duplicates and ordering. Refetch toggles stay
// off: the event stream is the source of truth.
type CacheReconciler struct {
	session GatewaySession
	sender  MessageSender
	self    Identity

	convs *repository.QueryCache[[]domain.Conversation]
	msgs  *repository.QueryCache[[]domain.Message]

	openConv atomic.Int64
	typing   TypingFunc
}

// NewCacheReconciler wires the caches to the HTTP history fetcher.
func NewCacheReconciler(session GatewaySession, sender MessageSender, fetcher HistoryFetcher, self Identity) *CacheReconciler {
	r := &CacheReconciler{
		session: session,
		sender:  sender,
		self:    self,
	}

	r.convs = repository.NewQueryCache(func(ctx context.Context, _ string) ([]domain.Conversation, error) {
		return fetcher.ListConversations(ctx)
	}, 0)

	r.msgs = repository.NewQueryCache(func(ctx context.Context, key string) ([]domain.Message, error) {
		id, err := strconv.ParseInt(key[len("messages:"):], 10, 64)
		if err != nil {
			return nil, err
		}
		msgs, err := fetcher.GetMessages(ctx, id, historyLimit)
		if err != nil {
			return nil, err
		}
		sortMessages(msgs)
		return msgs, nil
	}, 0)

	return r
}

// Attach subscribes the reconciler to every inbound event it consumes.
// Subscriptions survive reconnects via the session registry.
func (r *CacheReconciler) Attach() {
	r.session.On(domain.EventNewMessage, reconcilerKey, r.handleNewMessage)
	r.session.On(domain.EventMessageUpdated, reconcilerKey, r.handleMessageUpdated)
	r.session.On(domain.EventMessageDeleted, reconcilerKey, r.handleMessageDeleted)
	r.session.On(domain.EventMessageSent, reconcilerKey, r.handleSendAck)
	r.session.On(domain.EventConversationUpdated, reconcilerKey, r.handleConversationUpdated)
	r.session.On(domain.EventTypingStart, reconcilerKey, r.typingHandler(true))
	r.session.On(domain.EventTypingStop, reconcilerKey, r.typingHandler(false))
}

// Detach drops every subscription added by Attach.
func (r *CacheReconciler) Detach() {
	for _, ev := range []string{
		domain.EventNewMessage,
		domain.EventMessageUpdated,
		domain.EventMessageDeleted,
		domain.EventMessageSent,
		domain.EventConversationUpdated,
		domain.EventTypingStart,
		domain.EventTypingStop,
	} {
		r.session.Off(ev, reconcilerKey)
	}
}

// OnTyping installs the typing observer.
func (r *CacheReconciler) OnTyping(fn TypingFunc) {
	r.typing = fn
}

// Conversations returns the cached conversation list, fetching on miss.
func (r *CacheReconciler) Conversations(ctx context.Context) ([]domain.Conversation, error) {
	return r.convs.Get(ctx, conversationsKey)
}

// OpenConversation marks a conversation as the one on screen, joins its
// room and returns its message history.
func (r *CacheReconciler) OpenConversation(ctx context.Context, conversationID int64) ([]domain.Message, error) {
	r.openConv.Store(conversationID)
	r.session.JoinRoom(ctx, conversationID)
	return r.msgs.Get(ctx, messagesKey(conversationID))
}

// CloseConversation leaves the room and clears the open marker.
func (r *CacheReconciler) CloseConversation(ctx context.Context) {
	if open := r.openConv.Load(); open != 0 {
		r.session.LeaveRoom(ctx, open)
	}
	r.openConv.Store(0)
}

// Messages returns the cached slice for a conversation without opening it.
func (r *CacheReconciler) Messages(ctx context.Context, conversationID int64) ([]domain.Message, error) {
	return r.msgs.Get(ctx, messagesKey(conversationID))
}

// Send creates the optimistic entry, emits the message, and drives the
// sending→sent→delivered / sending→failed transitions on the cached copy.
func (r *CacheReconciler) Send(ctx context.Context, conversationID int64, content string) (domain.Message, error) {
	optimistic := domain.Message{
		TempID:         uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       r.self.UserID,
		SenderType:     r.self.Role,
		Content:        content,
		CreatedAt:      time.Now(),
		Status:         domain.StatusSending,
	}

	r.insertMessage(conversationID, optimistic)
	r.touchConversation(conversationID, optimistic, false)

	receipt, err := r.sender.Execute(ctx, conversationID, content, optimistic.TempID)
	if err != nil {
		// content stays intact so the UI can offer retry
		r.setStatusByTempID(conversationID, optimistic.TempID, domain.StatusFailed)
		optimistic.Status = domain.StatusFailed
		return optimistic, err
	}

	r.setStatusByTempID(conversationID, optimistic.TempID, domain.StatusSent)
	optimistic.Status = domain.StatusSent

	go func() {
		if st := receipt.Wait(context.Background()); st == domain.StatusDelivered {
			r.setStatusByTempID(conversationID, optimistic.TempID, domain.StatusDelivered)
		}
	}()

	return optimistic, nil
}

// Typing emits a typing indicator for the open conversation.
func (r *CacheReconciler) Typing(conversationID int64, start bool) {
	event := domain.EventTypingStop
	if start {
		event = domain.EventTypingStart
	}
	if err := r.session.Emit(event, domain.RoomPayload{
		ConversationID: conversationID,
		SenderType:     r.self.Role,
	}); err != nil {
		logger.Log.Debug(fmt.Sprintf("typing emit skipped: %v", err))
	}
}

// handleNewMessage reconciles an inbound message, arriving either bare
// or wrapped, against optimistic entries and the conversation list.
func (r *CacheReconciler) handleNewMessage(raw json.RawMessage) {
	ev, err := domain.DecodeMessageEvent(raw)
	if err != nil {
		logger.Log.Warn(fmt.Sprintf("dropping malformed new_message event: %v", err))
		return
	}

	msg := ev.Message
	msg.Status = domain.StatusDelivered
	msg.TempID = ""

	fromSelf := msg.SenderID == r.self.UserID

	if ev.ConversationID == r.openConv.Load() {
		r.msgs.Write(messagesKey(ev.ConversationID), func(list []domain.Message) []domain.Message {
			// duplicate delivery: update in place by server id
			for i := range list {
				if list[i].ID != 0 && list[i].ID == msg.ID {
					list[i] = msg
					return list
				}
			}
			// supersede a matching optimistic entry instead of duplicating
			for i := range list {
				if list[i].TempID != "" && list[i].SameLogical(msg) {
					list = append(list[:i], list[i+1:]...)
					break
				}
			}
			list = append(list, msg)
			sortMessages(list)
			return list
		})
		r.touchConversation(ev.ConversationID, msg, false)
		return
	}

	// conversation not on screen: preview + unread for the non-sender
	r.touchConversation(ev.ConversationID, msg, !fromSelf)
}

// handleSendAck settles the optimistic entry matched by temp id with
// the authoritative stored message.
func (r *CacheReconciler) handleSendAck(raw json.RawMessage) {
	var ack domain.SendAck
	if err := json.Unmarshal(raw, &ack); err != nil || ack.TempID == "" {
		return
	}

	msg := ack.Message
	msg.Status = domain.StatusDelivered
	msg.TempID = ""

	r.msgs.Write(messagesKey(msg.ConversationID), func(list []domain.Message) []domain.Message {
		for i := range list {
			if list[i].TempID == ack.TempID {
				list[i] = msg
				sortMessages(list)
				return list
			}
		}
		// optimistic entry already superseded by the echo; keep the
		// authoritative copy fresh by id
		for i := range list {
			if list[i].ID != 0 && list[i].ID == msg.ID {
				list[i] = msg
				return list
			}
		}
		return list
	})
}

// handleMessageUpdated patches a cached entry strictly by server id,
// only for the conversation currently subscribed.
func (r *CacheReconciler) handleMessageUpdated(raw json.RawMessage) {
	ev, err := domain.DecodeMessageEvent(raw)
	if err != nil {
		return
	}
	if ev.ConversationID != r.openConv.Load() {
		return
	}

	r.msgs.Write(messagesKey(ev.ConversationID), func(list []domain.Message) []domain.Message {
		for i := range list {
			if list[i].ID != 0 && list[i].ID == ev.Message.ID {
				status := list[i].Status
				list[i] = ev.Message
				list[i].Status = status
				break
			}
		}
		sortMessages(list)
		return list
	})
}

// handleMessageDeleted removes a cached entry strictly by server id.
func (r *CacheReconciler) handleMessageDeleted(raw json.RawMessage) {
	var del domain.DeletePayload
	if err := json.Unmarshal(raw, &del); err != nil {
		return
	}
	if del.ConversationID != r.openConv.Load() {
		return
	}

	r.msgs.Write(messagesKey(del.ConversationID), func(list []domain.Message) []domain.Message {
		for i := range list {
			if list[i].ID == del.ID {
				return append(list[:i], list[i+1:]...)
			}
		}
		return list
	})
}

// handleConversationUpdated replaces the cached conversation row.
func (r *CacheReconciler) handleConversationUpdated(raw json.RawMessage) {
	var conv domain.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil || conv.ID == 0 {
		return
	}

	found := false
	r.convs.Write(conversationsKey, func(list []domain.Conversation) []domain.Conversation {
		for i := range list {
			if list[i].ID == conv.ID {
				list[i] = conv
				found = true
				break
			}
		}
		sortConversations(list)
		return list
	})
	if !found {
		r.convs.Invalidate(conversationsKey)
	}
}

func (r *CacheReconciler) typingHandler(start bool) repository.EventHandler {
	return func(raw json.RawMessage) {
		if r.typing == nil {
			return
		}
		var p domain.RoomPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		r.typing(p.ConversationID, p.SenderType, start)
	}
}

// insertMessage appends an entry to a conversation's cached slice,
// seeding the slice when nothing was cached yet.
func (r *CacheReconciler) insertMessage(conversationID int64, msg domain.Message) {
	key := messagesKey(conversationID)
	applied := r.msgs.Write(key, func(list []domain.Message) []domain.Message {
		return append(list, msg)
	})
	if !applied {
		r.msgs.Seed(key, []domain.Message{msg})
	}
}

func (r *CacheReconciler) setStatusByTempID(conversationID int64, tempID string, status domain.MessageStatus) {
	r.msgs.Write(messagesKey(conversationID), func(list []domain.Message) []domain.Message {
		for i := range list {
			if list[i].TempID == tempID {
				list[i].Status = status
				break
			}
		}
		return list
	})
}

// touchConversation refreshes a conversation's preview and moves it to
// the head of the list; countUnread additionally increments the unread
// counter of the party that did not send. An event for a conversation
// missing from the cached list invalidates the whole list instead of
// synthesizing a partial row.
func (r *CacheReconciler) touchConversation(conversationID int64, msg domain.Message, countUnread bool) {
	found := false
	applied := r.convs.Write(conversationsKey, func(list []domain.Conversation) []domain.Conversation {
		for i := range list {
			if list[i].ID != conversationID {
				continue
			}
			found = true
			if countUnread {
				list[i].ApplyMessage(msg)
			} else {
				list[i].LastMessage = msg.Content
				list[i].LastMessageAt = msg.CreatedAt
			}
			// move to head
			conv := list[i]
			list = append(list[:i], list[i+1:]...)
			list = append([]domain.Conversation{conv}, list...)
			break
		}
		return list
	})
	if applied && !found {
		r.convs.Invalidate(conversationsKey)
	}
}

func sortMessages(list []domain.Message) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

func sortConversations(list []domain.Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastMessageAt.After(list[j].LastMessageAt)
	})
}
