package app

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"marketplace_chat/internal/chat/domain"
)

// MessageSender is the request/response-shaped face of the
// fire-and-forget send emission.
type MessageSender interface {
	Execute(ctx context.Context, conversationID int64, content, tempID string) (*SendReceipt, error)
}

// SendReceipt settles once per send: delivered when the ack arrives,
// sent when the fallback timer fires first. A missing ack never
// surfaces as a user-visible error; the optimistic entry is already on
// screen.
type SendReceipt struct {
	TempID string

	once  sync.Once
	ch    chan domain.MessageStatus
	timer *time.Timer
}

func newSendReceipt(tempID string) *SendReceipt {
	return &SendReceipt{
		TempID: tempID,
		ch:     make(chan domain.MessageStatus, 1),
	}
}

func (r *SendReceipt) settle(status domain.MessageStatus) {
	r.once.Do(func() {
		if r.timer != nil {
			r.timer.Stop()
		}
		r.ch <- status
	})
}

// Wait blocks until the receipt settles. Context cancellation yields
// StatusSent: the emission was accepted, the caller just stopped
// waiting for the ack.
func (r *SendReceipt) Wait(ctx context.Context) domain.MessageStatus {
	select {
	case st := <-r.ch:
		return st
	case <-ctx.Done():
		return domain.StatusSent
	}
}

// SendMessageUseCase validates and emits chat messages. The returned
// receipt resolves optimistically; the only rejection paths are invalid
// input, no obtainable connection, and a synchronous emit error.
type SendMessageUseCase struct {
	session     GatewaySession
	ackFallback time.Duration
}

// NewSendMessageUseCase builds the use case. ackFallback <= 0 falls
// back to the 3s default.
func NewSendMessageUseCase(session GatewaySession, ackFallback time.Duration) *SendMessageUseCase {
	if ackFallback <= 0 {
		ackFallback = 3 * time.Second
	}
	return &SendMessageUseCase{session: session, ackFallback: ackFallback}
}

// Execute emits a send_message request. It returns as soon as the
// emission is handed to the transport; there is no automatic retry.
func (uc *SendMessageUseCase) Execute(ctx context.Context, conversationID int64, content, tempID string) (*SendReceipt, error) {
	content = strings.TrimSpace(content)
	if conversationID <= 0 || content == "" {
		return nil, ErrInvalidPayload
	}

	t, err := uc.session.Open(ctx)
	if err != nil {
		return nil, ErrNoConnection
	}

	if err := t.Emit(domain.EmitSendMessage, domain.SendMessagePayload{
		ConversationID: conversationID,
		Content:        content,
		TempID:         tempID,
	}); err != nil {
		return nil, err
	}

	r := newSendReceipt(tempID)
	ackKey := "send_ack:" + tempID

	r.timer = time.AfterFunc(uc.ackFallback, func() {
		uc.session.Off(domain.EventMessageSent, ackKey)
		r.settle(domain.StatusSent)
	})

	uc.session.On(domain.EventMessageSent, ackKey, func(raw json.RawMessage) {
		var ack domain.SendAck
		if err := json.Unmarshal(raw, &ack); err != nil || ack.TempID != tempID {
			return
		}
		uc.session.Off(domain.EventMessageSent, ackKey)
		r.settle(domain.StatusDelivered)
	})

	return r, nil
}

var _ MessageSender = (*SendMessageUseCase)(nil)
