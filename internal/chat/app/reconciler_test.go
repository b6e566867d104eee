package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketplace_chat/internal/chat/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type reconcilerFixture struct {
	dialer  *fakeDialer
	session *ChatSession
	fetcher *MockHistoryFetcher
	rec     *CacheReconciler
}

func newReconcilerFixture() *reconcilerFixture {
	dialer := &fakeDialer{}
	session := newTestSession(dialer)
	fetcher := new(MockHistoryFetcher)
	sender := NewSendMessageUseCase(session, 20*time.Millisecond)
	rec := NewCacheReconciler(session, sender, fetcher, Identity{
		UserID: 10,
		Role:   domain.SenderCustomer,
	})
	rec.Attach()
	return &reconcilerFixture{
		dialer:  dialer,
		session: session,
		fetcher: fetcher,
		rec:     rec,
	}
}

func (f *reconcilerFixture) close() {
	f.rec.Detach()
	f.session.Close()
}

func wrapped(conversationID int64, msg domain.Message) interface{} {
	return map[string]interface{}{
		"conversation_id": conversationID,
		"message":         msg,
	}
}

func TestCacheReconciler_OpenConversationSortsHistory(t *testing.T) {
	f := newReconcilerFixture()
	defer f.close()
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	f.fetcher.On("GetMessages", ctx, int64(1), 50).Return([]domain.Message{
		{ID: 3, ConversationID: 1, SenderID: 20, Content: "third", CreatedAt: base.Add(2 * time.Second)},
		{ID: 1, ConversationID: 1, SenderID: 10, Content: "first", CreatedAt: base},
		{ID: 2, ConversationID: 1, SenderID: 20, Content: "second", CreatedAt: base.Add(time.Second)},
	}, nil)

	msgs, err := f.rec.OpenConversation(ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, []int64{msgs[0].ID, msgs[1].ID, msgs[2].ID})

	// opening joined the room
	joins := f.dialer.latest().emitted(domain.EmitJoinRoom)
	assert.NotEmpty(t, joins)

	// a second open serves from cache, no refetch
	_, err = f.rec.OpenConversation(ctx, 1)
	assert.NoError(t, err)
	f.fetcher.AssertNumberOfCalls(t, "GetMessages", 1)
}

func TestCacheReconciler_SendThenEchoLeavesSingleEntry(t *testing.T) {
	f := newReconcilerFixture()
	defer f.close()
	ctx := context.Background()

	f.fetcher.On("GetMessages", ctx, int64(1), 50).Return([]domain.Message{}, nil)
	_, err := f.rec.OpenConversation(ctx, 1)
	assert.NoError(t, err)

	sent, err := f.rec.Send(ctx, 1, "hello there")
	assert.NoError(t, err)
	assert.NotEmpty(t, sent.TempID)
	assert.Equal(t, domain.StatusSent, sent.Status)

	msgs, _ := f.rec.Messages(ctx, 1)
	assert.Len(t, msgs, 1)
	assert.Equal(t, domain.StatusSent, msgs[0].Status)

	// the room echo arrives without the temp id; content matching must
	// supersede the optimistic entry instead of duplicating it
	f.dialer.latest().receive(domain.EventNewMessage, wrapped(1, domain.Message{
		ID:             42,
		ConversationID: 1,
		SenderID:       10,
		SenderType:     domain.SenderCustomer,
		Content:        "hello there",
		CreatedAt:      time.Now(),
	}))

	msgs, _ = f.rec.Messages(ctx, 1)
	assert.Len(t, msgs, 1)
	assert.Equal(t, int64(42), msgs[0].ID)
	assert.Empty(t, msgs[0].TempID)
	assert.Equal(t, domain.StatusDelivered, msgs[0].Status)
}

func TestCacheReconciler_AckSupersedesByTempID(t *testing.T) {
	f := newReconcilerFixture()
	defer f.close()
	ctx := context.Background()

	f.fetcher.On("GetMessages", ctx, int64(1), 50).Return([]domain.Message{}, nil)
	_, err := f.rec.OpenConversation(ctx, 1)
	assert.NoError(t, err)

	sent, err := f.rec.Send(ctx, 1, "hello")
	assert.NoError(t, err)

	f.dialer.latest().receive(domain.EventMessageSent, domain.SendAck{
		TempID: sent.TempID,
		Message: domain.Message{
			ID:             7,
			ConversationID: 1,
			SenderID:       10,
			SenderType:     domain.SenderCustomer,
			Content:        "hello",
			CreatedAt:      time.Now(),
		},
	})

	msgs, _ := f.rec.Messages(ctx, 1)
	assert.Len(t, msgs, 1)
	assert.Equal(t, int64(7), msgs[0].ID)
	assert.Empty(t, msgs[0].TempID)
	assert.Equal(t, domain.StatusDelivered, msgs[0].Status)
}

func TestCacheReconciler_SendFailureKeepsContentForRetry(t *testing.T) {
	f := newReconcilerFixture()
	defer f.close()
	ctx := context.Background()

	f.fetcher.On("GetMessages", ctx, int64(1), 50).Return([]domain.Message{}, nil)
	_, err := f.rec.OpenConversation(ctx, 1)
	assert.NoError(t, err)

	tr := f.dialer.latest()
	tr.mu.Lock()
	tr.emitErr = errors.New("write failed")
	tr.mu.Unlock()

	failed, err := f.rec.Send(ctx, 1, "doomed")
	assert.Error(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)

	msgs, _ := f.rec.Messages(ctx, 1)
	assert.Len(t, msgs, 1)
	assert.Equal(t, domain.StatusFailed, msgs[0].Status)
	assert.Equal(t, "doomed", msgs[0].Content)
}

func TestCacheReconciler_DuplicateDeliveryUpdatesInPlace(t *testing.T) {
	f := newReconcilerFixture()
	defer f.close()
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	f.fetcher.On("GetMessages", ctx, int64(1), 50).Return([]domain.Message{}, nil)
	_, err := f.rec.OpenConversation(ctx, 1)
	assert.NoError(t, err)

	msg := domain.Message{
		ID: 5, ConversationID: 1, SenderID: 20,
		SenderType: domain.SenderProvider, Content: "hi", CreatedAt: base,
	}
	f.dialer.latest().receive(domain.EventNewMessage, wrapped(1, msg))
	f.dialer.latest().receive(domain.EventNewMessage, wrapped(1, msg))

	msgs, _ := f.rec.Messages(ctx, 1)
	assert.Len(t, msgs, 1)
}

func TestCacheReconciler_OutOfOrderDeliverySortsByCreatedAt(t *testing.T) {
	f := newReconcilerFixture()
	defer f.close()
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	f.fetcher.On("GetMessages", ctx, int64(1), 50).Return([]domain.Message{}, nil)
	_, err := f.rec.OpenConversation(ctx, 1)
	assert.NoError(t, err)

	later := domain.Message{ID: 9, ConversationID: 1, SenderID: 20, Content: "later", CreatedAt: base.Add(time.Minute)}
	earlier := domain.Message{ID: 8, ConversationID: 1, SenderID: 20, Content: "earlier", CreatedAt: base}
	sameInstant := domain.Message{ID: 7, ConversationID: 1, SenderID: 20, Content: "tie", CreatedAt: base}

	f.dialer.latest().receive(domain.EventNewMessage, wrapped(1, later))
	f.dialer.latest().receive(domain.EventNewMessage, wrapped(1, earlier))
	f.dialer.latest().receive(domain.EventNewMessage, wrapped(1, sameInstant))

	msgs, _ := f.rec.Messages(ctx, 1)
	assert.Equal(t, []int64{7, 8, 9}, []int64{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestCacheReconciler_BareEventShapeAccepted(t *testing.T) {
	f := newReconcilerFixture()
	defer f.close()
	ctx := context.Background()

	f.fetcher.On("GetMessages", ctx, int64(1), 50).Return([]domain.Message{}, nil)
	_, err := f.rec.OpenConversation(ctx, 1)
	assert.NoError(t, err)

	// bare message object, no wrapper
	f.dialer.latest().receive(domain.EventNewMessage, domain.Message{
		ID: 11, ConversationID: 1, SenderID: 20,
		SenderType: domain.SenderProvider, Content: "bare", CreatedAt: time.Now(),
	})

	msgs, _ := f.rec.Messages(ctx, 1)
	assert.Len(t, msgs, 1)
	assert.Equal(t, "bare", msgs[0].Content)
}

func TestCacheReconciler_UnreadTargetsTheNonSender(t *testing.T) {
	f := newReconcilerFixture()
	defer f.close()
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	f.fetcher.On("ListConversations", ctx).Return([]domain.Conversation{
		{ID: 2, Customer: domain.Participant{ID: 10}, Provider: domain.Participant{ID: 30}, LastMessageAt: base.Add(time.Hour)},
		{ID: 1, Customer: domain.Participant{ID: 10}, Provider: domain.Participant{ID: 20}, LastMessageAt: base},
	}, nil)

	convs, err := f.rec.Conversations(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), convs[1].ID)

	// connect so inbound events can flow
	_, err = f.session.Open(ctx)
	assert.NoError(t, err)

	// provider writes into the conversation that is not on screen
	f.dialer.latest().receive(domain.EventNewMessage, wrapped(1, domain.Message{
		ID: 5, ConversationID: 1, SenderID: 20,
		SenderType: domain.SenderProvider, Content: "are you there?", CreatedAt: base.Add(2 * time.Hour),
	}))

	convs, err = f.rec.Conversations(ctx)
	assert.NoError(t, err)
	f.fetcher.AssertNumberOfCalls(t, "ListConversations", 1)

	// moved to the head, preview refreshed, unread on the customer side only
	assert.Equal(t, int64(1), convs[0].ID)
	assert.Equal(t, "are you there?", convs[0].LastMessage)
	assert.Equal(t, 1, convs[0].UnreadByCustomer)
	assert.Equal(t, 0, convs[0].UnreadByProvider)
}

func TestCacheReconciler_OwnEchoDoesNotCountUnread(t *testing.T) {
	f := newReconcilerFixture()
	defer f.close()
	ctx := context.Background()

	f.fetcher.On("ListConversations", ctx).Return([]domain.Conversation{
		{ID: 1, Customer: domain.Participant{ID: 10}, Provider: domain.Participant{ID: 20}},
	}, nil)
	_, err := f.rec.Conversations(ctx)
	assert.NoError(t, err)

	_, err = f.session.Open(ctx)
	assert.NoError(t, err)

	f.dialer.latest().receive(domain.EventNewMessage, wrapped(1, domain.Message{
		ID: 5, ConversationID: 1, SenderID: 10,
		SenderType: domain.SenderCustomer, Content: "mine", CreatedAt: time.Now(),
	}))

	convs, _ := f.rec.Conversations(ctx)
	assert.Equal(t, 0, convs[0].UnreadByCustomer)
	assert.Equal(t, 0, convs[0].UnreadByProvider)
	assert.Equal(t, "mine", convs[0].LastMessage)
}

func TestCacheReconciler_UnknownConversationInvalidatesList(t *testing.T) {
	f := newReconcilerFixture()
	defer f.close()
	ctx := context.Background()

	f.fetcher.On("ListConversations", ctx).Return([]domain.Conversation{
		{ID: 1, Customer: domain.Participant{ID: 10}, Provider: domain.Participant{ID: 20}},
	}, nil)
	_, err := f.rec.Conversations(ctx)
	assert.NoError(t, err)

	_, err = f.session.Open(ctx)
	assert.NoError(t, err)

	// event for a conversation the cached list has never seen
	f.dialer.latest().receive(domain.EventNewMessage, wrapped(99, domain.Message{
		ID: 5, ConversationID: 99, SenderID: 20,
		SenderType: domain.SenderProvider, Content: "new thread", CreatedAt: time.Now(),
	}))

	_, err = f.rec.Conversations(ctx)
	assert.NoError(t, err)
	f.fetcher.AssertNumberOfCalls(t, "ListConversations", 2)
}

func TestCacheReconciler_UpdateStrictlyByServerID(t *testing.T) {
	f := newReconcilerFixture()
	defer f.close()
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	f.fetcher.On("GetMessages", ctx, int64(1), 50).Return([]domain.Message{
		{ID: 1, ConversationID: 1, SenderID: 20, Content: "original", CreatedAt: base, Status: domain.StatusRead},
		{ID: 2, ConversationID: 1, SenderID: 10, Content: "reply", CreatedAt: base.Add(time.Second)},
	}, nil)
	_, err := f.rec.OpenConversation(ctx, 1)
	assert.NoError(t, err)

	f.dialer.latest().receive(domain.EventMessageUpdated, wrapped(1, domain.Message{
		ID: 1, ConversationID: 1, SenderID: 20, Content: "edited", CreatedAt: base,
	}))

	msgs, _ := f.rec.Messages(ctx, 1)
	assert.Equal(t, "edited", msgs[0].Content)
	assert.Equal(t, domain.StatusRead, msgs[0].Status) // local status survives the edit
	assert.Equal(t, "reply", msgs[1].Content)

	// an update for a conversation that is not open changes nothing
	f.dialer.latest().receive(domain.EventMessageUpdated, wrapped(2, domain.Message{
		ID: 2, ConversationID: 2, SenderID: 10, Content: "elsewhere", CreatedAt: base,
	}))
	msgs, _ = f.rec.Messages(ctx, 1)
	assert.Equal(t, "reply", msgs[1].Content)
}

func TestCacheReconciler_DeleteStrictlyByServerID(t *testing.T) {
	f := newReconcilerFixture()
	defer f.close()
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	f.fetcher.On("GetMessages", ctx, int64(1), 50).Return([]domain.Message{
		{ID: 1, ConversationID: 1, SenderID: 20, Content: "a", CreatedAt: base},
		{ID: 2, ConversationID: 1, SenderID: 10, Content: "b", CreatedAt: base.Add(time.Second)},
	}, nil)
	_, err := f.rec.OpenConversation(ctx, 1)
	assert.NoError(t, err)

	f.dialer.latest().receive(domain.EventMessageDeleted, domain.DeletePayload{ConversationID: 1, ID: 1})

	msgs, _ := f.rec.Messages(ctx, 1)
	assert.Len(t, msgs, 1)
	assert.Equal(t, int64(2), msgs[0].ID)

	// unknown id, nothing happens
	f.dialer.latest().receive(domain.EventMessageDeleted, domain.DeletePayload{ConversationID: 1, ID: 42})
	msgs, _ = f.rec.Messages(ctx, 1)
	assert.Len(t, msgs, 1)
}

func TestCacheReconciler_ConversationUpdatedReplacesRow(t *testing.T) {
	f := newReconcilerFixture()
	defer f.close()
	ctx := context.Background()

	f.fetcher.On("ListConversations", ctx).Return([]domain.Conversation{
		{ID: 1, Customer: domain.Participant{ID: 10}, Provider: domain.Participant{ID: 20}},
	}, nil)
	_, err := f.rec.Conversations(ctx)
	assert.NoError(t, err)

	_, err = f.session.Open(ctx)
	assert.NoError(t, err)

	f.dialer.latest().receive(domain.EventConversationUpdated, domain.Conversation{
		ID:       1,
		Customer: domain.Participant{ID: 10},
		Provider: domain.Participant{ID: 20},
		LastMessage: "fresh preview", UnreadByCustomer: 3,
		LastMessageAt: time.Now(),
	})

	convs, _ := f.rec.Conversations(ctx)
	f.fetcher.AssertNumberOfCalls(t, "ListConversations", 1)
	assert.Equal(t, "fresh preview", convs[0].LastMessage)
	assert.Equal(t, 3, convs[0].UnreadByCustomer)
}

func TestCacheReconciler_TypingObserver(t *testing.T) {
	f := newReconcilerFixture()
	defer f.close()
	ctx := context.Background()

	type typingCall struct {
		conv   int64
		sender domain.SenderType
		typing bool
	}
	var calls []typingCall
	f.rec.OnTyping(func(conversationID int64, senderType domain.SenderType, typing bool) {
		calls = append(calls, typingCall{conversationID, senderType, typing})
	})

	_, err := f.session.Open(ctx)
	assert.NoError(t, err)

	f.dialer.latest().receive(domain.EventTypingStart, domain.RoomPayload{ConversationID: 1, SenderType: domain.SenderProvider})
	f.dialer.latest().receive(domain.EventTypingStop, domain.RoomPayload{ConversationID: 1, SenderType: domain.SenderProvider})

	assert.Equal(t, []typingCall{
		{1, domain.SenderProvider, true},
		{1, domain.SenderProvider, false},
	}, calls)
}

func TestCacheReconciler_CloseConversationLeavesRoom(t *testing.T) {
	f := newReconcilerFixture()
	defer f.close()
	ctx := context.Background()

	f.fetcher.On("GetMessages", ctx, int64(1), 50).Return([]domain.Message{}, nil)
	_, err := f.rec.OpenConversation(ctx, 1)
	assert.NoError(t, err)

	f.rec.CloseConversation(ctx)

	leaves := f.dialer.latest().emitted(domain.EmitLeaveRoom)
	assert.Len(t, leaves, 1)

	// with nothing open, update/delete events are ignored
	f.dialer.latest().receive(domain.EventMessageDeleted, domain.DeletePayload{ConversationID: 1, ID: 1})
}

func TestCacheReconciler_EventsNeverSeedUnqueriedState(t *testing.T) {
	f := newReconcilerFixture()
	defer f.close()
	ctx := context.Background()

	_, err := f.session.Open(ctx)
	assert.NoError(t, err)

	// nobody has queried anything yet; events must not fabricate entries
	f.dialer.latest().receive(domain.EventNewMessage, wrapped(1, domain.Message{
		ID: 5, ConversationID: 1, SenderID: 20, Content: "early", CreatedAt: time.Now(),
	}))

	f.fetcher.On("ListConversations", mock.Anything).Return([]domain.Conversation{}, nil)
	_, err = f.rec.Conversations(ctx)
	assert.NoError(t, err)
	f.fetcher.AssertNumberOfCalls(t, "ListConversations", 1)
}
