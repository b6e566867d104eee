package gateway

import (
	"os"
	"testing"

	"marketplace_chat/internal/chat/domain"
	"marketplace_chat/pkg/logger"

	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	logger.SetNewNop()
	os.Exit(m.Run())
}

func TestStore_GetOrCreateIsIdempotent(t *testing.T) {
	s := NewStore()
	customer := domain.Participant{ID: 10, Name: "cust"}
	provider := domain.Participant{ID: 20, Name: "prov"}

	first, created := s.GetOrCreate(customer, provider)
	assert.True(t, created)
	assert.NotZero(t, first.ID)

	second, created := s.GetOrCreate(customer, provider)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// a different pair gets its own conversation
	third, created := s.GetOrCreate(customer, domain.Participant{ID: 30})
	assert.True(t, created)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestStore_AppendMessageUpdatesPreviewAndUnread(t *testing.T) {
	s := NewStore()
	conv, _ := s.GetOrCreate(domain.Participant{ID: 10}, domain.Participant{ID: 20})

	msg, updated, err := s.AppendMessage(conv.ID, 20, domain.SenderProvider, "hello")
	assert.NoError(t, err)
	assert.NotZero(t, msg.ID)
	assert.Equal(t, "hello", updated.LastMessage)
	assert.Equal(t, 1, updated.UnreadByCustomer)
	assert.Equal(t, 0, updated.UnreadByProvider)

	_, _, err = s.AppendMessage(999, 20, domain.SenderProvider, "void")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestStore_ListForSortsByActivity(t *testing.T) {
	s := NewStore()
	a, _ := s.GetOrCreate(domain.Participant{ID: 10}, domain.Participant{ID: 20})
	b, _ := s.GetOrCreate(domain.Participant{ID: 10}, domain.Participant{ID: 30})
	s.GetOrCreate(domain.Participant{ID: 40}, domain.Participant{ID: 50})

	_, _, err := s.AppendMessage(a.ID, 20, domain.SenderProvider, "ping")
	assert.NoError(t, err)

	list := s.ListFor(10)
	assert.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID) // active conversation first
	assert.Equal(t, b.ID, list[1].ID)

	assert.Empty(t, s.ListFor(99))
}

func TestStore_MessagesLimitReturnsTail(t *testing.T) {
	s := NewStore()
	conv, _ := s.GetOrCreate(domain.Participant{ID: 10}, domain.Participant{ID: 20})
	for _, content := range []string{"a", "b", "c", "d"} {
		_, _, err := s.AppendMessage(conv.ID, 10, domain.SenderCustomer, content)
		assert.NoError(t, err)
	}

	msgs := s.Messages(conv.ID, 2)
	assert.Len(t, msgs, 2)
	assert.Equal(t, "c", msgs[0].Content)
	assert.Equal(t, "d", msgs[1].Content)

	all := s.Messages(conv.ID, 0)
	assert.Len(t, all, 4)
}

func TestStore_MessagesPage(t *testing.T) {
	s := NewStore()
	conv, _ := s.GetOrCreate(domain.Participant{ID: 10}, domain.Participant{ID: 20})
	for _, content := range []string{"a", "b", "c", "d", "e"} {
		_, _, err := s.AppendMessage(conv.ID, 10, domain.SenderCustomer, content)
		assert.NoError(t, err)
	}

	// page 1 is the newest block, ascending inside
	page1, total := s.MessagesPage(conv.ID, 1, 2)
	assert.Equal(t, 5, total)
	assert.Equal(t, "d", page1[0].Content)
	assert.Equal(t, "e", page1[1].Content)

	page2, _ := s.MessagesPage(conv.ID, 2, 2)
	assert.Equal(t, "b", page2[0].Content)
	assert.Equal(t, "c", page2[1].Content)

	page3, _ := s.MessagesPage(conv.ID, 3, 2)
	assert.Equal(t, []string{"a"}, []string{page3[0].Content})

	empty, total := s.MessagesPage(conv.ID, 4, 2)
	assert.Equal(t, 5, total)
	assert.Empty(t, empty)
}

func TestStore_UpdateAndDeleteMessage(t *testing.T) {
	s := NewStore()
	conv, _ := s.GetOrCreate(domain.Participant{ID: 10}, domain.Participant{ID: 20})
	msg, _, err := s.AppendMessage(conv.ID, 10, domain.SenderCustomer, "typo")
	assert.NoError(t, err)

	edited, ok := s.UpdateMessage(conv.ID, msg.ID, 10, "fixed")
	assert.True(t, ok)
	assert.Equal(t, "fixed", edited.Content)

	_, ok = s.UpdateMessage(conv.ID, 999, 10, "missing")
	assert.False(t, ok)

	// only the sender may touch their message
	_, ok = s.UpdateMessage(conv.ID, msg.ID, 20, "hijack")
	assert.False(t, ok)
	assert.False(t, s.DeleteMessage(conv.ID, msg.ID, 20))

	assert.True(t, s.DeleteMessage(conv.ID, msg.ID, 10))
	assert.False(t, s.DeleteMessage(conv.ID, msg.ID, 10))
	assert.Empty(t, s.Messages(conv.ID, 0))
}

func TestHub_JoinBroadcastLeave(t *testing.T) {
	h := NewHub()
	a := &Client{UserID: 10}
	b := &Client{UserID: 20}

	h.Join(1, a)
	h.Join(1, a) // idempotent
	h.Join(1, b)

	h.Leave(1, a)
	h.LeaveAll(b)

	// both gone; broadcasting into the empty room is a no-op
	h.Broadcast(1, "new_message", map[string]int{"id": 1}, nil)
}
