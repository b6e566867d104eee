package gateway

import (
	"errors"
	"sort"
	"sync"
	"time"

	"marketplace_chat/internal/chat/domain"
)

// ErrConversationNotFound unknown conversation id
var ErrConversationNotFound = errors.New("conversation not found")

// Store is the gateway's in-memory conversation and message state.
// Conversations are created on first contact between a customer and a
// provider and never deleted.
type Store struct {
	mu         sync.Mutex
	nextConvID int64
	nextMsgID  int64
	convs      map[int64]*domain.Conversation
	msgs       map[int64][]domain.Message
	pairs      map[[2]int64]int64 // customerID, providerID -> conversation id
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		convs: make(map[int64]*domain.Conversation),
		msgs:  make(map[int64][]domain.Message),
		pairs: make(map[[2]int64]int64),
	}
}

// GetOrCreate returns the conversation between the pair, creating it
// idempotently on first contact.
func (s *Store) GetOrCreate(customer, provider domain.Participant) (domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := [2]int64{customer.ID, provider.ID}
	if id, ok := s.pairs[key]; ok {
		return *s.convs[id], false
	}

	s.nextConvID++
	conv := &domain.Conversation{
		ID:        s.nextConvID,
		Customer:  customer,
		Provider:  provider,
		CreatedAt: time.Now(),
	}
	s.convs[conv.ID] = conv
	s.pairs[key] = conv.ID
	return *conv, true
}

// Get returns a conversation by id.
func (s *Store) Get(conversationID int64) (domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return domain.Conversation{}, false
	}
	return *conv, true
}

// ListFor returns every conversation the user participates in, newest
// activity first.
func (s *Store) ListFor(userID int64) []domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Conversation, 0)
	for _, conv := range s.convs {
		if conv.HasParticipant(userID) {
			out = append(out, *conv)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		if a.IsZero() {
			a = out[i].CreatedAt
		}
		if b.IsZero() {
			b = out[j].CreatedAt
		}
		return a.After(b)
	})
	return out
}

// AppendMessage stores a message, assigns its server id and refreshes
// the conversation preview and unread counters.
func (s *Store) AppendMessage(conversationID, senderID int64, senderType domain.SenderType, content string) (domain.Message, domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[conversationID]
	if !ok {
		return domain.Message{}, domain.Conversation{}, ErrConversationNotFound
	}

	s.nextMsgID++
	msg := domain.Message{
		ID:             s.nextMsgID,
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderType:     senderType,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	s.msgs[conversationID] = append(s.msgs[conversationID], msg)
	conv.ApplyMessage(msg)

	return msg, *conv, nil
}

// Messages returns up to limit most recent messages in ascending order.
func (s *Store) Messages(conversationID int64, limit int) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.msgs[conversationID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]domain.Message, len(list))
	copy(out, list)
	return out
}

// MessagesPage returns page N (1-based, newest first) of limit-sized
// blocks, each block in ascending order, plus the total count.
func (s *Store) MessagesPage(conversationID int64, page, limit int) ([]domain.Message, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.msgs[conversationID]
	total := len(list)
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	end := total - (page-1)*limit
	if end <= 0 {
		return []domain.Message{}, total
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]domain.Message, end-start)
	copy(out, list[start:end])
	return out, total
}

// UpdateMessage edits a stored message's content by id. Only the
// original sender may edit.
func (s *Store) UpdateMessage(conversationID, messageID, senderID int64, content string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.msgs[conversationID]
	for i := range list {
		if list[i].ID == messageID && list[i].SenderID == senderID {
			list[i].Content = content
			return list[i], true
		}
	}
	return domain.Message{}, false
}

// DeleteMessage removes a stored message by id. Only the original
// sender may delete.
func (s *Store) DeleteMessage(conversationID, messageID, senderID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.msgs[conversationID]
	for i := range list {
		if list[i].ID == messageID && list[i].SenderID == senderID {
			s.msgs[conversationID] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}
