package app

import (
	"context"
	"encoding/json"
	"sync"

	"marketplace_chat/internal/chat/domain"
	"marketplace_chat/internal/chat/repository"

	"github.com/stretchr/testify/mock"
)

// fakeTransport is an in-memory Transport. Tests inject inbound events
// with receive and inspect outbound frames through emitted.
type fakeTransport struct {
	mu           sync.Mutex
	emits        []domain.Envelope
	handlers     map[string]map[string]repository.EventHandler
	connected    bool
	emitErr      error
	onDisconnect func(err error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers:  make(map[string]map[string]repository.EventHandler),
		connected: true,
	}
}

func (t *fakeTransport) Emit(event string, data interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return repository.ErrTransportClosed
	}
	if t.emitErr != nil {
		return t.emitErr
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	t.emits = append(t.emits, domain.Envelope{Event: event, Data: raw})
	return nil
}

func (t *fakeTransport) On(event, key string, h repository.EventHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handlers[event] == nil {
		t.handlers[event] = make(map[string]repository.EventHandler)
	}
	t.handlers[event][key] = h
}

func (t *fakeTransport) Off(event, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if hs, ok := t.handlers[event]; ok {
		delete(hs, key)
	}
}

func (t *fakeTransport) OnDisconnect(fn func(err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = fn
}

func (t *fakeTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	return nil
}

// receive simulates an inbound frame from the gateway.
func (t *fakeTransport) receive(event string, data interface{}) {
	raw, _ := json.Marshal(data)
	t.mu.Lock()
	hs := make([]repository.EventHandler, 0, len(t.handlers[event]))
	for _, h := range t.handlers[event] {
		hs = append(hs, h)
	}
	t.mu.Unlock()
	for _, h := range hs {
		h(raw)
	}
}

// drop simulates losing the connection without a client Close.
func (t *fakeTransport) drop(err error) {
	t.mu.Lock()
	t.connected = false
	cb := t.onDisconnect
	t.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// emitted returns the outbound frames recorded for one event name.
func (t *fakeTransport) emitted(event string) []domain.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Envelope, 0)
	for _, e := range t.emits {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (t *fakeTransport) handlerCount(event string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handlers[event])
}

// fakeDialer hands out fresh fakeTransports, optionally failing the
// first failDials attempts.
type fakeDialer struct {
	mu         sync.Mutex
	dials      int
	failDials  int
	dialErr    error
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(_ context.Context, _, _ string) (repository.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.failDials {
		return nil, d.dialErr
	}
	t := newFakeTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) latest() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// MockHistoryFetcher Mock HistoryFetcher
type MockHistoryFetcher struct {
	mock.Mock
}

// ListConversations moke list conversations
func (m *MockHistoryFetcher) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	args := m.Called(ctx)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

// GetMessages moke get message history
func (m *MockHistoryFetcher) GetMessages(ctx context.Context, conversationID int64, limit int) ([]domain.Message, error) {
	args := m.Called(ctx, conversationID, limit)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}
