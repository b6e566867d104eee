package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketplace_chat/internal/chat/domain"
	"marketplace_chat/internal/chat/repository"
	"marketplace_chat/pkg/logger"
)

// ConnState is the observable connection lifecycle state.
type ConnState string

const (
	// StateDisconnected no transport, no reconnection in flight
	StateDisconnected ConnState = "disconnected"
	// StateConnecting a dial or reconnect loop is in flight
	StateConnecting ConnState = "connecting"
	// StateConnected a live transport exists
	StateConnected ConnState = "connected"
)

var (
	// ErrNoCredentials connect attempted with no auth credential.
	// Callers treat this as a normal pre-login state, not a fault.
	ErrNoCredentials = errors.New("no auth credential available")
	// ErrNoConnection an emission was attempted with no live transport
	ErrNoConnection = errors.New("no connection to messaging gateway")
	// ErrInvalidPayload a send was rejected before any network activity
	ErrInvalidPayload = errors.New("invalid send payload")
)

// GatewaySession is the surface consumers use: connection lifecycle,
// room membership, event subscriptions and raw emissions.
type GatewaySession interface {
	Open(ctx context.Context) (repository.Transport, error)
	Close() error
	State() ConnState
	JoinRoom(ctx context.Context, conversationID int64)
	LeaveRoom(ctx context.Context, conversationID int64)
	On(event, key string, h repository.EventHandler)
	Off(event, key string)
	Emit(event string, data interface{}) error
}

// SessionConfig carries the connection policy. Zero fields fall back to
// the defaults the gateway expects.
type SessionConfig struct {
	GatewayURL string
	// Credentials supplies the bearer credential at dial time; an empty
	// result short-circuits the connect.
	Credentials func() string

	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	ReconnectDelayMax    time.Duration
	ConnectTimeout       time.Duration

	Dialer repository.Dialer
}

func (c *SessionConfig) applyDefaults() {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.ReconnectDelayMax <= 0 {
		c.ReconnectDelayMax = 5 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = &repository.WebsocketDialer{HandshakeTimeout: c.ConnectTimeout}
	}
}

// ChatSession owns exactly one logical gateway connection: the live
// transport, the join-intent set and the handler registry. Sessions are
// constructed explicitly and injected, so tests can run several
// independent ones.
type ChatSession struct {
	cfg SessionConfig

	registry *HandlerRegistry

	dialMu sync.Mutex // serializes dials

	mu        sync.Mutex
	transport repository.Transport
	state     ConnState
	attempts  int
	rooms     map[int64]struct{}
	closed    bool
}

// NewChatSession builds a session. No connection is opened yet.
func NewChatSession(cfg SessionConfig) *ChatSession {
	cfg.applyDefaults()
	return &ChatSession{
		cfg:      cfg,
		registry: NewHandlerRegistry(),
		state:    StateDisconnected,
		rooms:    make(map[int64]struct{}),
	}
}

// Open returns the live transport, dialing first if needed. It is
// idempotent while connected. A manual Open always starts a fresh
// attempt counter, including after the reconnect loop has given up.
func (s *ChatSession) Open(ctx context.Context) (repository.Transport, error) {
	s.mu.Lock()
	if s.transport != nil && s.transport.Connected() {
		t := s.transport
		s.mu.Unlock()
		return t, nil
	}
	s.attempts = 0
	s.closed = false
	s.mu.Unlock()

	return s.dial(ctx)
}

// dial opens a new transport, tearing down any stale handle first.
func (s *ChatSession) dial(ctx context.Context) (repository.Transport, error) {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()

	s.mu.Lock()
	if s.transport != nil && s.transport.Connected() {
		t := s.transport
		s.mu.Unlock()
		return t, nil
	}
	stale := s.transport
	s.transport = nil
	s.state = StateConnecting
	s.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}

	var cred string
	if s.cfg.Credentials != nil {
		cred = s.cfg.Credentials()
	}
	if cred == "" {
		s.setState(StateDisconnected)
		return nil, ErrNoCredentials
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	t, err := s.cfg.Dialer.Dial(dialCtx, s.cfg.GatewayURL, cred)
	if err != nil {
		s.setState(StateDisconnected)
		return nil, err
	}

	s.onConnected(t)
	return t, nil
}

func (s *ChatSession) setState(st ConnState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// onConnected installs the new transport: counter reset, handler
// re-attachment, join-intent replay.
func (s *ChatSession) onConnected(t repository.Transport) {
	s.mu.Lock()
	s.transport = t
	s.state = StateConnected
	s.attempts = 0
	rooms := make([]int64, 0, len(s.rooms))
	for id := range s.rooms {
		rooms = append(rooms, id)
	}
	s.mu.Unlock()
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })

	t.OnDisconnect(s.handleDisconnect)
	s.registry.AttachAll(t)

	for _, id := range rooms {
		if err := t.Emit(domain.EmitJoinRoom, domain.RoomPayload{ConversationID: id}); err != nil {
			logger.Log.Warn(fmt.Sprintf("join replay failed for conversation %d: %v", id, err))
		}
	}
	logger.Log.Info(fmt.Sprintf("gateway connected, %d room(s) rejoined", len(rooms)))
}

// handleDisconnect runs when the transport drops without a client-side
// Close. Reconnection happens in the background.
func (s *ChatSession) handleDisconnect(err error) {
	s.mu.Lock()
	if s.closed {
		s.state = StateDisconnected
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	s.mu.Unlock()

	logger.Log.Warn(fmt.Sprintf("gateway connection lost: %v", err))
	go s.reconnectLoop()
}

func (s *ChatSession) reconnectLoop() {
	for {
		s.mu.Lock()
		if s.closed {
			s.state = StateDisconnected
			s.mu.Unlock()
			return
		}
		if s.attempts >= s.cfg.MaxReconnectAttempts {
			s.state = StateDisconnected
			s.mu.Unlock()
			logger.Log.Error(fmt.Sprintf("giving up after %d reconnect attempts", s.cfg.MaxReconnectAttempts))
			return
		}
		attempt := s.attempts
		s.attempts++
		s.mu.Unlock()

		time.Sleep(backoffDelay(attempt, s.cfg.ReconnectDelay, s.cfg.ReconnectDelayMax))

		if _, err := s.dial(context.Background()); err == nil {
			return
		} else if errors.Is(err, ErrNoCredentials) {
			// configuration error, retrying cannot help
			return
		} else {
			logger.Log.Warn(fmt.Sprintf("reconnect attempt %d failed: %v", attempt+1, err))
		}
	}
}

// backoffDelay doubles the base delay per attempt up to the cap.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Close is the explicit, client-initiated teardown: the only path that
// intentionally abandons room memberships.
func (s *ChatSession) Close() error {
	s.mu.Lock()
	s.closed = true
	t := s.transport
	s.transport = nil
	s.rooms = make(map[int64]struct{})
	s.attempts = 0
	s.state = StateDisconnected
	s.mu.Unlock()

	s.registry.Clear()

	if t != nil {
		return t.Close()
	}
	return nil
}

// State reports the current connection state.
func (s *ChatSession) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// JoinRoom records the intent to be in a conversation room and emits a
// join request when a transport is obtainable. The intent survives
// failed connects and is replayed on every reconnect.
func (s *ChatSession) JoinRoom(ctx context.Context, conversationID int64) {
	if conversationID <= 0 {
		logger.Log.Warn(fmt.Sprintf("joinRoom ignored invalid conversation id %d", conversationID))
		return
	}

	s.mu.Lock()
	s.rooms[conversationID] = struct{}{}
	s.mu.Unlock()

	t, err := s.Open(ctx)
	if err != nil {
		// queued: the join-intent set replays it on the next connect
		logger.Log.Debug(fmt.Sprintf("join for conversation %d deferred: %v", conversationID, err))
		return
	}
	if err := t.Emit(domain.EmitJoinRoom, domain.RoomPayload{ConversationID: conversationID}); err != nil {
		logger.Log.Warn(fmt.Sprintf("join emit failed for conversation %d: %v", conversationID, err))
	}
}

// LeaveRoom removes the intent; the leave request is emitted only while
// connected since there is nothing to actively leave otherwise.
func (s *ChatSession) LeaveRoom(ctx context.Context, conversationID int64) {
	s.mu.Lock()
	delete(s.rooms, conversationID)
	t := s.transport
	s.mu.Unlock()

	if t != nil && t.Connected() {
		if err := t.Emit(domain.EmitLeaveRoom, domain.RoomPayload{ConversationID: conversationID}); err != nil {
			logger.Log.Warn(fmt.Sprintf("leave emit failed for conversation %d: %v", conversationID, err))
		}
	}
}

// On registers a handler under (event, key) and attaches it to the live
// transport if one exists. Duplicate registrations are no-ops.
func (s *ChatSession) On(event, key string, h repository.EventHandler) {
	if !s.registry.Add(event, key, h) {
		return
	}
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t != nil && t.Connected() {
		t.On(event, key, h)
	}
}

// Off removes a handler from the registry and the live transport.
func (s *ChatSession) Off(event, key string) {
	s.registry.Remove(event, key)
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t != nil {
		t.Off(event, key)
	}
}

// Emit sends an event on the live transport. A send with no live
// connection fails immediately rather than queuing.
func (s *ChatSession) Emit(event string, data interface{}) error {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil || !t.Connected() {
		return ErrNoConnection
	}
	return t.Emit(event, data)
}

var _ GatewaySession = (*ChatSession)(nil)
