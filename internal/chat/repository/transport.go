package repository

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketplace_chat/internal/chat/domain"
	"marketplace_chat/pkg/logger"
	"marketplace_chat/pkg/middlewares"
)

// EventHandler consumes the raw payload of one inbound event.
type EventHandler func(data json.RawMessage)

// Transport is one physical connection to the messaging gateway. A new
// instance starts with an empty handler table, so handlers must be
// re-attached after every reconnect.
type Transport interface {
	Emit(event string, data interface{}) error
	On(event, key string, h EventHandler)
	Off(event, key string)
	OnDisconnect(fn func(err error))
	Connected() bool
	Close() error
}

// Dialer opens a Transport to the gateway.
type Dialer interface {
	Dial(ctx context.Context, gatewayURL, credential string) (Transport, error)
}

// ErrTransportClosed is returned by Emit after the connection is gone.
var ErrTransportClosed = errors.New("transport closed")

// WebsocketDialer dials the gateway over a websocket, carrying the
// bearer credential as the auth query parameter.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

// Dial opens the websocket and starts the read loop.
func (d *WebsocketDialer) Dial(ctx context.Context, gatewayURL, credential string) (Transport, error) {
	u, err := url.Parse(gatewayURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set(middlewares.QueryToken, credential)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	t := &wsTransport{
		conn:     conn,
		handlers: make(map[string]map[string]EventHandler),
	}
	go t.readLoop()
	return t, nil
}

// wsTransport wraps one gorilla websocket connection with an event
// envelope codec, a per-event handler table and a write lock.
type wsTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu           sync.RWMutex
	handlers     map[string]map[string]EventHandler
	closed       bool
	manual       bool
	onDisconnect func(err error)
}

func (t *wsTransport) readLoop() {
	for {
		var env domain.Envelope
		if err := t.conn.ReadJSON(&env); err != nil {
			t.mu.Lock()
			t.closed = true
			manual := t.manual
			cb := t.onDisconnect
			t.mu.Unlock()

			if !manual {
				logger.Log.Warn("websocket read loop ended: " + err.Error())
				if cb != nil {
					cb(err)
				}
			}
			return
		}
		t.dispatch(env)
	}
}

func (t *wsTransport) dispatch(env domain.Envelope) {
	t.mu.RLock()
	hs := make([]EventHandler, 0, len(t.handlers[env.Event]))
	for _, h := range t.handlers[env.Event] {
		hs = append(hs, h)
	}
	t.mu.RUnlock()

	for _, h := range hs {
		h(env.Data)
	}
}

// Emit writes one envelope. The error is synchronous: a nil return
// means the frame was handed to the connection, not that it arrived.
func (t *wsTransport) Emit(event string, data interface{}) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return ErrTransportClosed
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(domain.Envelope{Event: event, Data: raw})
}

func (t *wsTransport) On(event, key string, h EventHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handlers[event] == nil {
		t.handlers[event] = make(map[string]EventHandler)
	}
	t.handlers[event][key] = h
}

func (t *wsTransport) Off(event, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if hs, ok := t.handlers[event]; ok {
		delete(hs, key)
		if len(hs) == 0 {
			delete(t.handlers, event)
		}
	}
}

func (t *wsTransport) OnDisconnect(fn func(err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = fn
}

func (t *wsTransport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.closed
}

// Close is the client-initiated teardown. It never triggers the
// disconnect callback.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.manual = true
	t.closed = true
	t.mu.Unlock()

	t.writeMu.Lock()
	_ = t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
		time.Now().Add(time.Second),
	)
	t.writeMu.Unlock()

	return t.conn.Close()
}
