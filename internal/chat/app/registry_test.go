package app

import (
	"encoding/json"
	"testing"

	"marketplace_chat/internal/chat/domain"

	"github.com/stretchr/testify/assert"
)

func TestHandlerRegistry_AddAndRemove(t *testing.T) {
	r := NewHandlerRegistry()

	assert.True(t, r.Add(domain.EventNewMessage, "a", func(json.RawMessage) {}))
	assert.False(t, r.Add(domain.EventNewMessage, "a", func(json.RawMessage) {}))
	assert.True(t, r.Add(domain.EventNewMessage, "b", func(json.RawMessage) {}))
	assert.Equal(t, 2, r.Len())

	assert.True(t, r.Remove(domain.EventNewMessage, "a"))
	assert.Equal(t, 1, r.Len())

	// removing an unknown key is a no-op
	assert.False(t, r.Remove(domain.EventNewMessage, "missing"))
	assert.False(t, r.Remove("unknown_event", "a"))
	assert.Equal(t, 1, r.Len())
}

func TestHandlerRegistry_AttachAll(t *testing.T) {
	r := NewHandlerRegistry()
	r.Add(domain.EventNewMessage, "a", func(json.RawMessage) {})
	r.Add(domain.EventNewMessage, "b", func(json.RawMessage) {})
	r.Add(domain.EventTypingStart, "a", func(json.RawMessage) {})

	tr := newFakeTransport()
	r.AttachAll(tr)

	assert.Equal(t, 2, tr.handlerCount(domain.EventNewMessage))
	assert.Equal(t, 1, tr.handlerCount(domain.EventTypingStart))
}

func TestHandlerRegistry_Clear(t *testing.T) {
	r := NewHandlerRegistry()
	r.Add(domain.EventNewMessage, "a", func(json.RawMessage) {})
	r.Clear()
	assert.Equal(t, 0, r.Len())
}
