package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"marketplace_chat/internal/chat/domain"
)

// ConversationAPI is the REST client for conversation and message
// history endpoints. Real-time traffic does not go through here.
type ConversationAPI struct {
	baseURL    string
	httpClient *http.Client
	credential func() string
}

// MessagePage is one page of a paginated history load.
type MessagePage struct {
	Messages []domain.Message `json:"messages"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
	Total    int              `json:"total"`
}

// NewConversationAPI builds the REST client. credential supplies the
// bearer token per request so token refreshes are picked up.
func NewConversationAPI(baseURL string, credential func() string) *ConversationAPI {
	return &ConversationAPI{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		credential: credential,
	}
}

// GetOrCreateConversation returns the conversation between the caller
// and the given counterpart, creating it on first contact.
func (a *ConversationAPI) GetOrCreateConversation(ctx context.Context, customerID, providerID int64) (*domain.Conversation, error) {
	body := map[string]int64{
		"customer_id": customerID,
		"provider_id": providerID,
	}
	var conv domain.Conversation
	if err := a.do(ctx, http.MethodPost, "/api/conversations", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns the caller's conversation list, newest
// activity first.
func (a *ConversationAPI) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	var convs []domain.Conversation
	if err := a.do(ctx, http.MethodGet, "/api/conversations", nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// GetMessages returns up to limit most recent messages in ascending
// createdAt order.
func (a *ConversationAPI) GetMessages(ctx context.Context, conversationID int64, limit int) ([]domain.Message, error) {
	path := fmt.Sprintf("/api/conversations/%d/messages?limit=%d", conversationID, limit)
	var msgs []domain.Message
	if err := a.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// UpdateMessage edits one of the caller's own messages. The gateway
// broadcasts the edit to the conversation room.
func (a *ConversationAPI) UpdateMessage(ctx context.Context, conversationID, messageID int64, content string) (*domain.Message, error) {
	path := fmt.Sprintf("/api/conversations/%d/messages/%d", conversationID, messageID)
	body := map[string]string{"content": content}
	var msg domain.Message
	if err := a.do(ctx, http.MethodPut, path, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage removes one of the caller's own messages.
func (a *ConversationAPI) DeleteMessage(ctx context.Context, conversationID, messageID int64) error {
	path := fmt.Sprintf("/api/conversations/%d/messages/%d", conversationID, messageID)
	return a.do(ctx, http.MethodDelete, path, nil, nil)
}

// GetMessagesPage is the paginated variant used for virtualized
// history loading.
func (a *ConversationAPI) GetMessagesPage(ctx context.Context, conversationID int64, page, limit int) (*MessagePage, error) {
	path := fmt.Sprintf("/api/conversations/%d/messages?page=%d&limit=%d", conversationID, page, limit)
	var out MessagePage
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *ConversationAPI) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.credential != nil {
		req.Header.Set("Authorization", "Bearer "+a.credential())
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
