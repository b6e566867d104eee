package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"marketplace_chat/internal/chat/domain"
	"marketplace_chat/pkg/logger"
)

// Archiver writes every stored message to kafka for downstream
// persistence. Failures are logged and never block the send path.
type Archiver struct {
	writer *kafka.Writer
}

// NewArchiver wraps a ready kafka writer.
func NewArchiver(writer *kafka.Writer) *Archiver {
	return &Archiver{writer: writer}
}

// Archive publishes one message, keyed by conversation id so a
// conversation's history stays in partition order.
func (a *Archiver) Archive(ctx context.Context, msg domain.Message) {
	raw, err := json.Marshal(msg)
	if err != nil {
		logger.Log.Warn(fmt.Sprintf("archive marshal failed: %v", err))
		return
	}
	err = a.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(msg.ConversationID, 10)),
		Value: raw,
	})
	if err != nil {
		logger.Log.Warn(fmt.Sprintf("archive write failed for message %d: %v", msg.ID, err))
	}
}

// Close flushes and closes the writer.
func (a *Archiver) Close() error {
	return a.writer.Close()
}
