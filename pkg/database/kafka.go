package database

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"marketplace_chat/pkg/config"
	errprocess "marketplace_chat/pkg/err"
	"marketplace_chat/pkg/logger"
)

// NewKafkaWriterWithRetry builds a kafka writer and sends a probe
// message to confirm the brokers are reachable before handing it out.
func NewKafkaWriterWithRetry(k config.KafkaConfig) (*kafka.Writer, error) {
	var writer *kafka.Writer
	var err error

	retryCount := k.RetryCount
	if retryCount <= 0 {
		retryCount = 1
	}

	for attempt := 1; attempt <= retryCount; attempt++ {
		writer = &kafka.Writer{
			Addr:         kafka.TCP(k.Brokers...),
			Topic:        k.Topic,
			Balancer:     &kafka.LeastBytes{},
			BatchSize:    1,
			BatchTimeout: 0 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		}

		err = writer.WriteMessages(context.Background(), kafka.Message{
			Key:   []byte("ping"),
			Value: []byte("ping"),
		})
		if err == nil {
			logger.Log.Info(fmt.Sprintf("kafka writer ready (attempt %d)", attempt))
			return writer, nil
		}

		logger.Log.Warn(fmt.Sprintf("kafka writer not ready (attempt %d/%d): %v", attempt, retryCount, err))
		writer.Close()
		time.Sleep(time.Duration(k.RetryInterval) * time.Second)
	}

	return nil, errprocess.Set(fmt.Sprintf("unable to build kafka writer after %d attempts: %v", retryCount, err))
}
