package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"marketplace_chat/pkg/logger"
)

const fanoutChannel = "chat:rooms"

// fanoutFrame carries one room event between gateway instances.
type fanoutFrame struct {
	Origin string          `json:"origin"`
	RoomID int64           `json:"room_id"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// PubSub fans room events out across gateway instances over redis, so
// clients attached to different instances still receive each other's
// messages.
type PubSub struct {
	client     *redis.Client
	instanceID string
}

// NewPubSub wraps a redis client for cross-instance fan-out.
func NewPubSub(client *redis.Client) *PubSub {
	return &PubSub{
		client:     client,
		instanceID: uuid.NewString(),
	}
}

// Publish sends a room event to the other instances.
func (p *PubSub) Publish(roomID int64, event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(fanoutFrame{
		Origin: p.instanceID,
		RoomID: roomID,
		Event:  event,
		Data:   raw,
	})
	if err != nil {
		return err
	}
	return p.client.Publish(context.Background(), fanoutChannel, frame).Err()
}

// Run consumes the fan-out channel and rebroadcasts foreign frames to
// the local hub until ctx is cancelled.
func (p *PubSub) Run(ctx context.Context, hub *Hub) {
	sub := p.client.Subscribe(ctx, fanoutChannel)
	ch := sub.Channel()

	go func() {
		for {
			select {
			case m, ok := <-ch:
				if !ok {
					return
				}
				var frame fanoutFrame
				if err := json.Unmarshal([]byte(m.Payload), &frame); err != nil {
					logger.Log.Warn(fmt.Sprintf("dropping malformed fanout frame: %v", err))
					continue
				}
				if frame.Origin == p.instanceID {
					continue
				}
				hub.Broadcast(frame.RoomID, frame.Event, frame.Data, nil)
			case <-ctx.Done():
				sub.Close()
				logger.Log.Info("fanout subscription closed")
				return
			}
		}
	}()
}
