package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher appends an event to a stream.
type Publisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}

// StreamPublisher publishes events to Redis Streams.
type StreamPublisher struct {
	client redis.UniversalClient
	maxLen int64
}

// NewPublisher returns a Publisher backed by client. Streams are trimmed
// approximately to maxLen entries; zero leaves them unbounded.
func NewPublisher(client redis.UniversalClient, maxLen int64) *StreamPublisher {
	return &StreamPublisher{client: client, maxLen: maxLen}
}

func (p *StreamPublisher) Publish(ctx context.Context, stream, eventType string, data any) error {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"event": eventJSON,
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
