package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/betledger/internal/domain"
)

const (
	// streamMaxLen bounds the event history with XADD MAXLEN ~.
	streamMaxLen int64 = 10000

	// payloadField is the stream entry field carrying the event bytes.
	payloadField = "payload"

	// subscriberBuffer is the per-subscription channel size.
	subscriberBuffer = 128
)

// SignalBus implements domain.SignalBus with Pub/Sub for live delivery and a
// capped stream for history.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Broadcast runs XADD and PUBLISH in one MULTI/EXEC, so a live subscriber
// never sees an event that is missing from the history and a failed call
// leaves neither behind.
func (sb *SignalBus) Broadcast(ctx context.Context, channel, stream string, payload []byte) (string, error) {
	var add *redis.StringCmd
	_, err := sb.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		add = p.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			MaxLen: streamMaxLen,
			Approx: true,
			Values: []any{payloadField, payload},
		})
		p.Publish(ctx, channel, payload)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("redis: broadcast %s/%s: %w", stream, channel, err)
	}
	return add.Val(), nil
}

// Subscribe streams payloads published on channel until ctx ends, then
// closes the returned channel.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	in := pubsub.Channel(redis.WithChannelSize(subscriberBuffer))
	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StreamRead returns up to count entries after lastID without blocking.
// "0" reads from the start of the retained history.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	res, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: read %s after %s: %w", stream, lastID, err)
	}

	var out []domain.StreamMessage
	for _, s := range res {
		for _, msg := range s.Messages {
			if data, ok := streamPayload(msg.Values); ok {
				out = append(out, domain.StreamMessage{ID: msg.ID, Payload: data})
			}
		}
	}
	return out, nil
}

func streamPayload(values map[string]any) ([]byte, bool) {
	switch v := values[payloadField].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	}
	return nil, false
}

var _ domain.SignalBus = (*SignalBus)(nil)
