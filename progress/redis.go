package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix namespaces progress channels. Events for a document
// are published on prefix + document id.
const DefaultChannelPrefix = "folio:progress:"

// Redis publishes events as JSON on a per-document Redis channel.
type Redis struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewRedis creates a notifier on an existing client. The caller owns the
// client. An empty prefix uses DefaultChannelPrefix.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &Redis{
		client: client,
		prefix: prefix,
		logger: slog.Default().With("component", "progress-redis"),
	}
}

// Channel returns the channel carrying events for a document.
func (r *Redis) Channel(documentID string) string {
	return r.prefix + documentID
}

// Notify publishes the event.
func (r *Redis) Notify(ctx context.Context, documentID string, event Event) error {
	event.DocumentId = documentID
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode progress event: %w", err)
	}
	if err := r.client.Publish(ctx, r.Channel(documentID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish progress event: %w", err)
	}
	return nil
}

// Subscribe streams events for a document, or for every document when
// documentID is empty. The channel is closed when ctx ends.
func (r *Redis) Subscribe(ctx context.Context, documentID string) (<-chan Event, error) {
	var sub *redis.PubSub
	if documentID == "" {
		sub = r.client.PSubscribe(ctx, r.prefix+"*")
	} else {
		sub = r.client.Subscribe(ctx, r.Channel(documentID))
	}
	// Wait for the subscription to be confirmed so no event published after
	// Subscribe returns is missed.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to progress events: %w", err)
	}

	out := make(chan Event, bufferSize)
	go func() {
		defer close(out)
		defer sub.Close()

		messages := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					r.logger.Warn("dropping malformed progress event", "channel", msg.Channel, "err", err)
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var _ Notifier = (*Redis)(nil)
