package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/checkin-sync/internal/event"
)

const channelPrefix = "checkin:date:"

// BusMessage is one change event received from the bus, tagged with the
// date channel it arrived on.
type BusMessage struct {
	Date    string
	Payload []byte
}

// Bus fans change events out across server instances over Redis pub/sub.
// Each date gets its own channel so the hub can route frames without
// decoding them.
type Bus struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewBus(client *redis.Client, log zerolog.Logger) *Bus {
	return &Bus{
		client: client,
		log:    log.With().Str("component", "bus").Logger(),
	}
}

func (b *Bus) Publish(ctx context.Context, date string, env event.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := b.client.Publish(ctx, channelPrefix+date, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s%s: %w", channelPrefix, date, err)
	}

	return nil
}

// Subscribe listens on every date channel and forwards frames until ctx is
// cancelled. The returned channel is closed on shutdown.
func (b *Bus) Subscribe(ctx context.Context) (<-chan BusMessage, error) {
	sub := b.client.PSubscribe(ctx, channelPrefix+"*")

	// Force the subscription to be established before we report success.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe to change events: %w", err)
	}

	out := make(chan BusMessage, 64)

	go func() {
		defer close(out)
		defer func() {
			if err := sub.Close(); err != nil {
				b.log.Error().Err(err).Msg("close pubsub failed")
			}
		}()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				out <- BusMessage{
					Date:    strings.TrimPrefix(msg.Channel, channelPrefix),
					Payload: []byte(msg.Payload),
				}
			}
		}
	}()

	return out, nil
}
