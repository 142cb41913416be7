// Package hub routes realtime change events to the websocket connections
// subscribed to each date.
package hub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	redisclient "github.com/clinicdesk/checkin-sync/internal/redis"
)

// Feed delivers change events from the bus, one frame per accepted write.
type Feed interface {
	Subscribe(ctx context.Context) (<-chan redisclient.BusMessage, error)
}

type subscriber struct {
	date string
	send chan []byte
}

// Hub keeps a registry of websocket subscribers keyed by date and fans
// bus frames out to them. A subscriber whose buffer is full is skipped;
// the client will recover by reloading after it notices the gap.
type Hub struct {
	log zerolog.Logger

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}

	dropped atomic.Int64
}

func New(log zerolog.Logger) *Hub {
	return &Hub{
		log:  log.With().Str("component", "hub").Logger(),
		subs: make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribe registers interest in one date. The returned channel carries
// raw event frames; the cancel func must be called when the consumer goes
// away.
func (h *Hub) Subscribe(date string) (<-chan []byte, func()) {
	s := &subscriber{
		date: date,
		send: make(chan []byte, 32),
	}

	h.mu.Lock()
	if h.subs[date] == nil {
		h.subs[date] = make(map[*subscriber]struct{})
	}
	h.subs[date][s] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[date]; ok {
			if _, live := set[s]; live {
				delete(set, s)
				close(s.send)
				if len(set) == 0 {
					delete(h.subs, date)
				}
			}
		}
		h.mu.Unlock()
	}

	return s.send, cancel
}

// Broadcast delivers one frame to every subscriber of a date.
func (h *Hub) Broadcast(date string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs[date] {
		select {
		case s.send <- payload:
		default:
			h.dropped.Add(1)
			h.log.Warn().Str("date", date).Msg("subscriber too slow, frame dropped")
		}
	}
}

// DroppedCount reports how many frames were dropped on slow subscribers.
func (h *Hub) DroppedCount() int64 {
	return h.dropped.Load()
}

// SubscriberCount reports how many connections are watching a date.
func (h *Hub) SubscriberCount(date string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[date])
}

// Run pumps the bus feed into the local subscribers until ctx is cancelled.
func (h *Hub) Run(ctx context.Context, feed Feed) error {
	msgs, err := feed.Subscribe(ctx)
	if err != nil {
		return err
	}

	h.log.Info().Msg("hub running")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			h.Broadcast(msg.Date, msg.Payload)
		}
	}
}
