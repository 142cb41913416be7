package syncer

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/checkin-sync/internal/event"
)

// eventWindowSize bounds the dedup window for incoming event ids.
const eventWindowSize = 200

// Flash is a transient visual cue the UI layer renders for about a second.
type Flash int

const (
	// FlashSynced confirms an echo of our own write came back.
	FlashSynced Flash = iota + 1
	// FlashUpdated signals another client's change was applied.
	FlashUpdated
)

// ChannelSubscription is what the listener needs from the realtime channel.
// *Subscription implements it; tests feed the channels directly.
type ChannelSubscription interface {
	Frames() <-chan []byte
	States() <-chan ConnState
}

// Listener consumes the realtime channel for one date and reconciles each
// event against the store: deduplicate, drop self-echoes, flag (but still
// apply) out-of-order deliveries, then patch granularly or reload.
type Listener struct {
	store   *Store
	tracker *Tracker
	sub     ChannelSubscription
	date    string
	flash   func(Flash)
	log     zerolog.Logger

	dedup    *window
	lastSeen map[int64]int64

	outOfOrder atomic.Int64
	reloads    atomic.Int64
}

func NewListener(store *Store, tracker *Tracker, sub ChannelSubscription, date string, flash func(Flash), log zerolog.Logger) *Listener {
	if flash == nil {
		flash = func(Flash) {}
	}
	return &Listener{
		store:    store,
		tracker:  tracker,
		sub:      sub,
		date:     date,
		flash:    flash,
		log:      log.With().Str("component", "listener").Str("date", date).Logger(),
		dedup:    newWindow(eventWindowSize),
		lastSeen: make(map[int64]int64),
	}
}

// Run consumes frames and connection state changes until ctx is cancelled
// or the channel reaches its terminal error state.
func (l *Listener) Run(ctx context.Context) error {
	wasDown := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case st, ok := <-l.sub.States():
			if !ok {
				return nil
			}
			switch st {
			case StateConnected:
				if wasDown {
					// The channel may have dropped events while away.
					l.reload(ctx)
				}
				wasDown = false
			case StateReconnecting, StateDisconnected:
				wasDown = true
			case StateError:
				return ErrChannelFailed
			}

		case frame, ok := <-l.sub.Frames():
			if !ok {
				return nil
			}
			l.handleFrame(ctx, frame)
		}
	}
}

func (l *Listener) handleFrame(ctx context.Context, frame []byte) {
	c := event.Decode(frame)

	if c.Kind == event.KindMalformed {
		// Cannot even deduplicate; a full reload is the safe degradation.
		l.log.Warn().Msg("malformed realtime event, reloading")
		l.reload(ctx)
		l.flash(FlashUpdated)
		return
	}

	env := c.Envelope

	if env.Date != l.date {
		return
	}

	if !l.dedup.Observe(env.ID) {
		return
	}

	if env.ActionID != "" && l.tracker.IsOwn(env.ActionID) {
		// Echo of our own write; the optimistic update already holds.
		l.flash(FlashSynced)
		return
	}

	if env.AppointmentID > 0 && env.ServerTimestamp > 0 {
		last := l.lastSeen[env.AppointmentID]
		if last > 0 && env.ServerTimestamp < last {
			// Observability only; the event is still applied.
			l.outOfOrder.Add(1)
			l.log.Warn().
				Int64("appointment_id", env.AppointmentID).
				Int64("server_timestamp", env.ServerTimestamp).
				Int64("last_seen", last).
				Msg("realtime event out of order")
		}
		if env.ServerTimestamp > last {
			l.lastSeen[env.AppointmentID] = env.ServerTimestamp
		}
	}

	switch c.Kind {
	case event.KindGranular:
		if !l.store.ApplyChange(env) {
			// The patch target is not in our view; resync both lists.
			l.reload(ctx)
		}
	case event.KindReload:
		l.reload(ctx)
	}

	l.flash(FlashUpdated)
}

func (l *Listener) reload(ctx context.Context) {
	l.reloads.Add(1)
	if err := l.store.Load(ctx, l.date); err != nil {
		l.log.Error().Err(err).Msg("fallback reload failed")
	}
}

// OutOfOrderCount reports how many out-of-order deliveries were observed.
func (l *Listener) OutOfOrderCount() int64 {
	return l.outOfOrder.Load()
}

// ReloadCount reports how many full reloads the listener has triggered.
func (l *Listener) ReloadCount() int64 {
	return l.reloads.Load()
}
