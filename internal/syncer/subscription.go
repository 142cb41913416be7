package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
)

// ErrChannelFailed is returned when the realtime channel gives up for good.
var ErrChannelFailed = errors.New("realtime channel failed permanently")

// ErrSubscriptionClosed rejects acquiring a subscription that has already
// been fully released.
var ErrSubscriptionClosed = errors.New("subscription already closed")

// ConnState is the lifecycle state of the realtime channel.
type ConnState int

const (
	StateConnecting ConnState = iota + 1
	StateConnected
	StateReconnecting
	StateDisconnected
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	}
	return "unknown"
}

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	// maxConsecutiveFailures marks the channel permanently broken when not
	// a single connect succeeds across this many attempts in a row.
	maxConsecutiveFailures = 12
)

// Subscription owns one websocket connection to the realtime channel for a
// date. It is explicitly constructed and reference counted: each consumer
// calls Acquire before use and Release when done, and the socket lives as
// long as at least one reference does. There is no process-wide singleton.
type Subscription struct {
	url string
	log zerolog.Logger

	frames chan []byte
	states chan ConnState

	mu     sync.Mutex
	refs   int
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSubscription prepares a subscription for one date against a base URL
// such as "ws://host:8080". Nothing connects until the first Acquire.
func NewSubscription(baseURL, date string, log zerolog.Logger) *Subscription {
	return &Subscription{
		url:    fmt.Sprintf("%s/realtime?date=%s", baseURL, url.QueryEscape(date)),
		log:    log.With().Str("component", "subscription").Str("date", date).Logger(),
		frames: make(chan []byte, 64),
		states: make(chan ConnState, 16),
	}
}

// Frames delivers raw event frames.
func (s *Subscription) Frames() <-chan []byte {
	return s.frames
}

// States delivers connection lifecycle transitions.
func (s *Subscription) States() <-chan ConnState {
	return s.states
}

// Acquire adds a reference. The first reference dials the channel.
func (s *Subscription) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSubscriptionClosed
	}

	s.refs++
	if s.refs == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.done = make(chan struct{})
		go s.run(ctx)
	}
	return nil
}

// Release drops a reference. The last release closes the socket and both
// channels; the subscription cannot be reused afterwards.
func (s *Subscription) Release() {
	s.mu.Lock()
	if s.refs == 0 {
		s.mu.Unlock()
		return
	}
	s.refs--
	last := s.refs == 0
	if last {
		s.closed = true
		s.cancel()
	}
	done := s.done
	s.mu.Unlock()

	if last {
		<-done
		close(s.frames)
		close(s.states)
	}
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)

	backoff := initialBackoff
	failures := 0
	connectedBefore := false

	for {
		if connectedBefore {
			s.setState(StateReconnecting)
		} else {
			s.setState(StateConnecting)
		}

		conn, _, err := websocket.Dial(ctx, s.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateDisconnected)
				return
			}

			failures++
			if !connectedBefore && failures >= maxConsecutiveFailures {
				s.log.Error().Err(err).Msg("realtime channel never connected, giving up")
				s.setState(StateError)
				return
			}

			s.log.Warn().Err(err).Dur("backoff", backoff).Msg("realtime dial failed")
			select {
			case <-ctx.Done():
				s.setState(StateDisconnected)
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		failures = 0
		backoff = initialBackoff
		connectedBefore = true
		s.setState(StateConnected)
		s.log.Info().Msg("realtime channel connected")

		s.readLoop(ctx, conn)

		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return
		}
	}
}

func (s *Subscription) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("realtime channel dropped")
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		select {
		case s.frames <- data:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Subscription) setState(st ConnState) {
	select {
	case s.states <- st:
	default:
		// A consumer that stopped draining state changes only loses
		// intermediate transitions.
		s.log.Debug().Stringer("state", st).Msg("state transition dropped")
	}
}
