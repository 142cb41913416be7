package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/checkin-sync/internal/checkin"
	"github.com/clinicdesk/checkin-sync/internal/syncer"
)

type simConfig struct {
	APIBaseURL string
	WSBaseURL  string
	Date       string
	Clients    int
	Duration   time.Duration
}

type opMetrics struct {
	total    int64
	success  int64
	conflict int64
	failed   int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *opMetrics) record(latency time.Duration, err error) {
	atomic.AddInt64(&m.total, 1)

	var apiErr *syncer.APIError
	switch {
	case err == nil:
		atomic.AddInt64(&m.success, 1)
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict:
		atomic.AddInt64(&m.conflict, 1)
	default:
		atomic.AddInt64(&m.failed, 1)
	}

	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.mu.Unlock()
}

func (m *opMetrics) percentiles() (p50, p95 time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.latencies) == 0 {
		return 0, 0
	}

	lat := make([]time.Duration, len(m.latencies))
	copy(lat, m.latencies)
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })

	idx := func(p int) time.Duration {
		i := len(lat) * p / 100
		if i >= len(lat) {
			i = len(lat) - 1
		}
		return lat[i]
	}
	return idx(50), idx(95)
}

type simClient struct {
	id       int
	store    *syncer.Store
	listener *syncer.Listener
	sub      *syncer.Subscription
}

func main() {
	cfg := simConfig{}
	flag.StringVar(&cfg.APIBaseURL, "api", "http://localhost:8080", "API base URL")
	flag.StringVar(&cfg.WSBaseURL, "ws", "ws://localhost:8080", "websocket base URL")
	flag.StringVar(&cfg.Date, "date", time.Now().Format("2006-01-02"), "date to run against")
	flag.IntVar(&cfg.Clients, "clients", 4, "concurrent clients")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long to run")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	if !checkin.ValidDate(cfg.Date) {
		log.Fatal().Str("date", cfg.Date).Msg("date must be YYYY-MM-DD")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	metrics := map[string]*opMetrics{
		"checkin": {},
		"seat":    {},
		"dismiss": {},
		"undo":    {},
	}

	clients := make([]*simClient, 0, cfg.Clients)
	var wg sync.WaitGroup

	for i := 0; i < cfg.Clients; i++ {
		tracker := syncer.NewTracker()
		apiClient := syncer.NewClient(cfg.APIBaseURL, nil)
		store := syncer.NewStore(apiClient, tracker, log)

		sub := syncer.NewSubscription(cfg.WSBaseURL, cfg.Date, log)
		if err := sub.Acquire(); err != nil {
			log.Fatal().Err(err).Msg("subscription acquire failed")
		}

		listener := syncer.NewListener(store, tracker, sub, cfg.Date, nil, log)
		c := &simClient{id: i, store: store, listener: listener, sub: sub}
		clients = append(clients, c)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				log.Warn().Err(err).Int("client", c.id).Msg("listener stopped")
			}
		}()

		if err := store.Load(ctx, cfg.Date); err != nil {
			log.Fatal().Err(err).Int("client", i).Msg("initial load failed")
		}
	}

	log.Info().Int("clients", cfg.Clients).Dur("duration", cfg.Duration).Msg("simulation running")

	for _, c := range clients {
		wg.Add(1)
		go func(c *simClient) {
			defer wg.Done()
			runClient(ctx, c, metrics)
		}(c)
	}

	wg.Wait()

	for _, c := range clients {
		c.sub.Release()
	}

	report(log, clients, metrics)
}

// runClient drives a mixed workload: mostly forward progress, the
// occasional undo, mirroring a front desk on a busy morning.
func runClient(ctx context.Context, c *simClient, metrics map[string]*opMetrics) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(c.id)))

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(50+rng.Intn(250)) * time.Millisecond):
		}

		op, id, ok := pickOp(rng, c.store)
		if !ok {
			continue
		}

		start := time.Now()
		var err error
		switch op {
		case "checkin":
			err = c.store.CheckIn(ctx, id)
		case "seat":
			err = c.store.MarkSeated(ctx, id)
		case "dismiss":
			err = c.store.MarkDismissed(ctx, id)
		case "undo":
			err = c.store.Undo(ctx, id, checkin.FieldSeated)
		}

		// Local rejections are not round trips; skip them in the metrics.
		if errors.Is(err, syncer.ErrNotFound) ||
			errors.Is(err, syncer.ErrActionInFlight) ||
			errors.Is(err, syncer.ErrUndoBlocked) ||
			errors.Is(err, syncer.ErrStateNotSet) {
			continue
		}

		metrics[op].record(time.Since(start), err)
	}
}

func pickOp(rng *rand.Rand, store *syncer.Store) (op string, id int64, ok bool) {
	scheduled := store.Scheduled()
	checkedIn := store.CheckedIn()

	roll := rng.Intn(100)
	switch {
	case roll < 40 && len(scheduled) > 0:
		return "checkin", scheduled[rng.Intn(len(scheduled))].ID, true
	case roll < 70 && len(checkedIn) > 0:
		a := checkedIn[rng.Intn(len(checkedIn))]
		if !a.Seated {
			return "seat", a.ID, true
		}
		return "dismiss", a.ID, true
	case roll < 75 && len(checkedIn) > 0:
		return "undo", checkedIn[rng.Intn(len(checkedIn))].ID, true
	case len(scheduled) > 0:
		return "checkin", scheduled[rng.Intn(len(scheduled))].ID, true
	}
	return "", 0, false
}

func report(log zerolog.Logger, clients []*simClient, metrics map[string]*opMetrics) {
	fmt.Println()
	fmt.Println("=== simulation report ===")

	for _, name := range []string{"checkin", "seat", "dismiss", "undo"} {
		m := metrics[name]
		p50, p95 := m.percentiles()
		fmt.Printf("%-8s total=%-5d ok=%-5d conflict=%-5d failed=%-4d p50=%-10s p95=%s\n",
			name,
			atomic.LoadInt64(&m.total),
			atomic.LoadInt64(&m.success),
			atomic.LoadInt64(&m.conflict),
			atomic.LoadInt64(&m.failed),
			p50, p95,
		)
	}

	fmt.Println()
	for _, c := range clients {
		stats := c.store.Stats()
		fmt.Printf("client %d: total=%d registered=%d waiting=%d completed=%d outOfOrder=%d reloads=%d\n",
			c.id, stats.Total, stats.Registered, stats.Waiting, stats.Completed,
			c.listener.OutOfOrderCount(), c.listener.ReloadCount(),
		)
	}

	// All clients should converge on the same view once the dust settles.
	base := clients[0].store.Stats()
	for _, c := range clients[1:] {
		if c.store.Stats() != base {
			log.Warn().Int("client", c.id).Msg("store diverged from client 0")
		}
	}
}
