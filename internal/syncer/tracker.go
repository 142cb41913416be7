package syncer

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// actionWindowSize bounds how many of our own recent action ids we remember.
// An echo arriving after a hundred further actions is stale enough that
// re-applying it is harmless.
const actionWindowSize = 100

// Tracker remembers the action ids this client attached to its own writes,
// so the listener can tell an echo of our own mutation apart from another
// client's. Nothing is persisted; a reload starts the window empty.
type Tracker struct {
	mu  sync.Mutex
	seq uint64
	win *window
}

func NewTracker() *Tracker {
	return &Tracker{win: newWindow(actionWindowSize)}
}

// Generate produces a fresh action token combining a monotonic counter with
// a random component. Collisions within the tracked window are the only
// ones that matter, and the counter alone already rules those out.
func (t *Tracker) Generate() string {
	t.mu.Lock()
	t.seq++
	seq := t.seq
	t.mu.Unlock()
	return fmt.Sprintf("%d-%s", seq, uuid.NewString())
}

// Register remembers a token as ours.
func (t *Tracker) Register(token string) {
	t.mu.Lock()
	t.win.Add(token)
	t.mu.Unlock()
}

// Issue generates and registers a token in one step.
func (t *Tracker) Issue() string {
	token := t.Generate()
	t.Register(token)
	return token
}

// IsOwn reports whether token is in the remembered window.
func (t *Tracker) IsOwn(token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.win.Contains(token)
}
