package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/checkin-sync/internal/checkin"
	"github.com/clinicdesk/checkin-sync/internal/event"
)

type updateCall struct {
	ID       int64
	State    checkin.Status
	Time     string
	ActionID string
}

type undoCall struct {
	ID    int64
	State checkin.Status
}

// fakeAPI lets each test script the backend's behavior per call.
type fakeAPI struct {
	mu sync.Mutex

	scheduledFn func(date string) ([]checkin.Appointment, error)
	checkedInFn func(date string) ([]checkin.Appointment, error)
	updateErr   error
	undoErr     error
	updateGate  chan struct{}

	updates []updateCall
	undos   []undoCall
	loads   int
}

func (f *fakeAPI) Scheduled(_ context.Context, date string) ([]checkin.Appointment, error) {
	f.mu.Lock()
	f.loads++
	fn := f.scheduledFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(date)
}

func (f *fakeAPI) CheckedIn(_ context.Context, date string) ([]checkin.Appointment, error) {
	f.mu.Lock()
	fn := f.checkedInFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(date)
}

func (f *fakeAPI) UpdateState(_ context.Context, id int64, state checkin.Status, t, actionID string) error {
	if f.updateGate != nil {
		<-f.updateGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, updateCall{ID: id, State: state, Time: t, ActionID: actionID})
	return f.updateErr
}

func (f *fakeAPI) UndoState(_ context.Context, id int64, state checkin.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.undos = append(f.undos, undoCall{ID: id, State: state})
	return f.undoErr
}

func (f *fakeAPI) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

func strPtr(s string) *string { return &s }

func scheduledAppt(id int64, scheduled string) checkin.Appointment {
	return checkin.Appointment{
		ID:            id,
		Date:          "2026-08-30",
		PatientID:     id * 10,
		PatientName:   "Patient",
		ScheduledTime: scheduled,
	}
}

func checkedInAppt(id int64, presentTime string) checkin.Appointment {
	a := scheduledAppt(id, "09:00")
	a.PresentTime = strPtr(presentTime)
	a.Normalize()
	return a
}

func newTestStore(t *testing.T, api *fakeAPI, scheduled, checkedIn []checkin.Appointment) (*Store, *Tracker) {
	t.Helper()

	tracker := NewTracker()
	s := NewStore(api, tracker, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2026, 8, 30, 9, 30, 0, 0, time.UTC) }

	s.mu.Lock()
	s.date = "2026-08-30"
	s.scheduled = scheduled
	s.checkedIn = checkedIn
	s.mu.Unlock()

	return s, tracker
}

// assertInvariants checks the pairing and list-membership invariants that
// must hold after every operation.
func assertInvariants(t *testing.T, s *Store) {
	t.Helper()

	ids := make(map[int64]int)
	for _, a := range s.Scheduled() {
		assert.False(t, a.Present, "scheduled appointment %d must not be present", a.ID)
		assert.Nil(t, a.PresentTime)
		assert.Equal(t, a.Present, a.PresentTime != nil)
		ids[a.ID]++
	}
	for _, a := range s.CheckedIn() {
		assert.True(t, a.Present, "checked-in appointment %d must be present", a.ID)
		assert.Equal(t, a.Present, a.PresentTime != nil)
		assert.Equal(t, a.Seated, a.SeatedTime != nil)
		assert.Equal(t, a.Dismissed, a.DismissedTime != nil)
		ids[a.ID]++
	}
	for id, n := range ids {
		assert.Equal(t, 1, n, "appointment %d appears %d times", id, n)
	}
}

func TestStoreLoad(t *testing.T) {
	api := &fakeAPI{
		scheduledFn: func(string) ([]checkin.Appointment, error) {
			return []checkin.Appointment{scheduledAppt(1, "08:00"), scheduledAppt(2, "08:30")}, nil
		},
		checkedInFn: func(string) ([]checkin.Appointment, error) {
			return []checkin.Appointment{checkedInAppt(3, "08:05")}, nil
		},
	}
	s, _ := newTestStore(t, api, nil, nil)

	require.NoError(t, s.Load(context.Background(), "2026-08-30"))

	assert.Len(t, s.Scheduled(), 2)
	assert.Len(t, s.CheckedIn(), 1)
	assert.False(t, s.Loading())
	assert.NoError(t, s.LoadErr())
	assertInvariants(t, s)
}

func TestStoreLoadFailureKeepsPriorLists(t *testing.T) {
	boom := errors.New("backend down")
	api := &fakeAPI{
		scheduledFn: func(string) ([]checkin.Appointment, error) { return nil, boom },
		checkedInFn: func(string) ([]checkin.Appointment, error) {
			return []checkin.Appointment{checkedInAppt(3, "08:05")}, nil
		},
	}
	prior := []checkin.Appointment{scheduledAppt(9, "10:00")}
	s, _ := newTestStore(t, api, prior, nil)

	err := s.Load(context.Background(), "2026-08-30")
	require.ErrorIs(t, err, boom)

	// No partial overwrite: the old lists survive a failed load.
	assert.Equal(t, prior, s.Scheduled())
	assert.Empty(t, s.CheckedIn())
	assert.ErrorIs(t, s.LoadErr(), boom)
}

func TestStoreStaleLoadDiscarded(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{})
	api := &fakeAPI{
		scheduledFn: func(date string) ([]checkin.Appointment, error) {
			if date == "2026-08-30" {
				close(started)
				<-gate // the first load resolves late
				return []checkin.Appointment{scheduledAppt(1, "08:00")}, nil
			}
			return []checkin.Appointment{scheduledAppt(2, "08:30")}, nil
		},
	}
	s, _ := newTestStore(t, api, nil, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Load(context.Background(), "2026-08-30")
	}()

	<-started // ensure the first load is in flight before the second begins
	require.NoError(t, s.Load(context.Background(), "2026-08-31"))
	close(gate)
	wg.Wait()

	// The late response for the old date must not clobber the new view.
	assert.Equal(t, "2026-08-31", s.Date())
	require.Len(t, s.Scheduled(), 1)
	assert.Equal(t, int64(2), s.Scheduled()[0].ID)
}

func TestCheckIn(t *testing.T) {
	api := &fakeAPI{}
	s, tracker := newTestStore(t, api,
		[]checkin.Appointment{scheduledAppt(7, "09:00")}, nil)

	require.NoError(t, s.CheckIn(context.Background(), 7))

	assert.Empty(t, s.Scheduled())
	reg := s.CheckedIn()
	require.Len(t, reg, 1)
	assert.Equal(t, int64(7), reg[0].ID)
	assert.True(t, reg[0].Present)
	require.NotNil(t, reg[0].PresentTime)
	assert.Equal(t, "09:30", *reg[0].PresentTime)
	assert.False(t, reg[0].Seated)
	assert.False(t, reg[0].Dismissed)

	require.Len(t, api.updates, 1)
	assert.Equal(t, checkin.StatusPresent, api.updates[0].State)
	assert.NotEmpty(t, api.updates[0].ActionID)
	assert.True(t, tracker.IsOwn(api.updates[0].ActionID))
	assertInvariants(t, s)
}

func TestCheckInNotFound(t *testing.T) {
	s, _ := newTestStore(t, &fakeAPI{}, nil, nil)
	assert.ErrorIs(t, s.CheckIn(context.Background(), 7), ErrNotFound)
}

func TestCheckInRollback(t *testing.T) {
	api := &fakeAPI{updateErr: errors.New("network failure")}
	s, _ := newTestStore(t, api,
		[]checkin.Appointment{scheduledAppt(5, "08:30"), scheduledAppt(7, "09:00"), scheduledAppt(9, "09:30")},
		[]checkin.Appointment{checkedInAppt(3, "08:05")})

	beforeScheduled := s.Scheduled()
	beforeCheckedIn := s.CheckedIn()

	err := s.CheckIn(context.Background(), 7)
	require.Error(t, err)

	// Post-failure state must equal the pre-call state exactly.
	assert.Equal(t, beforeScheduled, s.Scheduled())
	assert.Equal(t, beforeCheckedIn, s.CheckedIn())
	assertInvariants(t, s)
}

func TestMarkSeated(t *testing.T) {
	api := &fakeAPI{}
	s, _ := newTestStore(t, api, nil,
		[]checkin.Appointment{checkedInAppt(7, "09:05")})

	require.NoError(t, s.MarkSeated(context.Background(), 7))

	reg := s.CheckedIn()
	require.Len(t, reg, 1)
	assert.True(t, reg[0].Seated)
	require.NotNil(t, reg[0].SeatedTime)
	assert.Equal(t, "09:30", *reg[0].SeatedTime)
	assert.True(t, reg[0].Present, "present must be unchanged")
	assert.Equal(t, "09:05", *reg[0].PresentTime)

	require.Len(t, api.updates, 1)
	assert.Equal(t, checkin.StatusSeated, api.updates[0].State)
	assertInvariants(t, s)
}

func TestMarkSeatedRollback(t *testing.T) {
	api := &fakeAPI{updateErr: errors.New("network failure")}
	s, _ := newTestStore(t, api, nil,
		[]checkin.Appointment{checkedInAppt(7, "09:05")})

	before := s.CheckedIn()

	require.Error(t, s.MarkSeated(context.Background(), 7))

	assert.Equal(t, before, s.CheckedIn())
	assertInvariants(t, s)
}

func TestMarkDismissed(t *testing.T) {
	api := &fakeAPI{}
	a := checkedInAppt(7, "09:05")
	a.SetState(checkin.FieldSeated, "09:10")
	s, _ := newTestStore(t, api, nil, []checkin.Appointment{a})

	require.NoError(t, s.MarkDismissed(context.Background(), 7))

	reg := s.CheckedIn()
	require.Len(t, reg, 1)
	assert.True(t, reg[0].Dismissed)
	assert.Equal(t, checkin.StatusDismissed, reg[0].Status())
	assertInvariants(t, s)
}

func TestUndoPresentMovesBack(t *testing.T) {
	api := &fakeAPI{}
	s, _ := newTestStore(t, api, nil,
		[]checkin.Appointment{checkedInAppt(7, "09:05")})

	require.NoError(t, s.Undo(context.Background(), 7, checkin.FieldPresent))

	assert.Empty(t, s.CheckedIn())
	sched := s.Scheduled()
	require.Len(t, sched, 1)
	assert.Equal(t, int64(7), sched[0].ID)
	assert.False(t, sched[0].Present)
	assert.Nil(t, sched[0].PresentTime)
	assert.Nil(t, sched[0].SeatedTime)
	assert.Nil(t, sched[0].DismissedTime)

	require.Len(t, api.undos, 1)
	assert.Equal(t, checkin.StatusPresent, api.undos[0].State)
	assertInvariants(t, s)
}

func TestUndoPresentBlockedByLaterStates(t *testing.T) {
	a := checkedInAppt(7, "09:05")
	a.SetState(checkin.FieldSeated, "09:10")
	a.SetState(checkin.FieldDismissed, "09:40")
	api := &fakeAPI{}
	s, _ := newTestStore(t, api, nil, []checkin.Appointment{a})

	err := s.Undo(context.Background(), 7, checkin.FieldPresent)
	require.ErrorIs(t, err, ErrUndoBlocked)

	// Rejected before anything changed or hit the network.
	assert.Equal(t, []checkin.Appointment{a}, s.CheckedIn())
	assert.Empty(t, api.undos)
}

func TestUndoSeatedInPlace(t *testing.T) {
	a := checkedInAppt(7, "09:05")
	a.SetState(checkin.FieldSeated, "09:10")
	api := &fakeAPI{}
	s, _ := newTestStore(t, api, nil, []checkin.Appointment{a})

	require.NoError(t, s.Undo(context.Background(), 7, checkin.FieldSeated))

	reg := s.CheckedIn()
	require.Len(t, reg, 1)
	assert.False(t, reg[0].Seated)
	assert.Nil(t, reg[0].SeatedTime)
	assert.True(t, reg[0].Present)
	assertInvariants(t, s)
}

func TestUndoSeatedRollback(t *testing.T) {
	a := checkedInAppt(7, "09:05")
	a.SetState(checkin.FieldSeated, "09:10")
	api := &fakeAPI{undoErr: errors.New("network failure")}
	s, _ := newTestStore(t, api, nil, []checkin.Appointment{a})

	require.Error(t, s.Undo(context.Background(), 7, checkin.FieldSeated))

	assert.Equal(t, []checkin.Appointment{a}, s.CheckedIn())
}

func TestUndoStateNotSet(t *testing.T) {
	s, _ := newTestStore(t, &fakeAPI{}, nil,
		[]checkin.Appointment{checkedInAppt(7, "09:05")})

	err := s.Undo(context.Background(), 7, checkin.FieldSeated)
	assert.ErrorIs(t, err, ErrStateNotSet)
}

func TestSecondActionRejectedWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{updateGate: gate}
	s, _ := newTestStore(t, api,
		[]checkin.Appointment{scheduledAppt(7, "09:00")}, nil)

	done := make(chan error, 1)
	go func() { done <- s.CheckIn(context.Background(), 7) }()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, busy := s.pending[7]
		return busy
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, s.MarkSeated(context.Background(), 7), ErrActionInFlight)

	close(gate)
	require.NoError(t, <-done)
	assertInvariants(t, s)
}

func TestApplyChangeCheckIn(t *testing.T) {
	s, _ := newTestStore(t, &fakeAPI{},
		[]checkin.Appointment{scheduledAppt(7, "09:00")}, nil)

	applied := s.ApplyChange(event.Envelope{
		ID:            "ev-1",
		Date:          "2026-08-30",
		ChangeType:    event.ChangeState,
		AppointmentID: 7,
		State:         string(checkin.StatusPresent),
		Time:          "09:12",
	})

	assert.True(t, applied)
	assert.Empty(t, s.Scheduled())
	reg := s.CheckedIn()
	require.Len(t, reg, 1)
	assert.Equal(t, "09:12", *reg[0].PresentTime)
	assertInvariants(t, s)
}

func TestApplyChangeUnknownAppointment(t *testing.T) {
	s, _ := newTestStore(t, &fakeAPI{}, nil, nil)

	applied := s.ApplyChange(event.Envelope{
		ID:            "ev-1",
		Date:          "2026-08-30",
		ChangeType:    event.ChangeState,
		AppointmentID: 99,
		State:         string(checkin.StatusSeated),
		Time:          "09:12",
	})

	assert.False(t, applied)
}

func TestStats(t *testing.T) {
	waiting := checkedInAppt(2, "08:10")
	seated := checkedInAppt(3, "08:20")
	seated.SetState(checkin.FieldSeated, "08:30")
	done := checkedInAppt(4, "08:40")
	done.SetState(checkin.FieldSeated, "08:50")
	done.SetState(checkin.FieldDismissed, "09:00")

	s, _ := newTestStore(t, &fakeAPI{},
		[]checkin.Appointment{scheduledAppt(1, "10:00")},
		[]checkin.Appointment{waiting, seated, done})

	assert.Equal(t, Stats{Total: 4, Registered: 3, Waiting: 1, Completed: 1}, s.Stats())
}

func TestCheckedInFallbackOrder(t *testing.T) {
	s, _ := newTestStore(t, &fakeAPI{},
		[]checkin.Appointment{scheduledAppt(1, "08:00"), scheduledAppt(2, "09:00")},
		[]checkin.Appointment{checkedInAppt(3, "08:30"), checkedInAppt(4, "10:00")})

	s.now = func() time.Time { return time.Date(2026, 8, 30, 9, 15, 0, 0, time.UTC) }
	require.NoError(t, s.CheckIn(context.Background(), 2))

	ids := make([]int64, 0, 3)
	for _, a := range s.CheckedIn() {
		ids = append(ids, a.ID)
	}
	// 09:15 sorts between 08:30 and 10:00.
	assert.Equal(t, []int64{3, 2, 4}, ids)
}
