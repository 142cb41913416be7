package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/checkin-sync/internal/checkin"
	"github.com/clinicdesk/checkin-sync/internal/event"
)

var (
	// ErrNotFound means the mutation target was missing from the list it
	// should be in; the view and the store have drifted apart.
	ErrNotFound = errors.New("appointment not found in expected list")
	// ErrActionInFlight rejects a second action on an appointment whose
	// previous request has not settled yet.
	ErrActionInFlight = errors.New("previous action for this appointment still in flight")
	// ErrUndoBlocked rejects undoing a state that later states depend on.
	ErrUndoBlocked = errors.New("state cannot be undone while later states are set")
	// ErrStateNotSet rejects undoing a state that was never set.
	ErrStateNotSet = errors.New("state is not set")
)

// Stats summarizes the day at a glance.
type Stats struct {
	Total      int
	Registered int
	Waiting    int
	Completed  int
}

// Store holds the in-memory view of one day's appointments, split into the
// scheduled (not yet checked in) and checked-in lists. Mutations apply
// optimistically and roll back exactly if the backing request fails; the
// listener patches the same lists for changes other clients make.
type Store struct {
	api     API
	tracker *Tracker
	log     zerolog.Logger
	now     func() time.Time

	mu        sync.Mutex
	date      string
	loadSeq   uint64
	loading   bool
	loadErr   error
	scheduled []checkin.Appointment
	checkedIn []checkin.Appointment
	pending   map[int64]struct{}
}

func NewStore(api API, tracker *Tracker, log zerolog.Logger) *Store {
	return &Store{
		api:     api,
		tracker: tracker,
		log:     log.With().Str("component", "store").Logger(),
		now:     time.Now,
		pending: make(map[int64]struct{}),
	}
}

// Load fetches both lists for a date in parallel and replaces them
// wholesale. A failure leaves the previous lists untouched. Each load is
// tagged with the date and a generation; a response resolving after the
// store has moved on (rapid date switching) is discarded.
func (s *Store) Load(ctx context.Context, date string) error {
	s.mu.Lock()
	s.date = date
	s.loadSeq++
	seq := s.loadSeq
	s.loading = true
	s.mu.Unlock()

	var (
		wg         sync.WaitGroup
		sched, reg []checkin.Appointment
		schedErr   error
		regErr     error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		sched, schedErr = s.api.Scheduled(ctx, date)
	}()
	go func() {
		defer wg.Done()
		reg, regErr = s.api.CheckedIn(ctx, date)
	}()
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadSeq != seq || s.date != date {
		// A newer load superseded this one while it was in flight.
		s.log.Debug().Str("date", date).Msg("stale load response discarded")
		return nil
	}

	s.loading = false

	if schedErr != nil || regErr != nil {
		err := errors.Join(schedErr, regErr)
		s.loadErr = err
		return fmt.Errorf("load %s: %w", date, err)
	}

	for i := range sched {
		sched[i].Normalize()
	}
	for i := range reg {
		reg[i].Normalize()
	}

	s.loadErr = nil
	s.scheduled = sched
	s.checkedIn = reg
	return nil
}

// CheckIn moves an appointment from the scheduled list to the checked-in
// list, optimistically, and posts the Present state change.
func (s *Store) CheckIn(ctx context.Context, id int64) error {
	t := s.now().Format("15:04")
	var actionID string

	return s.runOptimistic(id, func() (func(), error) {
		idx := indexByID(s.scheduled, id)
		if idx < 0 {
			return nil, ErrNotFound
		}

		orig := s.scheduled[idx]

		moved := orig
		moved.PresentTime = &t
		moved.SeatedTime = nil
		moved.DismissedTime = nil
		moved.Normalize()

		s.scheduled = slices.Delete(s.scheduled, idx, idx+1)
		s.insertCheckedIn(moved)

		actionID = s.tracker.Issue()

		return func() {
			removeByID(&s.checkedIn, id)
			s.scheduled = slices.Insert(s.scheduled, min(idx, len(s.scheduled)), orig)
		}, nil
	}, func() error {
		return s.api.UpdateState(ctx, id, checkin.StatusPresent, t, actionID)
	})
}

// MarkSeated sets the seated pair on a checked-in appointment.
func (s *Store) MarkSeated(ctx context.Context, id int64) error {
	return s.patchState(ctx, id, checkin.FieldSeated)
}

// MarkDismissed sets the dismissed pair on a checked-in appointment.
func (s *Store) MarkDismissed(ctx context.Context, id int64) error {
	return s.patchState(ctx, id, checkin.FieldDismissed)
}

func (s *Store) patchState(ctx context.Context, id int64, field checkin.StateField) error {
	t := s.now().Format("15:04")
	var actionID string

	return s.runOptimistic(id, func() (func(), error) {
		idx := indexByID(s.checkedIn, id)
		if idx < 0 {
			return nil, ErrNotFound
		}

		prev := s.checkedIn[idx]
		s.checkedIn[idx].SetState(field, t)

		actionID = s.tracker.Issue()

		return func() {
			if ri := indexByID(s.checkedIn, id); ri >= 0 {
				s.checkedIn[ri] = prev
			}
		}, nil
	}, func() error {
		return s.api.UpdateState(ctx, id, field.StatusSet(), t, actionID)
	})
}

// Undo clears one state field. Undoing present while seated and dismissed
// are both unset moves the appointment back to the scheduled list stripped
// of all state; any other combination with later states set is rejected.
func (s *Store) Undo(ctx context.Context, id int64, field checkin.StateField) error {
	return s.runOptimistic(id, func() (func(), error) {
		idx := indexByID(s.checkedIn, id)
		if idx < 0 {
			return nil, ErrNotFound
		}

		a := s.checkedIn[idx]
		if a.StateTime(field) == nil {
			return nil, ErrStateNotSet
		}

		switch field {
		case checkin.FieldPresent:
			if a.Seated || a.Dismissed {
				return nil, ErrUndoBlocked
			}

			moved := a
			moved.PresentTime = nil
			moved.SeatedTime = nil
			moved.DismissedTime = nil
			moved.Normalize()

			s.checkedIn = slices.Delete(s.checkedIn, idx, idx+1)
			s.insertScheduled(moved)

			return func() {
				removeByID(&s.scheduled, id)
				s.checkedIn = slices.Insert(s.checkedIn, min(idx, len(s.checkedIn)), a)
			}, nil

		case checkin.FieldSeated:
			if a.Dismissed {
				return nil, ErrUndoBlocked
			}
		}

		s.checkedIn[idx].ClearState(field)

		return func() {
			if ri := indexByID(s.checkedIn, id); ri >= 0 {
				s.checkedIn[ri] = a
			}
		}, nil
	}, func() error {
		return s.api.UndoState(ctx, id, field.StatusSet())
	})
}

// ApplyChange patches the lists for a change another client made, without
// any network round trip. It reports whether the patch found its target.
func (s *Store) ApplyChange(env event.Envelope) bool {
	field, ok := checkin.FieldForStatus(checkin.Status(env.State))
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch env.ChangeType {
	case event.ChangeState:
		if field == checkin.FieldPresent {
			idx := indexByID(s.scheduled, env.AppointmentID)
			if idx < 0 {
				// Already moved (or never loaded); patch in place if we
				// have it on the checked-in side.
				if ri := indexByID(s.checkedIn, env.AppointmentID); ri >= 0 {
					s.checkedIn[ri].SetState(field, env.Time)
					return true
				}
				return false
			}
			moved := s.scheduled[idx]
			moved.SetState(checkin.FieldPresent, env.Time)
			s.scheduled = slices.Delete(s.scheduled, idx, idx+1)
			s.insertCheckedIn(moved)
			return true
		}

		idx := indexByID(s.checkedIn, env.AppointmentID)
		if idx < 0 {
			return false
		}
		s.checkedIn[idx].SetState(field, env.Time)
		return true

	case event.ChangeUndo:
		idx := indexByID(s.checkedIn, env.AppointmentID)
		if idx < 0 {
			// An undo we already applied locally lands here; treat it as
			// done rather than forcing a reload.
			return indexByID(s.scheduled, env.AppointmentID) >= 0
		}

		if field == checkin.FieldPresent {
			a := s.checkedIn[idx]
			if a.Seated || a.Dismissed {
				return false
			}
			a.PresentTime = nil
			a.SeatedTime = nil
			a.DismissedTime = nil
			a.Normalize()
			s.checkedIn = slices.Delete(s.checkedIn, idx, idx+1)
			s.insertScheduled(a)
			return true
		}

		s.checkedIn[idx].ClearState(field)
		return true
	}

	return false
}

// Stats returns the day's counters across both lists.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Total:      len(s.scheduled) + len(s.checkedIn),
		Registered: len(s.checkedIn),
	}
	for _, a := range s.checkedIn {
		if a.Present && !a.Seated && !a.Dismissed {
			st.Waiting++
		}
		if a.Dismissed {
			st.Completed++
		}
	}
	return st
}

// Scheduled returns a copy of the not-yet-checked-in list.
func (s *Store) Scheduled() []checkin.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.scheduled)
}

// CheckedIn returns a copy of the checked-in list.
func (s *Store) CheckedIn() []checkin.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.checkedIn)
}

// Date returns the currently loaded date.
func (s *Store) Date() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.date
}

// Loading reports whether a load round trip is in progress.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// LoadErr returns the error from the most recent failed load, nil after a
// successful one.
func (s *Store) LoadErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadErr
}

// insertCheckedIn places an appointment by its check-in time, parsed as
// minutes since midnight, missing times last. This is only the fallback
// order: list positions fetched from the server are kept as delivered.
func (s *Store) insertCheckedIn(a checkin.Appointment) {
	s.checkedIn = insertByClock(s.checkedIn, a, func(x checkin.Appointment) string {
		if x.PresentTime != nil {
			return *x.PresentTime
		}
		return ""
	})
}

func (s *Store) insertScheduled(a checkin.Appointment) {
	s.scheduled = insertByClock(s.scheduled, a, func(x checkin.Appointment) string {
		return x.ScheduledTime
	})
}

func insertByClock(list []checkin.Appointment, a checkin.Appointment, key func(checkin.Appointment) string) []checkin.Appointment {
	pos := len(list)
	ak := sortMinutes(key(a))
	for i, x := range list {
		if sortMinutes(key(x)) > ak {
			pos = i
			break
		}
	}
	return slices.Insert(list, pos, a)
}

// sortMinutes maps missing or unparseable times past the end of the day.
func sortMinutes(hhmm string) int {
	m := checkin.ClockMinutes(hhmm)
	if m < 0 {
		return 24 * 60
	}
	return m
}

func indexByID(list []checkin.Appointment, id int64) int {
	return slices.IndexFunc(list, func(a checkin.Appointment) bool { return a.ID == id })
}

func removeByID(list *[]checkin.Appointment, id int64) {
	if idx := indexByID(*list, id); idx >= 0 {
		*list = slices.Delete(*list, idx, idx+1)
	}
}
