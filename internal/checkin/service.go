package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/checkin-sync/internal/event"
	redisclient "github.com/clinicdesk/checkin-sync/internal/redis"
)

var (
	ErrInvalidDate             = errors.New("date must be YYYY-MM-DD")
	ErrInvalidState            = errors.New("unknown appointment state")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrUndoBlocked             = errors.New("state cannot be undone while later states are set")
	ErrAppointmentBusy         = errors.New("appointment is being updated, please retry")
)

// Publisher pushes accepted changes onto the realtime channel for a date.
type Publisher interface {
	Publish(ctx context.Context, date string, env event.Envelope) error
}

// UpdateStateRequest moves an appointment one step forward in the workflow.
type UpdateStateRequest struct {
	AppointmentID int64
	State         Status
	Time          string
	ActionID      string
}

// UndoStateRequest reverts exactly one previously set state.
type UndoStateRequest struct {
	AppointmentID int64
	State         Status
}

type Service struct {
	repo   Repository
	locker redisclient.Locker
	bus    Publisher
	log    zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, bus Publisher, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		bus:    bus,
		log:    log.With().Str("component", "checkin").Logger(),
		now:    time.Now,
	}
}

// ScheduledForDate returns the not-yet-checked-in appointments for a date.
func (s *Service) ScheduledForDate(ctx context.Context, date string) ([]Appointment, error) {
	if !ValidDate(date) {
		return nil, ErrInvalidDate
	}
	list, err := s.repo.ListForDate(ctx, date, false)
	if err != nil {
		return nil, fmt.Errorf("list scheduled: %w", err)
	}
	return list, nil
}

// CheckedInForDate returns the registered appointments for a date.
func (s *Service) CheckedInForDate(ctx context.Context, date string) ([]Appointment, error) {
	if !ValidDate(date) {
		return nil, ErrInvalidDate
	}
	list, err := s.repo.ListForDate(ctx, date, true)
	if err != nil {
		return nil, fmt.Errorf("list checked-in: %w", err)
	}
	return list, nil
}

// UpdateState sets one state field on an appointment and broadcasts the
// change. It takes a per-appointment lock so that concurrent writes from
// different clients cannot interleave between the read and the write.
func (s *Service) UpdateState(ctx context.Context, req UpdateStateRequest) (*Appointment, error) {
	field, ok := FieldForStatus(req.State)
	if !ok {
		return nil, ErrInvalidState
	}

	t := req.Time
	if t == "" {
		t = s.now().Format("15:04")
	}

	var updated *Appointment

	err := s.locker.WithAppointmentLock(ctx, req.AppointmentID, func(lockCtx context.Context) error {
		appt, err := s.repo.GetByID(lockCtx, req.AppointmentID)
		if err != nil {
			return err
		}

		if err := validateForward(appt, field); err != nil {
			return err
		}

		updated, err = s.repo.SetState(lockCtx, req.AppointmentID, field, t)
		if err != nil {
			return fmt.Errorf("set %s: %w", field, err)
		}

		s.logChange(lockCtx, "STATE_SET", updated, req.ActionID)
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrAppointmentBusy
		}
		return nil, err
	}

	s.publish(ctx, event.NewEnvelope(updated.Date, event.ChangeState, updated.ID, string(req.State), t, req.ActionID))

	return updated, nil
}

// UndoState clears one previously set state field and broadcasts the change.
func (s *Service) UndoState(ctx context.Context, req UndoStateRequest) (*Appointment, error) {
	field, ok := FieldForStatus(req.State)
	if !ok {
		return nil, ErrInvalidState
	}

	var updated *Appointment

	err := s.locker.WithAppointmentLock(ctx, req.AppointmentID, func(lockCtx context.Context) error {
		appt, err := s.repo.GetByID(lockCtx, req.AppointmentID)
		if err != nil {
			return err
		}

		if err := validateUndo(appt, field); err != nil {
			return err
		}

		updated, err = s.repo.ClearState(lockCtx, req.AppointmentID, field)
		if err != nil {
			return fmt.Errorf("clear %s: %w", field, err)
		}

		s.logChange(lockCtx, "STATE_UNDONE", updated, "")
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrAppointmentBusy
		}
		return nil, err
	}

	s.publish(ctx, event.NewEnvelope(updated.Date, event.ChangeUndo, updated.ID, string(req.State), "", ""))

	return updated, nil
}

// validateForward enforces the monotonic workflow: Present precedes Seated
// and Dismissed, and no field is set twice.
func validateForward(a *Appointment, field StateField) error {
	switch field {
	case FieldPresent:
		if a.Present {
			return ErrInvalidStatusTransition
		}
	case FieldSeated:
		if !a.Present || a.Seated {
			return ErrInvalidStatusTransition
		}
	case FieldDismissed:
		if !a.Present || a.Dismissed {
			return ErrInvalidStatusTransition
		}
	}
	return nil
}

// validateUndo allows exactly one step backward.
func validateUndo(a *Appointment, field StateField) error {
	switch field {
	case FieldPresent:
		if !a.Present {
			return ErrInvalidStatusTransition
		}
		if a.Seated || a.Dismissed {
			return ErrUndoBlocked
		}
	case FieldSeated:
		if !a.Seated {
			return ErrInvalidStatusTransition
		}
		if a.Dismissed {
			return ErrUndoBlocked
		}
	case FieldDismissed:
		if !a.Dismissed {
			return ErrInvalidStatusTransition
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, env event.Envelope) {
	if err := s.bus.Publish(ctx, env.Date, env); err != nil {
		s.log.Error().Err(err).
			Str("date", env.Date).
			Int64("appointment_id", env.AppointmentID).
			Msg("publish change event failed")
	}
}

func (s *Service) logChange(ctx context.Context, eventType string, a *Appointment, actionID string) {
	payload, err := json.Marshal(a)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal change payload failed")
		payload = nil
	}

	c := ChangeLog{
		EventType:     eventType,
		AppointmentID: a.ID,
		ActionID:      actionID,
		Payload:       payload,
	}

	if err := s.repo.InsertChange(ctx, c); err != nil {
		s.log.Error().Err(err).
			Int64("appointment_id", a.ID).
			Str("event_type", eventType).
			Msg("insert change log failed")
	}
}
