package checkin

import (
	"context"
	"errors"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrStateConflict       = errors.New("appointment state changed concurrently")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	// ListForDate returns the appointments for a date, split by check-in
	// state: checkedIn=false yields the scheduled (unregistered) list,
	// checkedIn=true the registered list, both in server display order.
	ListForDate(ctx context.Context, date string, checkedIn bool) ([]Appointment, error)

	GetByID(ctx context.Context, id int64) (*Appointment, error)

	// SetState writes one boolean+time pair iff it is currently unset.
	// Returns ErrStateConflict when another writer got there first.
	SetState(ctx context.Context, id int64, field StateField, t string) (*Appointment, error)

	// ClearState clears one boolean+time pair iff it is currently set.
	ClearState(ctx context.Context, id int64, field StateField) (*Appointment, error)

	// CreateAppointment inserts a scheduled visit; used by seeding.
	CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error)

	// InsertChange appends an audit row for an accepted write.
	InsertChange(ctx context.Context, c ChangeLog) error
}
