package checkin

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `
	id, date, patient_id, patient_name, category, scheduled_time,
	details, has_notes, present_time, seated_time, dismissed_time
`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.Date,
		&a.PatientID,
		&a.PatientName,
		&a.Category,
		&a.ScheduledTime,
		&a.Details,
		&a.HasNotes,
		&a.PresentTime,
		&a.SeatedTime,
		&a.DismissedTime,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Normalize()
	return &a, nil
}

func timeColumn(field StateField) (string, error) {
	switch field {
	case FieldPresent:
		return "present_time", nil
	case FieldSeated:
		return "seated_time", nil
	case FieldDismissed:
		return "dismissed_time", nil
	}
	return "", fmt.Errorf("unknown state field %q", field)
}

func (r *PgRepository) ListForDate(ctx context.Context, date string, checkedIn bool) ([]Appointment, error) {
	presence := "IS NULL"
	order := "scheduled_time, id"
	if checkedIn {
		presence = "IS NOT NULL"
		order = "present_time, id"
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE date = $1 AND present_time `+presence+`
		ORDER BY `+order+`
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id int64) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) SetState(ctx context.Context, id int64, field StateField, t string) (*Appointment, error) {
	col, err := timeColumn(field)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET `+col+` = $2,
		    updated_at = now()
		WHERE id = $1
		  AND `+col+` IS NULL
		RETURNING `+appointmentColumns+`
	`, id, t)

	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		// Distinguish a missing row from a lost compare-and-set.
		if _, getErr := r.GetByID(ctx, id); getErr == nil {
			return nil, ErrStateConflict
		}
		return nil, ErrAppointmentNotFound
	}
	return a, err
}

func (r *PgRepository) ClearState(ctx context.Context, id int64, field StateField) (*Appointment, error) {
	col, err := timeColumn(field)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET `+col+` = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND `+col+` IS NOT NULL
		RETURNING `+appointmentColumns+`
	`, id)

	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		if _, getErr := r.GetByID(ctx, id); getErr == nil {
			return nil, ErrStateConflict
		}
		return nil, ErrAppointmentNotFound
	}
	return a, err
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (
			date, patient_id, patient_name, category, scheduled_time,
			details, has_notes, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+appointmentColumns+`
	`, a.Date, a.PatientID, a.PatientName, a.Category, a.ScheduledTime, a.Details, a.HasNotes)

	return scanAppointment(row)
}

func (r *PgRepository) InsertChange(ctx context.Context, c ChangeLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO change_logs (event_type, appointment_id, action_id, payload, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, c.EventType, c.AppointmentID, c.ActionID, c.Payload)
	if err != nil {
		return fmt.Errorf("insert change log: %w", err)
	}

	return nil
}
