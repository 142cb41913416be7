package checkin

import (
	"strconv"
	"strings"
	"time"
)

// Status is the derived position of an appointment in the daily workflow.
type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusPresent   Status = "Present"
	StatusSeated    Status = "Seated"
	StatusDismissed Status = "Dismissed"
)

// StateField names one of the three mutable boolean+time pairs.
type StateField string

const (
	FieldPresent   StateField = "present"
	FieldSeated    StateField = "seated"
	FieldDismissed StateField = "dismissed"
)

// FieldForStatus maps a workflow status to the field it sets.
func FieldForStatus(s Status) (StateField, bool) {
	switch s {
	case StatusPresent:
		return FieldPresent, true
	case StatusSeated:
		return FieldSeated, true
	case StatusDismissed:
		return FieldDismissed, true
	}
	return "", false
}

// StatusSet returns the workflow status a field represents when set.
func (f StateField) StatusSet() Status {
	switch f {
	case FieldPresent:
		return StatusPresent
	case FieldSeated:
		return StatusSeated
	case FieldDismissed:
		return StatusDismissed
	}
	return StatusScheduled
}

// Appointment is one scheduled clinic visit for a given day.
//
// Each state boolean is true iff its paired time is non-nil; Normalize
// re-derives the booleans after any direct time mutation so the pairing
// invariant cannot drift.
type Appointment struct {
	ID            int64   `json:"id"`
	Date          string  `json:"date"`
	PatientID     int64   `json:"patientId"`
	PatientName   string  `json:"patientName"`
	Category      string  `json:"category"`
	ScheduledTime string  `json:"scheduledTime"`
	Details       string  `json:"details"`
	HasNotes      bool    `json:"hasNotes"`
	Present       bool    `json:"present"`
	PresentTime   *string `json:"presentTime"`
	Seated        bool    `json:"seated"`
	SeatedTime    *string `json:"seatedTime"`
	Dismissed     bool    `json:"dismissed"`
	DismissedTime *string `json:"dismissedTime"`
}

// Normalize re-derives the state booleans from their paired times.
func (a *Appointment) Normalize() {
	a.Present = a.PresentTime != nil
	a.Seated = a.SeatedTime != nil
	a.Dismissed = a.DismissedTime != nil
}

// Status computes the workflow position from the state fields.
func (a *Appointment) Status() Status {
	switch {
	case a.Dismissed:
		return StatusDismissed
	case a.Seated:
		return StatusSeated
	case a.Present:
		return StatusPresent
	default:
		return StatusScheduled
	}
}

// SetState sets one boolean+time pair.
func (a *Appointment) SetState(field StateField, t string) {
	switch field {
	case FieldPresent:
		a.PresentTime = &t
	case FieldSeated:
		a.SeatedTime = &t
	case FieldDismissed:
		a.DismissedTime = &t
	}
	a.Normalize()
}

// ClearState clears one boolean+time pair.
func (a *Appointment) ClearState(field StateField) {
	switch field {
	case FieldPresent:
		a.PresentTime = nil
	case FieldSeated:
		a.SeatedTime = nil
	case FieldDismissed:
		a.DismissedTime = nil
	}
	a.Normalize()
}

// StateTime returns the time paired with a field, or nil when unset.
func (a *Appointment) StateTime(field StateField) *string {
	switch field {
	case FieldPresent:
		return a.PresentTime
	case FieldSeated:
		return a.SeatedTime
	case FieldDismissed:
		return a.DismissedTime
	}
	return nil
}

// ChangeLog is one audit row recorded for every accepted state change.
type ChangeLog struct {
	ID            int64
	EventType     string
	AppointmentID int64
	ActionID      string
	Payload       []byte
	CreatedAt     time.Time
}

// ClockMinutes parses an "HH:MM" string into minutes since midnight.
// It returns -1 for empty or unparseable input; callers treat that as
// "sort last".
func ClockMinutes(hhmm string) int {
	h, m, ok := strings.Cut(hhmm, ":")
	if !ok {
		return -1
	}
	hours, err := strconv.Atoi(h)
	if err != nil || hours < 0 || hours > 23 {
		return -1
	}
	minutes, err := strconv.Atoi(m)
	if err != nil || minutes < 0 || minutes > 59 {
		return -1
	}
	return hours*60 + minutes
}

// ValidDate reports whether s is an ISO YYYY-MM-DD calendar date.
func ValidDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
