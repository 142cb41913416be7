package checkin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClockMinutes(t *testing.T) {
	testCases := []struct {
		in   string
		want int
	}{
		{"00:00", 0},
		{"09:00", 540},
		{"09:05", 545},
		{"23:59", 1439},
		{"", -1},
		{"9am", -1},
		{"24:00", -1},
		{"12:60", -1},
		{"ab:cd", -1},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, ClockMinutes(tc.in), "ClockMinutes(%q)", tc.in)
	}
}

func TestAppointmentStatus(t *testing.T) {
	a := Appointment{ID: 1}
	assert.Equal(t, StatusScheduled, a.Status())

	a.SetState(FieldPresent, "09:00")
	assert.Equal(t, StatusPresent, a.Status())

	a.SetState(FieldSeated, "09:10")
	assert.Equal(t, StatusSeated, a.Status())

	a.SetState(FieldDismissed, "09:40")
	assert.Equal(t, StatusDismissed, a.Status())
}

func TestStatePairingInvariant(t *testing.T) {
	a := Appointment{ID: 1}

	a.SetState(FieldPresent, "09:00")
	assert.True(t, a.Present)
	assert.NotNil(t, a.PresentTime)

	a.ClearState(FieldPresent)
	assert.False(t, a.Present)
	assert.Nil(t, a.PresentTime)

	// Normalize repairs booleans that drifted from their times.
	tm := "09:30"
	a.SeatedTime = &tm
	a.Normalize()
	assert.True(t, a.Seated)
}

func TestFieldForStatus(t *testing.T) {
	f, ok := FieldForStatus(StatusPresent)
	assert.True(t, ok)
	assert.Equal(t, FieldPresent, f)

	_, ok = FieldForStatus(StatusScheduled)
	assert.False(t, ok)

	_, ok = FieldForStatus(Status("Cancelled"))
	assert.False(t, ok)

	assert.Equal(t, StatusSeated, FieldSeated.StatusSet())
}

func TestValidDate(t *testing.T) {
	assert.True(t, ValidDate("2026-08-30"))
	assert.False(t, ValidDate("2026-13-01"))
	assert.False(t, ValidDate("30/08/2026"))
	assert.False(t, ValidDate(""))
}
