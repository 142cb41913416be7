package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Change types carried on the realtime channel.
const (
	ChangeState = "state"
	ChangeUndo  = "undo"
)

// Envelope is the wire shape of a realtime change event. Every write the
// server accepts is published as one Envelope on the channel for its date.
type Envelope struct {
	ID              string `json:"id"`
	ActionID        string `json:"actionId,omitempty"`
	Date            string `json:"date"`
	ChangeType      string `json:"changeType,omitempty"`
	AppointmentID   int64  `json:"appointmentId,omitempty"`
	State           string `json:"state,omitempty"`
	Time            string `json:"time,omitempty"`
	ServerTimestamp int64  `json:"serverTimestamp,omitempty"`
}

// NewEnvelope builds an envelope with a fresh event id and the current
// server timestamp in unix milliseconds.
func NewEnvelope(date, changeType string, appointmentID int64, state, t, actionID string) Envelope {
	return Envelope{
		ID:              uuid.NewString(),
		ActionID:        actionID,
		Date:            date,
		ChangeType:      changeType,
		AppointmentID:   appointmentID,
		State:           state,
		Time:            t,
		ServerTimestamp: time.Now().UnixMilli(),
	}
}

// Kind tags the result of classifying an incoming envelope. Classification
// happens once at the channel boundary; consumers switch on the kind instead
// of re-probing optional fields.
type Kind int

const (
	// KindGranular carries enough data to patch a single appointment in place.
	KindGranular Kind = iota + 1
	// KindReload is well formed but lacks granular data; the only safe
	// reconciliation is a full refetch of both lists.
	KindReload
	// KindMalformed lacks an event id or date and cannot even be deduplicated.
	KindMalformed
)

// Classified is the tagged form of an envelope.
type Classified struct {
	Kind     Kind
	Envelope Envelope
}

// Decode parses a raw channel frame and classifies it in one step.
func Decode(raw []byte) Classified {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Classified{Kind: KindMalformed}
	}
	return Classify(e)
}

// Classify sorts an envelope into exactly one of the three kinds.
func Classify(e Envelope) Classified {
	if e.ID == "" || e.Date == "" {
		return Classified{Kind: KindMalformed, Envelope: e}
	}
	switch e.ChangeType {
	case ChangeState, ChangeUndo:
		if e.AppointmentID > 0 && e.State != "" {
			return Classified{Kind: KindGranular, Envelope: e}
		}
	}
	// Legacy senders omit changeType or granular fields; fall back to reload.
	return Classified{Kind: KindReload, Envelope: e}
}
