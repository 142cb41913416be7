package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clinicdesk/checkin-sync/internal/checkin"
)

// CheckinService is the slice of the domain service the handlers need.
type CheckinService interface {
	ScheduledForDate(ctx context.Context, date string) ([]checkin.Appointment, error)
	CheckedInForDate(ctx context.Context, date string) ([]checkin.Appointment, error)
	UpdateState(ctx context.Context, req checkin.UpdateStateRequest) (*checkin.Appointment, error)
	UndoState(ctx context.Context, req checkin.UndoStateRequest) (*checkin.Appointment, error)
}

func listScheduledHandler(svc CheckinService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")

		list, err := svc.ScheduledForDate(r.Context(), date)
		if err != nil {
			handleListError(w, err)
			return
		}
		if list == nil {
			list = []checkin.Appointment{}
		}

		writeJSON(w, http.StatusOK, list)
	}
}

func listCheckedInHandler(svc CheckinService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")

		list, err := svc.CheckedInForDate(r.Context(), date)
		if err != nil {
			handleListError(w, err)
			return
		}
		if list == nil {
			list = []checkin.Appointment{}
		}

		writeJSON(w, http.StatusOK, list)
	}
}

func updateStateHandler(svc CheckinService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UpdateStateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.AppointmentID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointmentId must be a positive integer")
			return
		}

		appt, err := svc.UpdateState(r.Context(), checkin.UpdateStateRequest{
			AppointmentID: req.AppointmentID,
			State:         checkin.Status(req.State),
			Time:          req.Time,
			ActionID:      req.ActionID,
		})
		if err != nil {
			handleMutationError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, appt)
	}
}

func undoStateHandler(svc CheckinService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UndoStateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.AppointmentID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointmentId must be a positive integer")
			return
		}

		appt, err := svc.UndoState(r.Context(), checkin.UndoStateRequest{
			AppointmentID: req.AppointmentID,
			State:         checkin.Status(req.State),
		})
		if err != nil {
			handleMutationError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, appt)
	}
}

func handleListError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, checkin.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleMutationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, checkin.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, checkin.ErrInvalidState):
		writeError(w, http.StatusBadRequest, "invalid_state", err.Error())
	case errors.Is(err, checkin.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, checkin.ErrUndoBlocked):
		writeError(w, http.StatusConflict, "undo_blocked", err.Error())
	case errors.Is(err, checkin.ErrStateConflict):
		writeError(w, http.StatusConflict, "state_conflict", err.Error())
	case errors.Is(err, checkin.ErrAppointmentBusy):
		writeError(w, http.StatusConflict, "appointment_busy", "appointment is being updated, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
