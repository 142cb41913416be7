package api

type UpdateStateRequest struct {
	AppointmentID int64  `json:"appointmentId"`
	State         string `json:"state"`
	Time          string `json:"time,omitempty"`
	ActionID      string `json:"actionId,omitempty"`
}

type UndoStateRequest struct {
	AppointmentID int64  `json:"appointmentId"`
	State         string `json:"state"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
