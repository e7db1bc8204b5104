package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"slotdesk/internal/booking"
)

// sessionView is the client-facing session. Busy intervals stay server-side.
type sessionView struct {
	ID                string                `json:"id"`
	Step              booking.Step          `json:"step"`
	Direction         booking.Direction     `json:"direction"`
	Draft             booking.Draft         `json:"draft"`
	Errors            map[string]string     `json:"errors,omitempty"`
	AvailabilityKnown bool                  `json:"availability_known"`
	Referral          string                `json:"referral,omitempty"`
	Confirmation      *booking.Confirmation `json:"confirmation,omitempty"`
	StartedAt         time.Time             `json:"started_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

func viewOf(s *booking.Session) *sessionView {
	if s == nil {
		return nil
	}
	return &sessionView{
		ID:                s.ID,
		Step:              s.Step,
		Direction:         s.Direction,
		Draft:             s.Draft,
		Errors:            s.Errors,
		AvailabilityKnown: s.AvailabilityKnown(),
		Referral:          s.Referral,
		Confirmation:      s.Confirmation,
		StartedAt:         s.StartedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Retry   bool              `json:"retry,omitempty"`
	Session *sessionView      `json:"session,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, s *booking.Session) {
	resp := errorResponse{Error: code, Message: message, Session: viewOf(s)}
	if s != nil {
		resp.Fields = s.Errors
	}
	writeJSON(w, status, resp)
}

// errorStatus maps booking errors to an HTTP status and a stable error code.
func errorStatus(err error) (int, string) {
	var verr *booking.ValidationError
	var serr *booking.SubmitError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, booking.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, booking.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, booking.ErrAvailabilityUnknown):
		return http.StatusServiceUnavailable, "availability_unknown"
	case errors.Is(err, booking.ErrDayNotSelectable):
		return http.StatusUnprocessableEntity, "day_not_selectable"
	case errors.Is(err, booking.ErrSlotNotFree), errors.Is(err, booking.ErrSlotNoLongerAvailable):
		return http.StatusConflict, "slot_unavailable"
	case errors.Is(err, booking.ErrDuplicateBooking):
		return http.StatusConflict, "duplicate_booking"
	case errors.Is(err, booking.ErrSubmissionInFlight):
		return http.StatusTooManyRequests, "submission_in_flight"
	case errors.As(err, &serr):
		return http.StatusBadGateway, "submit_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func userMessage(err error, code string) string {
	var verr *booking.ValidationError
	var serr *booking.SubmitError
	switch {
	case errors.As(err, &verr):
		return "some fields need attention"
	case errors.As(err, &serr):
		return serr.Cause
	case code == "availability_unknown":
		return "availability could not be loaded, please retry"
	case code == "internal_error":
		return "internal error"
	default:
		return err.Error()
	}
}
