// Package api exposes the booking flow over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"slotdesk/internal/availability"
	"slotdesk/internal/booking"
	"slotdesk/internal/calendar"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const monthLayout = "2006-01"

// BusySource provides busy-interval snapshots. Fetch may serve a cached snapshot,
// Refetch always reads the calendar.
type BusySource interface {
	Fetch(ctx context.Context) (*calendar.Snapshot, error)
	Refetch(ctx context.Context) (*calendar.Snapshot, error)
}

// Submitter books a completed session.
type Submitter interface {
	Submit(ctx context.Context, id, referralCode string) (*booking.Confirmation, error)
}

// Handler serves the booking endpoints.
type Handler struct {
	fsm            *booking.FSM
	store          booking.Store
	busy           BusySource
	submitter      Submitter
	referralCookie string
	logger         *zerolog.Logger
}

// NewHandler creates the HTTP handler set. referralCookie names the cookie whose value
// is captured as the session's referral code; empty disables it.
func NewHandler(fsm *booking.FSM, store booking.Store, busy BusySource, submitter Submitter, referralCookie string, logger *zerolog.Logger) *Handler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Handler{
		fsm:            fsm,
		store:          store,
		busy:           busy,
		submitter:      submitter,
		referralCookie: referralCookie,
		logger:         logger,
	}
}

type monthResponse struct {
	Month   string                         `json:"month"`
	Unknown bool                           `json:"availability_unknown,omitempty"`
	Days    []availability.DayAvailability `json:"days"`
}

// Availability handles GET /api/availability?month=YYYY-MM&session=<id>.
// With a session the month is computed from the session's snapshot.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	calc := h.fsm.Calculator()
	policy := calc.Policy()

	month := policy.Today(calc.Now())
	if q := r.URL.Query().Get("month"); q != "" {
		m, err := time.ParseInLocation(monthLayout, q, policy.Loc())
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:   "bad_request",
				Message: "month must be YYYY-MM",
				Fields:  map[string]string{"month": "must be YYYY-MM"},
			})
			return
		}
		month = m
	}

	var snap *calendar.Snapshot
	if id := r.URL.Query().Get("session"); id != "" {
		s, err := h.store.Get(r.Context(), id)
		if err != nil {
			h.fail(w, r, err, nil)
			return
		}
		snap = s.Offer
	} else {
		var err error
		if snap, err = h.busy.Fetch(r.Context()); err != nil {
			h.logger.Warn().Err(err).Msg("busy intervals unavailable for month view")
		}
	}

	resp := monthResponse{
		Month:   month.Format(monthLayout),
		Unknown: snap == nil,
		Days:    calc.Month(month.Year(), month.Month(), snap),
	}
	if snap == nil {
		// Every day is blocked; the client shows a retry hint.
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type createSessionRequest struct {
	ReferralCode string `json:"referral_code"`
}

// CreateSession handles POST /api/sessions. A failed busy-interval fetch still
// creates the session with availability unknown.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeOptional(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}

	s := booking.NewSession(booking.NewSessionID(), h.fsm.Calculator().Now())
	s.Referral = req.ReferralCode
	if s.Referral == "" {
		s.Referral = h.cookieReferral(r)
	}

	snap, fetchErr := h.busy.Fetch(r.Context())
	if fetchErr != nil {
		h.logger.Warn().Err(fetchErr).Str("session_id", s.ID).Msg("starting session without availability")
		snap = nil
	}
	startErr := h.fsm.Start(s, snap)

	if err := h.store.Save(r.Context(), s); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.logger.Info().Str("session_id", s.ID).Bool("availability_known", startErr == nil).Msg("session started")

	if startErr != nil {
		writeJSON(w, http.StatusCreated, errorResponse{
			Error:   "availability_unknown",
			Message: userMessage(startErr, "availability_unknown"),
			Retry:   true,
			Session: viewOf(s),
		})
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(s))
}

// GetSession handles GET /api/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

// Refresh handles POST /api/sessions/{id}/refresh and retries the busy-interval fetch.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, s *booking.Session) error {
		snap, err := h.busy.Refetch(ctx)
		if err != nil {
			h.logger.Warn().Err(err).Str("session_id", s.ID).Msg("availability refresh failed")
			// Keep a previously known snapshot rather than dropping to unknown.
			if s.AvailabilityKnown() {
				return booking.ErrAvailabilityUnknown
			}
			return h.fsm.Start(s, nil)
		}
		return h.fsm.Start(s, snap)
	})
}

type dateRequest struct {
	Date string `json:"date"`
}

// SelectDate handles POST /api/sessions/{id}/date.
func (h *Handler) SelectDate(w http.ResponseWriter, r *http.Request) {
	var req dateRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	h.mutate(w, r, func(_ context.Context, s *booking.Session) error {
		day, err := h.fsm.Calculator().Policy().ParseDate(req.Date)
		if err != nil {
			return &booking.ValidationError{
				Step:   booking.StepSelectDate,
				Fields: map[string]string{"date": "must be a date in YYYY-MM-DD format"},
			}
		}
		return h.fsm.SelectDate(s, day)
	})
}

type timeRequest struct {
	Time string `json:"time"`
}

// SelectTime handles POST /api/sessions/{id}/time.
func (h *Handler) SelectTime(w http.ResponseWriter, r *http.Request) {
	var req timeRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	h.mutate(w, r, func(_ context.Context, s *booking.Session) error {
		return h.fsm.SelectTime(s, req.Time)
	})
}

// SubmitContact handles POST /api/sessions/{id}/contact.
func (h *Handler) SubmitContact(w http.ResponseWriter, r *http.Request) {
	var req booking.Contact
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	h.mutate(w, r, func(_ context.Context, s *booking.Session) error {
		return h.fsm.SubmitContact(s, req)
	})
}

type qualificationRequest struct {
	ImpactLevel string `json:"impact_level"`
}

// SubmitQualification handles POST /api/sessions/{id}/qualification.
func (h *Handler) SubmitQualification(w http.ResponseWriter, r *http.Request) {
	var req qualificationRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	h.mutate(w, r, func(_ context.Context, s *booking.Session) error {
		return h.fsm.SubmitQualification(s, booking.ParseImpactLevel(req.ImpactLevel))
	})
}

type budgetRequest struct {
	BudgetTier string `json:"budget_tier"`
}

// SetBudget handles POST /api/sessions/{id}/budget.
func (h *Handler) SetBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decode(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	h.mutate(w, r, func(_ context.Context, s *booking.Session) error {
		return h.fsm.SetBudget(s, booking.ParseBudgetTier(req.BudgetTier))
	})
}

// Back handles POST /api/sessions/{id}/back.
func (h *Handler) Back(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(_ context.Context, s *booking.Session) error {
		return h.fsm.Back(s)
	})
}

// Forward handles POST /api/sessions/{id}/forward.
func (h *Handler) Forward(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(_ context.Context, s *booking.Session) error {
		return h.fsm.Forward(s)
	})
}

type submitRequest struct {
	ReferralCode string `json:"referral_code"`
}

type submitResponse struct {
	Confirmation *booking.Confirmation `json:"confirmation"`
	Session      *sessionView          `json:"session,omitempty"`
}

// Submit handles POST /api/sessions/{id}/submit.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeOptional(r, &req); err != nil {
		h.badRequest(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if req.ReferralCode == "" {
		req.ReferralCode = h.cookieReferral(r)
	}

	conf, err := h.submitter.Submit(r.Context(), id, req.ReferralCode)
	if err != nil {
		// The orchestrator has already rolled the session back; show where it landed.
		s, getErr := h.store.Get(r.Context(), id)
		if getErr != nil {
			s = nil
		}
		h.fail(w, r, err, s)
		return
	}

	resp := submitResponse{Confirmation: conf}
	if s, err := h.store.Get(r.Context(), id); err == nil {
		resp.Session = viewOf(s)
	}
	writeJSON(w, http.StatusOK, resp)
}

// mutate applies fn to the session under its lock and saves the result, including
// any field errors the step recorded.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, s *booking.Session) error) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	unlock, err := h.store.TryLock(ctx, id)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	defer unlock()

	s, err := h.store.Get(ctx, id)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}

	stepErr := fn(ctx, s)
	if err := h.store.Save(ctx, s); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	if stepErr != nil {
		h.fail(w, r, stepErr, s)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, s *booking.Session) {
	status, code := errorStatus(err)
	resp := errorResponse{
		Error:   code,
		Message: userMessage(err, code),
		Retry:   status == http.StatusServiceUnavailable || status == http.StatusBadGateway,
		Session: viewOf(s),
	}

	var verr *booking.ValidationError
	switch {
	case errors.As(err, &verr):
		resp.Fields = verr.Fields
	case s != nil:
		resp.Fields = s.Errors
	}

	ev := h.logger.Debug()
	if status >= http.StatusInternalServerError {
		ev = h.logger.Error()
	}
	ev.Err(err).
		Str("path", r.URL.Path).
		Int("status", status).
		Str("code", code).
		Msg("request failed")

	writeJSON(w, status, resp)
}

func (h *Handler) cookieReferral(r *http.Request) string {
	if h.referralCookie == "" {
		return ""
	}
	c, err := r.Cookie(h.referralCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

func (h *Handler) badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error:   "bad_request",
		Message: "invalid JSON body: " + err.Error(),
	})
}

func decode(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// decodeOptional accepts an empty body.
func decodeOptional(r *http.Request, out any) error {
	if err := decode(r, out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
