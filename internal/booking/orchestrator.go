package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotdesk/internal/calendar"
	"slotdesk/internal/crmapi"
	"slotdesk/internal/events"
	"slotdesk/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Refetcher re-reads busy intervals straight from the calendar.
type Refetcher interface {
	Refetch(ctx context.Context) (*calendar.Snapshot, error)
}

// BookingSink accepts confirmed bookings.
type BookingSink interface {
	CreateBooking(ctx context.Context, req crmapi.BookingRequest) (*crmapi.BookingResponse, error)
}

// ReferralSink records referral attributions.
type ReferralSink interface {
	RecordReferral(ctx context.Context, req crmapi.ReferralRequest) error
}

// Repository stores submitted bookings and enforces the (email, date, start)
// uniqueness. Reserve returns ErrDuplicateBooking for a taken key.
type Repository interface {
	Reserve(ctx context.Context, b Booking) error
	Release(ctx context.Context, id string) error
	Confirm(ctx context.Context, id, calendarReference string) error
	LogReferral(ctx context.Context, bookingID, code, status string) error
}

// Publisher receives domain events.
type Publisher interface {
	Publish(event events.Event)
}

// Orchestrator submits a completed draft exactly once.
type Orchestrator struct {
	fsm       *FSM
	store     Store
	busy      Refetcher
	sink      BookingSink
	referrals ReferralSink
	repo      Repository
	bus       Publisher
	timeout   time.Duration
	logger    *zerolog.Logger
}

// OrchestratorDeps groups the collaborators of an Orchestrator. Referrals and Bus
// are optional.
type OrchestratorDeps struct {
	FSM       *FSM
	Store     Store
	Busy      Refetcher
	Sink      BookingSink
	Referrals ReferralSink
	Repo      Repository
	Bus       Publisher
	Timeout   time.Duration
	Logger    *zerolog.Logger
}

// NewOrchestrator creates a submission orchestrator.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	if deps.Timeout <= 0 {
		deps.Timeout = 15 * time.Second
	}
	if deps.Logger == nil {
		nop := zerolog.Nop()
		deps.Logger = &nop
	}
	return &Orchestrator{
		fsm:       deps.FSM,
		store:     deps.Store,
		busy:      deps.Busy,
		sink:      deps.Sink,
		referrals: deps.Referrals,
		repo:      deps.Repo,
		bus:       deps.Bus,
		timeout:   deps.Timeout,
		logger:    deps.Logger,
	}
}

// Submit books the slot of session id. referralCode overrides the code captured when
// the session started; both may be empty.
//
// A call made while another submission of the same session is running fails with
// ErrSubmissionInFlight. A call on an already confirmed session returns the existing
// confirmation without booking again.
func (o *Orchestrator) Submit(ctx context.Context, id, referralCode string) (*Confirmation, error) {
	started := time.Now()
	defer func() { metrics.ObserveSubmitDuration(time.Since(started).Seconds()) }()

	unlock, err := o.store.TryLock(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSubmissionInFlight) {
			metrics.IncBookingSubmitted("in_flight")
		}
		return nil, err
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	s, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Step == StepConfirmed && s.Confirmation != nil {
		return s.Confirmation, nil
	}
	// We hold the lock, so a stored submitting step is left over from a crashed submit.
	if o.fsm.resumeSubmit(s) {
		o.logger.Warn().Str("session_id", id).Msg("recovered session stuck in submitting")
	}

	// The submitting step lives only in memory for the duration of this call; the
	// store sees budget until the booking is confirmed or rolled back.
	if err := o.fsm.beginSubmit(s); err != nil {
		metrics.IncBookingSubmitted("invalid")
		if saveErr := o.store.Save(ctx, s); saveErr != nil {
			o.logger.Error().Err(saveErr).Str("session_id", id).Msg("failed to save session")
		}
		return nil, err
	}

	if referralCode == "" {
		referralCode = s.Referral
	}
	conf, err := o.submit(ctx, s, referralCode)
	if err != nil {
		o.handleFailure(s, err)
		// The request context may be the reason we failed; persist the rollback anyway.
		saveCtx, saveCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer saveCancel()
		if saveErr := o.store.Save(saveCtx, s); saveErr != nil {
			o.logger.Error().Err(saveErr).Str("session_id", id).Msg("failed to save session")
		}
		return nil, err
	}

	o.fsm.confirm(s, conf)
	if err := o.store.Save(ctx, s); err != nil {
		o.logger.Error().Err(err).Str("session_id", id).Msg("booking confirmed but session not saved")
	}
	return conf, nil
}

func (o *Orchestrator) submit(ctx context.Context, s *Session, referralCode string) (*Confirmation, error) {
	snap, err := o.busy.Refetch(ctx)
	if err != nil {
		return nil, &SubmitError{Cause: "could not re-check availability", Err: err}
	}
	slot := *s.Draft.Slot
	if _, ok := o.fsm.Calculator().IsFree(slot.Day, slot.Start, snap); !ok {
		s.Offer = snap
		return nil, fmt.Errorf("%w: %s", ErrSlotNoLongerAvailable, slot.Key())
	}

	b := Booking{
		ID:           uuid.NewString(),
		Slot:         slot,
		Contact:      s.Draft.Contact,
		ImpactLevel:  s.Draft.ImpactLevel,
		BudgetTier:   s.Draft.BudgetTier,
		ReferralCode: referralCode,
		CreatedAt:    o.fsm.Calculator().Now(),
	}

	if err := o.repo.Reserve(ctx, b); err != nil {
		if errors.Is(err, ErrDuplicateBooking) {
			return nil, err
		}
		return nil, &SubmitError{Cause: "could not store booking", Err: err}
	}

	resp, err := o.sink.CreateBooking(ctx, bookingRequest(b))
	if err != nil {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if relErr := o.repo.Release(releaseCtx, b.ID); relErr != nil {
			o.logger.Error().Err(relErr).Str("booking_id", b.ID).Msg("failed to release booking reservation")
		}
		o.publish(events.BookingFailed, b)
		cause := "booking service is unavailable"
		if errors.Is(err, crmapi.ErrRejected) {
			cause = "booking service rejected the request"
		}
		return nil, &SubmitError{Cause: cause, Err: err}
	}
	b.CalendarReference = resp.Reference()

	if err := o.repo.Confirm(ctx, b.ID, b.CalendarReference); err != nil {
		// The calendar already holds the booking; losing the local status must not fail it.
		o.logger.Error().Err(err).Str("booking_id", b.ID).Msg("failed to mark booking confirmed")
	}

	if b.ReferralCode != "" {
		if err := o.attribute(ctx, b); err != nil {
			o.logger.Warn().Err(err).Str("booking_id", b.ID).Msg("referral attribution failed")
		}
	}

	metrics.IncBookingSubmitted("confirmed")
	o.publish(events.BookingConfirmed, b)
	o.logger.Info().
		Str("session_id", s.ID).
		Str("booking_id", b.ID).
		Str("slot", slotKey(&b.Slot)).
		Bool("referral", b.ReferralCode != "").
		Msg("booking confirmed")

	return &Confirmation{
		BookingID:         b.ID,
		Date:              b.Slot.Date,
		Time:              b.Slot.Start,
		CalendarReference: b.CalendarReference,
	}, nil
}

// attribute records the referral. Its failure is reported as an AttributionError
// for logging only.
func (o *Orchestrator) attribute(ctx context.Context, b Booking) error {
	status := "ok"
	var attrErr error
	if o.referrals == nil {
		status = "skipped"
	} else if err := o.referrals.RecordReferral(ctx, crmapi.ReferralRequest{
		AffiliateCode: b.ReferralCode,
		ReferredName:  b.Contact.FullName,
		ReferredEmail: b.Contact.Email,
		BookingDate:   b.Slot.Date,
	}); err != nil {
		status = "error"
		attrErr = &AttributionError{Code: b.ReferralCode, Err: err}
	}

	metrics.IncReferral(status)
	if err := o.repo.LogReferral(ctx, b.ID, b.ReferralCode, status); err != nil {
		o.logger.Warn().Err(err).Str("booking_id", b.ID).Msg("failed to log referral")
	}
	return attrErr
}

func (o *Orchestrator) handleFailure(s *Session, err error) {
	var submitErr *SubmitError
	switch {
	case errors.Is(err, ErrSlotNoLongerAvailable):
		metrics.IncBookingSubmitted("slot_unavailable")
		o.fsm.reoffer(s, s.Offer)
	case errors.Is(err, ErrDuplicateBooking):
		metrics.IncBookingSubmitted("duplicate")
		o.fsm.failSubmit(s, "a booking for this email and slot already exists")
	case errors.As(err, &submitErr):
		metrics.IncBookingSubmitted("failed")
		o.fsm.failSubmit(s, submitErr.Cause)
	default:
		metrics.IncBookingSubmitted("failed")
		o.fsm.failSubmit(s, "booking could not be completed")
	}
	o.logger.Warn().Err(err).Str("session_id", s.ID).Str("step", string(s.Step)).Msg("booking submission failed")
}

func (o *Orchestrator) publish(eventType string, b Booking) {
	if o.bus == nil {
		return
	}
	ev, err := events.NewEvent(eventType, b)
	if err != nil {
		o.logger.Error().Err(err).Str("event", eventType).Msg("failed to build event")
		return
	}
	o.bus.Publish(ev)
}

func bookingRequest(b Booking) crmapi.BookingRequest {
	return crmapi.BookingRequest{
		Date:            b.Slot.Date,
		StartTime:       b.Slot.Start,
		DurationMinutes: b.Slot.DurationMinutes,
		FullName:        b.Contact.FullName,
		Phone:           b.Contact.Phone,
		CompanyEmail:    b.Contact.Email,
		CompanyName:     b.Contact.CompanyName,
		CompanyWebsite:  b.Contact.CompanyWebsite,
		ImpactLevel:     string(b.ImpactLevel),
		BudgetTier:      string(b.BudgetTier),
	}
}
