package booking

import (
	"errors"
	"fmt"
	"time"

	"slotdesk/internal/availability"
	"slotdesk/internal/calendar"
	"slotdesk/internal/metrics"

	"github.com/rs/zerolog"
)

// FSM manages step transitions of the booking form. It mutates the session it is
// given; persisting the session is up to the caller.
type FSM struct {
	transitions map[Step][]Step
	calc        *availability.Calculator
	logger      *zerolog.Logger
}

// NewFSM creates a new FSM with predefined transitions.
func NewFSM(calc *availability.Calculator, logger *zerolog.Logger) *FSM {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FSM{
		transitions: map[Step][]Step{
			StepSelectDate:     {StepSelectTime},
			StepSelectTime:     {StepContactDetails, StepSelectDate},
			StepContactDetails: {StepQualification, StepSelectTime},
			StepQualification:  {StepBudget, StepContactDetails},
			StepBudget:         {StepSubmitting, StepQualification},
			StepSubmitting:     {StepConfirmed, StepBudget, StepSelectTime},
			StepConfirmed:      {},
		},
		calc:   calc,
		logger: logger,
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to Step) bool {
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Calculator returns the availability calculator the FSM checks selections against.
func (f *FSM) Calculator() *availability.Calculator {
	return f.calc
}

// Start attaches the busy-interval snapshot fetched for this session. A nil snapshot
// keeps every day unselectable and is reported as ErrAvailabilityUnknown.
func (f *FSM) Start(s *Session, snap *calendar.Snapshot) error {
	s.Offer = snap
	s.UpdatedAt = f.calc.Now()
	if snap == nil {
		s.setErrors(map[string]string{"availability": "busy intervals could not be loaded"})
		return ErrAvailabilityUnknown
	}
	delete(s.Errors, "availability")
	return nil
}

// SelectDate picks the day and moves to time selection.
func (f *FSM) SelectDate(s *Session, day time.Time) error {
	if s.Step != StepSelectDate {
		return f.invalid(s, StepSelectTime)
	}
	date, err := f.checkDay(s, day)
	if err != nil {
		return err
	}
	if s.Draft.Date != date {
		s.Draft.Slot = nil
	}
	s.Draft.Date = date
	return f.advance(s, StepSelectTime)
}

// SelectTime picks a slot from the session's free set and moves to contact details.
func (f *FSM) SelectTime(s *Session, clock string) error {
	if s.Step != StepSelectTime {
		return f.invalid(s, StepContactDetails)
	}
	if !s.AvailabilityKnown() {
		return ErrAvailabilityUnknown
	}
	day, err := f.calc.Policy().ParseDate(s.Draft.Date)
	if err != nil {
		return fmt.Errorf("parse selected date %q: %w", s.Draft.Date, err)
	}
	slot, ok := f.calc.IsFree(day, clock, s.Offer)
	if !ok {
		s.setErrors(map[string]string{"time": "is not available"})
		return fmt.Errorf("%w: %s %s", ErrSlotNotFree, s.Draft.Date, clock)
	}
	s.Draft.Slot = &slot
	return f.advance(s, StepContactDetails)
}

// SubmitContact stores the contact fields and advances when they validate.
func (f *FSM) SubmitContact(s *Session, c Contact) error {
	if s.Step != StepContactDetails {
		return f.invalid(s, StepQualification)
	}
	s.Draft.Contact = c.Normalize()
	return f.advance(s, StepQualification)
}

// SubmitQualification stores the impact level and advances when it validates.
func (f *FSM) SubmitQualification(s *Session, level ImpactLevel) error {
	if s.Step != StepQualification {
		return f.invalid(s, StepBudget)
	}
	s.Draft.ImpactLevel = level
	return f.advance(s, StepBudget)
}

// SetBudget stores the budget tier. Budget is the last data-entry step, so the
// session stays there until submitted.
func (f *FSM) SetBudget(s *Session, tier BudgetTier) error {
	if s.Step != StepBudget {
		return f.invalid(s, StepSubmitting)
	}
	s.Draft.BudgetTier = tier
	if err := f.check(s, StepBudget); err != nil {
		return err
	}
	s.clearErrors()
	s.UpdatedAt = f.calc.Now()
	return nil
}

// Forward re-validates the current step from the stored draft and moves on.
func (f *FSM) Forward(s *Session) error {
	i := stepIndex(s.Step)
	if i < 0 || i == len(formOrder)-1 {
		return f.invalid(s, "")
	}
	next := formOrder[i+1]

	switch s.Step {
	case StepSelectDate:
		if s.Draft.Date == "" {
			break
		}
		day, err := f.calc.Policy().ParseDate(s.Draft.Date)
		if err != nil {
			return fmt.Errorf("parse selected date %q: %w", s.Draft.Date, err)
		}
		if _, err := f.checkDay(s, day); err != nil {
			return err
		}
	case StepSelectTime:
		if s.Draft.Slot != nil {
			if _, ok := f.calc.IsFree(s.Draft.Slot.Day, s.Draft.Slot.Start, s.Offer); !ok {
				s.setErrors(map[string]string{"time": "is not available"})
				return fmt.Errorf("%w: %s", ErrSlotNotFree, s.Draft.Slot.Key())
			}
		}
	}
	return f.advance(s, next)
}

// Back moves one step back. The draft is kept in full.
func (f *FSM) Back(s *Session) error {
	i := stepIndex(s.Step)
	if i <= 0 {
		return f.invalid(s, "")
	}
	prev := formOrder[i-1]
	if !f.CanTransition(s.Step, prev) {
		return f.invalid(s, prev)
	}
	s.clearErrors()
	s.setStep(prev, DirectionBack, f.calc.Now())
	return nil
}

// beginSubmit moves a fully valid session from budget to submitting.
func (f *FSM) beginSubmit(s *Session) error {
	if !f.CanTransition(s.Step, StepSubmitting) {
		return f.invalid(s, StepSubmitting)
	}
	if err := ValidateDraft(s.Draft); err != nil {
		f.reject(s, err)
		return err
	}
	s.clearErrors()
	s.setStep(StepSubmitting, DirectionForward, f.calc.Now())
	return nil
}

// resumeSubmit returns a session stored in submitting to budget. It reports whether
// the step changed. Callers must hold the session's submission lock.
func (f *FSM) resumeSubmit(s *Session) bool {
	if s.Step != StepSubmitting {
		return false
	}
	s.setStep(StepBudget, DirectionBack, f.calc.Now())
	return true
}

// failSubmit returns the session to budget with the cause surfaced.
func (f *FSM) failSubmit(s *Session, cause string) {
	s.setErrors(map[string]string{"submit": cause})
	s.setStep(StepBudget, DirectionBack, f.calc.Now())
}

// reoffer drops the chosen slot after it was taken elsewhere and returns the
// session to time selection with the fresh snapshot.
func (f *FSM) reoffer(s *Session, snap *calendar.Snapshot) {
	s.Offer = snap
	s.Draft.Slot = nil
	s.setErrors(map[string]string{"time": "was just booked by someone else, pick another slot"})
	s.setStep(StepSelectTime, DirectionBack, f.calc.Now())
}

// confirm moves the session to its terminal step.
func (f *FSM) confirm(s *Session, c *Confirmation) {
	s.clearErrors()
	s.Confirmation = c
	s.setStep(StepConfirmed, DirectionForward, f.calc.Now())
}

func (f *FSM) checkDay(s *Session, day time.Time) (string, error) {
	if !s.AvailabilityKnown() {
		return "", ErrAvailabilityUnknown
	}
	da := f.calc.Day(day, s.Offer)
	if !da.Selectable() {
		s.setErrors(map[string]string{"date": "is not available"})
		return "", fmt.Errorf("%w: %s", ErrDayNotSelectable, da.Date)
	}
	return da.Date, nil
}

// advance validates every step up to the current one and enters next.
func (f *FSM) advance(s *Session, next Step) error {
	if !f.CanTransition(s.Step, next) {
		return f.invalid(s, next)
	}
	if err := f.check(s, s.Step); err != nil {
		return err
	}
	s.clearErrors()
	s.setStep(next, DirectionForward, f.calc.Now())
	return nil
}

func (f *FSM) check(s *Session, step Step) error {
	if err := ValidateThrough(step, s.Draft); err != nil {
		f.reject(s, err)
		return err
	}
	return nil
}

func (f *FSM) reject(s *Session, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		s.setErrors(verr.Fields)
		metrics.IncValidationRejected(string(verr.Step))
		f.logger.Debug().
			Str("session_id", s.ID).
			Str("step", string(verr.Step)).
			Interface("fields", verr.Fields).
			Msg("step validation failed")
	}
	s.UpdatedAt = f.calc.Now()
}

func (f *FSM) invalid(s *Session, to Step) error {
	if to == "" {
		return fmt.Errorf("%w: %s", ErrInvalidTransition, s.Step)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Step, to)
}
