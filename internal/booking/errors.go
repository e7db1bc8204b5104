package booking

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrInvalidTransition     = errors.New("transition not allowed from current step")
	ErrAvailabilityUnknown   = errors.New("availability unknown")
	ErrDayNotSelectable      = errors.New("day is not selectable")
	ErrSlotNotFree           = errors.New("slot is not free")
	ErrSlotNoLongerAvailable = errors.New("slot no longer available")
	ErrSubmissionInFlight    = errors.New("submission already in flight")
	ErrDuplicateBooking      = errors.New("booking already exists for this email and slot")
)

// ValidationError lists the fields of the current step that failed their constraints.
type ValidationError struct {
	Step   Step
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("validation failed on %s: %s", e.Step, strings.Join(names, ", "))
}

// SubmitError reports a failed booking submission. The draft is kept so the user can retry.
type SubmitError struct {
	Cause string
	Err   error
}

func (e *SubmitError) Error() string {
	if e.Err == nil {
		return "booking submission failed: " + e.Cause
	}
	return fmt.Sprintf("booking submission failed: %s: %v", e.Cause, e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// AttributionError reports a failed referral record. It never reaches the user.
type AttributionError struct {
	Code string
	Err  error
}

func (e *AttributionError) Error() string {
	return fmt.Sprintf("referral attribution for %q failed: %v", e.Code, e.Err)
}

func (e *AttributionError) Unwrap() error {
	return e.Err
}
