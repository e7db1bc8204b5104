// Package booking implements the multi-step booking form and its one-shot submission.
package booking

import (
	"strings"
	"time"

	"slotdesk/internal/calendar"
	"slotdesk/internal/schedule"
)

// Step is the current position of a session in the booking form.
type Step string

const (
	StepSelectDate     Step = "select_date"
	StepSelectTime     Step = "select_time"
	StepContactDetails Step = "contact_details"
	StepQualification  Step = "qualification"
	StepBudget         Step = "budget"
	StepSubmitting     Step = "submitting"
	StepConfirmed      Step = "confirmed"
)

// formOrder lists the data-entry steps in forward order.
var formOrder = []Step{
	StepSelectDate,
	StepSelectTime,
	StepContactDetails,
	StepQualification,
	StepBudget,
}

func stepIndex(s Step) int {
	for i, step := range formOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// Direction records how the session arrived at its current step.
type Direction string

const (
	DirectionForward Direction = "forward"
	DirectionBack    Direction = "back"
)

// ImpactLevel is the qualification answer.
type ImpactLevel string

const (
	ImpactHigh      ImpactLevel = "high"
	ImpactMedium    ImpactLevel = "medium"
	ImpactUncertain ImpactLevel = "uncertain"
)

// BudgetTier is the budget bracket.
type BudgetTier string

const (
	BudgetUnder5k BudgetTier = "under_5k"
	Budget5kTo20k BudgetTier = "5k_20k"
	BudgetOver20k BudgetTier = "over_20k"
)

// Contact holds the contact and organization identity of the person booking.
type Contact struct {
	FullName       string `json:"full_name" validate:"required,min=2"`
	Phone          string `json:"phone" validate:"required,min=10"`
	Email          string `json:"email" validate:"required,email"`
	CompanyName    string `json:"company_name" validate:"required,min=2"`
	CompanyWebsite string `json:"company_website,omitempty" validate:"omitempty,http_url"`
}

// Normalize trims surrounding whitespace from every field.
func (c Contact) Normalize() Contact {
	return Contact{
		FullName:       strings.TrimSpace(c.FullName),
		Phone:          strings.TrimSpace(c.Phone),
		Email:          strings.TrimSpace(c.Email),
		CompanyName:    strings.TrimSpace(c.CompanyName),
		CompanyWebsite: strings.TrimSpace(c.CompanyWebsite),
	}
}

// Draft accumulates the answers collected across the form steps.
type Draft struct {
	Date        string             `json:"date,omitempty"`
	Slot        *schedule.TimeSlot `json:"slot,omitempty"`
	Contact     Contact            `json:"contact"`
	ImpactLevel ImpactLevel        `json:"impact_level,omitempty"`
	BudgetTier  BudgetTier         `json:"budget_tier,omitempty"`
}

// Booking is the immutable record of a successful submission.
type Booking struct {
	ID                string            `json:"id"`
	Slot              schedule.TimeSlot `json:"slot"`
	Contact           Contact           `json:"contact"`
	ImpactLevel       ImpactLevel       `json:"impact_level"`
	BudgetTier        BudgetTier        `json:"budget_tier"`
	ReferralCode      string            `json:"referral_code,omitempty"`
	CalendarReference string            `json:"calendar_reference,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// DedupKey identifies a booking for duplicate detection.
func (b Booking) DedupKey() string {
	return DedupKey(b.Contact.Email, b.Slot.Date, b.Slot.Start)
}

// DedupKey builds the (email, date, start) identity of a booking.
func DedupKey(email, date, start string) string {
	return strings.ToLower(strings.TrimSpace(email)) + "|" + date + "|" + start
}

// Confirmation is handed to the caller after a successful submission.
type Confirmation struct {
	BookingID         string `json:"booking_id"`
	Date              string `json:"date"`
	Time              string `json:"time"`
	CalendarReference string `json:"calendar_reference,omitempty"`
}

// Session is one user's walk through the booking form.
type Session struct {
	ID           string             `json:"id"`
	Step         Step               `json:"step"`
	Direction    Direction          `json:"direction"`
	Draft        Draft              `json:"draft"`
	Errors       map[string]string  `json:"errors,omitempty"`
	Offer        *calendar.Snapshot `json:"offer,omitempty"`
	Referral     string             `json:"referral,omitempty"`
	Confirmation *Confirmation      `json:"confirmation,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// NewSession creates a session on the first step.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Step:      StepSelectDate,
		Direction: DirectionForward,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// IsExpired checks if the session has been idle longer than timeout.
func (s *Session) IsExpired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.UpdatedAt) > timeout
}

// AvailabilityKnown reports whether the session holds a completed busy-interval fetch.
func (s *Session) AvailabilityKnown() bool {
	return s.Offer != nil
}

func (s *Session) setStep(step Step, dir Direction, now time.Time) {
	s.Step = step
	s.Direction = dir
	s.UpdatedAt = now
}

func (s *Session) clearErrors() {
	s.Errors = nil
}

func (s *Session) setErrors(fields map[string]string) {
	s.Errors = make(map[string]string, len(fields))
	for k, v := range fields {
		s.Errors[k] = v
	}
}
