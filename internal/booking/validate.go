package booking

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"slotdesk/internal/schedule"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type qualificationFields struct {
	ImpactLevel ImpactLevel `json:"impact_level" validate:"required,oneof=high medium uncertain"`
}

type budgetFields struct {
	BudgetTier BudgetTier `json:"budget_tier" validate:"required,oneof=under_5k 5k_20k over_20k"`
}

// ValidateStep checks only the fields owned by step.
func ValidateStep(step Step, d Draft) error {
	fields := map[string]string{}

	switch step {
	case StepSelectDate:
		if d.Date == "" {
			fields["date"] = "is required"
		}
	case StepSelectTime:
		if d.Slot == nil {
			fields["time"] = "is required"
		} else if d.Slot.Date != d.Date {
			fields["time"] = "does not belong to the selected date"
		}
	case StepContactDetails:
		collect(fields, validate.Struct(d.Contact))
	case StepQualification:
		collect(fields, validate.Struct(qualificationFields{ImpactLevel: d.ImpactLevel}))
	case StepBudget:
		collect(fields, validate.Struct(budgetFields{BudgetTier: d.BudgetTier}))
	default:
		return fmt.Errorf("%w: %s has no fields", ErrInvalidTransition, step)
	}

	if len(fields) > 0 {
		return &ValidationError{Step: step, Fields: fields}
	}
	return nil
}

// ValidateThrough checks every step up to and including last.
func ValidateThrough(last Step, d Draft) error {
	end := stepIndex(last)
	if end < 0 {
		end = len(formOrder) - 1
	}
	for _, step := range formOrder[:end+1] {
		if err := ValidateStep(step, d); err != nil {
			return err
		}
	}
	return nil
}

// ValidateDraft checks the whole draft before submission.
func ValidateDraft(d Draft) error {
	return ValidateThrough(StepBudget, d)
}

// ParseImpactLevel accepts the wire value of an impact level.
func ParseImpactLevel(s string) ImpactLevel {
	return ImpactLevel(strings.ToLower(strings.TrimSpace(s)))
}

// ParseBudgetTier accepts the wire value of a budget tier.
func ParseBudgetTier(s string) BudgetTier {
	return BudgetTier(strings.ToLower(strings.TrimSpace(s)))
}

func collect(fields map[string]string, err error) {
	if err == nil {
		return
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		fields["_"] = err.Error()
		return
	}
	for _, fe := range verrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "email":
		return "must be a valid email address"
	case "http_url":
		return "must be an http or https URL"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}

func slotKey(slot *schedule.TimeSlot) string {
	if slot == nil {
		return ""
	}
	return slot.Key()
}
