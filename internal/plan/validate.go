package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validation errors.
var (
	// ErrInvalidPlan indicates a plan failed shape validation.
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrInvalidOperation indicates an operation failed shape validation.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrInvalidEnvelope indicates an envelope failed shape validation.
	ErrInvalidEnvelope = errors.New("invalid envelope")
)

// planValidate is the shared validator instance for plan types.
var planValidate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the plan shape: a non-empty id and well-formed operations.
func (p *PatchPlan) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: plan is required", ErrInvalidPlan)
	}
	if err := planValidate.Var(strings.TrimSpace(p.ID), "required"); err != nil {
		return fmt.Errorf("%w: id is required", ErrInvalidPlan)
	}
	for i, op := range p.Operations {
		if op == nil {
			return fmt.Errorf("%w: operation %d is null", ErrInvalidPlan, i)
		}
		if err := ValidateShape(op); err != nil {
			return fmt.Errorf("%w: operation %d: %v", ErrInvalidPlan, i, err)
		}
	}
	return nil
}

// ValidateShape checks struct-level constraints of a single operation:
// required fields, known strategy and enumerated values.
func ValidateShape(op Operation) error {
	if err := planValidate.Struct(op); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidOperation, describe(err))
	}
	if s := op.Common().Strategy; !s.Known() {
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidOperation, s)
	}
	return nil
}

// Validate checks the envelope scope limits.
func (e *TaskEnvelope) Validate() error {
	if e == nil {
		return nil
	}
	if err := planValidate.Struct(e.Scope); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidEnvelope, describe(err))
	}
	return nil
}

// describe flattens validator errors into a single readable message.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := lowerFirst(fe.Field())
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		}
	}
	return strings.Join(parts, "; ")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
