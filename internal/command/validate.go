package command

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/llehouerou/jukebox/internal/queue"
)

// FieldError describes one failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validator checks commands and console requests.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a validator that reports JSON field names.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("queue", func(fl validator.FieldLevel) bool {
		s := queue.Source(fl.Field().Int())
		return s == queue.SourceActive || s == queue.SourcePriority
	})
	return &Validator{validate: v}
}

// Struct validates any tagged struct and returns its field errors.
func (v *Validator) Struct(i any) []FieldError {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Code: "INVALID", Message: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		var message string
		switch fe.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", fe.Field())
		case "min":
			message = fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
		case "max":
			message = fmt.Sprintf("%s must not exceed %s", fe.Field(), fe.Param())
		case "queue":
			message = fmt.Sprintf("%s must be active or priority", fe.Field())
		default:
			message = fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
		}
		out = append(out, FieldError{
			Field:   fe.Namespace(),
			Code:    strings.ToUpper(fe.Tag()),
			Message: message,
		})
	}
	return out
}

type envelope struct {
	ID             string `json:"id" validate:"required,max=128"`
	TargetPlayerID string `json:"target_player_id" validate:"required,max=128"`
	IssuedBy       string `json:"issued_by" validate:"max=128"`
}

// Validate checks c and its payload. Failures wrap ErrInvalid.
func (v *Validator) Validate(c Command) error {
	if c.Payload == nil {
		return fmt.Errorf("%w: missing payload", ErrInvalid)
	}
	if c.Payload.Type() != c.Type {
		return fmt.Errorf("%w: payload %s does not match type %s", ErrInvalid, c.Payload.Type(), c.Type)
	}
	if c.IssuedAt.IsZero() {
		return fmt.Errorf("%w: issued_at is required", ErrInvalid)
	}
	errs := v.Struct(envelope{ID: c.ID, TargetPlayerID: c.TargetPlayerID, IssuedBy: c.IssuedBy})
	errs = append(errs, v.Struct(c.Payload)...)
	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Message
		}
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
	}
	return nil
}
