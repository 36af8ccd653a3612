package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator validates inbound frame payloads and request bodies.
type Validator struct {
	cli *validator.Validate
}

// FieldError is a single failed constraint.
type FieldError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
}

// Errors is returned by Struct when one or more fields fail.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Field+" failed "+fe.Tag)
	}
	return "invalid payload: " + strings.Join(parts, ", ")
}

func (v *Validator) format(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(Errors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Tag: fe.Tag()})
	}
	return out
}

// Struct validates s and returns Errors, or nil when valid.
func (v *Validator) Struct(s interface{}) error {
	if err := v.cli.Struct(s); err != nil {
		return v.format(err)
	}
	return nil
}

// Var checks a single value against tag.
func (v *Validator) Var(value interface{}, tag string) error {
	if err := v.cli.Var(value, tag); err != nil {
		return v.format(err)
	}
	return nil
}

// New returns a validator that reports json field names.
func New() *Validator {
	cli := validator.New(validator.WithRequiredStructEnabled())
	cli.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{cli: cli}
}
