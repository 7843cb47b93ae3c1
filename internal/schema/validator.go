// Package schema validates structured payloads (voice signatures, outgoing
// events) against the struct tags declared on their types.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Validator struct {
	validate *validator.Validate
}

var std = New()

func New() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate checks v against its `validate` struct tags. The returned error
// lists every failing field.
func (v *Validator) Validate(event any) error {
	err := v.validate.Struct(event)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("schema violation: %s", strings.Join(fields, ", "))
}

// Validate uses the package-level validator.
func Validate(v any) error {
	return std.Validate(v)
}
