package validation

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// FieldError is one failed struct-tag rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// Validator returns the process-wide validator, tagged by json names.
func Validator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return field.Name
			}
			return name
		})
	})
	return validate
}

// Struct validates v and flattens validator errors into FieldErrors.
func Struct(v any) []FieldError {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "", Rule: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	return out
}

// Message renders field errors as "field: rule; field: rule".
func Message(errs []FieldError) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		if fe.Field == "" {
			parts = append(parts, fe.Rule)
			continue
		}
		parts = append(parts, fe.Field+": "+fe.Rule)
	}
	return strings.Join(parts, "; ")
}
