package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once sync.Once
	v    *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		v = validator.New(validator.WithRequiredStructEnabled())
		// Report json field names so messages match what callers sent.
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
	})
	return v
}

// FieldError is one failed rule.
type FieldError struct {
	Field string
	Rule  string
}

// Error collects every failed rule of one struct.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, describe(f))
	}
	return strings.Join(parts, "; ")
}

// Struct validates s against its `validate` tags.
func Struct(s any) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err
	}
	out := &Error{}
	for _, fe := range ves {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	return out
}

func describe(f FieldError) string {
	switch f.Rule {
	case "required":
		return fmt.Sprintf("%s is required", f.Field)
	case "email":
		return fmt.Sprintf("%s must be a valid email", f.Field)
	case "oneof":
		return fmt.Sprintf("%s has an unsupported value", f.Field)
	case "gte", "gt", "min":
		return fmt.Sprintf("%s is too small", f.Field)
	case "lte", "lt", "max":
		return fmt.Sprintf("%s is too large", f.Field)
	default:
		return fmt.Sprintf("%s is invalid", f.Field)
	}
}
