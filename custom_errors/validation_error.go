package custom_errors

import (
	"errors"
	"fmt"
)

// FieldError describes why a single input field was rejected.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f FieldError) Error() string {
	if f.Field == "" {
		return f.Message
	}
	return fmt.Sprintf("%s: %s", f.Field, f.Message)
}

type ValidationError struct {
	Errors []error `json:"-"`
}

func (c *ValidationError) Add(err error) {
	c.Errors = append(c.Errors, err)
}

func (c *ValidationError) AddField(field, message string) {
	c.Add(FieldError{Field: field, Message: message})
}

func (c *ValidationError) HasError() bool {
	return len(c.Errors) > 0
}

// Fields returns the field-level errors, wrapping non-field errors with an empty field name.
func (c *ValidationError) Fields() []FieldError {
	out := make([]FieldError, 0, len(c.Errors))
	for _, err := range c.Errors {
		var fe FieldError
		if errors.As(err, &fe) {
			out = append(out, fe)
			continue
		}
		out = append(out, FieldError{Message: err.Error()})
	}
	return out
}

func (c *ValidationError) Error() string {
	if len(c.Errors) == 0 {
		return ""
	}
	return fmt.Sprintf("%v", errors.Join(c.Errors...))
}
