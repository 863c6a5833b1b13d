package strapi

import (
	"fmt"
	"strings"
)

// InvalidFieldError means a raw value disagrees with the declared schema.
type InvalidFieldError struct {
	Field    string
	Expected string
	Raw      any
	Err      error
}

func (e *InvalidFieldError) Error() string {
	msg := fmt.Sprintf("invalid field %q: expected %s, got %T(%v)", e.Field, e.Expected, e.Raw, e.Raw)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidFieldError) Unwrap() error {
	return e.Err
}

// PersistError is a non-success response from the backend.
type PersistError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *PersistError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 500 {
		body = body[:500] + "..."
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, body)
}

// PreconditionError is local misuse, ex. updating a record that was never created.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// AmbiguousResultError means a filter expected to match at most one record
// matched several, the duplicates have to be resolved by hand.
type AmbiguousResultError struct {
	Entity  string
	Filters []Filter
	Count   int
}

func (e *AmbiguousResultError) Error() string {
	parts := make([]string, len(e.Filters))
	for i, f := range e.Filters {
		parts[i] = fmt.Sprintf("%s=%s", f.Field, f.Value)
	}
	return fmt.Sprintf(
		"%s: %d records match {%s}, expected at most one",
		e.Entity, e.Count, strings.Join(parts, ", "),
	)
}
