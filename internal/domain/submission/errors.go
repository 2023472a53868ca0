package submission

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates no submission exists with the requested id.
var ErrNotFound = errors.New("submission not found")

// FieldError is a structural, field-scoped validation error from the
// bundle builder. User-correctable; never transitions state.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates field errors from a build.
type ValidationErrors []FieldError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// GuardViolation rejects a command that is illegal in the current state.
type GuardViolation struct {
	Command string
	Status  Status
	Reason  string
}

func (e *GuardViolation) Error() string {
	return fmt.Sprintf("cannot %s a %s submission: %s", e.Command, e.Status, e.Reason)
}

// ConflictError signals a lost compare-and-transition race. The caller must
// reload the current record and retry or abort.
type ConflictError struct {
	ID       string
	Expected Status
	Actual   Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("submission %s: expected status %s, found %s", e.ID, e.Expected, e.Actual)
}

// IsConflict reports whether err is a compare-and-transition conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsGuardViolation reports whether err is a rejected command.
func IsGuardViolation(err error) bool {
	var gv *GuardViolation
	return errors.As(err, &gv)
}
