package submission

import (
	"context"
	"time"
)

// Patch carries the fields a transition may set alongside the status change.
// Nil fields are left untouched.
type Patch struct {
	ExchangeRef   *string
	PollToken     *string
	LastError     *string
	IsCancelled   *bool
	TransmittedAt *time.Time
}

// Store is the persistence contract for submissions. CompareAndTransition is
// the only mutation path used by the lifecycle orchestrator once a record has
// left draft; it must reject with ConflictError when the stored status no
// longer matches expected.
type Store interface {
	Create(ctx context.Context, sub *Submission) error
	Load(ctx context.Context, id string) (*Submission, error)

	// Update replaces the editable fields of a draft/error record in place.
	// Implementations enforce the status predicate themselves and return a
	// GuardViolation if the record left draft/error since the caller checked.
	Update(ctx context.Context, sub *Submission) error

	// Delete removes a draft record. Implementations enforce the draft-only
	// predicate and return a GuardViolation for anything already transmitted.
	Delete(ctx context.Context, id string) error

	CompareAndTransition(ctx context.Context, id string, expected, next Status, patch Patch) (*Submission, error)

	// ListByStatus returns up to limit submissions in the given status,
	// oldest first. Used by the poll worker to sweep queued submissions.
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Submission, error)
}

// StrPtr is a convenience for building patches.
func StrPtr(s string) *string { return &s }

// BoolPtr is a convenience for building patches.
func BoolPtr(b bool) *bool { return &b }

// TimePtr is a convenience for building patches.
func TimePtr(t time.Time) *time.Time { return &t }
