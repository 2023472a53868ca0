// Package lifecycle implements the submission lifecycle state machine.
//
// The orchestrator validates command legality against the current status,
// invokes the bundle builder and exchange client, and advances the store
// through its compare-and-transition primitive. Guard failures are typed
// rejections and never mutate state; transport failures leave the prior
// state with the error recorded so the caller can retry the same command.
package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xactasolutionsai/nphies-sub011/internal/domain/submission"
	fhir "github.com/xactasolutionsai/nphies-sub011/internal/fhir/r4"
	"github.com/xactasolutionsai/nphies-sub011/internal/nphies/bundle"
	"github.com/xactasolutionsai/nphies-sub011/internal/nphies/client"
	"github.com/xactasolutionsai/nphies-sub011/internal/observability/metrics"
)

// ExchangeClient is the outbound contract to the clearinghouse.
type ExchangeClient interface {
	Submit(ctx context.Context, bundle *fhir.Bundle) (*client.SubmitResult, error)
	Poll(ctx context.Context, token string) (*client.PollResult, error)
	CancelRequest(ctx context.Context, reference, reason string) error
}

// Orchestrator drives submissions through their lifecycle.
type Orchestrator struct {
	store    submission.Store
	builder  *bundle.Builder
	exchange ExchangeClient
	metrics  *metrics.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer

	// newID is swappable in tests.
	newID func() string
}

// New creates an orchestrator.
func New(store submission.Store, builder *bundle.Builder, exchange ExchangeClient, m *metrics.Metrics, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:    store,
		builder:  builder,
		exchange: exchange,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("lifecycle"),
		newID:    func() string { return uuid.New().String() },
	}
}

// DraftInput carries the editable fields of a submission.
type DraftInput struct {
	DocType        submission.DocType
	Kind           submission.Kind
	Priority       string
	Currency       string
	EncounterClass string

	PatientID  string
	ProviderID string
	InsurerID  string

	Items          []submission.Item
	Diagnoses      []submission.Diagnosis
	SupportingInfo []submission.SupportingInfo
	Attachments    []submission.Attachment
}

// CreateDraft creates a new draft submission from user input.
func (o *Orchestrator) CreateDraft(ctx context.Context, in DraftInput) (*submission.Submission, error) {
	ctx, span := o.tracer.Start(ctx, "create_draft")
	defer span.End()

	sub := submission.New(o.newID(), in.DocType, in.Kind)
	applyInput(sub, in)
	sub.NormalizeSequences()

	if err := o.store.Create(ctx, sub); err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.DraftsCreated.Inc()
	}
	span.SetAttributes(attribute.String("submission_id", sub.ID))
	o.logger.Info("draft created",
		zap.String("id", sub.ID),
		zap.String("doc_type", string(sub.DocType)),
		zap.String("kind", string(sub.Kind)))
	return sub, nil
}

// Get loads a submission by id.
func (o *Orchestrator) Get(ctx context.Context, id string) (*submission.Submission, error) {
	return o.store.Load(ctx, id)
}

// Edit updates the editable fields of a draft or error submission in place.
func (o *Orchestrator) Edit(ctx context.Context, id string, in DraftInput) (*submission.Submission, error) {
	sub, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sub.Editable() {
		return nil, &submission.GuardViolation{
			Command: "edit", Status: sub.Status,
			Reason: "only draft or error submissions can be edited",
		}
	}

	applyInput(sub, in)
	sub.NormalizeSequences()
	if err := o.store.Update(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// DeleteDraft removes a submission that never left draft. Records that have
// been transmitted are retained for audit continuity with the exchange.
func (o *Orchestrator) DeleteDraft(ctx context.Context, id string) error {
	sub, err := o.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if sub.Status != submission.StatusDraft {
		return &submission.GuardViolation{
			Command: "delete", Status: sub.Status,
			Reason: "only draft submissions can be deleted",
		}
	}
	return o.store.Delete(ctx, id)
}

// Preview builds the bundle for an unsaved submission snapshot. Pure: no
// store access, no state change.
func (o *Orchestrator) Preview(sub *submission.Submission) (*fhir.Bundle, submission.ValidationErrors) {
	return o.builder.Build(sub)
}

// PreviewDraft builds the bundle for raw form input that was never stored.
func (o *Orchestrator) PreviewDraft(in DraftInput) (*fhir.Bundle, submission.ValidationErrors) {
	sub := submission.New(o.newID(), in.DocType, in.Kind)
	applyInput(sub, in)
	sub.NormalizeSequences()
	return o.builder.Build(sub)
}

// Bundle builds the bundle for a stored submission.
func (o *Orchestrator) Bundle(ctx context.Context, id string) (*fhir.Bundle, submission.ValidationErrors, error) {
	sub, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	doc, errs := o.builder.Build(sub)
	return doc, errs, nil
}

// Send builds and transmits a draft or error submission. The transition to
// pending claims the send before any wire call, so concurrent sends on the
// same submission resolve to exactly one transmission.
func (o *Orchestrator) Send(ctx context.Context, id string) (*submission.Submission, error) {
	ctx, span := o.tracer.Start(ctx, "send",
		trace.WithAttributes(attribute.String("submission_id", id)))
	defer span.End()

	sub, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sub.Editable() {
		return nil, &submission.GuardViolation{
			Command: "send", Status: sub.Status,
			Reason: "only draft or error submissions can be sent",
		}
	}
	prior := sub.Status

	doc, buildErrs := o.builder.Build(sub)
	if len(buildErrs) > 0 {
		return nil, buildErrs
	}

	// Claim the send. A concurrent send loses here with ConflictError
	// before anything reaches the wire.
	sub, err = o.store.CompareAndTransition(ctx, id, prior, submission.StatusPending, submission.Patch{})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := o.exchange.Submit(ctx, doc)
	o.observeExchange(start)
	if err != nil {
		return o.recordSendFailure(ctx, id, prior, err)
	}

	now := time.Now().UTC()
	var patch submission.Patch
	var next submission.Status
	if result.Queued != nil {
		next = submission.StatusQueued
		patch = submission.Patch{
			ExchangeRef:   submission.StrPtr(result.Queued.Reference),
			PollToken:     submission.StrPtr(result.Queued.Token),
			LastError:     submission.StrPtr(""),
			TransmittedAt: submission.TimePtr(now),
		}
	} else {
		next = statusFor(result.Outcome.Decision)
		patch = submission.Patch{
			ExchangeRef:   submission.StrPtr(result.Outcome.Reference),
			LastError:     submission.StrPtr(""),
			TransmittedAt: submission.TimePtr(now),
		}
	}

	sub, err = o.store.CompareAndTransition(ctx, id, submission.StatusPending, next, patch)
	if err != nil {
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.SubmissionsSent.Inc()
		if sub.Resolved() {
			o.metrics.SubmissionsResolved.Inc()
		}
	}
	o.logger.Info("submission transmitted",
		zap.String("id", id),
		zap.String("status", string(sub.Status)),
		zap.String("exchange_ref", sub.ExchangeRef))
	return sub, nil
}

// Poll queries the exchange for the result of a queued submission. Idempotent;
// a still-pending result leaves the submission queued.
func (o *Orchestrator) Poll(ctx context.Context, id string) (*submission.Submission, error) {
	ctx, span := o.tracer.Start(ctx, "poll",
		trace.WithAttributes(attribute.String("submission_id", id)))
	defer span.End()

	sub, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sub.CanPoll() {
		return nil, &submission.GuardViolation{
			Command: "poll", Status: sub.Status,
			Reason: "only queued submissions with a polling token can be polled",
		}
	}

	start := time.Now()
	result, err := o.exchange.Poll(ctx, sub.PollToken)
	o.observeExchange(start)
	if err != nil {
		return o.recordFailure(ctx, id, submission.StatusQueued, err)
	}
	if o.metrics != nil {
		o.metrics.PollsIssued.Inc()
	}

	if result.StillPending {
		return sub, nil
	}

	sub, err = o.store.CompareAndTransition(ctx, id, submission.StatusQueued,
		statusFor(result.Outcome.Decision), submission.Patch{
			ExchangeRef: submission.StrPtr(result.Outcome.Reference),
			LastError:   submission.StrPtr(""),
		})
	if err != nil {
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.SubmissionsResolved.Inc()
	}
	o.logger.Info("queued submission resolved",
		zap.String("id", id),
		zap.String("status", string(sub.Status)),
		zap.String("exchange_ref", sub.ExchangeRef))
	return sub, nil
}

// Cancel requests cancellation of a resolved submission. The record is
// flagged and kept, never deleted.
func (o *Orchestrator) Cancel(ctx context.Context, id, reason string) (*submission.Submission, error) {
	ctx, span := o.tracer.Start(ctx, "cancel",
		trace.WithAttributes(attribute.String("submission_id", id)))
	defer span.End()

	sub, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sub.CanCancel() {
		reasonText := "only approved, partial or denied submissions can be cancelled"
		if sub.IsCancelled {
			reasonText = "submission is already cancelled"
		}
		return nil, &submission.GuardViolation{Command: "cancel", Status: sub.Status, Reason: reasonText}
	}
	prior := sub.Status

	start := time.Now()
	err = o.exchange.CancelRequest(ctx, sub.ExchangeRef, reason)
	o.observeExchange(start)
	if err != nil {
		return o.recordFailure(ctx, id, prior, err)
	}

	sub, err = o.store.CompareAndTransition(ctx, id, prior, submission.StatusCancelled, submission.Patch{
		IsCancelled: submission.BoolPtr(true),
		LastError:   submission.StrPtr(""),
	})
	if err != nil {
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.SubmissionsCancelled.Inc()
	}
	o.logger.Info("submission cancelled", zap.String("id", id), zap.String("reason", reason))
	return sub, nil
}

// Transfer re-addresses a resolved authorization to a different provider by
// creating a new linked draft. The original record is untouched.
func (o *Orchestrator) Transfer(ctx context.Context, id, targetProviderID, reason string) (*submission.Submission, error) {
	sub, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sub.Resolved() {
		return nil, &submission.GuardViolation{
			Command: "transfer", Status: sub.Status,
			Reason: "only approved, partial or denied submissions can be transferred",
		}
	}
	if targetProviderID == "" || targetProviderID == sub.ProviderID {
		return nil, &submission.GuardViolation{
			Command: "transfer", Status: sub.Status,
			Reason: "target provider must differ from the current provider",
		}
	}

	draft := o.deriveDraft(sub, sub.DocType)
	draft.ProviderID = targetProviderID
	draft.TransferProviderID = targetProviderID

	if err := o.store.Create(ctx, draft); err != nil {
		return nil, err
	}
	o.logger.Info("transfer draft created",
		zap.String("parent_id", id),
		zap.String("id", draft.ID),
		zap.String("target_provider", targetProviderID),
		zap.String("reason", reason))
	return draft, nil
}

// Amend creates a new linked draft that supersedes a resolved submission.
func (o *Orchestrator) Amend(ctx context.Context, id string, in *DraftInput) (*submission.Submission, error) {
	sub, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sub.Resolved() {
		return nil, &submission.GuardViolation{
			Command: "amend", Status: sub.Status,
			Reason: "only approved, partial or denied submissions can be amended",
		}
	}

	draft := o.deriveDraft(sub, sub.DocType)
	draft.IsUpdate = true
	if in != nil {
		applyInput(draft, *in)
		draft.NormalizeSequences()
	}

	if err := o.store.Create(ctx, draft); err != nil {
		return nil, err
	}
	o.logger.Info("amendment draft created",
		zap.String("parent_id", id),
		zap.String("id", draft.ID))
	return draft, nil
}

// CreateFromAuthorization creates a claim draft from an approved prior
// authorization, copying its payload forward. The authorization itself does
// not transition.
func (o *Orchestrator) CreateFromAuthorization(ctx context.Context, authorizationID string) (*submission.Submission, error) {
	parent, err := o.store.Load(ctx, authorizationID)
	if err != nil {
		return nil, err
	}
	if parent.DocType != submission.DocAuthorization {
		return nil, &submission.GuardViolation{
			Command: "create-claim", Status: parent.Status,
			Reason: "parent must be a prior authorization",
		}
	}
	if parent.Status != submission.StatusApproved {
		return nil, &submission.GuardViolation{
			Command: "create-claim", Status: parent.Status,
			Reason: "parent authorization must be approved",
		}
	}

	draft := o.deriveDraft(parent, submission.DocClaim)
	if err := o.store.Create(ctx, draft); err != nil {
		return nil, err
	}
	o.logger.Info("claim draft created from authorization",
		zap.String("authorization_id", authorizationID),
		zap.String("id", draft.ID))
	return draft, nil
}

// deriveDraft builds a new linked draft pre-filled from a parent submission.
func (o *Orchestrator) deriveDraft(parent *submission.Submission, docType submission.DocType) *submission.Submission {
	draft := submission.New(o.newID(), docType, parent.Kind)
	draft.ParentID = parent.ID
	draft.Priority = parent.Priority
	draft.Currency = parent.Currency
	draft.EncounterClass = parent.EncounterClass
	draft.PatientID = parent.PatientID
	draft.ProviderID = parent.ProviderID
	draft.InsurerID = parent.InsurerID
	draft.Items, draft.Diagnoses, draft.SupportingInfo, draft.Attachments = parent.ClonePayload()
	return draft
}

func (o *Orchestrator) observeExchange(start time.Time) {
	if o.metrics != nil {
		o.metrics.ExchangeDuration.Observe(time.Since(start).Seconds())
	}
}

// recordSendFailure reverts a claimed send to its prior status, annotating
// the error. Transport failures keep the prior state for retry; document
// rejections land in error, which is editable.
func (o *Orchestrator) recordSendFailure(ctx context.Context, id string, prior submission.Status, cause error) (*submission.Submission, error) {
	next := prior
	if client.IsRejected(cause) {
		next = submission.StatusError
	}
	if o.metrics != nil {
		o.metrics.SubmissionsFailed.Inc()
	}
	_, casErr := o.store.CompareAndTransition(ctx, id, submission.StatusPending, next, submission.Patch{
		LastError: submission.StrPtr(cause.Error()),
	})
	if casErr != nil {
		o.logger.Error("failed to record send failure",
			zap.String("id", id), zap.Error(casErr), zap.NamedError("cause", cause))
	}
	return nil, cause
}

// recordFailure annotates a failed poll/cancel without changing status.
func (o *Orchestrator) recordFailure(ctx context.Context, id string, current submission.Status, cause error) (*submission.Submission, error) {
	if o.metrics != nil {
		o.metrics.SubmissionsFailed.Inc()
	}
	_, casErr := o.store.CompareAndTransition(ctx, id, current, current, submission.Patch{
		LastError: submission.StrPtr(cause.Error()),
	})
	if casErr != nil {
		o.logger.Error("failed to record command failure",
			zap.String("id", id), zap.Error(casErr), zap.NamedError("cause", cause))
	}
	return nil, cause
}

func statusFor(d client.Decision) submission.Status {
	switch d {
	case client.DecisionApproved:
		return submission.StatusApproved
	case client.DecisionPartial:
		return submission.StatusPartial
	default:
		return submission.StatusDenied
	}
}

func applyInput(sub *submission.Submission, in DraftInput) {
	if in.DocType != "" {
		sub.DocType = in.DocType
	}
	if in.Kind != "" {
		sub.Kind = in.Kind
	}
	if in.Priority != "" {
		sub.Priority = in.Priority
	}
	if in.Currency != "" {
		sub.Currency = in.Currency
	}
	if in.EncounterClass != "" {
		sub.EncounterClass = in.EncounterClass
	}
	if in.PatientID != "" {
		sub.PatientID = in.PatientID
	}
	if in.ProviderID != "" {
		sub.ProviderID = in.ProviderID
	}
	if in.InsurerID != "" {
		sub.InsurerID = in.InsurerID
	}
	if in.Items != nil {
		sub.Items = in.Items
	}
	if in.Diagnoses != nil {
		sub.Diagnoses = in.Diagnoses
	}
	if in.SupportingInfo != nil {
		sub.SupportingInfo = in.SupportingInfo
	}
	if in.Attachments != nil {
		sub.Attachments = in.Attachments
	}
}
