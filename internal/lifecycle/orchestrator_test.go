package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xactasolutionsai/nphies-sub011/internal/domain/submission"
	fhir "github.com/xactasolutionsai/nphies-sub011/internal/fhir/r4"
	"github.com/xactasolutionsai/nphies-sub011/internal/nphies/bundle"
	"github.com/xactasolutionsai/nphies-sub011/internal/nphies/client"
)

type fakeExchange struct {
	mu          sync.Mutex
	submitDelay time.Duration

	submitResult *client.SubmitResult
	submitErr    error
	pollResult   *client.PollResult
	pollErr      error
	cancelErr    error

	submitCalls int
	pollCalls   int
	cancelCalls int
}

func (f *fakeExchange) Submit(ctx context.Context, b *fhir.Bundle) (*client.SubmitResult, error) {
	f.mu.Lock()
	f.submitCalls++
	delay := f.submitDelay
	result, err := f.submitResult, f.submitErr
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return result, err
}

func (f *fakeExchange) Poll(ctx context.Context, token string) (*client.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls++
	return f.pollResult, f.pollErr
}

func (f *fakeExchange) CancelRequest(ctx context.Context, reference, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	return f.cancelErr
}

func (f *fakeExchange) calls() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls, f.pollCalls, f.cancelCalls
}

func queuedResult(token, ref string) *client.SubmitResult {
	return &client.SubmitResult{Queued: &client.Queued{Token: token, Reference: ref}}
}

func approvedResult(ref string) *client.SubmitResult {
	return &client.SubmitResult{Outcome: &client.Outcome{Decision: client.DecisionApproved, Reference: ref}}
}

func testOrchestrator(exchange *fakeExchange) (*Orchestrator, *submission.MemStore) {
	store := submission.NewMemStore()
	builder := bundle.NewBuilder(bundle.Config{
		SenderLicense:    "PR-10001",
		SourceEndpoint:   "http://provider.example.sa",
		ExchangeEndpoint: "http://nphies.sa/exchange",
	})
	return New(store, builder, exchange, nil, nil), store
}

func validInput() DraftInput {
	return DraftInput{
		DocType:    submission.DocAuthorization,
		Kind:       submission.KindProfessional,
		Currency:   "SAR",
		PatientID:  "pat-1",
		ProviderID: "prov-1",
		InsurerID:  "ins-1",
		Items: []submission.Item{
			{ServiceCode: "99213", Quantity: 1, UnitPrice: 150},
		},
		Diagnoses: []submission.Diagnosis{
			{Code: "E11.9", Type: submission.DiagnosisPrincipal},
		},
	}
}

func mustDraft(t *testing.T, orch *Orchestrator) *submission.Submission {
	t.Helper()
	sub, err := orch.CreateDraft(context.Background(), validInput())
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	return sub
}

func TestCreateDraftNormalizesSequences(t *testing.T) {
	orch, _ := testOrchestrator(&fakeExchange{})
	sub := mustDraft(t, orch)

	if sub.Status != submission.StatusDraft {
		t.Errorf("status = %s, want draft", sub.Status)
	}
	if sub.Items[0].Sequence != 1 || sub.Diagnoses[0].Sequence != 1 {
		t.Errorf("sequences not normalized: %+v %+v", sub.Items[0], sub.Diagnoses[0])
	}
}

func TestSendQueued(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{submitResult: queuedResult("tok-1", "ref-1")}
	orch, _ := testOrchestrator(exchange)
	sub := mustDraft(t, orch)

	got, err := orch.Send(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Status != submission.StatusQueued {
		t.Errorf("status = %s, want queued", got.Status)
	}
	if got.PollToken != "tok-1" || got.ExchangeRef != "ref-1" {
		t.Errorf("token/ref = %q/%q", got.PollToken, got.ExchangeRef)
	}
	if got.LastTransmittedAt == nil {
		t.Error("LastTransmittedAt not recorded")
	}
}

func TestSendSynchronousApproval(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{submitResult: approvedResult("PA-123")}
	orch, _ := testOrchestrator(exchange)
	sub := mustDraft(t, orch)

	got, err := orch.Send(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Status != submission.StatusApproved {
		t.Errorf("status = %s, want approved", got.Status)
	}
	if got.ExchangeRef != "PA-123" {
		t.Errorf("exchange ref = %q, want PA-123", got.ExchangeRef)
	}
}

func TestSendValidationFailureNeverReachesWire(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{submitResult: approvedResult("PA-1")}
	orch, store := testOrchestrator(exchange)

	in := validInput()
	in.Items = nil
	sub, err := orch.CreateDraft(ctx, in)
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}

	_, err = orch.Send(ctx, sub.ID)
	var verrs submission.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("error = %v, want ValidationErrors", err)
	}

	if submits, _, _ := exchange.calls(); submits != 0 {
		t.Errorf("submit calls = %d, want 0", submits)
	}
	reloaded, _ := store.Load(ctx, sub.ID)
	if reloaded.Status != submission.StatusDraft {
		t.Errorf("status = %s, want draft", reloaded.Status)
	}
}

func TestSendGuardOnQueued(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{submitResult: queuedResult("tok-1", "ref-1")}
	orch, _ := testOrchestrator(exchange)
	sub := mustDraft(t, orch)

	if _, err := orch.Send(ctx, sub.ID); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	_, err := orch.Send(ctx, sub.ID)
	if !submission.IsGuardViolation(err) {
		t.Errorf("error = %v, want GuardViolation", err)
	}
	if submits, _, _ := exchange.calls(); submits != 1 {
		t.Errorf("submit calls = %d, want 1", submits)
	}
}

func TestSendTransportFailureKeepsPriorState(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{submitErr: &client.TransportError{Op: "/submissions", Err: errors.New("connection refused")}}
	orch, store := testOrchestrator(exchange)
	sub := mustDraft(t, orch)

	_, err := orch.Send(ctx, sub.ID)
	if !client.IsTransport(err) {
		t.Fatalf("error = %v, want TransportError", err)
	}

	reloaded, _ := store.Load(ctx, sub.ID)
	if reloaded.Status != submission.StatusDraft {
		t.Errorf("status = %s, want draft after transport failure", reloaded.Status)
	}
	if reloaded.LastError == "" {
		t.Error("LastError not recorded")
	}

	// The same command retries cleanly once the exchange recovers.
	exchange.mu.Lock()
	exchange.submitErr = nil
	exchange.submitResult = queuedResult("tok-1", "ref-1")
	exchange.mu.Unlock()

	got, err := orch.Send(ctx, sub.ID)
	if err != nil {
		t.Fatalf("retry Send: %v", err)
	}
	if got.Status != submission.StatusQueued {
		t.Errorf("status = %s, want queued", got.Status)
	}
	if got.LastError != "" {
		t.Errorf("LastError = %q, want cleared", got.LastError)
	}
}

func TestSendRejectionMovesToError(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{submitErr: &client.RejectedError{StatusCode: 400, Messages: []string{"bad bundle"}}}
	orch, store := testOrchestrator(exchange)
	sub := mustDraft(t, orch)

	_, err := orch.Send(ctx, sub.ID)
	if !client.IsRejected(err) {
		t.Fatalf("error = %v, want RejectedError", err)
	}

	reloaded, _ := store.Load(ctx, sub.ID)
	if reloaded.Status != submission.StatusError {
		t.Errorf("status = %s, want error", reloaded.Status)
	}

	// Error submissions stay editable and resendable.
	if _, err := orch.Edit(ctx, sub.ID, validInput()); err != nil {
		t.Fatalf("Edit after rejection: %v", err)
	}
	exchange.mu.Lock()
	exchange.submitErr = nil
	exchange.submitResult = approvedResult("PA-5")
	exchange.mu.Unlock()
	got, err := orch.Send(ctx, sub.ID)
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if got.Status != submission.StatusApproved {
		t.Errorf("status = %s, want approved", got.Status)
	}
}

func TestConcurrentSendTransmitsOnce(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{
		submitResult: queuedResult("tok-1", "ref-1"),
		submitDelay:  20 * time.Millisecond,
	}
	orch, store := testOrchestrator(exchange)
	sub := mustDraft(t, orch)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := orch.Send(ctx, sub.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var failures []error
	for err := range errs {
		if err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) != 1 {
		t.Fatalf("failures = %v, want exactly one loser", failures)
	}
	if !submission.IsConflict(failures[0]) && !submission.IsGuardViolation(failures[0]) {
		t.Errorf("loser error = %v, want conflict or guard violation", failures[0])
	}

	if submits, _, _ := exchange.calls(); submits != 1 {
		t.Errorf("submit calls = %d, want exactly 1", submits)
	}
	reloaded, _ := store.Load(ctx, sub.ID)
	if reloaded.Status != submission.StatusQueued {
		t.Errorf("status = %s, want queued", reloaded.Status)
	}
}

func TestPollStillPendingIsNoOp(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{
		submitResult: queuedResult("tok-1", "ref-1"),
		pollResult:   &client.PollResult{StillPending: true},
	}
	orch, store := testOrchestrator(exchange)
	sub := mustDraft(t, orch)
	if _, err := orch.Send(ctx, sub.ID); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := orch.Poll(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got.Status != submission.StatusQueued {
		t.Errorf("status = %s, want queued", got.Status)
	}

	// Polling is repeatable.
	if _, err := orch.Poll(ctx, sub.ID); err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	reloaded, _ := store.Load(ctx, sub.ID)
	if reloaded.Status != submission.StatusQueued {
		t.Errorf("status = %s, want queued", reloaded.Status)
	}
}

func TestPollResolves(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{
		submitResult: queuedResult("tok-1", "ref-1"),
		pollResult: &client.PollResult{Outcome: &client.Outcome{
			Decision:  client.DecisionPartial,
			Reference: "PA-42",
		}},
	}
	orch, _ := testOrchestrator(exchange)
	sub := mustDraft(t, orch)
	if _, err := orch.Send(ctx, sub.ID); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := orch.Poll(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got.Status != submission.StatusPartial {
		t.Errorf("status = %s, want partial", got.Status)
	}
	if got.ExchangeRef != "PA-42" {
		t.Errorf("exchange ref = %q, want PA-42", got.ExchangeRef)
	}
}

func TestPollGuardOnDraft(t *testing.T) {
	orch, _ := testOrchestrator(&fakeExchange{})
	sub := mustDraft(t, orch)

	_, err := orch.Poll(context.Background(), sub.ID)
	if !submission.IsGuardViolation(err) {
		t.Errorf("error = %v, want GuardViolation", err)
	}
}

func TestCancelFlagsAndKeepsRecord(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{submitResult: approvedResult("PA-9")}
	orch, store := testOrchestrator(exchange)
	sub := mustDraft(t, orch)
	if _, err := orch.Send(ctx, sub.ID); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := orch.Cancel(ctx, sub.ID, "entered in error")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != submission.StatusCancelled || !got.IsCancelled {
		t.Errorf("status = %s cancelled = %v, want cancelled/true", got.Status, got.IsCancelled)
	}

	// The record survives for audit; a second cancel is rejected.
	if _, err := store.Load(ctx, sub.ID); err != nil {
		t.Fatalf("cancelled record must remain loadable: %v", err)
	}
	_, err = orch.Cancel(ctx, sub.ID, "again")
	if !submission.IsGuardViolation(err) {
		t.Errorf("second cancel error = %v, want GuardViolation", err)
	}
	if _, _, cancels := exchange.calls(); cancels != 1 {
		t.Errorf("cancel calls = %d, want 1", cancels)
	}
}

func TestCancelGuardOnDraft(t *testing.T) {
	orch, _ := testOrchestrator(&fakeExchange{})
	sub := mustDraft(t, orch)

	_, err := orch.Cancel(context.Background(), sub.ID, "")
	if !submission.IsGuardViolation(err) {
		t.Errorf("error = %v, want GuardViolation", err)
	}
}

func TestTransferCreatesLinkedDraft(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{submitResult: approvedResult("PA-9")}
	orch, store := testOrchestrator(exchange)
	sub := mustDraft(t, orch)
	if _, err := orch.Send(ctx, sub.ID); err != nil {
		t.Fatalf("Send: %v", err)
	}

	draft, err := orch.Transfer(ctx, sub.ID, "prov-2", "patient moved")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if draft.Status != submission.StatusDraft {
		t.Errorf("status = %s, want draft", draft.Status)
	}
	if draft.ParentID != sub.ID {
		t.Errorf("parent = %q, want %q", draft.ParentID, sub.ID)
	}
	if draft.ProviderID != "prov-2" || draft.TransferProviderID != "prov-2" {
		t.Errorf("provider = %q transfer = %q, want prov-2", draft.ProviderID, draft.TransferProviderID)
	}
	if len(draft.Items) != 1 || draft.Items[0].ServiceCode != "99213" {
		t.Errorf("payload not copied: %+v", draft.Items)
	}

	original, _ := store.Load(ctx, sub.ID)
	if original.Status != submission.StatusApproved || original.ProviderID != "prov-1" {
		t.Errorf("original mutated: %+v", original)
	}
}

func TestTransferRequiresDifferentProvider(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{submitResult: approvedResult("PA-9")}
	orch, _ := testOrchestrator(exchange)
	sub := mustDraft(t, orch)
	if _, err := orch.Send(ctx, sub.ID); err != nil {
		t.Fatalf("Send: %v", err)
	}

	_, err := orch.Transfer(ctx, sub.ID, "prov-1", "")
	if !submission.IsGuardViolation(err) {
		t.Errorf("error = %v, want GuardViolation", err)
	}
}

func TestAmendCreatesUpdateDraft(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{submitResult: approvedResult("PA-9")}
	orch, _ := testOrchestrator(exchange)
	sub := mustDraft(t, orch)
	if _, err := orch.Send(ctx, sub.ID); err != nil {
		t.Fatalf("Send: %v", err)
	}

	draft, err := orch.Amend(ctx, sub.ID, nil)
	if err != nil {
		t.Fatalf("Amend: %v", err)
	}
	if !draft.IsUpdate {
		t.Error("IsUpdate = false, want true")
	}
	if draft.ParentID != sub.ID || draft.Status != submission.StatusDraft {
		t.Errorf("draft = %+v, want linked draft", draft)
	}
}

func TestAmendGuardOnDraft(t *testing.T) {
	orch, _ := testOrchestrator(&fakeExchange{})
	sub := mustDraft(t, orch)

	_, err := orch.Amend(context.Background(), sub.ID, nil)
	if !submission.IsGuardViolation(err) {
		t.Errorf("error = %v, want GuardViolation", err)
	}
}

func TestCreateFromAuthorization(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{submitResult: approvedResult("PA-9")}
	orch, store := testOrchestrator(exchange)
	sub := mustDraft(t, orch)
	if _, err := orch.Send(ctx, sub.ID); err != nil {
		t.Fatalf("Send: %v", err)
	}

	claim, err := orch.CreateFromAuthorization(ctx, sub.ID)
	if err != nil {
		t.Fatalf("CreateFromAuthorization: %v", err)
	}
	if claim.DocType != submission.DocClaim {
		t.Errorf("doc type = %s, want claim", claim.DocType)
	}
	if claim.ParentID != sub.ID || claim.Status != submission.StatusDraft {
		t.Errorf("claim = %+v, want linked draft", claim)
	}
	if len(claim.Items) != 1 {
		t.Error("payload not copied from authorization")
	}

	parent, _ := store.Load(ctx, sub.ID)
	if parent.Status != submission.StatusApproved {
		t.Errorf("authorization status = %s, want approved unchanged", parent.Status)
	}
}

func TestCreateFromAuthorizationGuards(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{submitResult: approvedResult("C-1")}
	orch, _ := testOrchestrator(exchange)

	// Not yet approved.
	pending := mustDraft(t, orch)
	if _, err := orch.CreateFromAuthorization(ctx, pending.ID); !submission.IsGuardViolation(err) {
		t.Errorf("error = %v, want GuardViolation for unapproved parent", err)
	}

	// Wrong document kind.
	in := validInput()
	in.DocType = submission.DocClaim
	claimSub, err := orch.CreateDraft(ctx, in)
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	if _, err := orch.Send(ctx, claimSub.ID); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := orch.CreateFromAuthorization(ctx, claimSub.ID); !submission.IsGuardViolation(err) {
		t.Errorf("error = %v, want GuardViolation for claim parent", err)
	}
}

func TestEditGuardAfterSend(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{submitResult: queuedResult("tok-1", "ref-1")}
	orch, _ := testOrchestrator(exchange)
	sub := mustDraft(t, orch)
	if _, err := orch.Send(ctx, sub.ID); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if _, err := orch.Edit(ctx, sub.ID, validInput()); !submission.IsGuardViolation(err) {
		t.Errorf("error = %v, want GuardViolation", err)
	}
}

func TestDeleteOnlyDrafts(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{submitResult: approvedResult("PA-9")}
	orch, store := testOrchestrator(exchange)

	draft := mustDraft(t, orch)
	if err := orch.DeleteDraft(ctx, draft.ID); err != nil {
		t.Fatalf("DeleteDraft: %v", err)
	}
	if _, err := store.Load(ctx, draft.ID); !errors.Is(err, submission.ErrNotFound) {
		t.Error("draft not deleted")
	}

	sent := mustDraft(t, orch)
	if _, err := orch.Send(ctx, sent.ID); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := orch.DeleteDraft(ctx, sent.ID); !submission.IsGuardViolation(err) {
		t.Errorf("error = %v, want GuardViolation for transmitted record", err)
	}
}

func TestPreviewDraftDoesNotPersist(t *testing.T) {
	orch, store := testOrchestrator(&fakeExchange{})

	doc, errs := orch.PreviewDraft(validInput())
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if doc == nil || len(doc.Entry) != 2 {
		t.Fatalf("doc = %+v, want message bundle", doc)
	}

	if subs, _ := store.ListByStatus(context.Background(), submission.StatusDraft, 10); len(subs) != 0 {
		t.Errorf("preview persisted %d submissions", len(subs))
	}
}

func TestQueuedAuthorizationLifecycle(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{
		submitResult: queuedResult("tok-99", "ref-99"),
		pollResult:   &client.PollResult{StillPending: true},
	}
	orch, _ := testOrchestrator(exchange)

	sub := mustDraft(t, orch)

	sent, err := orch.Send(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sent.Status != submission.StatusQueued {
		t.Fatalf("status = %s, want queued", sent.Status)
	}

	// First poll: still pending.
	if _, err := orch.Poll(ctx, sub.ID); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	// Exchange finishes adjudication.
	exchange.mu.Lock()
	exchange.pollResult = &client.PollResult{Outcome: &client.Outcome{
		Decision:  client.DecisionApproved,
		Reference: "PA-FINAL",
	}}
	exchange.mu.Unlock()

	resolved, err := orch.Poll(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if resolved.Status != submission.StatusApproved {
		t.Errorf("status = %s, want approved", resolved.Status)
	}
	if resolved.ExchangeRef != "PA-FINAL" {
		t.Errorf("exchange ref = %q, want PA-FINAL", resolved.ExchangeRef)
	}

	// Approved authorization can seed a claim.
	claim, err := orch.CreateFromAuthorization(ctx, sub.ID)
	if err != nil {
		t.Fatalf("CreateFromAuthorization: %v", err)
	}
	if claim.DocType != submission.DocClaim || claim.ParentID != sub.ID {
		t.Errorf("claim = %+v, want claim draft linked to authorization", claim)
	}
}

// interceptStore runs a hook just before Update or Delete reaches the
// underlying store, simulating a command landing inside that window.
type interceptStore struct {
	submission.Store
	beforeUpdate func()
	beforeDelete func()
}

func (s *interceptStore) Update(ctx context.Context, sub *submission.Submission) error {
	if s.beforeUpdate != nil {
		f := s.beforeUpdate
		s.beforeUpdate = nil
		f()
	}
	return s.Store.Update(ctx, sub)
}

func (s *interceptStore) Delete(ctx context.Context, id string) error {
	if s.beforeDelete != nil {
		f := s.beforeDelete
		s.beforeDelete = nil
		f()
	}
	return s.Store.Delete(ctx, id)
}

func interceptOrchestrator(exchange *fakeExchange) (*Orchestrator, *interceptStore) {
	store := &interceptStore{Store: submission.NewMemStore()}
	builder := bundle.NewBuilder(bundle.Config{
		SenderLicense:    "PR-10001",
		SourceEndpoint:   "http://provider.example.sa",
		ExchangeEndpoint: "http://nphies.sa/exchange",
	})
	return New(store, builder, exchange, nil, nil), store
}

func TestDeleteDraftRacingSendKeepsRecord(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{submitResult: queuedResult("tok-1", "ref-1")}
	orch, store := interceptOrchestrator(exchange)
	sub := mustDraft(t, orch)

	// A send slips in after DeleteDraft's guard check and before the
	// delete hits the store.
	store.beforeDelete = func() {
		if _, err := orch.Send(ctx, sub.ID); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	err := orch.DeleteDraft(ctx, sub.ID)
	if !submission.IsGuardViolation(err) {
		t.Fatalf("DeleteDraft = %v, want guard violation", err)
	}

	got, err := orch.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("transmitted record must survive the delete attempt: %v", err)
	}
	if got.Status != submission.StatusQueued {
		t.Errorf("status = %s, want queued", got.Status)
	}
}

func TestEditRacingSendKeepsTransmittedPayload(t *testing.T) {
	ctx := context.Background()
	exchange := &fakeExchange{submitResult: queuedResult("tok-1", "ref-1")}
	orch, store := interceptOrchestrator(exchange)
	sub := mustDraft(t, orch)

	store.beforeUpdate = func() {
		if _, err := orch.Send(ctx, sub.ID); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	in := validInput()
	in.Items = []submission.Item{{ServiceCode: "99213", Quantity: 1, UnitPrice: 999}}
	_, err := orch.Edit(ctx, sub.ID, in)
	if !submission.IsGuardViolation(err) {
		t.Fatalf("Edit = %v, want guard violation", err)
	}

	got, err := orch.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != submission.StatusQueued {
		t.Errorf("status = %s, want queued", got.Status)
	}
	if got.Items[0].UnitPrice != 150 {
		t.Errorf("unit price = %v, want 150 (stored payload must match what was transmitted)", got.Items[0].UnitPrice)
	}
}
