package submission

import (
	"context"
	"errors"
	"testing"
)

func TestGuards(t *testing.T) {
	tests := []struct {
		name     string
		status   Status
		editable bool
		resolved bool
		cancel   bool
	}{
		{"draft", StatusDraft, true, false, false},
		{"pending", StatusPending, false, false, false},
		{"queued", StatusQueued, false, false, false},
		{"approved", StatusApproved, false, true, true},
		{"partial", StatusPartial, false, true, true},
		{"denied", StatusDenied, false, true, true},
		{"cancelled", StatusCancelled, false, false, false},
		{"error", StatusError, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := New("s1", DocClaim, KindProfessional)
			sub.Status = tt.status
			if got := sub.Editable(); got != tt.editable {
				t.Errorf("Editable() = %v, want %v", got, tt.editable)
			}
			if got := sub.Resolved(); got != tt.resolved {
				t.Errorf("Resolved() = %v, want %v", got, tt.resolved)
			}
			if got := sub.CanCancel(); got != tt.cancel {
				t.Errorf("CanCancel() = %v, want %v", got, tt.cancel)
			}
		})
	}
}

func TestCanCancelAfterCancellation(t *testing.T) {
	sub := New("s1", DocClaim, KindProfessional)
	sub.Status = StatusApproved
	sub.IsCancelled = true
	if sub.CanCancel() {
		t.Error("cancelled submission must not be cancellable again")
	}
}

func TestCanPoll(t *testing.T) {
	sub := New("s1", DocClaim, KindProfessional)
	sub.Status = StatusQueued
	if sub.CanPoll() {
		t.Error("queued submission without token must not be pollable")
	}
	sub.PollToken = "tok-1"
	if !sub.CanPoll() {
		t.Error("queued submission with token must be pollable")
	}
	sub.Status = StatusApproved
	if sub.CanPoll() {
		t.Error("resolved submission must not be pollable")
	}
}

func TestNormalizeSequences(t *testing.T) {
	sub := New("s1", DocClaim, KindProfessional)
	sub.Items = []Item{
		{Sequence: 5, ServiceCode: "a"},
		{Sequence: 2, ServiceCode: "b"},
	}
	sub.Diagnoses = []Diagnosis{{Sequence: 9, Code: "E11.9"}}
	sub.SupportingInfo = []SupportingInfo{{Sequence: 0, Category: "days-supply"}}

	sub.NormalizeSequences()

	if sub.Items[0].Sequence != 1 || sub.Items[1].Sequence != 2 {
		t.Errorf("item sequences = %d, %d, want 1, 2", sub.Items[0].Sequence, sub.Items[1].Sequence)
	}
	if sub.Items[0].ServiceCode != "a" || sub.Items[1].ServiceCode != "b" {
		t.Error("normalization must preserve item order")
	}
	if sub.Diagnoses[0].Sequence != 1 {
		t.Errorf("diagnosis sequence = %d, want 1", sub.Diagnoses[0].Sequence)
	}
	if sub.SupportingInfo[0].Sequence != 1 {
		t.Errorf("supporting info sequence = %d, want 1", sub.SupportingInfo[0].Sequence)
	}
}

func TestClonePayloadIsIndependent(t *testing.T) {
	sub := New("s1", DocClaim, KindProfessional)
	sub.Items = []Item{{Sequence: 1, ServiceCode: "99213", Quantity: 1, UnitPrice: 100}}

	items, _, _, _ := sub.ClonePayload()
	items[0].ServiceCode = "changed"

	if sub.Items[0].ServiceCode != "99213" {
		t.Error("mutating the clone must not affect the original")
	}
}

func TestMemStoreCompareAndTransition(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	sub := New("s1", DocAuthorization, KindInstitutional)
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.CompareAndTransition(ctx, "s1", StatusDraft, StatusPending, Patch{})
	if err != nil {
		t.Fatalf("CompareAndTransition: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}

	// Stale expectation fails with ConflictError, state unchanged.
	_, err = store.CompareAndTransition(ctx, "s1", StatusDraft, StatusQueued, Patch{})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("error = %v, want ConflictError", err)
	}
	if conflict.Expected != StatusDraft || conflict.Actual != StatusPending {
		t.Errorf("conflict = %+v, want expected=draft actual=pending", conflict)
	}

	reloaded, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Status != StatusPending {
		t.Errorf("status after failed CAS = %s, want pending", reloaded.Status)
	}
}

func TestMemStoreTransitionAppliesPatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	sub := New("s1", DocClaim, KindProfessional)
	sub.Status = StatusPending
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.CompareAndTransition(ctx, "s1", StatusPending, StatusQueued, Patch{
		ExchangeRef: StrPtr("ref-9"),
		PollToken:   StrPtr("tok-9"),
		LastError:   StrPtr(""),
	})
	if err != nil {
		t.Fatalf("CompareAndTransition: %v", err)
	}
	if got.ExchangeRef != "ref-9" || got.PollToken != "tok-9" {
		t.Errorf("patch not applied: %+v", got)
	}
}

func TestMemStoreUpdateGuardsEditable(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	sub := New("s1", DocClaim, KindProfessional)
	sub.Items = []Item{{Sequence: 1, ServiceCode: "99213", Quantity: 1, UnitPrice: 150}}
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.CompareAndTransition(ctx, "s1", StatusDraft, StatusQueued, Patch{}); err != nil {
		t.Fatalf("CompareAndTransition: %v", err)
	}

	// The edit was staged against the draft; the store must reject it now
	// that the record has been transmitted.
	sub.Items[0].UnitPrice = 999
	err := store.Update(ctx, sub)
	var gv *GuardViolation
	if !errors.As(err, &gv) {
		t.Fatalf("Update error = %v, want GuardViolation", err)
	}

	reloaded, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Items[0].UnitPrice != 150 {
		t.Errorf("unit price = %v, want 150 (payload must not change after transmission)", reloaded.Items[0].UnitPrice)
	}
}

func TestMemStoreDeleteOnlyDraft(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	sub := New("s1", DocAuthorization, KindProfessional)
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.CompareAndTransition(ctx, "s1", StatusDraft, StatusQueued, Patch{}); err != nil {
		t.Fatalf("CompareAndTransition: %v", err)
	}

	err := store.Delete(ctx, "s1")
	var gv *GuardViolation
	if !errors.As(err, &gv) {
		t.Fatalf("Delete error = %v, want GuardViolation", err)
	}

	if _, err := store.Load(ctx, "s1"); err != nil {
		t.Fatalf("transmitted record must survive a delete attempt: %v", err)
	}
}

func TestMemStoreLoadCopiesPayload(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	sub := New("s1", DocClaim, KindProfessional)
	sub.Items = []Item{{Sequence: 1, ServiceCode: "99213", Quantity: 1, UnitPrice: 150}}
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create: %v", err)
	}

	loaded, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	loaded.Items[0].ServiceCode = "changed"

	reloaded, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Items[0].ServiceCode != "99213" {
		t.Error("mutating a loaded submission must not write through to the store")
	}
}

func TestMemStoreNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	if _, err := store.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load error = %v, want ErrNotFound", err)
	}
	if _, err := store.CompareAndTransition(ctx, "missing", StatusDraft, StatusPending, Patch{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompareAndTransition error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete error = %v, want ErrNotFound", err)
	}
}

func TestMemStoreListByStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	for _, id := range []string{"a", "b", "c"} {
		sub := New(id, DocClaim, KindProfessional)
		if id != "c" {
			sub.Status = StatusQueued
		}
		if err := store.Create(ctx, sub); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	queued, err := store.ListByStatus(ctx, StatusQueued, 10)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(queued) != 2 {
		t.Errorf("len(queued) = %d, want 2", len(queued))
	}

	limited, err := store.ListByStatus(ctx, StatusQueued, 1)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("len(limited) = %d, want 1", len(limited))
	}
}
