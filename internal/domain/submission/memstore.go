package submission

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store implementation with the same
// compare-and-transition semantics as the Postgres repository.
type MemStore struct {
	mu   sync.Mutex
	subs map[string]*Submission
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{subs: make(map[string]*Submission)}
}

func (m *MemStore) Create(ctx context.Context, sub *Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = copyOf(sub)
	return nil
}

func (m *MemStore) Load(ctx context.Context, id string) (*Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyOf(sub), nil
}

func (m *MemStore) Update(ctx context.Context, sub *Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.subs[sub.ID]
	if !ok {
		return ErrNotFound
	}
	if !stored.Editable() {
		return &GuardViolation{Command: "edit", Status: stored.Status, Reason: "submission is no longer editable"}
	}
	cp := copyOf(sub)
	cp.Status = stored.Status
	cp.UpdatedAt = time.Now().UTC()
	m.subs[sub.ID] = cp
	return nil
}

func (m *MemStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != StatusDraft {
		return &GuardViolation{Command: "delete", Status: stored.Status, Reason: "only draft submissions can be deleted"}
	}
	delete(m.subs, id)
	return nil
}

func (m *MemStore) CompareAndTransition(ctx context.Context, id string, expected, next Status, patch Patch) (*Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if stored.Status != expected {
		return nil, &ConflictError{ID: id, Expected: expected, Actual: stored.Status}
	}

	stored.Status = next
	if patch.ExchangeRef != nil {
		stored.ExchangeRef = *patch.ExchangeRef
	}
	if patch.PollToken != nil {
		stored.PollToken = *patch.PollToken
	}
	if patch.LastError != nil {
		stored.LastError = *patch.LastError
	}
	if patch.IsCancelled != nil {
		stored.IsCancelled = *patch.IsCancelled
	}
	if patch.TransmittedAt != nil {
		t := *patch.TransmittedAt
		stored.LastTransmittedAt = &t
	}
	stored.UpdatedAt = time.Now().UTC()

	return copyOf(stored), nil
}

func (m *MemStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var subs []*Submission
	for _, sub := range m.subs {
		if sub.Status == status {
			subs = append(subs, copyOf(sub))
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].UpdatedAt.Before(subs[j].UpdatedAt) })
	if limit > 0 && len(subs) > limit {
		subs = subs[:limit]
	}
	return subs, nil
}

// copyOf detaches a record from the store. Payload slices are cloned so a
// caller mutating a loaded submission cannot write through to stored state.
func copyOf(sub *Submission) *Submission {
	cp := *sub
	cp.Items, cp.Diagnoses, cp.SupportingInfo, cp.Attachments = sub.ClonePayload()
	return &cp
}
