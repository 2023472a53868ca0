package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Repository is the pgx implementation of Store.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	// OnTransition, when set, runs inside the compare-and-transition
	// transaction after the status row update. Used to write outbox
	// entries atomically with the transition.
	OnTransition func(ctx context.Context, tx pgx.Tx, sub *Submission) error
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

const submissionColumns = `
	id, exchange_ref, parent_id, doc_type, kind, priority, currency, encounter_class,
	patient_id, provider_id, insurer_id,
	items, diagnoses, supporting_info, attachments,
	status, is_update, is_cancelled, transfer_provider_id, poll_token,
	created_at, updated_at, last_transmitted_at, last_error
`

// Create persists a new draft submission.
func (r *Repository) Create(ctx context.Context, sub *Submission) error {
	items, diags, info, atts, err := marshalPayload(sub)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO submissions (` + submissionColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
	`
	_, err = r.pool.Exec(ctx, query,
		sub.ID, nullable(sub.ExchangeRef), nullable(sub.ParentID),
		sub.DocType, sub.Kind, sub.Priority, sub.Currency, sub.EncounterClass,
		sub.PatientID, sub.ProviderID, sub.InsurerID,
		items, diags, info, atts,
		sub.Status, sub.IsUpdate, sub.IsCancelled,
		nullable(sub.TransferProviderID), nullable(sub.PollToken),
		sub.CreatedAt, sub.UpdatedAt, sub.LastTransmittedAt, nullable(sub.LastError),
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// Load retrieves a submission by id.
func (r *Repository) Load(ctx context.Context, id string) (*Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`
	sub, err := scanSubmission(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load submission: %w", err)
	}
	return sub, nil
}

// Update replaces the editable fields of a draft or error record in place.
// The status predicate closes the window between a caller's guard check and
// the write: a record transmitted in between is left untouched.
func (r *Repository) Update(ctx context.Context, sub *Submission) error {
	items, diags, info, atts, err := marshalPayload(sub)
	if err != nil {
		return err
	}

	query := `
		UPDATE submissions
		SET kind = $2, priority = $3, currency = $4, encounter_class = $5,
		    patient_id = $6, provider_id = $7, insurer_id = $8,
		    items = $9, diagnoses = $10, supporting_info = $11, attachments = $12,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ($13, $14)
	`
	tag, err := r.pool.Exec(ctx, query,
		sub.ID, sub.Kind, sub.Priority, sub.Currency, sub.EncounterClass,
		sub.PatientID, sub.ProviderID, sub.InsurerID,
		items, diags, info, atts,
		StatusDraft, StatusError,
	)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.statusGuard(ctx, sub.ID, "edit", "submission is no longer editable")
	}
	return nil
}

// Delete removes a submission row while it is still a draft. Records that
// left draft survive even when the caller's guard check raced a send.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM submissions WHERE id = $1 AND status = $2`, id, StatusDraft)
	if err != nil {
		return fmt.Errorf("delete submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.statusGuard(ctx, id, "delete", "only draft submissions can be deleted")
	}
	return nil
}

// statusGuard reports why a status-predicated write matched no row.
func (r *Repository) statusGuard(ctx context.Context, id, command, reason string) error {
	var actual Status
	err := r.pool.QueryRow(ctx, `SELECT status FROM submissions WHERE id = $1`, id).Scan(&actual)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	return &GuardViolation{Command: command, Status: actual, Reason: reason}
}

// CompareAndTransition atomically advances the status of a submission,
// applying the patch, iff the stored status still matches expected.
func (r *Repository) CompareAndTransition(ctx context.Context, id string, expected, next Status, patch Patch) (*Submission, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE submissions
		SET status = $3,
		    exchange_ref = COALESCE($4, exchange_ref),
		    poll_token = COALESCE($5, poll_token),
		    last_error = COALESCE($6, last_error),
		    is_cancelled = COALESCE($7, is_cancelled),
		    last_transmitted_at = COALESCE($8, last_transmitted_at),
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + submissionColumns

	sub, err := scanSubmission(tx.QueryRow(ctx, query,
		id, expected, next,
		patch.ExchangeRef, patch.PollToken, patch.LastError,
		patch.IsCancelled, patch.TransmittedAt,
	))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("transition submission: %w", err)
		}
		// No row matched: distinguish missing record from a lost race.
		var actual Status
		scanErr := tx.QueryRow(ctx, `SELECT status FROM submissions WHERE id = $1`, id).Scan(&actual)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if scanErr != nil {
			return nil, fmt.Errorf("read status: %w", scanErr)
		}
		return nil, &ConflictError{ID: id, Expected: expected, Actual: actual}
	}

	if r.OnTransition != nil {
		if err := r.OnTransition(ctx, tx, sub); err != nil {
			return nil, fmt.Errorf("transition hook: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return sub, nil
}

// ListByStatus returns up to limit submissions in the given status, oldest first.
func (r *Repository) ListByStatus(ctx context.Context, status Status, limit int) ([]*Submission, error) {
	query := `SELECT ` + submissionColumns + `
		FROM submissions WHERE status = $1 ORDER BY updated_at ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var subs []*Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*Submission, error) {
	var (
		sub                                  Submission
		exchangeRef, parentID                *string
		transferProviderID, pollToken        *string
		lastError                            *string
		items, diags, info, atts             []byte
	)

	err := row.Scan(
		&sub.ID, &exchangeRef, &parentID,
		&sub.DocType, &sub.Kind, &sub.Priority, &sub.Currency, &sub.EncounterClass,
		&sub.PatientID, &sub.ProviderID, &sub.InsurerID,
		&items, &diags, &info, &atts,
		&sub.Status, &sub.IsUpdate, &sub.IsCancelled, &transferProviderID, &pollToken,
		&sub.CreatedAt, &sub.UpdatedAt, &sub.LastTransmittedAt, &lastError,
	)
	if err != nil {
		return nil, err
	}

	sub.ExchangeRef = deref(exchangeRef)
	sub.ParentID = deref(parentID)
	sub.TransferProviderID = deref(transferProviderID)
	sub.PollToken = deref(pollToken)
	sub.LastError = deref(lastError)

	if err := json.Unmarshal(items, &sub.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(diags, &sub.Diagnoses); err != nil {
		return nil, fmt.Errorf("decode diagnoses: %w", err)
	}
	if len(info) > 0 {
		if err := json.Unmarshal(info, &sub.SupportingInfo); err != nil {
			return nil, fmt.Errorf("decode supporting info: %w", err)
		}
	}
	if len(atts) > 0 {
		if err := json.Unmarshal(atts, &sub.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments: %w", err)
		}
	}
	return &sub, nil
}

func marshalPayload(sub *Submission) (items, diags, info, atts []byte, err error) {
	if items, err = json.Marshal(sub.Items); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode items: %w", err)
	}
	if diags, err = json.Marshal(sub.Diagnoses); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode diagnoses: %w", err)
	}
	if info, err = json.Marshal(sub.SupportingInfo); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode supporting info: %w", err)
	}
	if atts, err = json.Marshal(sub.Attachments); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode attachments: %w", err)
	}
	return items, diags, info, atts, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
