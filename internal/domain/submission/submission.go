// Package submission implements the submission record and its lifecycle rules.
package submission

import "time"

// Status represents submission status
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusApproved  Status = "approved"
	StatusPartial   Status = "partial"
	StatusDenied    Status = "denied"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// DocType distinguishes the two document kinds sharing this lifecycle.
type DocType string

const (
	DocAuthorization DocType = "authorization"
	DocClaim         DocType = "claim"
)

// Kind is the classification of the submission.
type Kind string

const (
	KindInstitutional Kind = "institutional"
	KindProfessional  Kind = "professional"
	KindPharmacy      Kind = "pharmacy"
	KindDental        Kind = "dental"
	KindVision        Kind = "vision"
)

// Supporting-info categories with engine-level meaning.
const (
	CategoryDaysSupply = "days-supply"
)

// Item is a billed service line.
type Item struct {
	Sequence    int     `json:"sequence"`
	ServiceCode string  `json:"service_code"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// DiagnosisType marks the role of a diagnosis on the submission.
type DiagnosisType string

const (
	DiagnosisPrincipal DiagnosisType = "principal"
	DiagnosisSecondary DiagnosisType = "secondary"
)

// Diagnosis is a coded diagnosis entry.
type Diagnosis struct {
	Sequence int           `json:"sequence"`
	Code     string        `json:"code"`
	Type     DiagnosisType `json:"type"`
}

// SupportingInfo is a supplementary adjudication entry.
type SupportingInfo struct {
	Sequence int    `json:"sequence"`
	Category string `json:"category"`
	Code     string `json:"code,omitempty"`
	Value    string `json:"value,omitempty"`
}

// Attachment is an opaque content reference carried with the submission.
type Attachment struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title,omitempty"`
	URL         string `json:"url,omitempty"`
	Data        string `json:"data,omitempty"`
}

// Submission is the authoritative record of one prior authorization or claim.
type Submission struct {
	ID          string `json:"id"`
	ExchangeRef string `json:"exchange_ref,omitempty"`
	ParentID    string `json:"parent_id,omitempty"`

	DocType        DocType `json:"doc_type"`
	Kind           Kind    `json:"kind"`
	Priority       string  `json:"priority"`
	Currency       string  `json:"currency"`
	EncounterClass string  `json:"encounter_class,omitempty"`

	PatientID  string `json:"patient_id"`
	ProviderID string `json:"provider_id"`
	InsurerID  string `json:"insurer_id"`

	Items          []Item           `json:"items"`
	Diagnoses      []Diagnosis      `json:"diagnoses"`
	SupportingInfo []SupportingInfo `json:"supporting_info,omitempty"`
	Attachments    []Attachment     `json:"attachments,omitempty"`

	Status Status `json:"status"`

	IsUpdate           bool   `json:"is_update"`
	IsCancelled        bool   `json:"is_cancelled"`
	TransferProviderID string `json:"transfer_provider_id,omitempty"`

	PollToken string `json:"poll_token,omitempty"`

	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	LastTransmittedAt *time.Time `json:"last_transmitted_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
}

// New creates a draft submission.
func New(id string, docType DocType, kind Kind) *Submission {
	now := time.Now().UTC()
	return &Submission{
		ID:        id,
		DocType:   docType,
		Kind:      kind,
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Editable reports whether field updates and send are legal. An error
// submission may be corrected and resent like a draft.
func (s *Submission) Editable() bool {
	return s.Status == StatusDraft || s.Status == StatusError
}

// Resolved reports whether the exchange has adjudicated the submission.
func (s *Submission) Resolved() bool {
	switch s.Status {
	case StatusApproved, StatusPartial, StatusDenied:
		return true
	}
	return false
}

// CanCancel reports whether a cancel request is legal.
func (s *Submission) CanCancel() bool {
	return s.Resolved() && !s.IsCancelled
}

// CanPoll reports whether a poll is legal.
func (s *Submission) CanPoll() bool {
	return s.Status == StatusQueued && s.PollToken != ""
}

// Transmitted reports whether the submission has left draft at least once.
func (s *Submission) Transmitted() bool {
	return s.LastTransmittedAt != nil
}

// NormalizeSequences renumbers items, diagnoses and supporting-info entries
// contiguously from 1, preserving order.
func (s *Submission) NormalizeSequences() {
	for i := range s.Items {
		s.Items[i].Sequence = i + 1
	}
	for i := range s.Diagnoses {
		s.Diagnoses[i].Sequence = i + 1
	}
	for i := range s.SupportingInfo {
		s.SupportingInfo[i].Sequence = i + 1
	}
}

// ClonePayload deep-copies the clinical/financial payload, used when a new
// linked submission is derived from this one.
func (s *Submission) ClonePayload() ([]Item, []Diagnosis, []SupportingInfo, []Attachment) {
	items := make([]Item, len(s.Items))
	copy(items, s.Items)
	diags := make([]Diagnosis, len(s.Diagnoses))
	copy(diags, s.Diagnoses)
	info := make([]SupportingInfo, len(s.SupportingInfo))
	copy(info, s.SupportingInfo)
	atts := make([]Attachment, len(s.Attachments))
	copy(atts, s.Attachments)
	return items, diags, info, atts
}
