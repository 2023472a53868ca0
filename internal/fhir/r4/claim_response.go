package r4

import "time"

// ClaimResponse represents the exchange's adjudication of a Claim.
type ClaimResponse struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id,omitempty"`
	Meta         *Meta  `json:"meta,omitempty"`

	Identifier []Identifier `json:"identifier,omitempty"`

	Status  string          `json:"status"`
	Type    CodeableConcept `json:"type"`
	Use     string          `json:"use"`
	Patient Reference       `json:"patient"`
	Created time.Time       `json:"created"`
	Insurer Reference       `json:"insurer"`

	// Reference to the Claim being adjudicated
	Request *Reference `json:"request,omitempty"`

	// queued | complete | error | partial
	Outcome     string `json:"outcome"`
	Disposition string `json:"disposition,omitempty"`

	// Exchange-assigned reference usable on downstream claims
	PreAuthRef    string  `json:"preAuthRef,omitempty"`
	PreAuthPeriod *Period `json:"preAuthPeriod,omitempty"`

	Item  []ClaimResponseItem  `json:"item,omitempty"`
	Total []ClaimResponseTotal `json:"total,omitempty"`
	Error []ClaimResponseError `json:"error,omitempty"`

	Extension []Extension `json:"extension,omitempty"`
}

// ClaimResponseItem is the adjudication of a single claim line.
type ClaimResponseItem struct {
	ItemSequence int            `json:"itemSequence"`
	Adjudication []Adjudication `json:"adjudication"`
	Extension    []Extension    `json:"extension,omitempty"`
}

// Adjudication is a single adjudication determination on a line.
type Adjudication struct {
	Category CodeableConcept  `json:"category"`
	Reason   *CodeableConcept `json:"reason,omitempty"`
	Amount   *Money           `json:"amount,omitempty"`
	Value    float64          `json:"value,omitempty"`
}

// ClaimResponseTotal is a category total for the adjudication.
type ClaimResponseTotal struct {
	Category CodeableConcept `json:"category"`
	Amount   Money           `json:"amount"`
}

// ClaimResponseError reports a processing error on the submitted claim.
type ClaimResponseError struct {
	ItemSequence int             `json:"itemSequence,omitempty"`
	Code         CodeableConcept `json:"code"`
}

// AdjudicationOutcome returns the per-item adjudication outcome code
// (approved | partial | rejected) carried in the item extension, or "".
func (i *ClaimResponseItem) AdjudicationOutcome() string {
	for _, ext := range i.Extension {
		if ext.ValueCodeableConcept == nil {
			continue
		}
		for _, coding := range ext.ValueCodeableConcept.Coding {
			if coding.System == SystemAdjudicationOutcome {
				return coding.Code
			}
		}
	}
	return ""
}

// ErrorMessages flattens the response errors into display strings.
func (r *ClaimResponse) ErrorMessages() []string {
	var out []string
	for _, e := range r.Error {
		msg := e.Code.Text
		if msg == "" && len(e.Code.Coding) > 0 {
			msg = e.Code.Coding[0].Display
			if msg == "" {
				msg = e.Code.Coding[0].Code
			}
		}
		out = append(out, msg)
	}
	return out
}
