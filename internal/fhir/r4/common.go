// Package r4 provides FHIR R4 data structures for the submission lifecycle engine.
package r4

import "time"

// Meta contains metadata about a resource.
type Meta struct {
	VersionID   string    `json:"versionId,omitempty"`
	LastUpdated time.Time `json:"lastUpdated,omitempty"`
	Source      string    `json:"source,omitempty"`
	Profile     []string  `json:"profile,omitempty"`
	Tag         []Coding  `json:"tag,omitempty"`
}

// Identifier represents a FHIR Identifier.
type Identifier struct {
	Use      string           `json:"use,omitempty"` // usual | official | temp | secondary | old
	Type     *CodeableConcept `json:"type,omitempty"`
	System   string           `json:"system,omitempty"`
	Value    string           `json:"value,omitempty"`
	Period   *Period          `json:"period,omitempty"`
	Assigner *Reference       `json:"assigner,omitempty"`
}

// CodeableConcept represents a concept with text and codings.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Coding represents a code from a terminology system.
type Coding struct {
	System  string `json:"system,omitempty"`
	Version string `json:"version,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// Reference represents a reference to another resource.
type Reference struct {
	Reference  string      `json:"reference,omitempty"`
	Type       string      `json:"type,omitempty"`
	Identifier *Identifier `json:"identifier,omitempty"`
	Display    string      `json:"display,omitempty"`
}

// Period represents a time period.
type Period struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Quantity represents a measured amount.
type Quantity struct {
	Value  float64 `json:"value,omitempty"`
	Unit   string  `json:"unit,omitempty"`
	System string  `json:"system,omitempty"`
	Code   string  `json:"code,omitempty"`
}

// Money represents an amount of currency.
type Money struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency,omitempty"`
}

// Attachment represents content defined elsewhere or inline.
type Attachment struct {
	ContentType string `json:"contentType,omitempty"`
	Data        string `json:"data,omitempty"` // base64
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
}

// Extension represents a FHIR extension.
type Extension struct {
	URL                  string           `json:"url"`
	ValueString          string           `json:"valueString,omitempty"`
	ValueBoolean         *bool            `json:"valueBoolean,omitempty"`
	ValueCode            string           `json:"valueCode,omitempty"`
	ValueCoding          *Coding          `json:"valueCoding,omitempty"`
	ValueCodeableConcept *CodeableConcept `json:"valueCodeableConcept,omitempty"`
	ValueIdentifier      *Identifier      `json:"valueIdentifier,omitempty"`
	ValueReference       *Reference       `json:"valueReference,omitempty"`
	ValueMoney           *Money           `json:"valueMoney,omitempty"`
}

// OperationOutcome represents errors and warnings from exchange operations.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

// OperationOutcomeIssue represents a single issue in an OperationOutcome.
type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"` // fatal | error | warning | information
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
	Expression  []string         `json:"expression,omitempty"`
}

// NewErrorOutcome creates an OperationOutcome with a single error issue.
func NewErrorOutcome(code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{{
			Severity:    "error",
			Code:        code,
			Diagnostics: diagnostics,
		}},
	}
}

// Errors flattens the outcome's error-level issues into diagnostics strings.
func (o *OperationOutcome) Errors() []string {
	var out []string
	for _, iss := range o.Issue {
		if iss.Severity == "fatal" || iss.Severity == "error" {
			msg := iss.Diagnostics
			if msg == "" && iss.Details != nil {
				msg = iss.Details.Text
			}
			out = append(out, msg)
		}
	}
	return out
}

// Common code systems used on the exchange.
const (
	SystemClaimType           = "http://terminology.hl7.org/CodeSystem/claim-type"
	SystemProcessPriority     = "http://terminology.hl7.org/CodeSystem/processpriority"
	SystemClaimInformation    = "http://nphies.sa/terminology/CodeSystem/claim-information-category"
	SystemServiceCode         = "http://nphies.sa/terminology/CodeSystem/services"
	SystemDiagnosisICD        = "http://hl7.org/fhir/sid/icd-10-am"
	SystemDiagnosisType       = "http://terminology.hl7.org/CodeSystem/ex-diagnosistype"
	SystemRelationship        = "http://terminology.hl7.org/CodeSystem/ex-relatedclaimrelationship"
	SystemActEncounterCode    = "http://terminology.hl7.org/CodeSystem/v3-ActCode"
	SystemTaskReason          = "http://nphies.sa/terminology/CodeSystem/task-reason-code"
	SystemAdjudication        = "http://terminology.hl7.org/CodeSystem/adjudication"
	SystemAdjudicationOutcome = "http://nphies.sa/terminology/CodeSystem/adjudication-outcome"
	SystemProviderLicense     = "http://nphies.sa/license/provider-license"
	SystemPayerLicense        = "http://nphies.sa/license/payer-license"
	SystemPatientIdentity     = "http://nphies.sa/identifier/iqama"
)

// Claim use codes distinguishing document kinds on the wire.
const (
	UseClaim            = "claim"
	UsePreAuthorization = "preauthorization"
)

// ClaimResponse outcome codes.
const (
	OutcomeComplete = "complete"
	OutcomeError    = "error"
	OutcomePartial  = "partial"
	OutcomeQueued   = "queued"
)
