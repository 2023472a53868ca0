// Package bundle builds exchange-ready message bundles from submissions.
//
// Building is a pure transformation: no I/O, no mutation of the submission.
// Given the same submission snapshot the output is identical except for the
// bundle id, which is fresh per build.
package bundle

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/xactasolutionsai/nphies-sub011/internal/domain/submission"
	fhir "github.com/xactasolutionsai/nphies-sub011/internal/fhir/r4"
)

// Config identifies the sending provider system on the wire.
type Config struct {
	// SenderLicense is the provider license identifier stamped on the
	// message header sender reference.
	SenderLicense string
	// SourceEndpoint is this system's endpoint URL.
	SourceEndpoint string
	// ExchangeEndpoint is the destination endpoint URL.
	ExchangeEndpoint string
}

// Builder assembles claim and prior-authorization bundles.
type Builder struct {
	cfg Config
}

// NewBuilder creates a bundle builder.
func NewBuilder(cfg Config) *Builder {
	return &Builder{cfg: cfg}
}

// profile is the document-kind strategy: the handful of wire-level codes
// that differ between prior authorizations and claims, and between the
// five submission kinds.
type profile struct {
	use       string
	event     string
	claimType string
}

func profileFor(sub *submission.Submission) profile {
	p := profile{use: fhir.UseClaim, event: "claim-request"}
	if sub.DocType == submission.DocAuthorization {
		p.use = fhir.UsePreAuthorization
		p.event = "priorauth-request"
	}
	switch sub.Kind {
	case submission.KindInstitutional:
		p.claimType = "institutional"
	case submission.KindProfessional:
		p.claimType = "professional"
	case submission.KindPharmacy:
		p.claimType = "pharmacy"
	case submission.KindDental:
		p.claimType = "oral"
	case submission.KindVision:
		p.claimType = "vision"
	}
	return p
}

// Build assembles the exchange bundle for a submission. Structural problems
// are reported as field-scoped errors; a non-empty error list means no
// bundle is produced. Building never mutates the submission.
func (b *Builder) Build(sub *submission.Submission) (*fhir.Bundle, submission.ValidationErrors) {
	if errs := b.Validate(sub); len(errs) > 0 {
		return nil, errs
	}

	p := profileFor(sub)
	claim := b.buildClaim(sub, p)

	bundleID := uuid.New().String()
	header := fhir.MessageHeader{
		ResourceType: "MessageHeader",
		ID:           bundleID,
		EventCoding: fhir.Coding{
			System: "http://nphies.sa/terminology/CodeSystem/ksa-message-events",
			Code:   p.event,
		},
		Destination: []fhir.MessageDestination{{Endpoint: b.cfg.ExchangeEndpoint}},
		Sender: &fhir.Reference{
			Identifier: &fhir.Identifier{System: fhir.SystemProviderLicense, Value: b.cfg.SenderLicense},
		},
		Source: fhir.MessageSource{Endpoint: b.cfg.SourceEndpoint},
		Focus:  []fhir.Reference{{Reference: "Claim/" + sub.ID}},
	}

	headerEntry, err := fhir.NewEntry("urn:uuid:"+bundleID, header)
	if err != nil {
		return nil, submission.ValidationErrors{{Field: "bundle", Message: err.Error()}}
	}
	claimEntry, err := fhir.NewEntry("urn:uuid:"+sub.ID, claim)
	if err != nil {
		return nil, submission.ValidationErrors{{Field: "bundle", Message: err.Error()}}
	}

	return &fhir.Bundle{
		ResourceType: "Bundle",
		ID:           bundleID,
		Type:         "message",
		Timestamp:    sub.UpdatedAt,
		Entry:        []fhir.BundleEntry{headerEntry, claimEntry},
	}, nil
}

// Validate checks the structural rules the exchange enforces before
// transmission. It never rejects missing-but-optional fields.
func (b *Builder) Validate(sub *submission.Submission) submission.ValidationErrors {
	var errs submission.ValidationErrors

	if sub.PatientID == "" {
		errs = append(errs, submission.FieldError{Field: "patient_id", Message: "required"})
	}
	if sub.ProviderID == "" {
		errs = append(errs, submission.FieldError{Field: "provider_id", Message: "required"})
	}
	if sub.InsurerID == "" {
		errs = append(errs, submission.FieldError{Field: "insurer_id", Message: "required"})
	}

	if len(sub.Items) == 0 {
		errs = append(errs, submission.FieldError{Field: "items", Message: "At least one service item is required"})
	}
	for i, item := range sub.Items {
		if item.Sequence != i+1 {
			errs = append(errs, submission.FieldError{
				Field:   fmt.Sprintf("items[%d].sequence", i),
				Message: "sequences must be contiguous starting at 1",
			})
		}
		if item.ServiceCode == "" {
			errs = append(errs, submission.FieldError{
				Field:   fmt.Sprintf("items[%d].product_or_service_code", i),
				Message: "required",
			})
		}
		if item.Quantity <= 0 {
			errs = append(errs, submission.FieldError{
				Field:   fmt.Sprintf("items[%d].quantity", i),
				Message: "must be greater than zero",
			})
		}
		if item.UnitPrice < 0 {
			errs = append(errs, submission.FieldError{
				Field:   fmt.Sprintf("items[%d].unit_price", i),
				Message: "must not be negative",
			})
		}
	}

	for i, diag := range sub.Diagnoses {
		if diag.Sequence != i+1 {
			errs = append(errs, submission.FieldError{
				Field:   fmt.Sprintf("diagnoses[%d].sequence", i),
				Message: "sequences must be contiguous starting at 1",
			})
		}
		if diag.Code == "" {
			errs = append(errs, submission.FieldError{
				Field:   fmt.Sprintf("diagnoses[%d].code", i),
				Message: "required",
			})
		}
	}

	for i, info := range sub.SupportingInfo {
		if info.Sequence != i+1 {
			errs = append(errs, submission.FieldError{
				Field:   fmt.Sprintf("supporting_info[%d].sequence", i),
				Message: "sequences must be contiguous starting at 1",
			})
		}
		if info.Category == "" {
			errs = append(errs, submission.FieldError{
				Field:   fmt.Sprintf("supporting_info[%d].category", i),
				Message: "required",
			})
		}
	}

	if sub.Kind == submission.KindPharmacy && !hasCategory(sub, submission.CategoryDaysSupply) {
		errs = append(errs, submission.FieldError{
			Field:   "supporting_info",
			Message: "a days-supply entry is required for pharmacy submissions",
		})
	}

	return errs
}

func hasCategory(sub *submission.Submission, category string) bool {
	for _, info := range sub.SupportingInfo {
		if info.Category == category {
			return true
		}
	}
	return false
}

func (b *Builder) buildClaim(sub *submission.Submission, p profile) fhir.Claim {
	claim := fhir.Claim{
		ResourceType: "Claim",
		ID:           sub.ID,
		Identifier: []fhir.Identifier{
			{System: b.cfg.SourceEndpoint + "/submission", Value: sub.ID},
		},
		Status: "active",
		Type: fhir.CodeableConcept{Coding: []fhir.Coding{
			{System: fhir.SystemClaimType, Code: p.claimType},
		}},
		Use:     p.use,
		Patient: fhir.Reference{Reference: "Patient/" + sub.PatientID},
		Created: sub.UpdatedAt,
		Insurer: fhir.Reference{
			Identifier: &fhir.Identifier{System: fhir.SystemPayerLicense, Value: sub.InsurerID},
		},
		Provider: fhir.Reference{
			Identifier: &fhir.Identifier{System: fhir.SystemProviderLicense, Value: sub.ProviderID},
		},
		Priority: fhir.CodeableConcept{Coding: []fhir.Coding{
			{System: fhir.SystemProcessPriority, Code: priorityOrDefault(sub.Priority)},
		}},
		Insurance: []fhir.ClaimInsurance{
			{Sequence: 1, Focal: true, Coverage: fhir.Reference{Reference: "Coverage/" + sub.InsurerID + "-" + sub.PatientID}},
		},
	}

	if sub.EncounterClass != "" {
		claim.Extension = append(claim.Extension, fhir.Extension{
			URL: "http://nphies.sa/fhir/StructureDefinition/extension-encounter-class",
			ValueCoding: &fhir.Coding{
				System: fhir.SystemActEncounterCode,
				Code:   sub.EncounterClass,
			},
		})
	}

	// Amendments, cancellations and authorization-derived claims link back
	// to the parent via its exchange reference.
	if sub.ParentID != "" {
		relationship := "prior"
		if sub.IsUpdate {
			relationship = "extend"
		}
		claim.Related = append(claim.Related, fhir.ClaimRelated{
			Claim: &fhir.Reference{Reference: "Claim/" + sub.ParentID},
			Relationship: &fhir.CodeableConcept{Coding: []fhir.Coding{
				{System: fhir.SystemRelationship, Code: relationship},
			}},
		})
	}

	for _, d := range sub.Diagnoses {
		diagType := "secondary"
		if d.Type == submission.DiagnosisPrincipal {
			diagType = "principal"
		}
		claim.Diagnosis = append(claim.Diagnosis, fhir.ClaimDiagnosis{
			Sequence: d.Sequence,
			DiagnosisCodeableConcept: fhir.CodeableConcept{Coding: []fhir.Coding{
				{System: fhir.SystemDiagnosisICD, Code: d.Code},
			}},
			Type: []fhir.CodeableConcept{{Coding: []fhir.Coding{
				{System: fhir.SystemDiagnosisType, Code: diagType},
			}}},
		})
	}

	for _, info := range sub.SupportingInfo {
		si := fhir.ClaimSupportingInfo{
			Sequence: info.Sequence,
			Category: fhir.CodeableConcept{Coding: []fhir.Coding{
				{System: fhir.SystemClaimInformation, Code: info.Category},
			}},
			ValueString: info.Value,
		}
		if info.Code != "" {
			si.Code = &fhir.CodeableConcept{Coding: []fhir.Coding{
				{System: fhir.SystemClaimInformation, Code: info.Code},
			}}
		}
		claim.SupportingInfo = append(claim.SupportingInfo, si)
	}

	seq := len(sub.SupportingInfo)
	for _, att := range sub.Attachments {
		seq++
		claim.SupportingInfo = append(claim.SupportingInfo, fhir.ClaimSupportingInfo{
			Sequence: seq,
			Category: fhir.CodeableConcept{Coding: []fhir.Coding{
				{System: fhir.SystemClaimInformation, Code: "attachment"},
			}},
			ValueAttachment: &fhir.Attachment{
				ContentType: att.ContentType,
				Title:       att.Title,
				URL:         att.URL,
				Data:        att.Data,
			},
		})
	}

	var total float64
	for _, item := range sub.Items {
		net := item.Quantity * item.UnitPrice
		total += net
		claim.Item = append(claim.Item, fhir.ClaimItem{
			Sequence: item.Sequence,
			ProductOrService: fhir.CodeableConcept{Coding: []fhir.Coding{
				{System: fhir.SystemServiceCode, Code: item.ServiceCode},
			}},
			Quantity:  &fhir.Quantity{Value: item.Quantity},
			UnitPrice: &fhir.Money{Value: item.UnitPrice, Currency: sub.Currency},
			Net:       &fhir.Money{Value: net, Currency: sub.Currency},
		})
	}
	claim.Total = &fhir.Money{Value: total, Currency: sub.Currency}

	return claim
}

func priorityOrDefault(p string) string {
	if p == "" {
		return "normal"
	}
	return p
}
