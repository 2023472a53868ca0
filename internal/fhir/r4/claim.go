package r4

import "time"

// Claim represents a FHIR R4 Claim resource. It carries both claims and
// prior-authorization requests; the Use field distinguishes the two.
type Claim struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id,omitempty"`
	Meta         *Meta  `json:"meta,omitempty"`

	Identifier []Identifier `json:"identifier,omitempty"`

	// Status of the claim instance
	Status string `json:"status"` // active | cancelled | draft | entered-in-error

	// Kind of claim: institutional | professional | pharmacy | oral | vision
	Type    CodeableConcept  `json:"type"`
	SubType *CodeableConcept `json:"subType,omitempty"`

	// claim | preauthorization | predetermination
	Use string `json:"use"`

	Patient  Reference `json:"patient"`
	Created  time.Time `json:"created"`
	Insurer  Reference `json:"insurer"`
	Provider Reference `json:"provider"`

	Priority CodeableConcept `json:"priority"`

	// Prior or concurrent related claims (amendments, transfers)
	Related []ClaimRelated `json:"related,omitempty"`

	Payee *ClaimPayee `json:"payee,omitempty"`

	SupportingInfo []ClaimSupportingInfo `json:"supportingInfo,omitempty"`
	Diagnosis      []ClaimDiagnosis      `json:"diagnosis,omitempty"`
	Insurance      []ClaimInsurance      `json:"insurance"`
	Item           []ClaimItem           `json:"item,omitempty"`

	Total *Money `json:"total,omitempty"`

	Extension []Extension `json:"extension,omitempty"`
}

// ClaimRelated links a claim to a prior submission.
type ClaimRelated struct {
	Claim        *Reference       `json:"claim,omitempty"`
	Relationship *CodeableConcept `json:"relationship,omitempty"`
	Reference    *Identifier      `json:"reference,omitempty"`
}

// ClaimPayee indicates the recipient of benefits payable.
type ClaimPayee struct {
	Type  CodeableConcept `json:"type"`
	Party *Reference      `json:"party,omitempty"`
}

// ClaimSupportingInfo carries supplementary information for adjudication.
type ClaimSupportingInfo struct {
	Sequence        int              `json:"sequence"`
	Category        CodeableConcept  `json:"category"`
	Code            *CodeableConcept `json:"code,omitempty"`
	TimingDate      string           `json:"timingDate,omitempty"`
	ValueString     string           `json:"valueString,omitempty"`
	ValueQuantity   *Quantity        `json:"valueQuantity,omitempty"`
	ValueAttachment *Attachment      `json:"valueAttachment,omitempty"`
	Reason          *CodeableConcept `json:"reason,omitempty"`
}

// ClaimDiagnosis lists a pertinent diagnosis.
type ClaimDiagnosis struct {
	Sequence                 int               `json:"sequence"`
	DiagnosisCodeableConcept CodeableConcept   `json:"diagnosisCodeableConcept"`
	Type                     []CodeableConcept `json:"type,omitempty"`
	OnAdmission              *CodeableConcept  `json:"onAdmission,omitempty"`
}

// ClaimInsurance identifies the coverage used to adjudicate the claim.
type ClaimInsurance struct {
	Sequence      int        `json:"sequence"`
	Focal         bool       `json:"focal"`
	Coverage      Reference  `json:"coverage"`
	PreAuthRef    []string   `json:"preAuthRef,omitempty"`
	ClaimResponse *Reference `json:"claimResponse,omitempty"`
}

// ClaimItem is a billed product or service line.
type ClaimItem struct {
	Sequence            int             `json:"sequence"`
	CareTeamSequence    []int           `json:"careTeamSequence,omitempty"`
	DiagnosisSequence   []int           `json:"diagnosisSequence,omitempty"`
	InformationSequence []int           `json:"informationSequence,omitempty"`
	ProductOrService    CodeableConcept `json:"productOrService"`
	ServicedDate        string          `json:"servicedDate,omitempty"`
	Quantity            *Quantity       `json:"quantity,omitempty"`
	UnitPrice           *Money          `json:"unitPrice,omitempty"`
	Factor              float64         `json:"factor,omitempty"`
	Net                 *Money          `json:"net,omitempty"`
	Extension           []Extension     `json:"extension,omitempty"`
}

// ServiceCode returns the primary product-or-service code of the line.
func (i *ClaimItem) ServiceCode() string {
	if len(i.ProductOrService.Coding) > 0 {
		return i.ProductOrService.Coding[0].Code
	}
	return ""
}

// PrincipalDiagnosis returns the code of the principal diagnosis, if any.
func (c *Claim) PrincipalDiagnosis() string {
	for _, d := range c.Diagnosis {
		for _, t := range d.Type {
			for _, coding := range t.Coding {
				if coding.Code == "principal" {
					if len(d.DiagnosisCodeableConcept.Coding) > 0 {
						return d.DiagnosisCodeableConcept.Coding[0].Code
					}
				}
			}
		}
	}
	return ""
}

// NetTotal sums the line nets of the claim.
func (c *Claim) NetTotal() float64 {
	var total float64
	for _, item := range c.Item {
		if item.Net != nil {
			total += item.Net.Value
		}
	}
	return total
}
