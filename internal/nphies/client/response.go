package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	fhir "github.com/xactasolutionsai/nphies-sub011/internal/fhir/r4"
)

// SystemQueueToken is the identifier system the exchange uses for
// asynchronous polling tokens.
const SystemQueueToken = "http://nphies.sa/identifier/queue-token"

func marshalPayload(payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return raw, nil
}

// parseSubmitResponse reads the exchange's response bundle into either an
// immediate Outcome or a Queued acknowledgement.
func parseSubmitResponse(body []byte) (*SubmitResult, error) {
	cr, err := claimResponseFrom(body)
	if err != nil {
		return nil, err
	}

	if cr.Outcome == fhir.OutcomeQueued {
		token := identifierValue(cr.Identifier, SystemQueueToken)
		if token == "" {
			token = cr.ID
		}
		return &SubmitResult{Queued: &Queued{
			Token:     token,
			Reference: referenceOf(cr),
		}}, nil
	}

	outcome, err := decide(cr)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Outcome: outcome}, nil
}

// parsePollResponse reads a poll response. A response bundle without a
// ClaimResponse means the adjudication is still pending.
func parsePollResponse(body []byte) (*PollResult, error) {
	var bundle fhir.Bundle
	if err := bundle.FromJSON(body); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}

	var cr fhir.ClaimResponse
	found, err := bundle.FindResource("ClaimResponse", &cr)
	if err != nil {
		return nil, err
	}
	if !found || cr.Outcome == fhir.OutcomeQueued {
		return &PollResult{StillPending: true}, nil
	}

	outcome, err := decide(&cr)
	if err != nil {
		return nil, err
	}
	return &PollResult{Outcome: outcome}, nil
}

// checkAck verifies a cancel acknowledgement.
func checkAck(body []byte) error {
	var bundle fhir.Bundle
	if err := bundle.FromJSON(body); err != nil {
		return fmt.Errorf("decode cancel response: %w", err)
	}

	var oo fhir.OperationOutcome
	found, err := bundle.FindResource("OperationOutcome", &oo)
	if err != nil {
		return err
	}
	if found {
		if msgs := oo.Errors(); len(msgs) > 0 {
			return &RejectedError{Messages: msgs}
		}
	}
	return nil
}

func claimResponseFrom(body []byte) (*fhir.ClaimResponse, error) {
	var bundle fhir.Bundle
	if err := bundle.FromJSON(body); err != nil {
		return nil, fmt.Errorf("decode exchange response: %w", err)
	}

	// A top-level OperationOutcome with errors means the document itself
	// was rejected.
	var oo fhir.OperationOutcome
	if found, err := bundle.FindResource("OperationOutcome", &oo); err == nil && found {
		if msgs := oo.Errors(); len(msgs) > 0 {
			return nil, &RejectedError{Messages: msgs}
		}
	}

	var cr fhir.ClaimResponse
	found, err := bundle.FindResource("ClaimResponse", &cr)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("exchange response carries no ClaimResponse")
	}
	return &cr, nil
}

// decide maps a ClaimResponse to a decision. A complete outcome with every
// item approved is approved; a mix of approved and rejected items is
// partial; everything else is denied.
func decide(cr *fhir.ClaimResponse) (*Outcome, error) {
	out := &Outcome{
		Reference:   referenceOf(cr),
		Disposition: cr.Disposition,
	}

	switch cr.Outcome {
	case fhir.OutcomeError:
		out.Decision = DecisionDenied
		return out, nil
	case fhir.OutcomePartial:
		out.Decision = DecisionPartial
		return out, nil
	case fhir.OutcomeComplete:
	default:
		return nil, fmt.Errorf("unknown exchange outcome %q", cr.Outcome)
	}

	approved, rejected := 0, 0
	for i := range cr.Item {
		switch cr.Item[i].AdjudicationOutcome() {
		case "approved":
			approved++
		case "rejected":
			rejected++
		}
	}
	switch {
	case rejected == 0:
		out.Decision = DecisionApproved
	case approved == 0:
		out.Decision = DecisionDenied
	default:
		out.Decision = DecisionPartial
	}
	return out, nil
}

func referenceOf(cr *fhir.ClaimResponse) string {
	if cr.PreAuthRef != "" {
		return cr.PreAuthRef
	}
	for _, id := range cr.Identifier {
		if id.Value != "" {
			return id.Value
		}
	}
	return cr.ID
}

func identifierValue(ids []fhir.Identifier, system string) string {
	for _, id := range ids {
		if id.System == system {
			return id.Value
		}
	}
	return ""
}

func rejectedFromBody(status int, body []byte) error {
	var oo fhir.OperationOutcome
	if err := json.Unmarshal(body, &oo); err == nil && oo.ResourceType == "OperationOutcome" {
		return &RejectedError{StatusCode: status, Messages: oo.Errors()}
	}
	var bundle fhir.Bundle
	if err := bundle.FromJSON(body); err == nil {
		if found, err := bundle.FindResource("OperationOutcome", &oo); err == nil && found {
			return &RejectedError{StatusCode: status, Messages: oo.Errors()}
		}
	}
	return &RejectedError{StatusCode: status}
}

func pollTask(token, senderLicense string) *fhir.Task {
	return &fhir.Task{
		ResourceType: "Task",
		ID:           uuid.New().String(),
		Identifier: []fhir.Identifier{
			{System: SystemQueueToken, Value: token},
		},
		Status:     "requested",
		Intent:     "order",
		Code:       &fhir.CodeableConcept{Coding: []fhir.Coding{{System: fhir.SystemTaskReason, Code: "poll"}}},
		AuthoredOn: time.Now().UTC(),
		Requester: &fhir.Reference{
			Identifier: &fhir.Identifier{System: fhir.SystemProviderLicense, Value: senderLicense},
		},
	}
}

func cancelTask(reference, reason, senderLicense string) *fhir.Task {
	return &fhir.Task{
		ResourceType: "Task",
		ID:           uuid.New().String(),
		Status:       "requested",
		Intent:       "order",
		Code:         &fhir.CodeableConcept{Coding: []fhir.Coding{{System: fhir.SystemTaskReason, Code: "cancel"}}},
		Focus:        &fhir.Reference{Identifier: &fhir.Identifier{Value: reference}},
		AuthoredOn:   time.Now().UTC(),
		Requester: &fhir.Reference{
			Identifier: &fhir.Identifier{System: fhir.SystemProviderLicense, Value: senderLicense},
		},
		ReasonCode: &fhir.CodeableConcept{Text: reason},
	}
}
