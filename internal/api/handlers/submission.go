// Package handlers provides HTTP handlers for the claims API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xactasolutionsai/nphies-sub011/internal/api/middleware"
	"github.com/xactasolutionsai/nphies-sub011/internal/domain/submission"
	"github.com/xactasolutionsai/nphies-sub011/internal/lifecycle"
	"github.com/xactasolutionsai/nphies-sub011/internal/nphies/client"
)

// SubmissionHandler handles submission lifecycle endpoints.
type SubmissionHandler struct {
	orch   *lifecycle.Orchestrator
	logger *zap.Logger
}

// NewSubmissionHandler creates a new handler
func NewSubmissionHandler(orch *lifecycle.Orchestrator, logger *zap.Logger) *SubmissionHandler {
	return &SubmissionHandler{orch: orch, logger: logger}
}

// Routes returns the handler routes
func (h *SubmissionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Post("/preview", h.Preview)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Edit)
	r.Delete("/{id}", h.Delete)
	r.Get("/{id}/bundle", h.Bundle)
	r.Post("/{id}/send", h.Send)
	r.Post("/{id}/poll", h.Poll)
	r.Post("/{id}/cancel", h.Cancel)
	r.Post("/{id}/transfer", h.Transfer)
	r.Post("/{id}/amend", h.Amend)
	r.Post("/{id}/claim", h.CreateClaim)
	return r
}

// SubmissionRequest is the request body for creating or editing a submission.
type SubmissionRequest struct {
	DocType        string `json:"doc_type"`
	Kind           string `json:"kind"`
	Priority       string `json:"priority,omitempty"`
	Currency       string `json:"currency,omitempty"`
	EncounterClass string `json:"encounter_class,omitempty"`

	PatientID  string `json:"patient_id"`
	ProviderID string `json:"provider_id"`
	InsurerID  string `json:"insurer_id"`

	Items          []submission.Item           `json:"items,omitempty"`
	Diagnoses      []submission.Diagnosis      `json:"diagnoses,omitempty"`
	SupportingInfo []submission.SupportingInfo `json:"supporting_info,omitempty"`
	Attachments    []submission.Attachment     `json:"attachments,omitempty"`
}

func (r *SubmissionRequest) input() lifecycle.DraftInput {
	return lifecycle.DraftInput{
		DocType:        submission.DocType(r.DocType),
		Kind:           submission.Kind(r.Kind),
		Priority:       r.Priority,
		Currency:       r.Currency,
		EncounterClass: r.EncounterClass,
		PatientID:      r.PatientID,
		ProviderID:     r.ProviderID,
		InsurerID:      r.InsurerID,
		Items:          r.Items,
		Diagnoses:      r.Diagnoses,
		SupportingInfo: r.SupportingInfo,
		Attachments:    r.Attachments,
	}
}

// SubmissionResponse is the wire representation of a submission.
type SubmissionResponse struct {
	ID                 string     `json:"id"`
	DocType            string     `json:"doc_type"`
	Kind               string     `json:"kind"`
	Status             string     `json:"status"`
	ExchangeRef        string     `json:"exchange_ref,omitempty"`
	ParentID           string     `json:"parent_id,omitempty"`
	IsUpdate           bool       `json:"is_update,omitempty"`
	IsCancelled        bool       `json:"is_cancelled,omitempty"`
	TransferProviderID string     `json:"transfer_provider_id,omitempty"`
	LastError          string     `json:"last_error,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	LastTransmittedAt  *time.Time `json:"last_transmitted_at,omitempty"`
}

func toResponse(sub *submission.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:                 sub.ID,
		DocType:            string(sub.DocType),
		Kind:               string(sub.Kind),
		Status:             string(sub.Status),
		ExchangeRef:        sub.ExchangeRef,
		ParentID:           sub.ParentID,
		IsUpdate:           sub.IsUpdate,
		IsCancelled:        sub.IsCancelled,
		TransferProviderID: sub.TransferProviderID,
		LastError:          sub.LastError,
		CreatedAt:          sub.CreatedAt,
		UpdatedAt:          sub.UpdatedAt,
		LastTransmittedAt:  sub.LastTransmittedAt,
	}
}

// Create handles POST /submissions
func (h *SubmissionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req SubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sub, err := h.orch.CreateDraft(r.Context(), req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("submission draft created",
		zap.String("id", sub.ID),
		zap.String("request_id", middleware.GetRequestID(r.Context())))
	h.writeJSON(w, http.StatusCreated, toResponse(sub))
}

// Get handles GET /submissions/{id}
func (h *SubmissionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, err := h.orch.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toResponse(sub))
}

// Edit handles PUT /submissions/{id}
func (h *SubmissionHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req SubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sub, err := h.orch.Edit(r.Context(), chi.URLParam(r, "id"), req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toResponse(sub))
}

// Delete handles DELETE /submissions/{id}
func (h *SubmissionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.DeleteDraft(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Preview handles POST /submissions/preview. Builds the exchange document
// for unsaved form data without touching stored state.
func (h *SubmissionHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req SubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	doc, buildErrs := h.orch.PreviewDraft(req.input())
	if len(buildErrs) > 0 {
		h.writeValidation(w, buildErrs)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

// Bundle handles GET /submissions/{id}/bundle
func (h *SubmissionHandler) Bundle(w http.ResponseWriter, r *http.Request) {
	doc, buildErrs, err := h.orch.Bundle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(buildErrs) > 0 {
		h.writeValidation(w, buildErrs)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

// Send handles POST /submissions/{id}/send
func (h *SubmissionHandler) Send(w http.ResponseWriter, r *http.Request) {
	sub, err := h.orch.Send(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toResponse(sub))
}

// Poll handles POST /submissions/{id}/poll
func (h *SubmissionHandler) Poll(w http.ResponseWriter, r *http.Request) {
	sub, err := h.orch.Poll(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toResponse(sub))
}

// CancelRequest is the request body for cancelling a submission.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /submissions/{id}/cancel
func (h *SubmissionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	sub, err := h.orch.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toResponse(sub))
}

// TransferRequest is the request body for transferring a submission.
type TransferRequest struct {
	ProviderID string `json:"provider_id"`
	Reason     string `json:"reason,omitempty"`
}

// Transfer handles POST /submissions/{id}/transfer
func (h *SubmissionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	draft, err := h.orch.Transfer(r.Context(), chi.URLParam(r, "id"), req.ProviderID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toResponse(draft))
}

// Amend handles POST /submissions/{id}/amend
func (h *SubmissionHandler) Amend(w http.ResponseWriter, r *http.Request) {
	var in *lifecycle.DraftInput
	var req SubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		v := req.input()
		in = &v
	}

	draft, err := h.orch.Amend(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toResponse(draft))
}

// CreateClaim handles POST /submissions/{id}/claim. Creates a claim draft
// from an approved prior authorization.
func (h *SubmissionHandler) CreateClaim(w http.ResponseWriter, r *http.Request) {
	draft, err := h.orch.CreateFromAuthorization(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toResponse(draft))
}

// writeError maps domain errors to HTTP status codes. Validation problems
// and exchange document rejections are 422, lifecycle guard and concurrency
// conflicts are 409, transport failures are 502.
func (h *SubmissionHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs submission.ValidationErrors
	var guard *submission.GuardViolation
	var conflict *submission.ConflictError
	var rejected *client.RejectedError
	var transport *client.TransportError

	switch {
	case errors.Is(err, submission.ErrNotFound):
		h.jsonError(w, "submission not found", http.StatusNotFound)
	case errors.As(err, &verrs):
		h.writeValidation(w, verrs)
	case errors.As(err, &guard):
		h.writeJSON(w, http.StatusConflict, map[string]string{
			"error":   guard.Error(),
			"command": guard.Command,
			"status":  string(guard.Status),
		})
	case errors.As(err, &conflict):
		h.jsonError(w, err.Error(), http.StatusConflict)
	case errors.As(err, &rejected):
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":    "exchange rejected the document",
			"messages": rejected.Messages,
		})
	case errors.As(err, &transport):
		h.jsonError(w, err.Error(), http.StatusBadGateway)
	default:
		h.logger.Error("unhandled error",
			zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(r.Context())))
		h.jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

func (h *SubmissionHandler) writeValidation(w http.ResponseWriter, verrs submission.ValidationErrors) {
	type fieldError struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	}
	out := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fieldError{Field: fe.Field, Message: fe.Message})
	}
	h.writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
		"error":  "validation failed",
		"fields": out,
	})
}

func (h *SubmissionHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *SubmissionHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
