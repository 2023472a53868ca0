// Package client implements the HTTP client for the national exchange.
//
// The client performs exactly one wire call per invocation: retries are a
// lifecycle-orchestrator decision so that every state transition stays
// observable and auditable.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	fhir "github.com/xactasolutionsai/nphies-sub011/internal/fhir/r4"
	"github.com/xactasolutionsai/nphies-sub011/pkg/circuitbreaker"
)

// Config holds exchange client configuration
type Config struct {
	// BaseURL is the exchange endpoint root.
	BaseURL string
	// APIKey authenticates this provider system with the exchange.
	APIKey string
	// Timeout bounds every wire call.
	Timeout time.Duration
	// SenderLicense identifies the provider on cancel/poll tasks.
	SenderLicense string
}

// DefaultConfig returns defaults suitable for the exchange sandbox.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8090/nphies",
		Timeout: 15 * time.Second,
	}
}

// Client talks to the exchange clearinghouse.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New creates an exchange client. The circuit breaker is shared across all
// three operations: the exchange is one upstream.
func New(cfg Config, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
		tracer:  otel.Tracer("nphies-client"),
	}
}

// Decision is the exchange's adjudication decision.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionPartial  Decision = "partial"
	DecisionDenied   Decision = "denied"
)

// Outcome is an immediate or polled adjudication result.
type Outcome struct {
	Decision    Decision
	Reference   string
	Disposition string
}

// Queued indicates the exchange accepted the submission for asynchronous
// adjudication.
type Queued struct {
	Token     string
	Reference string
}

// SubmitResult is either an immediate Outcome or a Queued acknowledgement.
type SubmitResult struct {
	Outcome *Outcome
	Queued  *Queued
}

// PollResult is either an Outcome or still-pending.
type PollResult struct {
	Outcome      *Outcome
	StillPending bool
}

// Submit transmits a bundle to the exchange.
func (c *Client) Submit(ctx context.Context, bundle *fhir.Bundle) (*SubmitResult, error) {
	ctx, span := c.tracer.Start(ctx, "exchange_submit",
		trace.WithAttributes(attribute.String("bundle_id", bundle.ID)))
	defer span.End()

	body, err := c.post(ctx, "/submissions", bundle)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result, err := parseSubmitResponse(body)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if result.Queued != nil {
		c.logger.Info("submission queued by exchange",
			zap.String("bundle_id", bundle.ID),
			zap.String("reference", result.Queued.Reference))
	} else {
		c.logger.Info("submission adjudicated synchronously",
			zap.String("bundle_id", bundle.ID),
			zap.String("decision", string(result.Outcome.Decision)))
	}
	return result, nil
}

// Poll queries the exchange for the result of a queued submission. Safe to
// call repeatedly; does not change exchange-side state.
func (c *Client) Poll(ctx context.Context, token string) (*PollResult, error) {
	ctx, span := c.tracer.Start(ctx, "exchange_poll",
		trace.WithAttributes(attribute.String("token", token)))
	defer span.End()

	task := pollTask(token, c.cfg.SenderLicense)
	body, err := c.post(ctx, "/poll", task)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result, err := parsePollResponse(body)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

// CancelRequest asks the exchange to cancel a previously adjudicated
// submission.
func (c *Client) CancelRequest(ctx context.Context, reference, reason string) error {
	ctx, span := c.tracer.Start(ctx, "exchange_cancel",
		trace.WithAttributes(attribute.String("reference", reference)))
	defer span.End()

	task := cancelTask(reference, reason, c.cfg.SenderLicense)
	body, err := c.post(ctx, "/cancel", task)
	if err != nil {
		span.RecordError(err)
		return err
	}
	return checkAck(body)
}

// post sends one JSON request through the circuit breaker and returns the
// response body. Network and 5xx failures surface as TransportError;
// 4xx responses as RejectedError.
func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/fhir+json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &TransportError{Op: path, Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return nil, &TransportError{Op: path, Err: err}
		}

		switch {
		case resp.StatusCode >= 500:
			return nil, &TransportError{Op: path, Err: fmt.Errorf("exchange returned %d", resp.StatusCode)}
		case resp.StatusCode >= 400:
			return nil, rejectedFromBody(resp.StatusCode, body)
		}
		return body, nil
	})
	if err != nil {
		if circuitbreaker.IsOpen(err) {
			return nil, &TransportError{Op: path, Err: err}
		}
		return nil, err
	}
	return result.([]byte), nil
}
