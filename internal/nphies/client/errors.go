package client

import (
	"errors"
	"fmt"
	"strings"
)

// TransportError indicates a network-level failure talking to the exchange.
// The submission state is unchanged and the command may be retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("exchange transport failure on %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectedError indicates the exchange rejected the document itself as
// malformed, distinct from a business denial. The submission reverts to an
// editable state.
type RejectedError struct {
	StatusCode int
	Messages   []string
}

func (e *RejectedError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("exchange rejected document (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("exchange rejected document: %s", strings.Join(e.Messages, "; "))
}

// IsTransport reports whether err is a retryable transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRejected reports whether err is an exchange document rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
