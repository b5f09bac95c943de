package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOutcomeUnknown marks a remote call abandoned before its result was known.
// An attempt carrying it must never be recorded as a success.
var ErrOutcomeUnknown = errors.New("timeout: remote outcome unknown")

// ValidationError reports a malformed inbound order or payload
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UnmatchedLineError describes the lines of an order that could not be resolved.
// It is used to render caller-facing messages; the matcher never returns it.
type UnmatchedLineError struct {
	OrderNumber string
	Lines       []MatchedLineItem
}

func (e *UnmatchedLineError) Error() string {
	parts := make([]string, 0, len(e.Lines))
	for _, l := range e.Lines {
		parts = append(parts, fmt.Sprintf("line %d %q (%s)", l.Line, l.Description, l.Reason))
	}
	return fmt.Sprintf("order %s has %d unmatched line(s): %s",
		e.OrderNumber, len(e.Lines), strings.Join(parts, "; "))
}

// IncompleteOrderError is returned by the estimate builder when a precondition fails.
// Line is 1-based; zero means the problem is order-level (e.g. missing customer).
type IncompleteOrderError struct {
	OrderNumber string
	Line        int
	Reason      string
}

func (e *IncompleteOrderError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("order %s is incomplete: line %d: %s", e.OrderNumber, e.Line, e.Reason)
	}
	return fmt.Sprintf("order %s is incomplete: %s", e.OrderNumber, e.Reason)
}

// RemoteAPIError carries the status and message returned by QuickBooks
type RemoteAPIError struct {
	Op        string
	Status    int
	Code      string
	Message   string
	Transient bool
}

func (e *RemoteAPIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("quickbooks %s failed: status=%d code=%s: %s", e.Op, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("quickbooks %s failed: status=%d: %s", e.Op, e.Status, e.Message)
}

// Signature rejection reasons
const (
	SignatureMissingSecret = "missing_secret"
	SignatureMissingHeader = "missing_signature"
	SignatureMismatch      = "mismatch"
)

// SignatureError rejects a webhook before any processing happens
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string {
	return "webhook signature rejected: " + e.Reason
}

// StoreError wraps a persistence failure
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable remote failure
func IsTransient(err error) bool {
	var remoteErr *RemoteAPIError
	if errors.As(err, &remoteErr) {
		return remoteErr.Transient
	}
	return false
}
