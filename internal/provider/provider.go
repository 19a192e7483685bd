// Package provider defines the provider-neutral send contract. Both upstream
// clients (graph, gateway) adapt their wire shapes to these types so the
// dispatcher never sees provider-specific payloads.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Name identifies an upstream provider implementation.
type Name string

const (
	NameGraph   Name = "graph"
	NameGateway Name = "gateway"
)

// SendRequest is one provider-neutral template send.
type SendRequest struct {
	Recipient    string
	TemplateName string
	LanguageCode string
	// Components carries the resolved per-recipient template variables in the
	// provider-neutral component schema.
	Components []map[string]any
}

// SendResult is the successful outcome of a send: the provider-assigned
// message id used to correlate webhook status updates.
type SendResult struct {
	MessageID string
}

// SendFunc performs one provider call. The credential resolver binds tenant
// credentials into the closure so pool workers stay provider-agnostic.
type SendFunc func(ctx context.Context, req SendRequest) (SendResult, error)

// Error is a classified provider failure.
type Error struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error %s: %s", e.Code, e.Message)
	}
	return e.Message
}

// NewTransient creates a retryable provider error (rate limit, transient
// network or 5xx failure).
func NewTransient(code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: true}
}

// NewTerminal creates a non-retryable provider error (bad request, invalid
// credential, template parameter mismatch).
func NewTerminal(code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: false}
}

// IsRetryable reports whether the dispatcher should retry the attempt.
// Unclassified errors (transport-level) are treated as transient.
func IsRetryable(err error) bool {
	var provErr *Error
	if errors.As(err, &provErr) {
		return provErr.Retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return true
}

// ClassifyHTTPStatus maps an HTTP status code from a provider response to the
// retryable/terminal split.
func ClassifyHTTPStatus(status int) bool {
	switch {
	case status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}
