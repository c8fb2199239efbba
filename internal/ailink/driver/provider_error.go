package driver

import (
	"fmt"
	"strings"
)

// ProviderError is returned when a provider responds with a non-2xx status.
//
// RawResponse holds the provider response body bytes and must never include
// API keys.
type ProviderError struct {
	Provider    string
	StatusCode  int
	Message     string
	RawResponse []byte
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s request failed: %s", e.Provider, e.Message)
}

// NewProviderError builds a ProviderError from a failed response body.
func NewProviderError(provider string, status int, body []byte) *ProviderError {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", status)
	}
	return &ProviderError{Provider: provider, StatusCode: status, Message: msg, RawResponse: body}
}

// ThrownError carries a failure value of arbitrary shape raised by an
// in-process provider.
type ThrownError struct {
	Value      any
	StatusCode int
}

func (e *ThrownError) Error() string {
	if e == nil || e.Value == nil {
		return "provider call failed"
	}
	if s, ok := e.Value.(string); ok {
		return s
	}
	return fmt.Sprintf("provider call failed: %v", e.Value)
}

// ThrownValue exposes the raw value for error-message extraction.
func (e *ThrownError) ThrownValue() any {
	if e == nil {
		return nil
	}
	return e.Value
}
