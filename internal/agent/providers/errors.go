package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Reason categorizes why a model request failed.
type Reason string

const (
	// ReasonBilling indicates payment/quota issues (HTTP 402)
	ReasonBilling Reason = "billing"

	// ReasonRateLimit indicates rate limiting (HTTP 429)
	ReasonRateLimit Reason = "rate_limit"

	// ReasonAuth indicates authentication failure (HTTP 401, 403)
	ReasonAuth Reason = "auth"

	// ReasonTimeout indicates request timeout
	ReasonTimeout Reason = "timeout"

	// ReasonServerError indicates server-side issues (HTTP 5xx)
	ReasonServerError Reason = "server_error"

	// ReasonInvalidRequest indicates client-side issues (HTTP 400)
	ReasonInvalidRequest Reason = "invalid_request"

	// ReasonModelUnavailable indicates the model is not available
	ReasonModelUnavailable Reason = "model_unavailable"

	// ReasonContentFilter indicates content was blocked by safety filters
	ReasonContentFilter Reason = "content_filter"

	// ReasonUnknown indicates an unclassified error
	ReasonUnknown Reason = "unknown"
)

// IsRetryable returns true if retrying the same request may succeed.
func (r Reason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a structured failure from a model provider. The agent
// wraps it in a TransportError, which ends the session.
type ProviderError struct {
	Reason    Reason
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	Cause     error
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.RequestID != "" {
		parts = append(parts, fmt.Sprintf("request_id=%s", e.RequestID))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError classifies cause and wraps it.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   ReasonUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}
	return err
}

// WithStatus adds the HTTP status and reclassifies.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if reason := classifyStatusCode(status); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// WithCode adds a provider-specific error code. Known codes take precedence
// over the status classification.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if reason := classifyErrorCode(code); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// ClassifyError inspects an unstructured error message.
func ClassifyError(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case containsAny(errStr, "timeout", "deadline exceeded", "etimedout"):
		return ReasonTimeout
	case containsAny(errStr, "rate limit", "rate_limit", "too many requests", "429"):
		return ReasonRateLimit
	case containsAny(errStr, "unauthorized", "invalid api key", "invalid_api_key", "authentication", "401", "403"):
		return ReasonAuth
	case containsAny(errStr, "billing", "payment", "quota", "insufficient", "402"):
		return ReasonBilling
	case containsAny(errStr, "content_filter", "content policy", "safety", "blocked"):
		return ReasonContentFilter
	case containsAny(errStr, "model not found", "model_not_found", "does not exist"):
		return ReasonModelUnavailable
	case containsAny(errStr, "internal server", "server error", "overloaded", "unavailable",
		"connection reset", "connection refused", "500", "502", "503", "504", "529"):
		return ReasonServerError
	}
	return ReasonUnknown
}

func containsAny(s string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}

func classifyStatusCode(status int) Reason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusBadRequest:
		return ReasonInvalidRequest
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status == http.StatusRequestTimeout:
		return ReasonTimeout
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func classifyErrorCode(code string) Reason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded", "resource_exhausted":
		return ReasonRateLimit
	case "authentication_error", "permission_error", "invalid_api_key":
		return ReasonAuth
	case "billing_error", "insufficient_quota":
		return ReasonBilling
	case "not_found_error", "model_not_found", "model_not_available":
		return ReasonModelUnavailable
	case "content_policy_violation", "content_filter":
		return ReasonContentFilter
	case "api_error", "overloaded_error", "server_error", "internal_error":
		return ReasonServerError
	case "invalid_request_error":
		return ReasonInvalidRequest
	default:
		return ReasonUnknown
	}
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}
