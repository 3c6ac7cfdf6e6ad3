package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorType classifies API errors for the appropriate retry strategy.
type ErrorType int

const (
	ErrRateLimit          ErrorType = iota // HTTP 429
	ErrProviderOverloaded                  // HTTP 502, 503
	ErrContextTooLong                      // HTTP 400 + context_length_exceeded
	ErrAuth                                // HTTP 401, 403
	ErrMalformedResponse                   // JSON parse failure or no choices
	ErrTimeout                             // request deadline exceeded
	ErrUnknown                             // anything else
)

// String returns the human-readable name of the error type.
func (e ErrorType) String() string {
	switch e {
	case ErrRateLimit:
		return "rate_limit"
	case ErrProviderOverloaded:
		return "provider_overloaded"
	case ErrContextTooLong:
		return "context_length_exceeded"
	case ErrAuth:
		return "auth_error"
	case ErrMalformedResponse:
		return "malformed_response"
	case ErrTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an API error with its classification and metadata.
type ClassifiedError struct {
	Type       ErrorType
	StatusCode int
	Message    string
	RetryAfter time.Duration // only set for rate limit errors
}

func (e *ClassifiedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("llm %s (HTTP %d): %s (retry after %s)", e.Type, e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("llm %s (HTTP %d): %s", e.Type, e.StatusCode, e.Message)
}

// Retryable returns true if this error type supports automatic retry.
func (e *ClassifiedError) Retryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrProviderOverloaded, ErrTimeout, ErrMalformedResponse:
		return true
	default:
		return false
	}
}

// MaxRetries returns the maximum number of client-level retries for this
// error type, before the failure is handed to the fallback chain.
func (e *ClassifiedError) MaxRetries() int {
	switch e.Type {
	case ErrRateLimit, ErrProviderOverloaded:
		return 3
	case ErrMalformedResponse:
		return 2
	case ErrTimeout:
		return 1
	default:
		return 0
	}
}

// CandidateError records one failed candidate within a fallback chain.
type CandidateError struct {
	Model string
	Err   error
}

// FallbackError aggregates the per-candidate failures when every candidate
// model in the chain failed.
type FallbackError struct {
	Attempts []CandidateError
}

func (e *FallbackError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Model, a.Err)
	}
	return fmt.Sprintf("all %d candidate models failed: %s", len(e.Attempts), strings.Join(parts, "; "))
}

// apiErrorBody is the JSON error body returned by OpenAI-compatible APIs.
type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// classifyHTTPError classifies an HTTP response as a specific error type.
func classifyHTTPError(resp *http.Response) *ClassifiedError {
	body, _ := io.ReadAll(resp.Body)

	var errBody apiErrorBody
	json.Unmarshal(body, &errBody) //nolint:errcheck // best-effort parse

	msg := errBody.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &ClassifiedError{
			Type:       ErrRateLimit,
			StatusCode: resp.StatusCode,
			Message:    msg,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}

	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return &ClassifiedError{
			Type:       ErrProviderOverloaded,
			StatusCode: resp.StatusCode,
			Message:    msg,
		}

	case http.StatusUnauthorized, http.StatusForbidden:
		return &ClassifiedError{
			Type:       ErrAuth,
			StatusCode: resp.StatusCode,
			Message:    msg,
		}

	case http.StatusBadRequest:
		combined := strings.ToLower(errBody.Error.Code + " " + errBody.Error.Type + " " + msg)
		if strings.Contains(combined, "context_length_exceeded") ||
			strings.Contains(combined, "maximum context length") ||
			strings.Contains(combined, "too many tokens") {
			return &ClassifiedError{
				Type:       ErrContextTooLong,
				StatusCode: resp.StatusCode,
				Message:    msg,
			}
		}
		return &ClassifiedError{
			Type:       ErrUnknown,
			StatusCode: resp.StatusCode,
			Message:    msg,
		}

	default:
		return &ClassifiedError{
			Type:       ErrUnknown,
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	}
}

// parseRetryAfter parses the Retry-After header value as seconds.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil {
		return 0
	}
	return time.Duration(secs) * time.Second
}
