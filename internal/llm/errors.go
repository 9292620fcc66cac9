package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Reason classifies a provider failure for retry decisions.
type Reason string

const (
	ReasonRateLimited Reason = "rate_limited"
	ReasonUnavailable Reason = "unavailable"
	ReasonInvalid     Reason = "invalid_response"
	ReasonTruncated   Reason = "truncated"
)

// ProviderError is returned by every Provider for failures the caller may
// act on.
type ProviderError struct {
	Reason Reason
	// RetryAfter is the server hint for rate limited requests.
	RetryAfter time.Duration
	// Content holds the raw output for invalid or truncated responses.
	Content json.RawMessage
	Err     error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Reason == ReasonRateLimited && e.RetryAfter > 0:
		return fmt.Sprintf("llm %s (retry after %s): %v", e.Reason, e.RetryAfter, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("llm %s: %v", e.Reason, e.Err)
	}
	return "llm " + string(e.Reason)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func unavailable(err error) error { return &ProviderError{Reason: ReasonUnavailable, Err: err} }

func invalid(content json.RawMessage, format string, args ...any) error {
	return &ProviderError{Reason: ReasonInvalid, Content: content, Err: fmt.Errorf(format, args...)}
}

// ReasonOf reports the Reason of a ProviderError in err's chain.
func ReasonOf(err error) (Reason, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Reason, true
	}
	return "", false
}

// classifyStatus maps an HTTP status from a provider SDK error.
func classifyStatus(status int, err error) error {
	if status == 429 {
		return &ProviderError{Reason: ReasonRateLimited, Err: err}
	}
	return unavailable(err)
}
