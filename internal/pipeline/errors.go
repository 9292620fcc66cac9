package pipeline

import "github.com/abhisek/learngraph/internal/apperr"

var (
	// ErrNoEligibleContent means every goal is already mastered. The session
	// completes early.
	ErrNoEligibleContent = apperr.New(apperr.State, "no_eligible_content", "every goal is already mastered")
	ErrOutOfOrder        = apperr.New(apperr.State, "out_of_order", "stage transition out of order")
	ErrSessionClosed     = apperr.New(apperr.State, "session_closed", "session is closed")
	ErrInvalidResponse   = apperr.New(apperr.Data, "invalid_response", "invalid response")
	ErrMissingPayload    = apperr.New(apperr.State, "missing_payload", "no material was delivered")
)
