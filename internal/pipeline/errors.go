package pipeline

import (
	"fmt"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-chat/internal/model"
)

// Rejection codes returned to the caller of HandlePublicChat.
const (
	CodeRateLimited         = "rate_limited"
	CodeInsufficientCredits = "insufficient_credits"
	CodeNotFound            = "not_found"
	CodeAgentUnavailable    = "agent_unavailable"
	CodeAgentMisconfigured  = "agent_misconfigured"
	CodeInvalidRequest      = "invalid_request"
)

// ChatError is a structured rejection. It is the only error type
// HandlePublicChat returns; every other failure is absorbed into a fallback
// reply.
type ChatError struct {
	Status int
	Code   string
	Reason model.FallbackReason
	Err    error
}

func (e *ChatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pipeline: %s: %v", e.Code, e.Err)
	}
	return "pipeline: " + e.Code
}

func (e *ChatError) Unwrap() error { return e.Err }

func errRateLimited(tier string) *ChatError {
	return &ChatError{Status: http.StatusTooManyRequests, Code: CodeRateLimited, Err: eris.Errorf("%s tier limit exceeded", tier)}
}

func errInsufficientCredits(err error) *ChatError {
	return &ChatError{Status: http.StatusPaymentRequired, Code: CodeInsufficientCredits, Err: err}
}

func errNotFound(err error) *ChatError {
	return &ChatError{Status: http.StatusNotFound, Code: CodeNotFound, Err: err}
}

func errUnavailable(err error) *ChatError {
	return &ChatError{
		Status: http.StatusServiceUnavailable,
		Code:   CodeAgentUnavailable,
		Reason: model.FallbackAgentUnavailable,
		Err:    err,
	}
}

func errMisconfigured(reason model.FallbackReason) *ChatError {
	return &ChatError{Status: http.StatusInternalServerError, Code: CodeAgentMisconfigured, Reason: reason}
}

func errInvalidRequest(msg string) *ChatError {
	return &ChatError{Status: http.StatusBadRequest, Code: CodeInvalidRequest, Err: eris.New(msg)}
}
