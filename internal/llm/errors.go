package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

var (
	// ErrFatalAPI marks account-level provider failures (bad credentials,
	// exhausted credit or quota, rate limiting). Retrying will not help.
	ErrFatalAPI = errors.New("fatal API error")

	// ErrStreamConsumed is yielded when a reply stream is iterated twice.
	ErrStreamConsumed = errors.New("reply stream already consumed")

	// ErrNoChoices indicates a provider response without any content choice.
	ErrNoChoices = errors.New("no response choices")
)

// CodeMalformedResponse classifies responses that could not be interpreted.
const CodeMalformedResponse llms.ErrorCode = "malformed_response"

// EngineError is returned for every failed generation.
type EngineError struct {
	Op       string // "generate" or "stream"
	Provider string
	Code     llms.ErrorCode
	Err      error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Provider, e.Op, e.Code, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is reports errors classified as account problems as ErrFatalAPI. Errors
// recognised by their text already wrap ErrFatalAPI.
func (e *EngineError) Is(target error) bool {
	return target == ErrFatalAPI && isFatalCode(e.Code)
}

// Fatal reports whether the error matches ErrFatalAPI.
func (e *EngineError) Fatal() bool {
	return errors.Is(e, ErrFatalAPI)
}

// newEngineError classifies err using langchaingo's error mapper. Errors
// already classified by the provider keep their code.
func newEngineError(op, provider string, err error) *EngineError {
	code := llms.ErrCodeUnknown
	var llmErr *llms.Error
	if errors.As(llms.NewErrorMapper(provider).WrapError(err), &llmErr) {
		code = llmErr.Code
	}
	return &EngineError{Op: op, Provider: provider, Code: code, Err: wrapFatalError(err)}
}

func isFatalCode(code llms.ErrorCode) bool {
	switch code {
	case llms.ErrCodeAuthentication, llms.ErrCodeRateLimit, llms.ErrCodeQuotaExceeded:
		return true
	default:
		return false
	}
}

var fatalPatterns = []string{
	"credit balance",
	"rate limit",
	"quota",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

// isFatalAPIError matches provider error text that signals an account problem.
func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range fatalPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// wrapFatalError wraps err with ErrFatalAPI when it is an account problem.
func wrapFatalError(err error) error {
	if !isFatalAPIError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFatalAPI, err)
}
