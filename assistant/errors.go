package assistant

import (
	"context"
	"errors"
	"fmt"

	"kraina-desktop/agent"
	"kraina-desktop/llm"
	"kraina-desktop/tools"
	"kraina-desktop/utils"
)

var (
	// ErrUnexpectedEvent means the agent loop produced an event outside its
	// protocol. It is never converted into a failed Response.
	ErrUnexpectedEvent = errors.New("unexpected agent event")
	// ErrConversationBusy is returned when a conversation already has a
	// turn in flight
	ErrConversationBusy = errors.New("conversation already has a turn in progress")
	// ErrUnknownSnippet is returned for snippet names nobody loaded
	ErrUnknownSnippet = errors.New("unknown snippet")
)

// FormatFailure renders err the way failed turns report it:
// "FAIL: <Kind>: <message>"
func FormatFailure(err error) string {
	return fmt.Sprintf("FAIL: %s: %v", errorKind(err), err)
}

func errorKind(err error) string {
	var (
		maxTokens  *llm.MaxTokensError
		apiErr     *llm.APIError
		validation *ValidationError
		unknown    *tools.UnknownToolError
		panicErr   *utils.PanicError
	)
	switch {
	case errors.As(err, &maxTokens):
		return "MaxTokensError"
	case errors.As(err, &validation):
		return "ValidationError"
	case errors.As(err, &apiErr):
		return "APIError"
	case errors.As(err, &unknown):
		return "UnknownToolError"
	case errors.As(err, &panicErr):
		return "Panic"
	case errors.Is(err, llm.ErrNoFinishReason):
		return "NoFinishReason"
	case errors.Is(err, llm.ErrNoProvider):
		return "NoProvider"
	case errors.Is(err, agent.ErrMaxIterationsReached):
		return "MaxIterationsReached"
	case errors.Is(err, ErrUnknownSnippet):
		return "UnknownSnippet"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	}
	return "Error"
}
