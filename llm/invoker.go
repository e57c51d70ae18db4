package llm

import (
	"context"
	"fmt"
	"strings"

	"kraina-desktop/utils"
)

// ContinuePrompt is sent after a truncated answer
const ContinuePrompt = "The response is not complete, continue"

// DefaultMaxContinuations bounds the number of follow-up calls of one Invoke
const DefaultMaxContinuations = 64

// MaxTokensError reports that a continuation produced no content, so the
// configured output budget can never yield an answer
type MaxTokensError struct {
	MaxTokens int
}

func (e *MaxTokensError) Error() string {
	return fmt.Sprintf("'max_tokens' %d is too low to get response, consider increase it", e.MaxTokens)
}

// Invoker requests continuations until the provider reports a complete answer
type Invoker struct {
	MaxContinuations int
	Logger           *utils.Logger
}

// NewInvoker creates an invoker with the default continuation cap
func NewInvoker(logger *utils.Logger) *Invoker {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &Invoker{MaxContinuations: DefaultMaxContinuations, Logger: logger}
}

// Invoke runs req and, while the answer is truncated, appends the partial
// answer plus ContinuePrompt and calls again. Calls are strictly sequential.
// The returned completion carries the concatenated text of every answer and
// the metadata of the last call.
func (inv *Invoker) Invoke(ctx context.Context, p Provider, req Request) (*Completion, error) {
	logger := inv.Logger
	if logger == nil {
		logger = utils.NopLogger()
	}
	limit := inv.MaxContinuations
	if limit <= 0 {
		limit = DefaultMaxContinuations
	}

	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	reason, err := FinishReason(resp)
	if err != nil {
		return nil, err
	}
	resp.StopReason = reason
	if IsComplete(reason) {
		return resp, nil
	}

	messages := append([]Message(nil), req.Messages...)
	parts := []string{resp.Text()}
	for i := 0; !IsComplete(reason); i++ {
		if i >= limit {
			return nil, fmt.Errorf("response still incomplete after %d continuations (finish reason %q)", limit, reason)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logger.Debug("%s: finish reason %q, requesting continuation %d", p.Name(), reason, i+1)

		messages = append(messages,
			Message{Role: RoleAssistant, Content: resp.Text()},
			Message{Role: RoleUser, Content: ContinuePrompt},
		)
		next := req
		next.Messages = messages

		resp, err = p.Complete(ctx, next)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(resp.Text()) == "" {
			return nil, &MaxTokensError{MaxTokens: req.MaxTokens}
		}
		reason, err = FinishReason(resp)
		if err != nil {
			return nil, err
		}
		parts = append(parts, resp.Text())
	}

	resp.Content = strings.Join(parts, "")
	resp.Segments = nil
	resp.StopReason = reason
	return resp, nil
}
