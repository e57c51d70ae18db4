package assistant

import (
	"context"
	"fmt"
	"strings"

	"kraina-desktop/llm"
	"kraina-desktop/utils"
)

// Default snippet settings used when config.yaml leaves them out
const (
	DefaultSnippetTemperature = 0.5
	DefaultSnippetMaxTokens   = 512
)

// SnippetOptions configures one snippet run
type SnippetOptions struct {
	Context   map[string]string
	Overrides llm.RequestOverrides
}

// ExecSnippet applies s to text through the continuation invoker. Unlike
// Run it returns provider errors to the caller; FormatFailure renders them.
func (e *Engine) ExecSnippet(ctx context.Context, s *Snippet, text string, opts SnippetOptions) (out string, err error) {
	start := e.deps.Now()
	logger := e.logger.WithField("snippet", s.Name)
	logger.Info("Snippet: query=%q", utils.Shorten(text, 80))
	defer func() {
		if e.deps.Observer != nil {
			e.deps.Observer.SnippetFinished(s.Name, err != nil, e.deps.Now().Sub(start))
		}
		if err != nil {
			logger.Error("Snippet failed: %v", err)
		}
	}()
	defer utils.RecoverFromPanic(logger, "snippet "+s.Name, func(p error) { err = p })

	forced := s.ForceAPI
	if forced == "" {
		forced = e.deps.SnippetAPI
	}
	api, provider, err := e.deps.Providers.Select(forced, opts.Overrides)
	if err != nil {
		return "", err
	}

	req := opts.Overrides.Apply(llm.Request{
		Model:       s.Model,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
		JSONMode:    s.JSONMode,
	})
	req.Model = e.deps.Providers.MapModel(api, req.Model)

	// o1 models reject system messages
	systemRole := llm.RoleSystem
	if strings.HasPrefix(req.Model, "o1") {
		systemRole = llm.RoleUser
	}
	req.Messages = []llm.Message{
		{Role: systemRole, Content: RenderPrompt(s.Prompt, promptVars(e.deps.Now(), opts.Context))},
		llm.NewMessage(llm.RoleUser, text, true),
	}

	c, err := e.invoker.Invoke(ctx, provider, req)
	if err != nil {
		return "", err
	}
	out = c.Text()

	schema, err := s.outputSchema()
	if err != nil {
		return "", err
	}
	if schema != nil {
		if _, err := decodeStructured(schema, out); err != nil {
			return "", err
		}
	}
	logger.Info("Snippet finished: %q", utils.Shorten(out, 80))
	return out, nil
}

// RunSnippet runs the snippet called name over text
func (e *Engine) RunSnippet(ctx context.Context, name, text string) (string, error) {
	if e.deps.Snippets == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownSnippet, name)
	}
	s, ok := e.deps.Snippets.Snippet(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSnippet, name)
	}
	return e.ExecSnippet(ctx, s, text, SnippetOptions{})
}
