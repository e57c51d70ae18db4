package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// OllamaProvider implements the Provider interface for Ollama
type OllamaProvider struct {
	config Config
	client *http.Client
}

// NewOllamaProvider creates a new Ollama provider
func NewOllamaProvider(config Config) (*OllamaProvider, error) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")
	if config.ProviderName == "" {
		config.ProviderName = "Ollama"
	}

	return &OllamaProvider{
		config: config,
		client: newHTTPClient(config),
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Images    []string         `json:"images,omitempty"` // raw base64
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	CreatedAt       string        `json:"created_at"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func (p *OllamaProvider) convertMessage(msg Message) ollamaMessage {
	out := ollamaMessage{Role: string(msg.Role), Content: msg.Text()}
	if msg.Role == RoleTool {
		out.ToolName = msg.Name
	}
	for _, seg := range msg.Segments {
		if seg.Type != SegmentImage {
			continue
		}
		if _, data, ok := splitDataURL(seg.ImageURL); ok {
			out.Images = append(out.Images, data)
		}
	}
	for _, tc := range msg.ToolCalls {
		var call ollamaToolCall
		call.Function.Name = tc.Name
		call.Function.Arguments = json.RawMessage(tc.Arguments)
		if !json.Valid(call.Function.Arguments) {
			call.Function.Arguments = json.RawMessage("{}")
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}
	return out
}

// Complete implements non-streaming chat
func (p *OllamaProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	req = withDefaults(req, p.config)

	body := ollamaChatRequest{
		Model:    req.Model,
		Messages: make([]ollamaMessage, 0, len(req.Messages)),
		Stream:   false,
		Options:  map[string]any{},
	}
	for _, msg := range req.Messages {
		body.Messages = append(body.Messages, p.convertMessage(msg))
	}
	if req.JSONMode {
		body.Format = "json"
	}
	body.Options["temperature"] = req.Temperature
	if req.MaxTokens > 0 {
		body.Options["num_predict"] = req.MaxTokens
	}
	for _, t := range req.Tools {
		var tool ollamaTool
		tool.Type = "function"
		tool.Function.Name = t.Name
		tool.Function.Description = t.Description
		tool.Function.Parameters = t.Parameters
		body.Tools = append(body.Tools, tool)
	}

	var resp ollamaChatResponse
	if err := postJSON(ctx, p.client, p.config.ProviderName, p.config.BaseURL+"/api/chat", nil, body, &resp); err != nil {
		return nil, err
	}
	if !resp.Done {
		return nil, fmt.Errorf("ollama returned an unfinished response")
	}

	c := &Completion{
		// ollama has no response ids
		ID:       uuid.NewString(),
		Model:    resp.Model,
		Content:  resp.Message.Content,
		Metadata: map[string]string{MetaDoneReason: resp.DoneReason},
		Usage: Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}
	for _, tc := range resp.Message.ToolCalls {
		c.ToolCalls = append(c.ToolCalls, ToolCall{
			ID:        uuid.NewString(),
			Name:      tc.Function.Name,
			Arguments: string(tc.Function.Arguments),
		})
	}
	return c, nil
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return p.config.ProviderName
}

// Models returns supported models (these are examples, actual models depend on what's installed)
func (p *OllamaProvider) Models() []string {
	if len(p.config.Models) > 0 {
		return p.config.Models
	}
	return []string{
		"llama3.1",
		"llama3.2",
		"mistral",
		"qwen2.5",
	}
}

// ValidateConfig validates the configuration
func (p *OllamaProvider) ValidateConfig() error {
	if p.config.BaseURL == "" {
		return errors.New("base URL is required")
	}
	return nil
}
