package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// ClaudeProvider implements the Provider interface for Anthropic Claude
type ClaudeProvider struct {
	apiKey  string
	baseURL string
	config  Config
	client  *http.Client
}

// ClaudeMessage represents a message in Claude's format
type ClaudeMessage struct {
	Role    string               `json:"role"`
	Content []ClaudeContentBlock `json:"content"`
}

// ClaudeContentBlock represents a content block in Claude's multimodal format
type ClaudeContentBlock struct {
	Type      string             `json:"type"` // text, image, tool_use, tool_result
	Text      string             `json:"text,omitempty"`
	Source    *ClaudeImageSource `json:"source,omitempty"`
	ID        string             `json:"id,omitempty"`
	Name      string             `json:"name,omitempty"`
	Input     json.RawMessage    `json:"input,omitempty"`
	ToolUseID string             `json:"tool_use_id,omitempty"`
	Content   string             `json:"content,omitempty"`
}

// ClaudeImageSource represents an image source in Claude's format
type ClaudeImageSource struct {
	Type      string `json:"type"`       // "base64"
	MediaType string `json:"media_type"` // "image/jpeg", "image/png", etc.
	Data      string `json:"data"`       // base64 encoded image data
}

// ClaudeTool is a tool definition in Claude's format
type ClaudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ClaudeRequest represents a request to Claude API
type ClaudeRequest struct {
	Model       string          `json:"model"`
	Messages    []ClaudeMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	System      string          `json:"system,omitempty"`
	Tools       []ClaudeTool    `json:"tools,omitempty"`
}

// ClaudeResponse represents a response from Claude API
type ClaudeResponse struct {
	ID           string               `json:"id"`
	Type         string               `json:"type"`
	Role         string               `json:"role"`
	Content      []ClaudeContentBlock `json:"content"`
	Model        string               `json:"model"`
	StopReason   string               `json:"stop_reason"`
	StopSequence string               `json:"stop_sequence"`
	Usage        struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewClaudeProvider creates a new Claude provider
func NewClaudeProvider(config Config) (*ClaudeProvider, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}

	// Set defaults
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}
	if config.Model == "" {
		config.Model = "claude-3-5-sonnet-20241022"
	}
	if config.ProviderName == "" {
		config.ProviderName = "Claude"
	}

	return &ClaudeProvider{
		apiKey:  config.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		config:  config,
		client:  newHTTPClient(config),
	}, nil
}

// Complete implements non-streaming chat. JSON mode is not offered by the
// messages API and is left to the system prompt.
func (p *ClaudeProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	req = withDefaults(req, p.config)
	system, rest := systemPrompt(req.Messages)

	body := ClaudeRequest{
		Model:       req.Model,
		Messages:    p.convertMessages(rest),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		System:      system,
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, ClaudeTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}

	var resp ClaudeResponse
	if err := postJSON(ctx, p.client, p.config.ProviderName, p.baseURL+"/messages", p.headers(), body, &resp); err != nil {
		return nil, err
	}

	c := &Completion{
		ID:       resp.ID,
		Model:    resp.Model,
		Metadata: map[string]string{MetaStopReason: resp.StopReason},
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			c.Segments = append(c.Segments, Segment{Type: SegmentText, Text: block.Text})
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			c.ToolCalls = append(c.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	// a single text block is a plain answer
	if len(c.Segments) == 1 {
		c.Content = c.Segments[0].Text
		c.Segments = nil
	}
	return c, nil
}

// Name returns the provider name
func (p *ClaudeProvider) Name() string {
	return p.config.ProviderName
}

// Models returns supported models
func (p *ClaudeProvider) Models() []string {
	if len(p.config.Models) > 0 {
		return p.config.Models
	}
	return []string{
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-3-opus-20240229",
	}
}

// ValidateConfig validates the configuration
func (p *ClaudeProvider) ValidateConfig() error {
	if p.apiKey == "" {
		return errors.New("API key is required")
	}
	return nil
}

// convertMessages converts our messages to Claude's format. Tool results go
// back as user messages; consecutive results are merged into one message
// since the API requires alternating roles.
func (p *ClaudeProvider) convertMessages(messages []Message) []ClaudeMessage {
	var out []ClaudeMessage
	for _, msg := range messages {
		var role string
		var blocks []ClaudeContentBlock

		switch msg.Role {
		case RoleTool:
			role = "user"
			blocks = []ClaudeContentBlock{{Type: "tool_result", ToolUseID: msg.ToolCallID, Content: msg.Text()}}
		default:
			role = string(msg.Role)
			blocks = contentBlocks(msg)
			for _, tc := range msg.ToolCalls {
				input := json.RawMessage(tc.Arguments)
				if !json.Valid(input) {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, ClaudeContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
		}

		if n := len(out); n > 0 && out[n-1].Role == role && msg.Role == RoleTool {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			continue
		}
		out = append(out, ClaudeMessage{Role: role, Content: blocks})
	}
	return out
}

func contentBlocks(msg Message) []ClaudeContentBlock {
	if len(msg.Segments) == 0 {
		if msg.Content == "" {
			return nil
		}
		return []ClaudeContentBlock{{Type: "text", Text: msg.Content}}
	}
	var blocks []ClaudeContentBlock
	for _, seg := range msg.Segments {
		switch seg.Type {
		case SegmentText:
			blocks = append(blocks, ClaudeContentBlock{Type: "text", Text: seg.Text})
		case SegmentImage:
			mediaType, data, ok := splitDataURL(seg.ImageURL)
			if !ok {
				continue
			}
			blocks = append(blocks, ClaudeContentBlock{
				Type:   "image",
				Source: &ClaudeImageSource{Type: "base64", MediaType: mediaType, Data: data},
			})
		}
	}
	return blocks
}

// headers returns the required headers for Claude API requests
func (p *ClaudeProvider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": "2023-06-01",
	}
}
