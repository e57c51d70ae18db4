package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the author of a chat message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// SegmentType tags a part of a multimodal message
type SegmentType string

const (
	SegmentText  SegmentType = "text"
	SegmentImage SegmentType = "image_url"
)

// Segment is one part of a multimodal message
type Segment struct {
	Type     SegmentType `json:"type"`
	Text     string      `json:"text,omitempty"`
	ImageURL string      `json:"image_url,omitempty"` // data URL
}

// Message represents a chat message
type Message struct {
	ID         string     `json:"id,omitempty"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Segments   []Segment  `json:"segments,omitempty"` // takes precedence over Content when set
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"` // tool name of a RoleTool message
}

// Text returns the textual part of the message; image segments are skipped
func (m Message) Text() string {
	if len(m.Segments) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, s := range m.Segments {
		if s.Type == SegmentText {
			sb.WriteString(s.Text)
		}
	}
	return sb.String()
}

// ToolSpec describes a tool the model may call
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema object
}

// ToolCall is a tool invocation requested by the model
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON object text
}

// Usage reports vendor token counts of one call
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is one chat completion call
type Request struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
	JSONMode    bool
	Tools       []ToolSpec
}

// Completion is the canonical result of a provider call
type Completion struct {
	ID         string
	Model      string
	Content    string
	Segments   []Segment // vendors answering with a list of content blocks
	StopReason string    // canonical finish reason, set by FinishReason
	Metadata   map[string]string
	Usage      Usage
	ToolCalls  []ToolCall
}

// Text returns the canonical textual content. When the vendor answered with
// a list of segments the first text segment wins.
func (c *Completion) Text() string {
	if c.Content != "" || len(c.Segments) == 0 {
		return c.Content
	}
	for _, s := range c.Segments {
		if s.Type == SegmentText {
			return s.Text
		}
	}
	return ""
}

// Message converts the completion into the assistant message that produced it
func (c *Completion) Message() Message {
	return Message{
		ID:        c.ID,
		Role:      RoleAssistant,
		Content:   c.Text(),
		ToolCalls: c.ToolCalls,
	}
}

// Provider is a chat completion backend
type Provider interface {
	// Complete sends one request and returns the whole answer
	Complete(ctx context.Context, req Request) (*Completion, error)

	// Name returns the provider name
	Name() string

	// Models returns the list of supported models
	Models() []string

	// ValidateConfig validates the provider configuration
	ValidateConfig() error
}

// Config represents provider configuration
type Config struct {
	ProviderName string // Display name for the provider
	APIKey       string
	BaseURL      string
	Model        string
	Models       []string // Available models list
	Timeout      int      // seconds
	MaxTokens    int
	ProxyURL     string
}

// APIError is a non-2xx answer from a vendor endpoint
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// withDefaults fills model and max tokens from cfg. Temperature is always
// taken from the request; 0 is a valid setting.
func withDefaults(req Request, cfg Config) Request {
	if req.Model == "" {
		req.Model = cfg.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = cfg.MaxTokens
	}
	return req
}

func systemPrompt(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Text())
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// splitDataURL splits "data:image/png;base64,XXXX" into media type and payload
func splitDataURL(url string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(url, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mediaType, _, _ = strings.Cut(meta, ";")
	return mediaType, payload, true
}
