package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// GeminiProvider implements the Provider interface for Google Gemini
type GeminiProvider struct {
	config Config
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(config Config) (*GeminiProvider, error) {
	if config.MaxTokens == 0 {
		config.MaxTokens = 8192
	}
	if config.Model == "" {
		config.Model = "gemini-1.5-flash"
	}
	if config.ProviderName == "" {
		config.ProviderName = "Gemini"
	}
	return &GeminiProvider{config: config}, nil
}

func (p *GeminiProvider) newClient(ctx context.Context) (*genai.Client, error) {
	opts := []option.ClientOption{option.WithAPIKey(p.config.APIKey)}
	if p.config.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(p.config.BaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return client, nil
}

// Complete implements non-streaming chat
func (p *GeminiProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	req = withDefaults(req, p.config)
	system, rest := systemPrompt(req.Messages)
	if len(rest) == 0 {
		return nil, errors.New("gemini request has no user message")
	}

	client, err := p.newClient(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	model := client.GenerativeModel(req.Model)
	model.SetTemperature(float32(req.Temperature))
	model.SetMaxOutputTokens(int32(req.MaxTokens))
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if req.JSONMode {
		model.ResponseMIMEType = "application/json"
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			schema, err := geminiSchema(t.Parameters)
			if err != nil {
				return nil, fmt.Errorf("tool %s: %w", t.Name, err)
			}
			decls = append(decls, &genai.FunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: schema})
		}
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	contents := p.convertMessages(rest)
	last := contents[len(contents)-1]
	cs := model.StartChat()
	cs.History = contents[:len(contents)-1]

	resp, err := cs.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, errors.New("no candidates in response")
	}

	cand := resp.Candidates[0]
	c := &Completion{
		ID:       uuid.NewString(),
		Model:    req.Model,
		Metadata: map[string]string{MetaFinishReason: geminiFinishReason(cand.FinishReason)},
	}
	if resp.UsageMetadata != nil {
		c.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if cand.Content != nil {
		var text strings.Builder
		for _, part := range cand.Content.Parts {
			switch v := part.(type) {
			case genai.Text:
				text.WriteString(string(v))
			case genai.FunctionCall:
				args, err := json.Marshal(v.Args)
				if err != nil {
					return nil, fmt.Errorf("failed to encode function call arguments: %w", err)
				}
				c.ToolCalls = append(c.ToolCalls, ToolCall{ID: uuid.NewString(), Name: v.Name, Arguments: string(args)})
			}
		}
		c.Content = text.String()
	}
	return c, nil
}

func (p *GeminiProvider) convertMessages(messages []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		content := &genai.Content{Role: "user"}
		switch msg.Role {
		case RoleAssistant:
			content.Role = "model"
		case RoleTool:
			content.Parts = []genai.Part{genai.FunctionResponse{
				Name:     msg.Name,
				Response: map[string]any{"result": msg.Text()},
			}}
			out = append(out, content)
			continue
		}

		if len(msg.Segments) == 0 && msg.Content != "" {
			content.Parts = append(content.Parts, genai.Text(msg.Content))
		}
		for _, seg := range msg.Segments {
			switch seg.Type {
			case SegmentText:
				content.Parts = append(content.Parts, genai.Text(seg.Text))
			case SegmentImage:
				mediaType, data, ok := splitDataURL(seg.ImageURL)
				if !ok {
					continue
				}
				raw, err := base64.StdEncoding.DecodeString(data)
				if err != nil {
					continue
				}
				content.Parts = append(content.Parts, genai.Blob{MIMEType: mediaType, Data: raw})
			}
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal([]byte(tc.Arguments), &args)
			content.Parts = append(content.Parts, genai.FunctionCall{Name: tc.Name, Args: args})
		}
		if len(content.Parts) == 0 {
			content.Parts = []genai.Part{genai.Text(".")}
		}
		out = append(out, content)
	}
	return out
}

func geminiFinishReason(r genai.FinishReason) string {
	switch r {
	case genai.FinishReasonStop:
		return "stop"
	case genai.FinishReasonMaxTokens:
		return "max_tokens"
	case genai.FinishReasonSafety:
		return "safety"
	case genai.FinishReasonRecitation:
		return "recitation"
	case genai.FinishReasonOther:
		return "other"
	}
	return "unspecified"
}

type jsonSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Enum        []string               `json:"enum"`
	Items       *jsonSchema            `json:"items"`
	Properties  map[string]*jsonSchema `json:"properties"`
	Required    []string               `json:"required"`
	Format      string                 `json:"format"`
}

// geminiSchema converts the JSON Schema subset used by tool parameters
func geminiSchema(raw json.RawMessage) (*genai.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s jsonSchema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("invalid parameters schema: %w", err)
	}
	return s.toGenai(), nil
}

func (s *jsonSchema) toGenai() *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Enum:        s.Enum,
		Required:    s.Required,
		Format:      s.Format,
		Items:       s.Items.toGenai(),
	}
	switch s.Type {
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
	default:
		out.Type = genai.TypeObject
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = prop.toGenai()
		}
	}
	return out
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return p.config.ProviderName
}

// Models returns supported models
func (p *GeminiProvider) Models() []string {
	if len(p.config.Models) > 0 {
		return p.config.Models
	}
	return []string{
		"gemini-1.5-pro",
		"gemini-1.5-flash",
		"gemini-2.0-flash",
	}
}

// ValidateConfig validates the configuration
func (p *GeminiProvider) ValidateConfig() error {
	if p.config.APIKey == "" {
		return errors.New("API key is required")
	}
	return nil
}
