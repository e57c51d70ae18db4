package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements the Provider interface for OpenAI, Azure OpenAI
// and OpenAI compatible servers
type OpenAIProvider struct {
	client *openai.Client
	config Config
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config Config) (*OpenAIProvider, error) {
	// Allow empty API key - validation happens at runtime
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.ProviderName == "" {
		config.ProviderName = "OpenAI"
	}
	return newOpenAIProvider(clientConfig, config), nil
}

// NewAzureProvider creates an OpenAI provider talking to an Azure deployment
func NewAzureProvider(config Config) (*OpenAIProvider, error) {
	if config.BaseURL == "" {
		return nil, errors.New("azure endpoint is required")
	}
	clientConfig := openai.DefaultAzureConfig(config.APIKey, config.BaseURL)
	if config.ProviderName == "" {
		config.ProviderName = "Azure OpenAI"
	}
	return newOpenAIProvider(clientConfig, config), nil
}

func newOpenAIProvider(clientConfig openai.ClientConfig, config Config) *OpenAIProvider {
	clientConfig.HTTPClient = newHTTPClient(config)
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}
}

// reasoningModel matches the o-series (o1, o3-mini, o4-mini, ...) and gpt-5
var reasoningModel = regexp.MustCompile(`^(o[1-9][0-9]*(-|$)|gpt-5)`)

// IsReasoningModel reports models that only accept temperature 1 and
// max_completion_tokens
func IsReasoningModel(model string) bool {
	return reasoningModel.MatchString(model)
}

// wireTemperature keeps an explicit 0 on the wire; go-openai omits a zero
// temperature and the server would apply its own default.
func wireTemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

// convertMessage converts our Message type to OpenAI format
func (p *OpenAIProvider) convertMessage(msg Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{
		Role:       string(msg.Role),
		ToolCallID: msg.ToolCallID,
	}
	if msg.Role == RoleTool {
		out.Name = msg.Name
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}

	if len(msg.Segments) == 0 {
		out.Content = msg.Content
		return out
	}

	for _, seg := range msg.Segments {
		switch seg.Type {
		case SegmentText:
			out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: seg.Text,
			})
		case SegmentImage:
			out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    seg.ImageURL,
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
	}
	return out
}

func (p *OpenAIProvider) buildRequest(req Request) openai.ChatCompletionRequest {
	req = withDefaults(req, p.config)

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, p.convertMessage(msg))
	}

	out := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if IsReasoningModel(req.Model) {
		out.Temperature = 1
		out.MaxCompletionTokens = req.MaxTokens
	} else {
		out.Temperature = wireTemperature(req.Temperature)
		out.MaxTokens = req.MaxTokens
	}
	if req.JSONMode {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// Complete implements non-streaming chat
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req))
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, &APIError{Provider: p.config.ProviderName, StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("no response from OpenAI")
	}

	choice := resp.Choices[0]
	c := &Completion{
		ID:       resp.ID,
		Model:    resp.Model,
		Content:  choice.Message.Content,
		Metadata: map[string]string{MetaFinishReason: string(choice.FinishReason)},
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		c.ToolCalls = append(c.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return c, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return p.config.ProviderName
}

// Models returns supported models
func (p *OpenAIProvider) Models() []string {
	if len(p.config.Models) > 0 {
		return p.config.Models
	}
	return []string{
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-4.1",
		"o1-mini",
		"o3-mini",
	}
}

// ValidateConfig validates the configuration
func (p *OpenAIProvider) ValidateConfig() error {
	if p.config.APIKey == "" {
		return errors.New("API key is required")
	}
	return nil
}
