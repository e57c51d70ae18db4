package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSegments(t *testing.T) {
	text := "look ![img-cat](data:image/png;base64,QUJD) and ![img-dog](data:image/jpeg;base64,REVG) done"

	segs := ParseSegments(text, true)
	require.Len(t, segs, 5)
	assert.Equal(t, Segment{Type: SegmentText, Text: "look "}, segs[0])
	assert.Equal(t, Segment{Type: SegmentImage, ImageURL: "data:image/png;base64,QUJD"}, segs[1])
	assert.Equal(t, SegmentImage, segs[3].Type)
	assert.Equal(t, " done", segs[4].Text)

	stripped := ParseSegments(text, false)
	require.Len(t, stripped, 5)
	assert.Equal(t, ImagePlaceholder, stripped[1].Text)
	assert.Equal(t, SegmentText, stripped[3].Type)

	assert.Equal(t, []Segment{{Type: SegmentText, Text: "."}}, ParseSegments("", true))
	// only img- prefixed data urls are inline images
	assert.False(t, HasImages("![photo](data:image/png;base64,QUJD)"))
}

func TestNewMessage(t *testing.T) {
	m := NewMessage(RoleUser, "plain", true)
	assert.Equal(t, "plain", m.Content)
	assert.Empty(t, m.Segments)

	m = NewMessage(RoleAssistant, "x ![img-a](data:image/png;base64,QQ==)", false)
	assert.Equal(t, "x "+ImagePlaceholder, m.Text())
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry("", map[string]map[string]string{"azure": {"gpt-4o": "my-deployment"}})
	r.getenv = func(key string) string {
		if key == "ANTHROPIC_API_KEY" {
			return "x"
		}
		return ""
	}
	openai := &scriptedProvider{}
	claude := &scriptedProvider{}
	r.Register(APIOpenAI, openai)
	r.Register(APIAnthropic, claude)

	api, p, err := r.Select("", RequestOverrides{})
	require.NoError(t, err)
	assert.Equal(t, APIAnthropic, api)
	assert.Same(t, claude, p)

	api, _, err = r.Select("", RequestOverrides{APIType: APIOpenAI})
	require.NoError(t, err)
	assert.Equal(t, APIOpenAI, api)

	// assistant force_api wins over the override
	_, _, err = r.Select(APIOllama, RequestOverrides{APIType: APIOpenAI})
	assert.ErrorIs(t, err, ErrNoProvider)

	assert.Equal(t, "my-deployment", r.MapModel(APIAzure, "gpt-4o"))
	assert.Equal(t, "gpt-4o", r.MapModel(APIOpenAI, "gpt-4o"))

	_, err = ParseAPIType("bedrock")
	assert.Error(t, err)
}

func TestRequestOverridesApply(t *testing.T) {
	temp := 0.1
	req := RequestOverrides{Model: "m2", Temperature: &temp}.Apply(Request{Model: "m1", Temperature: 0.7, MaxTokens: 100})
	assert.Equal(t, "m2", req.Model)
	assert.Equal(t, 0.1, req.Temperature)
	assert.Equal(t, 100, req.MaxTokens)
	assert.True(t, RequestOverrides{}.IsZero())
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Go channels", cleanTitle(`  "Go channels"  `))
	assert.Equal(t, "New Chat", cleanTitle("''"))
}

func TestClaudeCompleteWithTools(t *testing.T) {
	var got ClaudeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"id":"msg_1","model":"claude","stop_reason":"tool_use",
			"content":[{"type":"text","text":"let me check"},{"type":"tool_use","id":"tu_1","name":"current_datetime","input":{}}],
			"usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer srv.Close()

	p, err := NewClaudeProvider(Config{APIKey: "key", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "what time is it"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "tu_0", Name: "x", Arguments: `{"a":1}`}}},
			{Role: RoleTool, ToolCallID: "tu_0", Name: "x", Content: "ok"},
		},
		Tools: []ToolSpec{{Name: "current_datetime", Parameters: json.RawMessage(`{"type":"object"}`)}},
	})
	require.NoError(t, err)

	assert.Equal(t, "be brief", got.System)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "tool_use", got.Messages[1].Content[0].Type)
	assert.Equal(t, "tool_result", got.Messages[2].Content[0].Type)
	require.Len(t, got.Tools, 1)

	assert.Equal(t, "let me check", resp.Text())
	assert.Equal(t, "tool_use", resp.Metadata[MetaStopReason])
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "{}", resp.ToolCalls[0].Arguments)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestClaudeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _ := NewClaudeProvider(Config{APIKey: "key", BaseURL: srv.URL})
	_, err := p.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}

func TestOllamaComplete(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"model":"llama3.1","message":{"role":"assistant","content":"{\"a\":1}"},
			"done":true,"done_reason":"stop","prompt_eval_count":3,"eval_count":4}`))
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(Config{BaseURL: srv.URL + "/", Model: "llama3.1"})
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), Request{
		Messages:  []Message{NewMessage(RoleUser, "see ![img-a](data:image/png;base64,QUJD)", true)},
		JSONMode:  true,
		MaxTokens: 99,
	})
	require.NoError(t, err)

	assert.Equal(t, "json", got.Format)
	assert.EqualValues(t, 99, got.Options["num_predict"])
	require.Len(t, got.Messages, 1)
	assert.Equal(t, []string{"QUJD"}, got.Messages[0].Images)

	assert.Equal(t, `{"a":1}`, resp.Content)
	reason, err := FinishReason(resp)
	require.NoError(t, err)
	assert.True(t, IsComplete(reason))
	assert.Equal(t, 7, resp.Usage.TotalTokens)
}

func TestOpenAICompleteReasoningModel(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"chatcmpl-1","model":"gpt-5-mini","choices":[{"index":0,
			"message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"read_file","arguments":"{\"path\":\"a.txt\"}"}}]},
			"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "sk", BaseURL: srv.URL, Model: "gpt-5-mini"})
	require.NoError(t, err)

	resp, err := p.Complete(context.Background(), Request{
		Messages:    []Message{{Role: RoleUser, Content: "read a.txt"}},
		Temperature: 0.2,
		MaxTokens:   50,
		Tools:       []ToolSpec{{Name: "read_file", Parameters: json.RawMessage(`{"type":"object"}`)}},
	})
	require.NoError(t, err)

	assert.EqualValues(t, 1, got["temperature"])
	assert.EqualValues(t, 50, got["max_completion_tokens"])
	assert.NotContains(t, got, "max_tokens")

	assert.Equal(t, "tool_calls", resp.Metadata[MetaFinishReason])
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "read_file", resp.ToolCalls[0].Name)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
}

func TestGeminiSchemaConversion(t *testing.T) {
	s, err := geminiSchema(json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"file"},"n":{"type":"integer"}},"required":["path"]}`))
	require.NoError(t, err)
	require.Contains(t, s.Properties, "path")
	assert.Equal(t, "file", s.Properties["path"].Description)
	assert.Equal(t, []string{"path"}, s.Required)
}

func TestTemperatureZeroOnTheWire(t *testing.T) {
	t.Run("openai", func(t *testing.T) {
		var got map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"c","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`))
		}))
		defer srv.Close()

		p, err := NewOpenAIProvider(Config{APIKey: "sk", BaseURL: srv.URL, Model: "gpt-4o-mini"})
		require.NoError(t, err)
		_, err = p.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}, Temperature: 0})
		require.NoError(t, err)

		require.Contains(t, got, "temperature")
		assert.InDelta(t, 0, got["temperature"], 1e-6)
	})

	t.Run("claude", func(t *testing.T) {
		var got map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Write([]byte(`{"id":"m","model":"claude","stop_reason":"end_turn","content":[{"type":"text","text":"hi"}]}`))
		}))
		defer srv.Close()

		p, err := NewClaudeProvider(Config{APIKey: "key", BaseURL: srv.URL})
		require.NoError(t, err)
		_, err = p.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}, Temperature: 0})
		require.NoError(t, err)

		require.Contains(t, got, "temperature")
		assert.EqualValues(t, 0, got["temperature"])
	})

	t.Run("ollama", func(t *testing.T) {
		var got ollamaChatRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Write([]byte(`{"model":"llama3.1","message":{"role":"assistant","content":"hi"},"done":true,"done_reason":"stop"}`))
		}))
		defer srv.Close()

		p, err := NewOllamaProvider(Config{BaseURL: srv.URL, Model: "llama3.1"})
		require.NoError(t, err)
		_, err = p.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
		require.NoError(t, err)

		require.Contains(t, got.Options, "temperature")
		assert.EqualValues(t, 0, got.Options["temperature"])
	})

	t.Run("override to zero", func(t *testing.T) {
		zero := 0.0
		req := RequestOverrides{Temperature: &zero}.Apply(Request{Temperature: 0.7})
		assert.Equal(t, 0.0, withDefaults(req, Config{Model: "m"}).Temperature)
	})
}

func TestIsReasoningModel(t *testing.T) {
	for _, m := range []string{"o1", "o1-mini", "o3-mini", "o4-mini", "gpt-5", "gpt-5-mini"} {
		assert.True(t, IsReasoningModel(m), m)
	}
	for _, m := range []string{"openchat", "olmo-7b", "omni", "gpt-4o", "llama3.1", "o"} {
		assert.False(t, IsReasoningModel(m), m)
	}
}
