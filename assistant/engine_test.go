package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kraina-desktop/agent"
	"kraina-desktop/db"
	"kraina-desktop/llm"
	"kraina-desktop/tokens"
	"kraina-desktop/tools"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type wordTokenizer struct{}

func (wordTokenizer) Encode(text string) []int {
	return make([]int, len(strings.Fields(text)))
}

// fakeProvider answers with respond; safe for concurrent turns
type fakeProvider struct {
	mu      sync.Mutex
	calls   []llm.Request
	respond func(n int, req llm.Request) (*llm.Completion, error)
}

func (f *fakeProvider) Complete(_ context.Context, req llm.Request) (*llm.Completion, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	f.mu.Unlock()
	return f.respond(n, req)
}

func (f *fakeProvider) Name() string          { return "fake" }
func (f *fakeProvider) Models() []string      { return nil }
func (f *fakeProvider) ValidateConfig() error { return nil }

func (f *fakeProvider) call(i int) llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func done(text string) *llm.Completion {
	return &llm.Completion{Content: text, Metadata: map[string]string{llm.MetaFinishReason: "stop"}}
}

func replies(texts ...string) func(int, llm.Request) (*llm.Completion, error) {
	return func(n int, _ llm.Request) (*llm.Completion, error) {
		if n > len(texts) {
			return nil, errors.New("unexpected call")
		}
		return done(texts[n-1]), nil
	}
}

// scriptedAgent replays events instead of calling the model
type scriptedAgent struct {
	events []agent.Event
}

func (s scriptedAgent) Run(_ context.Context, _ llm.Request, handle func(agent.Event) error) error {
	for _, ev := range s.events {
		if err := handle(ev); err != nil {
			return err
		}
	}
	return nil
}

type fixture struct {
	store    *db.DB
	provider *fakeProvider
	engine   *Engine
	deps     Deps
}

func newFixture(t *testing.T, respond func(int, llm.Request) (*llm.Completion, error), mutate ...func(*Deps)) *fixture {
	t.Helper()
	store, err := db.New(filepath.Join(t.TempDir(), "kraina.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	p := &fakeProvider{respond: respond}
	reg := llm.NewRegistry(llm.APIOpenAI, map[string]map[string]string{"openai": {"A": "gpt-4o"}})
	reg.Register(llm.APIOpenAI, p)

	deps := Deps{
		Store:     store,
		Providers: reg,
		Tools:     tools.NewRegistry(tools.CurrentDateTime{}),
		Tokenizer: func(string) (tokens.Tokenizer, error) { return wordTokenizer{}, nil },
		Now:       func() time.Time { return fixedNow },
	}
	for _, m := range mutate {
		m(&deps)
	}
	return &fixture{store: store, provider: p, engine: NewEngine(deps), deps: deps}
}

func (f *fixture) messages(t *testing.T, convID int64) []string {
	t.Helper()
	msgs, err := f.store.ListMessages(convID)
	require.NoError(t, err)
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type.String() + ":" + m.Text
	}
	return out
}

func simple() *Assistant {
	return &Assistant{
		Name:        "echo",
		Prompt:      "Today is {date}",
		Model:       "A",
		Temperature: 0.7,
		MaxTokens:   100,
	}
}

func requireTotal(t *testing.T, u tokens.Usage) {
	t.Helper()
	assert.Equal(t, u.Prompt+u.History+u.Input+u.Output+u.Tools, u.Total)
}

func TestRunSimple(t *testing.T) {
	f := newFixture(t, replies("hello world"))

	resp, err := f.engine.Run(context.Background(), simple(), "how are you", RunOptions{})
	require.NoError(t, err)
	require.False(t, resp.Failed())

	assert.Equal(t, "hello world", resp.Content)
	assert.Positive(t, resp.ConversationID)
	assert.Equal(t, []string{"HUMAN:how are you", "AI:hello world"}, f.messages(t, resp.ConversationID))

	req := f.provider.call(0)
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, "Today is 2024-03-01", req.Messages[0].Content)
	assert.Equal(t, llm.RoleUser, req.Messages[1].Role)

	u := resp.Usage
	assert.Equal(t, 3+tokens.PerMessageOverhead, u.Prompt)
	assert.Zero(t, u.History)
	assert.Equal(t, 3+tokens.PerMessageOverhead, u.Input)
	assert.Equal(t, 2+tokens.PerMessageOverhead, u.Output)
	assert.Zero(t, u.Tools)
	assert.Equal(t, 17, u.Total)
	requireTotal(t, u)
	assert.Equal(t, tokens.API{Model: "gpt-4o", MaxTokens: 100, Temp: 0.7}, u.API)
}

func TestRunOverridesAndContext(t *testing.T) {
	f := newFixture(t, replies("ok"))
	temp := 0.1
	a := simple()
	a.Prompt = "Reply in {lang}, keep {{braces}}"

	resp, err := f.engine.Run(context.Background(), a, "hi", RunOptions{
		NoHistory: true,
		Context:   map[string]string{"lang": "Polish"},
		Overrides: llm.RequestOverrides{Model: "gpt-4.1", Temperature: &temp, MaxTokens: 9},
	})
	require.NoError(t, err)
	assert.Zero(t, resp.ConversationID)

	req := f.provider.call(0)
	assert.Equal(t, "Reply in Polish, keep {braces}", req.Messages[0].Content)
	assert.Equal(t, "gpt-4.1", req.Model)
	assert.Equal(t, 0.1, req.Temperature)
	assert.Equal(t, 9, req.MaxTokens)
}

func TestRunProviderFailureKeepsHumanMessage(t *testing.T) {
	f := newFixture(t, func(int, llm.Request) (*llm.Completion, error) {
		return nil, &llm.APIError{Provider: "fake", StatusCode: http.StatusTooManyRequests, Body: "slow down"}
	})

	resp, err := f.engine.Run(context.Background(), simple(), "are you there", RunOptions{})
	require.NoError(t, err)
	require.True(t, resp.Failed())

	assert.True(t, strings.HasPrefix(resp.Error, "FAIL: APIError: "), resp.Error)
	assert.Empty(t, resp.Content)
	assert.Positive(t, resp.ConversationID)
	assert.Positive(t, resp.Usage.Input)
	requireTotal(t, resp.Usage)

	msgs := f.messages(t, resp.ConversationID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "HUMAN:are you there", msgs[0])
	assert.Equal(t, "TOOL:"+resp.Error, msgs[1])
}

func TestRunMaxTokensFailure(t *testing.T) {
	f := newFixture(t, func(n int, _ llm.Request) (*llm.Completion, error) {
		if n == 1 {
			return &llm.Completion{Content: "partial", Metadata: map[string]string{llm.MetaFinishReason: "length"}}, nil
		}
		return &llm.Completion{Content: " ", Metadata: map[string]string{llm.MetaFinishReason: "length"}}, nil
	})

	resp, err := f.engine.Run(context.Background(), simple(), "write a novel", RunOptions{NoHistory: true})
	require.NoError(t, err)
	assert.Equal(t, "FAIL: MaxTokensError: 'max_tokens' 100 is too low to get response, consider increase it", resp.Error)
}

func TestRunUnknownConversation(t *testing.T) {
	f := newFixture(t, replies("x"))
	_, err := f.engine.Run(context.Background(), simple(), "hi", RunOptions{ConversationID: 999})
	assert.ErrorIs(t, err, db.ErrConversationNotFound)
}

func TestRunHistory(t *testing.T) {
	f := newFixture(t, replies("fourth"))
	convID, err := f.store.NewConversation("echo")
	require.NoError(t, err)

	img := "![img-x](data:image/png;base64,QUJD)"
	require.NoError(t, f.store.AddMessages([]db.NewMessage{
		{Type: db.MessageHuman, Text: "draw " + img},
		{Type: db.MessageAI, Text: "old " + img},
		{Type: db.MessageTool, Text: "Invoking Tool: 'x' with input '{}'"},
		{Type: db.MessageHuman, Text: "again"},
		{Type: db.MessageAI, Text: "new " + img},
	}, convID))

	resp, err := f.engine.Run(context.Background(), simple(), "thanks", RunOptions{ConversationID: convID})
	require.NoError(t, err)
	assert.Equal(t, convID, resp.ConversationID)

	req := f.provider.call(0)
	require.Len(t, req.Messages, 1+4+1)
	history := req.Messages[1:5]
	assert.True(t, hasImage(history[0]), "human images are kept")
	assert.Equal(t, "old "+llm.ImagePlaceholder, history[1].Text())
	assert.False(t, hasImage(history[1]))
	assert.Equal(t, "again", history[2].Content)
	assert.True(t, hasImage(history[3]), "the newest AI reply keeps its image")
	assert.Positive(t, resp.Usage.History)
	requireTotal(t, resp.Usage)

	msgs := f.messages(t, convID)
	assert.Equal(t, []string{"HUMAN:thanks", "AI:fourth"}, msgs[len(msgs)-2:])
}

func hasImage(m llm.Message) bool {
	for _, s := range m.Segments {
		if s.Type == llm.SegmentImage {
			return true
		}
	}
	return false
}

func toolAssistant() *Assistant {
	a := simple()
	a.Name = "agent"
	a.Type = TypeWithTools
	a.Tools = []string{"current_datetime"}
	return a
}

func TestRunWithToolsRecordsSteps(t *testing.T) {
	events := []agent.Event{
		agent.ActionsEvent{
			Messages: []llm.Message{{ID: "m1", Role: llm.RoleAssistant, Content: "let me check"}},
			Actions:  []llm.ToolCall{{ID: "c1", Name: "a1", Arguments: `{"q":1}`}, {ID: "c2", Name: "a2", Arguments: `{}`}},
		},
		agent.StepsEvent{Steps: []agent.Step{{Action: llm.ToolCall{ID: "c1", Name: "a1"}, Observation: "s1"}}},
		agent.ActionsEvent{
			Messages: []llm.Message{{ID: "m1", Role: llm.RoleAssistant, Content: "let me check"}},
			Actions:  []llm.ToolCall{{ID: "c3", Name: "a3", Arguments: `{}`}},
		},
		agent.StepsEvent{Steps: []agent.Step{{Action: llm.ToolCall{ID: "c3", Name: "a3"}, Observation: "s3"}}},
		agent.OutputEvent{Segments: []llm.Segment{{Type: llm.SegmentText, Text: "the answer"}, {Type: llm.SegmentText, Text: "ignored"}}},
	}
	var gotReq llm.Request
	f := newFixture(t, replies(), func(d *Deps) {
		d.NewAgent = func(llm.Provider, agent.ToolRunner) AgentRunner {
			return runnerFunc(func(req llm.Request, handle func(agent.Event) error) error {
				gotReq = req
				return scriptedAgent{events: events}.Run(context.Background(), req, handle)
			})
		}
	})

	var fired []string
	cb := Callbacks{
		Action:        func(m string) { fired = append(fired, "action") },
		Observation:   func(m string) { fired = append(fired, "observation") },
		AIObservation: func(m string) { fired = append(fired, "ai") },
		Output:        func(m string) { panic("callbacks cannot break the loop") },
	}

	resp, err := f.engine.Run(context.Background(), toolAssistant(), "what time is it", RunOptions{Callbacks: cb})
	require.NoError(t, err)
	require.False(t, resp.Failed(), resp.Error)
	assert.Equal(t, "the answer", resp.Content)

	assert.Equal(t, []string{
		"HUMAN:what time is it",
		"AI:let me check",
		`TOOL:Invoking Tool: 'a1' with input '{"q":1}'`,
		"TOOL:Invoking Tool: 'a2' with input '{}'",
		"TOOL:Tool Result: `s1`",
		"TOOL:Invoking Tool: 'a3' with input '{}'",
		"TOOL:Tool Result: `s3`",
		"AI:the answer",
	}, f.messages(t, resp.ConversationID))
	assert.Equal(t, []string{"ai", "action", "action", "observation", "action", "observation"}, fired)

	require.Len(t, gotReq.Tools, 1)
	assert.Equal(t, "current_datetime", gotReq.Tools[0].Name)

	u := resp.Usage
	overhead := tokens.PerMessageOverhead
	assert.Equal(t, (3+overhead)+(2+overhead), u.Output)
	assert.Equal(t, 5*overhead+5, u.Tools) // every argument and observation is one word
	assert.Greater(t, u.Prompt, 3+overhead)
	requireTotal(t, u)
}

func scriptedTools(events ...agent.Event) func(d *Deps) {
	return func(d *Deps) {
		d.NewAgent = func(llm.Provider, agent.ToolRunner) AgentRunner { return scriptedAgent{events: events} }
	}
}

func TestRunWithToolsOutputAfterActions(t *testing.T) {
	f := newFixture(t, replies(), scriptedTools(
		agent.ActionsEvent{Actions: []llm.ToolCall{{ID: "c1", Name: "a1", Arguments: `{}`}, {ID: "c2", Name: "a2", Arguments: `{}`}}},
		agent.StepsEvent{Steps: []agent.Step{{Action: llm.ToolCall{ID: "c1", Name: "a1"}, Observation: "s1"}}},
		agent.ActionsEvent{Actions: []llm.ToolCall{{ID: "c3", Name: "a3", Arguments: `{}`}}},
		agent.OutputEvent{Content: "o"},
	))

	resp, err := f.engine.Run(context.Background(), toolAssistant(), "go", RunOptions{})
	require.NoError(t, err)
	require.False(t, resp.Failed(), resp.Error)
	assert.Equal(t, "o", resp.Content)
	assert.Equal(t, []string{
		"HUMAN:go",
		"TOOL:Invoking Tool: 'a1' with input '{}'",
		"TOOL:Invoking Tool: 'a2' with input '{}'",
		"TOOL:Tool Result: `s1`",
		"TOOL:Invoking Tool: 'a3' with input '{}'",
		"AI:o",
	}, f.messages(t, resp.ConversationID))
}

func TestRunWithToolsBlankOutputUsesLastObservation(t *testing.T) {
	f := newFixture(t, replies(), scriptedTools(
		agent.ActionsEvent{Actions: []llm.ToolCall{{ID: "c1", Name: "a1", Arguments: `{}`}}},
		agent.StepsEvent{Steps: []agent.Step{{Action: llm.ToolCall{ID: "c1", Name: "a1"}, Observation: "the tool answer"}}},
		agent.OutputEvent{Content: " \n"},
	))

	var output string
	resp, err := f.engine.Run(context.Background(), toolAssistant(), "ask", RunOptions{
		Callbacks: Callbacks{Output: func(m string) { output = m }},
	})
	require.NoError(t, err)
	require.False(t, resp.Failed(), resp.Error)
	assert.Equal(t, "the tool answer", resp.Content)
	assert.Equal(t, "the tool answer", output)

	msgs := f.messages(t, resp.ConversationID)
	assert.Equal(t, "AI:the tool answer", msgs[len(msgs)-1])
}

type runnerFunc func(req llm.Request, handle func(agent.Event) error) error

func (f runnerFunc) Run(_ context.Context, req llm.Request, handle func(agent.Event) error) error {
	return f(req, handle)
}

func TestRunWithToolsUnexpectedEvent(t *testing.T) {
	cases := map[string][]agent.Event{
		"nil event":             {nil},
		"steps without action":  {agent.StepsEvent{}},
		"event after output":    {agent.OutputEvent{Content: "x"}, agent.OutputEvent{Content: "y"}},
		"no output":             {agent.ActionsEvent{}, agent.StepsEvent{}},
		"actions after actions": {agent.ActionsEvent{}, agent.ActionsEvent{}},
	}
	for name, events := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, replies(), func(d *Deps) {
				d.NewAgent = func(llm.Provider, agent.ToolRunner) AgentRunner { return scriptedAgent{events: events} }
			})
			resp, err := f.engine.Run(context.Background(), toolAssistant(), "hi", RunOptions{})
			assert.ErrorIs(t, err, ErrUnexpectedEvent)
			assert.Nil(t, resp)
		})
	}
}

func TestRunWithToolsUnknownTool(t *testing.T) {
	f := newFixture(t, replies())
	a := toolAssistant()
	a.Tools = []string{"web_search"}

	resp, err := f.engine.Run(context.Background(), a, "hi", RunOptions{NoHistory: true})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Error, "FAIL: UnknownToolError: "), resp.Error)
}

func TestRunWithToolsExecutor(t *testing.T) {
	f := newFixture(t, func(n int, _ llm.Request) (*llm.Completion, error) {
		if n == 1 {
			return &llm.Completion{ID: "r1", ToolCalls: []llm.ToolCall{{ID: "c1", Name: "current_datetime", Arguments: "{}"}}}, nil
		}
		return done("it is noon"), nil
	})

	resp, err := f.engine.Run(context.Background(), toolAssistant(), "time?", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "it is noon", resp.Content)

	msgs := f.messages(t, resp.ConversationID)
	require.Len(t, msgs, 4)
	assert.Equal(t, "TOOL:Invoking Tool: 'current_datetime' with input '{}'", msgs[1])
	assert.True(t, strings.HasPrefix(msgs[2], "TOOL:Tool Result: `"))
}

func TestRunStructuredOutput(t *testing.T) {
	a := simple()
	a.OutputSchema = `{"type":"object","properties":{"score":{"type":"integer"}},"required":["score"]}`

	f := newFixture(t, replies("```json\n{\"score\": 7}\n```", `{"grade": "A"}`))
	resp, err := f.engine.Run(context.Background(), a, "rate it", RunOptions{NoHistory: true})
	require.NoError(t, err)
	require.False(t, resp.Failed(), resp.Error)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, data, "score")

	resp, err = f.engine.Run(context.Background(), a, "rate it", RunOptions{NoHistory: true})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Error, "FAIL: ValidationError: "), resp.Error)
	assert.Empty(t, resp.Content)
}

func TestRunNamesNewConversation(t *testing.T) {
	f := newFixture(t, replies("Paris", `"Capital of France"`))
	a := simple()
	a.NameConversations = true

	resp, err := f.engine.Run(context.Background(), a, "capital of France?", RunOptions{})
	require.NoError(t, err)

	conv, err := f.store.GetConversation(resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "Capital of France", conv.Name)
	assert.Equal(t, "echo", conv.Assistant)
}

func TestRunRecordsUsage(t *testing.T) {
	f := newFixture(t, replies("fine"))
	_, err := f.engine.Run(context.Background(), simple(), "hi", RunOptions{})
	require.NoError(t, err)

	stats, err := f.store.GetUsageStats(fixedNow.AddDate(-100, 0, 0), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalTurns)
	require.Contains(t, stats.AssistantStats, "echo")
}

func TestConversationIsolation(t *testing.T) {
	f := newFixture(t, func(_ int, req llm.Request) (*llm.Completion, error) {
		last := req.Messages[len(req.Messages)-1].Content
		time.Sleep(time.Millisecond)
		return done("re: " + last), nil
	})
	a := simple()

	convs := make([]int64, 2)
	for i := range convs {
		id, err := f.store.NewConversation(a.Name)
		require.NoError(t, err)
		convs[i] = id
	}

	var wg sync.WaitGroup
	for i, convID := range convs {
		wg.Add(1)
		go func(i int, convID int64) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_, err := f.engine.Run(context.Background(), a, fmt.Sprintf("q%d-%d", i, j), RunOptions{ConversationID: convID})
				assert.NoError(t, err)
			}
		}(i, convID)
	}
	wg.Wait()

	for i, convID := range convs {
		msgs := f.messages(t, convID)
		require.Len(t, msgs, 10)
		for j := 0; j < 5; j++ {
			q := fmt.Sprintf("q%d-%d", i, j)
			assert.Equal(t, "HUMAN:"+q, msgs[2*j])
			assert.Equal(t, "AI:re: "+q, msgs[2*j+1])
		}
	}
}

func TestRenderPrompt(t *testing.T) {
	vars := map[string]string{"date": "2024-03-01", "name": "Ada"}
	assert.Equal(t, "Hi Ada, today is 2024-03-01", RenderPrompt("Hi {name}, today is {date}", vars))
	assert.Equal(t, `{"a": {missing}}`, RenderPrompt(`{{"a": {missing}}}`, vars))
	assert.Equal(t, "open { brace", RenderPrompt("open { brace", vars))
}

func TestFormatFailure(t *testing.T) {
	assert.Equal(t, "FAIL: Error: boom", FormatFailure(errors.New("boom")))
	assert.Equal(t, "FAIL: NoProvider: no LLM provider configured", FormatFailure(llm.ErrNoProvider))
	assert.True(t, strings.HasPrefix(FormatFailure(fmt.Errorf("wrapped: %w", &ValidationError{Err: errors.New("x")})), "FAIL: ValidationError: "))
	assert.True(t, strings.HasPrefix(FormatFailure(context.DeadlineExceeded), "FAIL: Timeout: "))
}

func TestEstimateBeforeTurn(t *testing.T) {
	f := newFixture(t, replies("hello world"))
	a := simple()

	u, err := f.engine.Estimate(a, 0)
	require.NoError(t, err)
	assert.Equal(t, 3+tokens.PerMessageOverhead, u.Prompt)
	assert.Zero(t, u.History)
	assert.Equal(t, "gpt-4o", u.API.Model)

	resp, err := f.engine.Run(context.Background(), a, "how are you", RunOptions{})
	require.NoError(t, err)

	u, err = f.engine.Estimate(a, resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 3+2+2*tokens.PerMessageOverhead, u.History)
	assert.Equal(t, u.Prompt+u.History, u.Total)
}
