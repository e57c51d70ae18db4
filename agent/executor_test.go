package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kraina-desktop/llm"
)

type fakeProvider struct {
	replies []*llm.Completion
	calls   []llm.Request
}

func (f *fakeProvider) Complete(_ context.Context, req llm.Request) (*llm.Completion, error) {
	f.calls = append(f.calls, req)
	if len(f.calls) > len(f.replies) {
		return nil, errors.New("unexpected call")
	}
	return f.replies[len(f.calls)-1], nil
}

func (f *fakeProvider) Name() string          { return "fake" }
func (f *fakeProvider) Models() []string      { return nil }
func (f *fakeProvider) ValidateConfig() error { return nil }

type toolFunc func(call llm.ToolCall) (string, error)

func (f toolFunc) Run(_ context.Context, call llm.ToolCall) (string, error) { return f(call) }

func echoTools(call llm.ToolCall) (string, error) {
	if call.Name == "broken" {
		return "", errors.New("disk on fire")
	}
	return call.Name + " done", nil
}

func TestExecutorEventOrder(t *testing.T) {
	p := &fakeProvider{replies: []*llm.Completion{
		{ID: "m1", Content: "thinking", ToolCalls: []llm.ToolCall{{ID: "c1", Name: "a1"}, {Name: "broken"}}},
		{ToolCalls: []llm.ToolCall{{ID: "c3", Name: "a3"}}},
		{Content: "final"},
	}}
	ex := NewExecutor(p, toolFunc(echoTools), nil)

	var events []Event
	err := ex.Run(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "go"}}}, func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, events, 5)

	actions := events[0].(ActionsEvent)
	assert.Equal(t, "m1", actions.Messages[0].ID)
	assert.Equal(t, "thinking", actions.Messages[0].Content)
	require.Len(t, actions.Actions, 2)
	assert.NotEmpty(t, actions.Actions[1].ID)

	steps := events[1].(StepsEvent)
	require.Len(t, steps.Steps, 2)
	assert.Equal(t, "a1 done", steps.Steps[0].Observation)
	assert.Equal(t, "Error: disk on fire", steps.Steps[1].Observation)

	second := events[2].(ActionsEvent)
	assert.NotEmpty(t, second.Messages[0].ID)
	assert.IsType(t, StepsEvent{}, events[3])
	assert.Equal(t, "final", events[4].(OutputEvent).Text())

	// the model sees its own tool calls and every observation
	last := p.calls[2].Messages
	require.Len(t, last, 1+3+2)
	assert.Equal(t, llm.RoleTool, last[2].Role)
	assert.Equal(t, "c1", last[2].ToolCallID)
}

func TestExecutorHandlerErrorStops(t *testing.T) {
	p := &fakeProvider{replies: []*llm.Completion{
		{ToolCalls: []llm.ToolCall{{Name: "a1"}}},
	}}
	stop := errors.New("stop")
	err := NewExecutor(p, toolFunc(echoTools), nil).Run(context.Background(), llm.Request{}, func(Event) error { return stop })
	assert.ErrorIs(t, err, stop)
	assert.Len(t, p.calls, 1)
}

func TestExecutorMaxIterations(t *testing.T) {
	p := &fakeProvider{}
	for i := 0; i < 3; i++ {
		p.replies = append(p.replies, &llm.Completion{ToolCalls: []llm.ToolCall{{Name: "again"}}})
	}
	ex := NewExecutor(p, toolFunc(echoTools), nil)
	ex.MaxIterations = 2

	err := ex.Run(context.Background(), llm.Request{}, func(Event) error { return nil })
	assert.ErrorIs(t, err, ErrMaxIterationsReached)
	assert.Len(t, p.calls, 2)
}

func TestExecutorProviderError(t *testing.T) {
	err := NewExecutor(&fakeProvider{}, toolFunc(echoTools), nil).Run(context.Background(), llm.Request{}, func(Event) error { return nil })
	assert.EqualError(t, err, "unexpected call")
}

func TestOutputEventSegments(t *testing.T) {
	out := OutputEvent{Segments: []llm.Segment{{Type: llm.SegmentText, Text: "first"}, {Type: llm.SegmentText, Text: "second"}}}
	assert.Equal(t, "first", out.Text())
}
