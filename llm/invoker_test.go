package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	replies []*Completion
	calls   []Request
}

func (s *scriptedProvider) Complete(_ context.Context, req Request) (*Completion, error) {
	s.calls = append(s.calls, req)
	if len(s.calls) > len(s.replies) {
		return nil, errors.New("unexpected call")
	}
	c := *s.replies[len(s.calls)-1]
	return &c, nil
}

func (s *scriptedProvider) Name() string          { return "scripted" }
func (s *scriptedProvider) Models() []string      { return nil }
func (s *scriptedProvider) ValidateConfig() error { return nil }

func chunk(text, field, reason string) *Completion {
	return &Completion{Content: text, Metadata: map[string]string{field: reason}}
}

func TestInvokeCompleteFirstCall(t *testing.T) {
	p := &scriptedProvider{replies: []*Completion{chunk("hello", MetaFinishReason, "stop")}}

	resp, err := NewInvoker(nil).Invoke(context.Background(), p, Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Len(t, p.calls, 1)
}

func TestInvokeConcatenatesContinuations(t *testing.T) {
	for _, n := range []int{1, 3} {
		t.Run(fmt.Sprintf("%d truncated", n), func(t *testing.T) {
			p := &scriptedProvider{}
			want := ""
			for i := 0; i < n; i++ {
				part := fmt.Sprintf("part%d ", i)
				want += part
				p.replies = append(p.replies, chunk(part, MetaStopReason, "max_tokens"))
			}
			p.replies = append(p.replies, chunk("end", MetaStopReason, "end_turn"))
			p.replies[n].Usage = Usage{TotalTokens: 42}
			want += "end"

			req := Request{Messages: []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "q"}}, MaxTokens: 10}
			resp, err := NewInvoker(nil).Invoke(context.Background(), p, req)
			require.NoError(t, err)

			assert.Equal(t, want, resp.Content)
			assert.Len(t, p.calls, n+1)
			assert.Equal(t, "end_turn", resp.StopReason)
			assert.Equal(t, 42, resp.Usage.TotalTokens)

			// every continuation carries the partial answer and the continue prompt
			last := p.calls[n].Messages
			require.Len(t, last, 2+2*n)
			assert.Equal(t, RoleAssistant, last[len(last)-2].Role)
			assert.Equal(t, ContinuePrompt, last[len(last)-1].Content)
			// the caller's slice is untouched
			assert.Len(t, req.Messages, 2)
		})
	}
}

func TestInvokeEmptyContinuationFails(t *testing.T) {
	p := &scriptedProvider{replies: []*Completion{
		chunk("partial", MetaFinishReason, "length"),
		chunk("  \n", MetaFinishReason, "length"),
		chunk("never", MetaFinishReason, "stop"),
	}}

	_, err := NewInvoker(nil).Invoke(context.Background(), p, Request{MaxTokens: 7})
	var mte *MaxTokensError
	require.ErrorAs(t, err, &mte)
	assert.Equal(t, 7, mte.MaxTokens)
	assert.Contains(t, err.Error(), "'max_tokens' 7 is too low")
	assert.Len(t, p.calls, 2)
}

func TestInvokeNoFinishReason(t *testing.T) {
	p := &scriptedProvider{replies: []*Completion{{Content: "x", Metadata: map[string]string{"reason": "stop"}}}}
	_, err := NewInvoker(nil).Invoke(context.Background(), p, Request{})
	assert.ErrorIs(t, err, ErrNoFinishReason)
}

func TestInvokeContinuationCap(t *testing.T) {
	p := &scriptedProvider{}
	for i := 0; i < 5; i++ {
		p.replies = append(p.replies, chunk("more", MetaDoneReason, "length"))
	}
	inv := NewInvoker(nil)
	inv.MaxContinuations = 2

	_, err := inv.Invoke(context.Background(), p, Request{})
	require.Error(t, err)
	assert.Len(t, p.calls, 3)
}

func TestFinishReasonOrder(t *testing.T) {
	c := &Completion{Metadata: map[string]string{MetaDoneReason: "length", MetaStopReason: "END_TURN"}}
	reason, err := FinishReason(c)
	require.NoError(t, err)
	assert.Equal(t, "end_turn", reason)
	assert.True(t, IsComplete(reason))

	assert.True(t, IsComplete("stop_sequence"))
	assert.False(t, IsComplete("length"))
	assert.True(t, IsToolUse("tool_use"))
	assert.True(t, IsToolUse("tool_calls"))
	assert.False(t, IsToolUse("stop"))
}

func TestCompletionTextFirstSegment(t *testing.T) {
	c := &Completion{Segments: []Segment{{Type: SegmentImage, ImageURL: "data:image/png;base64,AA"}, {Type: SegmentText, Text: "first"}, {Type: SegmentText, Text: "second"}}}
	assert.Equal(t, "first", c.Text())
}
