// Package agent runs the tool-calling loop of an assistant and reports its
// progress as a stream of events.
package agent

import "kraina-desktop/llm"

// Event is one step of the agent loop. The set is closed: ActionsEvent,
// StepsEvent and OutputEvent.
type Event interface {
	event()
}

// ActionsEvent carries the model message that requested tools and the
// requested calls
type ActionsEvent struct {
	Messages []llm.Message
	Actions  []llm.ToolCall
}

// Step is one executed action and what the tool returned
type Step struct {
	Action      llm.ToolCall
	Observation string
}

// StepsEvent carries the results of the preceding ActionsEvent
type StepsEvent struct {
	Steps []Step
}

// OutputEvent carries the final answer
type OutputEvent struct {
	Content  string
	Segments []llm.Segment
}

func (ActionsEvent) event() {}
func (StepsEvent) event()   {}
func (OutputEvent) event()  {}

// Text returns the canonical final text; with list-of-segments content the
// first text segment wins
func (o OutputEvent) Text() string {
	c := llm.Completion{Content: o.Content, Segments: o.Segments}
	return c.Text()
}
