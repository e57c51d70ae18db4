package assistant

import (
	"context"
	"fmt"
	"strings"

	"kraina-desktop/agent"
	"kraina-desktop/db"
	"kraina-desktop/llm"
	"kraina-desktop/utils"
)

type loopState int

const (
	stateAwaitingModel loopState = iota
	stateModelProposedActions
	stateToolExecuted
	stateFinalOutput
)

func (s loopState) String() string {
	switch s {
	case stateAwaitingModel:
		return "AWAITING_MODEL"
	case stateModelProposedActions:
		return "MODEL_PROPOSED_ACTIONS"
	case stateToolExecuted:
		return "TOOL_EXECUTED"
	case stateFinalOutput:
		return "FINAL_OUTPUT"
	}
	return "UNKNOWN"
}

// agentLoop consumes the executor events of one turn: it records every step,
// accounts its tokens and notifies the callbacks
type agentLoop struct {
	e         *Engine
	t         *turn
	callbacks Callbacks
	state     loopState
	seen      map[string]bool
	output    string

	// lastObservation answers the turn when the model ends without text
	lastObservation string
}

func (e *Engine) runAgent(ctx context.Context, t *turn, req llm.Request, callbacks Callbacks) (string, error) {
	loop := &agentLoop{e: e, t: t, callbacks: callbacks, seen: make(map[string]bool)}
	if err := e.deps.NewAgent(t.provider, e.deps.Tools).Run(ctx, req, loop.handle); err != nil {
		return "", err
	}
	if loop.state != stateFinalOutput {
		return "", fmt.Errorf("%w: agent stopped in state %s", ErrUnexpectedEvent, loop.state)
	}
	return loop.output, nil
}

func (l *agentLoop) handle(ev agent.Event) error {
	if l.state == stateFinalOutput {
		return fmt.Errorf("%w: %T after the final output", ErrUnexpectedEvent, ev)
	}

	switch ev := ev.(type) {
	case agent.ActionsEvent:
		if l.state == stateModelProposedActions {
			return fmt.Errorf("%w: actions without steps", ErrUnexpectedEvent)
		}
		for _, msg := range ev.Messages {
			text := msg.Text()
			if msg.ID == "" || l.seen[msg.ID] || text == "" {
				continue
			}
			l.seen[msg.ID] = true
			if err := l.record(db.MessageAI, text); err != nil {
				return err
			}
			l.t.usage.Output += l.t.acc.CountMessage(text)
			l.fire(l.callbacks.AIObservation, text)
		}
		for _, action := range ev.Actions {
			msg := fmt.Sprintf("Invoking Tool: '%s' with input '%s'", action.Name, action.Arguments)
			if err := l.record(db.MessageTool, msg); err != nil {
				return err
			}
			l.t.usage.Tools += l.t.acc.CountMessage(action.Arguments)
			l.fire(l.callbacks.Action, msg)
		}
		l.state = stateModelProposedActions

	case agent.StepsEvent:
		if l.state != stateModelProposedActions {
			return fmt.Errorf("%w: steps in state %s", ErrUnexpectedEvent, l.state)
		}
		for _, step := range ev.Steps {
			msg := fmt.Sprintf("Tool Result: `%s`", step.Observation)
			if err := l.record(db.MessageTool, msg); err != nil {
				return err
			}
			l.t.usage.Tools += l.t.acc.CountMessage(step.Observation)
			l.fire(l.callbacks.Observation, msg)
			l.lastObservation = step.Observation
		}
		// more actions may follow
		l.state = stateToolExecuted

	case agent.OutputEvent:
		l.output = ev.Text()
		if strings.TrimSpace(l.output) == "" {
			l.output = l.lastObservation
		}
		l.state = stateFinalOutput
		l.fire(l.callbacks.Output, l.output)

	default:
		return fmt.Errorf("%w: %T", ErrUnexpectedEvent, ev)
	}
	return nil
}

func (l *agentLoop) record(typ db.MessageType, text string) error {
	if l.t.convID == 0 {
		return nil
	}
	if err := l.e.deps.Store.AddMessage(typ, text, l.t.convID); err != nil {
		return fmt.Errorf("failed to store %s message: %w", typ, err)
	}
	return nil
}

// fire calls cb without letting it affect the loop
func (l *agentLoop) fire(cb func(string), msg string) {
	if cb == nil {
		return
	}
	defer utils.RecoverFromPanic(l.t.logger, "assistant callback", nil)
	cb(msg)
}
