package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"kraina-desktop/llm"
	"kraina-desktop/utils"
)

// DefaultMaxIterations bounds the model calls of one run
const DefaultMaxIterations = 25

// ErrMaxIterationsReached is returned when the model keeps asking for tools
var ErrMaxIterationsReached = errors.New("maximum agent iterations reached")

// ToolRunner executes one tool call
type ToolRunner interface {
	Run(ctx context.Context, call llm.ToolCall) (string, error)
}

// Executor alternates model calls and tool executions until the model
// answers without requesting tools
type Executor struct {
	Provider      llm.Provider
	Tools         ToolRunner
	MaxIterations int
	Logger        *utils.Logger
}

// NewExecutor returns an executor with the default iteration limit
func NewExecutor(p llm.Provider, tools ToolRunner, logger *utils.Logger) *Executor {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &Executor{Provider: p, Tools: tools, MaxIterations: DefaultMaxIterations, Logger: logger}
}

// Run drives the loop for req, passing every event to handle in order.
// An error from handle stops the loop and is returned unchanged. Tool
// failures are reported to the model as observations, not as errors.
func (e *Executor) Run(ctx context.Context, req llm.Request, handle func(Event) error) error {
	maxIter := e.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	messages := make([]llm.Message, len(req.Messages), len(req.Messages)+4)
	copy(messages, req.Messages)

	for iteration := 1; iteration <= maxIter; iteration++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		req.Messages = messages
		c, err := e.Provider.Complete(ctx, req)
		if err != nil {
			return err
		}

		if len(c.ToolCalls) == 0 {
			return handle(OutputEvent{Content: c.Content, Segments: c.Segments})
		}

		ai := c.Message()
		if ai.ID == "" {
			ai.ID = uuid.NewString()
		}
		for i := range ai.ToolCalls {
			if ai.ToolCalls[i].ID == "" {
				ai.ToolCalls[i].ID = uuid.NewString()
			}
		}
		if err := handle(ActionsEvent{Messages: []llm.Message{ai}, Actions: ai.ToolCalls}); err != nil {
			return err
		}
		messages = append(messages, ai)

		steps := make([]Step, 0, len(ai.ToolCalls))
		for _, call := range ai.ToolCalls {
			obs, err := e.Tools.Run(ctx, call)
			if err != nil {
				e.Logger.Warn("Tool %s failed: %v", call.Name, err)
				obs = "Error: " + err.Error()
			}
			steps = append(steps, Step{Action: call, Observation: obs})
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    obs,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
		if err := handle(StepsEvent{Steps: steps}); err != nil {
			return err
		}
		e.Logger.Debug("Agent iteration %d ran %d tool(s)", iteration, len(steps))
	}
	return fmt.Errorf("%w: %d", ErrMaxIterationsReached, maxIter)
}
