package assistant

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"kraina-desktop/utils"
)

// TurnResult is posted on TurnRunner.Results when a turn ends
type TurnResult struct {
	RequestID string
	Assistant string
	// ConversationID is the conversation the turn was started on, 0 for a new one
	ConversationID int64
	Response       *Response
	Err            error
}

// Runner executes one turn synchronously; *Engine implements it
type Runner interface {
	Run(ctx context.Context, a *Assistant, query string, opts RunOptions) (*Response, error)
}

// TurnRunner runs every turn on its own goroutine and posts the outcome on
// a bounded channel that the UI thread drains. A conversation never has
// more than one turn in flight.
type TurnRunner struct {
	engine  Runner
	logger  *utils.Logger
	results chan TurnResult

	mu   sync.Mutex
	busy map[int64]bool
	wg   sync.WaitGroup
}

// NewTurnRunner creates a runner whose result queue holds buffer entries
func NewTurnRunner(engine Runner, buffer int, logger *utils.Logger) *TurnRunner {
	if logger == nil {
		logger = utils.NopLogger()
	}
	if buffer <= 0 {
		buffer = 16
	}
	return &TurnRunner{
		engine:  engine,
		logger:  logger,
		results: make(chan TurnResult, buffer),
		busy:    make(map[int64]bool),
	}
}

// Results delivers finished turns in completion order
func (r *TurnRunner) Results() <-chan TurnResult {
	return r.results
}

// Busy reports whether convID has a turn in flight
func (r *TurnRunner) Busy(convID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy[convID]
}

// Start launches a turn and returns its request id. It fails with
// ErrConversationBusy when opts.ConversationID already has a turn running.
// ctx is only used to stop at process shutdown.
func (r *TurnRunner) Start(ctx context.Context, a *Assistant, query string, opts RunOptions) (string, error) {
	convID := opts.ConversationID
	if convID != 0 {
		r.mu.Lock()
		if r.busy[convID] {
			r.mu.Unlock()
			return "", ErrConversationBusy
		}
		r.busy[convID] = true
		r.mu.Unlock()
	}

	id := uuid.NewString()
	result := TurnResult{RequestID: id, Assistant: a.Name, ConversationID: convID}
	r.wg.Add(1)
	utils.SafeGo(r.logger, "turn "+id, func() {
		defer r.wg.Done()
		defer func() {
			// a panicking engine still has to free the conversation
			if result.Response == nil && result.Err == nil {
				result.Err = &utils.PanicError{Context: "turn " + id, Value: "turn aborted"}
				r.finish(ctx, convID, result)
			}
		}()
		result.Response, result.Err = r.engine.Run(ctx, a, query, opts)
		r.finish(ctx, convID, result)
	})
	return id, nil
}

func (r *TurnRunner) finish(ctx context.Context, convID int64, result TurnResult) {
	if convID != 0 {
		r.mu.Lock()
		delete(r.busy, convID)
		r.mu.Unlock()
	}
	select {
	case r.results <- result:
	case <-ctx.Done():
		r.logger.Warn("Dropping result of turn %s: %v", result.RequestID, ctx.Err())
	}
}

// Wait blocks until every started turn has posted its result
func (r *TurnRunner) Wait() {
	r.wg.Wait()
}
