package ipc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"kraina-desktop/utils"
)

// ErrQueueFull is returned by Post when the app is not draining requests
var ErrQueueFull = errors.New("command queue is full")

// Result is the answer to one Request
type Result struct {
	Value string
	Err   error
}

// Request is a command waiting for the app. Handlers must call Reply exactly
// once, possibly later from another goroutine; extra calls are ignored.
type Request struct {
	Command Command
	Params  Params

	reply chan Result
	once  sync.Once
}

// Reply delivers the result to whoever posted the request
func (r *Request) Reply(value string, err error) {
	r.once.Do(func() {
		r.reply <- Result{Value: value, Err: err}
	})
}

// Handler processes a request on the UI thread
type Handler func(req *Request)

// Dispatcher hands commands from the IPC host over to the UI thread
type Dispatcher struct {
	logger *utils.Logger
	queue  chan *Request

	mu       sync.RWMutex
	handlers map[Command]Handler
}

// NewDispatcher creates a dispatcher that buffers up to size requests
func NewDispatcher(size int, logger *utils.Logger) *Dispatcher {
	if logger == nil {
		logger = utils.NopLogger()
	}
	if size <= 0 {
		size = 8
	}
	return &Dispatcher{
		logger:   logger,
		queue:    make(chan *Request, size),
		handlers: make(map[Command]Handler),
	}
}

// Handle registers h for cmd, replacing any earlier handler
func (d *Dispatcher) Handle(cmd Command, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[cmd] = h
}

// Post queues a command. The returned channel receives exactly one Result.
func (d *Dispatcher) Post(ctx context.Context, cmd Command, params Params) (<-chan Result, error) {
	req := &Request{Command: cmd, Params: params, reply: make(chan Result, 1)}
	select {
	case d.queue <- req:
		return req.reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, ErrQueueFull
	}
}

// Serve drains the queue until ctx is done. Every handler runs through run,
// which in the app schedules the call on the UI thread.
func (d *Dispatcher) Serve(ctx context.Context, run func(func())) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-d.queue:
			run(func() { d.dispatch(req) })
		}
	}
}

func (d *Dispatcher) dispatch(req *Request) {
	d.mu.RLock()
	h, ok := d.handlers[req.Command]
	d.mu.RUnlock()
	if !ok {
		req.Reply("", fmt.Errorf("%w: no handler for %s", ErrUnknownCommand, req.Command))
		return
	}

	defer utils.RecoverFromPanic(d.logger, "ipc "+string(req.Command), func(err error) {
		req.Reply("", err)
	})
	d.logger.Debug("Dispatching %s", req.Command)
	h(req)
}
