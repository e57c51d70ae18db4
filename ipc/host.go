package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"kraina-desktop/utils"
)

// DefaultTimeout bounds the wait for the app and for the next client frame
const DefaultTimeout = 30 * time.Second

// Command outcomes reported to Host.OnCommand
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeTimeout  = "timeout"
	OutcomeRejected = "rejected"

	invalidCommand Command = "INVALID"
)

// Host accepts clients on one goroutine and serves them one at a time
type Host struct {
	addr       string
	timeout    time.Duration
	dispatcher *Dispatcher
	logger     *utils.Logger

	// OnCommand, when set, observes every frame the host handled
	OnCommand func(cmd Command, outcome string, elapsed time.Duration)

	ln net.Listener
}

// NewHost creates a host for addr; timeout <= 0 means DefaultTimeout
func NewHost(addr string, timeout time.Duration, d *Dispatcher, logger *utils.Logger) *Host {
	if logger == nil {
		logger = utils.NopLogger()
	}
	if addr == "" {
		addr = DefaultAddress
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Host{addr: addr, timeout: timeout, dispatcher: d, logger: logger.WithField("component", "ipc")}
}

// Listen binds the listening socket
func (h *Host) Listen() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	h.ln = ln
	h.logger.Info("IPC host listening on %s", ln.Addr())
	return nil
}

// Addr is the bound address, nil before Listen
func (h *Host) Addr() net.Addr {
	if h.ln == nil {
		return nil
	}
	return h.ln.Addr()
}

// Serve accepts clients until ctx is done. Listen is called when needed.
func (h *Host) Serve(ctx context.Context) error {
	if h.ln == nil {
		if err := h.Listen(); err != nil {
			return err
		}
	}
	go func() {
		<-ctx.Done()
		h.ln.Close()
	}()

	for {
		h.logger.Debug("Waiting for connection")
		conn, err := h.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			h.logger.Warn("Accept failed: %v", err)
			continue
		}
		h.handle(ctx, conn)
	}
}

func (h *Host) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer utils.RecoverFromPanic(h.logger, "ipc client", nil)

	reader := bufio.NewReader(conn)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(h.timeout))
		line, err := reader.ReadString('\n')
		if err != nil {
			if line == "" {
				return
			}
		}

		start := time.Now()
		cmd, params, perr := DecodeFrame(line)
		if perr != nil {
			h.logger.Error("Receive invalid message: %v", perr)
			h.observe(invalidCommand, OutcomeRejected, start)
			return
		}

		reply, outcome := h.exchange(ctx, cmd, params)
		h.observe(cmd, outcome, start)
		_ = conn.SetWriteDeadline(time.Now().Add(h.timeout))
		if _, err := conn.Write([]byte(EncodeReply(reply) + "\n")); err != nil {
			h.logger.Warn("Failed to reply to %s: %v", cmd, err)
			return
		}
		if err != nil {
			// the frame was terminated by EOF
			return
		}
	}
}

// exchange posts cmd and waits for the app's answer
func (h *Host) exchange(ctx context.Context, cmd Command, params Params) (string, string) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results, err := h.dispatcher.Post(ctx, cmd, params)
	if err != nil {
		h.logger.Warn("Cannot post %s: %v", cmd, err)
		return TimeoutReply, OutcomeTimeout
	}
	h.logger.Debug("Command %s posted, waiting for execution", cmd)

	select {
	case res := <-results:
		if res.Err != nil {
			h.logger.Error("Command %s failed: %v", cmd, res.Err)
			return "FAIL: " + res.Err.Error(), OutcomeError
		}
		return res.Value, OutcomeOK
	case <-ctx.Done():
		return TimeoutReply, OutcomeTimeout
	}
}

func (h *Host) observe(cmd Command, outcome string, start time.Time) {
	if h.OnCommand != nil {
		h.OnCommand(cmd, outcome, time.Since(start))
	}
}
