package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrHostTimeout means the host accepted the command but the app did not
// answer in time
var ErrHostTimeout = errors.New("host timed out")

// Client sends commands to a running app
type Client struct {
	Addr    string
	Timeout time.Duration
}

// NewClient returns a client for addr with the default timeout
func NewClient(addr string) *Client {
	if addr == "" {
		addr = DefaultAddress
	}
	return &Client{Addr: addr, Timeout: DefaultTimeout}
}

// Conn is one client connection; several commands may be sent over it
type Conn struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// Dial connects to the host
func (c *Client) Dial(ctx context.Context) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.Addr, err)
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Conn{conn: conn, reader: bufio.NewReader(conn), timeout: timeout}, nil
}

// Send runs one command on a fresh connection. Unknown commands fail with
// *UnsupportedCommandError before anything is dialed.
func (c *Client) Send(ctx context.Context, command string, args ...any) (string, bool, error) {
	if !Supported(command) {
		return "", false, &UnsupportedCommandError{Command: command}
	}
	conn, err := c.Dial(ctx)
	if err != nil {
		return "", false, err
	}
	defer conn.Close()
	return conn.Send(command, args...)
}

// Send writes one frame and waits for the reply. ok is false when the host
// answered without a value.
func (c *Conn) Send(command string, args ...any) (string, bool, error) {
	if !Supported(command) {
		return "", false, &UnsupportedCommandError{Command: command}
	}
	frame, err := EncodeFrame(Command(command), NewParams(args...))
	if err != nil {
		return "", false, err
	}

	_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write([]byte(frame + "\n")); err != nil {
		return "", false, fmt.Errorf("failed to send %s: %w", command, err)
	}
	line, err := c.reader.ReadString('\n')
	if err != nil && line == "" {
		return "", false, fmt.Errorf("no reply to %s: %w", command, err)
	}
	result, ok := DecodeReply(line)
	if ok && result == TimeoutReply {
		return "", false, ErrHostTimeout
	}
	return result, ok, nil
}

// Close closes the connection
func (c *Conn) Close() error {
	return c.conn.Close()
}
