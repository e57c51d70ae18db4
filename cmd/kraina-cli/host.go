package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"kraina-desktop/ipc"
)

// launchWait bounds how long a freshly started app has to open its host
const launchWait = 45 * time.Second

type hostFlags struct {
	Address string
	Timeout time.Duration
	Launch  bool
}

func newHostFlags() *hostFlags {
	return &hostFlags{Address: ipc.DefaultAddress, Timeout: ipc.DefaultTimeout, Launch: true}
}

func (f *hostFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.Address, "address", f.Address, "Address of the app's command host")
	fs.DurationVar(&f.Timeout, "timeout", f.Timeout, "Time to wait for a reply")
	fs.BoolVar(&f.Launch, "launch", f.Launch, "Start the app when it is not running")
}

func init() {
	f := newHostFlags()
	send := &cobra.Command{
		Use:   "send COMMAND [ARGS...]",
		Short: "Send a command to the running app",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(cmd, f, args)
		},
	}
	f.BindFlags(send.Flags())

	sf := newHostFlags()
	snippets := &cobra.Command{
		Use:   "snippets",
		Short: "List the snippets loaded by the app",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sendCommand(cmd, sf, []string{string(ipc.GetListOfSnippets)})
		},
	}
	sf.BindFlags(snippets.Flags())

	rf := newHostFlags()
	var file bool
	runSnippet := &cobra.Command{
		Use:   "run-snippet NAME TEXT|FILE",
		Short: "Run a snippet in the app and print its output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := ipc.RunSnippet
			if file {
				command = ipc.RunSnippetWithFile
			}
			return sendCommand(cmd, rf, []string{string(command), args[0], args[1]})
		},
	}
	rf.BindFlags(runSnippet.Flags())
	runSnippet.Flags().BoolVar(&file, "file", false, "Treat the second argument as a file path")

	rootCmd.AddCommand(send, snippets, runSnippet)
}

// sendCommand sends args[0] with the remaining args and prints the reply.
// Failures reported by the app go to stderr.
func sendCommand(cmd *cobra.Command, f *hostFlags, args []string) error {
	if !ipc.Supported(args[0]) {
		return &ipc.UnsupportedCommandError{Command: args[0]}
	}
	if args[0] == string(ipc.RunSnippetWithFile) && len(args) == 3 {
		if abs, err := filepath.Abs(args[2]); err == nil {
			if info, err := os.Stat(abs); err == nil && !info.IsDir() {
				args[2] = abs
			}
		}
	}

	params := make([]any, 0, len(args)-1)
	for _, a := range args[1:] {
		params = append(params, a)
	}

	client := &ipc.Client{Addr: f.Address, Timeout: f.Timeout}
	result, ok, err := client.Send(cmd.Context(), args[0], params...)
	if isRefused(err) && f.Launch {
		result, ok, err = launchAndSend(cmd.Context(), client, args[0], params)
	}
	if errors.Is(err, ipc.ErrHostTimeout) {
		fmt.Fprintln(cmd.ErrOrStderr(), ipc.TimeoutReply)
		return err
	}
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if strings.HasPrefix(result, "FAIL:") {
		fmt.Fprintln(cmd.ErrOrStderr(), result)
		return errors.New("command failed")
	}
	fmt.Fprintln(cmd.OutOrStdout(), result)
	return nil
}

func isRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// launchAndSend starts the app next to this binary and retries until its
// host accepts the command
func launchAndSend(ctx context.Context, client *ipc.Client, command string, params []any) (string, bool, error) {
	app, err := appPath()
	if err != nil {
		return "", false, err
	}
	log.WithField("app", app).Info("app not running, starting it")
	proc := exec.Command(app)
	detach(proc)
	if err := proc.Start(); err != nil {
		return "", false, fmt.Errorf("failed to start %s: %w", app, err)
	}
	_ = proc.Process.Release()

	ctx, cancel := context.WithTimeout(ctx, launchWait)
	defer cancel()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		result, ok, err := client.Send(ctx, command, params...)
		if !isRefused(err) {
			return result, ok, err
		}
		select {
		case <-ctx.Done():
			return "", false, fmt.Errorf("app did not start within %s: %w", launchWait, err)
		case <-ticker.C:
		}
	}
}

func appPath() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", err
	}
	name := "kraina-desktop"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	path := filepath.Join(filepath.Dir(self), name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("krAIna app not found at %s", path)
	}
	return path, nil
}
