package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"kraina-desktop/utils"
)

// SnippetRunner runs a named snippet over text
type SnippetRunner interface {
	RunSnippet(ctx context.Context, name, text string) (string, error)
}

// CurrentDateTime reports the local date and time
type CurrentDateTime struct {
	Now func() time.Time
}

func (CurrentDateTime) Name() string { return "current_datetime" }

func (CurrentDateTime) Description() string {
	return "Returns the current local date, time and weekday."
}

func (CurrentDateTime) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t CurrentDateTime) Run(context.Context, json.RawMessage) (string, error) {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	return now().Format("2006-01-02 15:04:05 Monday"), nil
}

// Sandbox confines file tools to one directory tree
type Sandbox struct {
	Root string
}

// Resolve maps a relative or absolute path into the sandbox, rejecting
// anything that escapes Root
func (s Sandbox) Resolve(path string) (string, error) {
	if s.Root == "" {
		return "", errors.New("file tools are disabled: no sandbox root configured")
	}
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve sandbox root: %w", err)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("access denied: %s is outside %s", path, root)
	}
	return path, nil
}

type pathArgs struct {
	Path string `json:"path"`
}

// ReadFile returns the text of a file inside the sandbox
type ReadFile struct {
	Sandbox Sandbox
}

func (ReadFile) Name() string { return "read_file" }

func (ReadFile) Description() string {
	return "Reads a text file and returns its content. The path is relative to the workspace root."
}

func (ReadFile) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"file path"}},"required":["path"]}`)
}

func (t ReadFile) Run(_ context.Context, raw json.RawMessage) (string, error) {
	var args pathArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	path, err := t.Sandbox.Resolve(args.Path)
	if err != nil {
		return "", err
	}
	return utils.ReadFileContent(path)
}

// ListDirectory lists a directory inside the sandbox
type ListDirectory struct {
	Sandbox Sandbox
}

func (ListDirectory) Name() string { return "list_directory" }

func (ListDirectory) Description() string {
	return "Lists files and directories. The path is relative to the workspace root, empty for the root."
}

func (ListDirectory) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"directory path"}}}`)
}

func (t ListDirectory) Run(_ context.Context, raw json.RawMessage) (string, error) {
	var args pathArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	path, err := t.Sandbox.Resolve(args.Path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("failed to list directory: %w", err)
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		lines = append(lines, name)
	}
	sort.Strings(lines)
	if len(lines) == 0 {
		return "(empty)", nil
	}
	return strings.Join(lines, "\n"), nil
}

// TextToText passes text through a snippet, e.g. a translation
type TextToText struct {
	Snippet string
	Runner  SnippetRunner
}

func (TextToText) Name() string { return "text_to_text" }

func (t TextToText) Description() string {
	return fmt.Sprintf("Transforms text with the '%s' snippet and returns the result.", t.Snippet)
}

func (TextToText) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string","description":"text to transform"}},"required":["text"]}`)
}

func (t TextToText) Run(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if t.Runner == nil {
		return "", errors.New("no snippet runner configured")
	}
	return t.Runner.RunSnippet(ctx, t.Snippet, args.Text)
}

// Builtins returns the built-in tools configured from cfg
func Builtins(cfg utils.ToolsConfig, runner SnippetRunner) []Tool {
	sandbox := Sandbox{Root: cfg.SandboxRoot}
	out := []Tool{
		CurrentDateTime{},
		ReadFile{Sandbox: sandbox},
		ListDirectory{Sandbox: sandbox},
	}
	if cfg.TextToTextSnippet != "" {
		out = append(out, TextToText{Snippet: cfg.TextToTextSnippet, Runner: runner})
	}
	return out
}
