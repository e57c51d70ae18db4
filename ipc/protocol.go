// Package ipc implements the local command protocol other processes use to
// drive the desktop app: KEY|COMMAND[|base64(json params)] frames on TCP.
package ipc

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Key is the shared secret every frame starts with
	Key = "hUrrrrAA"
	// DefaultAddress is where the host listens
	DefaultAddress = "127.0.0.1:8998"

	// TimeoutReply is sent when the app did not answer in time
	TimeoutReply = "TIMEOUT"
	ackReply     = "ACK"
)

// Command names one whitelisted operation
type Command string

const (
	ShowApp            Command = "SHOW_APP"
	HideApp            Command = "HIDE_APP"
	GetListOfSnippets  Command = "GET_LIST_OF_SNIPPETS"
	RunSnippet         Command = "RUN_SNIPPET"
	RunSnippetWithFile Command = "RUN_SNIPPET_WITH_FILE"
	ReloadChatList     Command = "RELOAD_CHAT_LIST"
	SelectChat         Command = "SELECT_CHAT"
	DelChat            Command = "DEL_CHAT"
)

// Commands is the closed whitelist, in documentation order
var Commands = []Command{ShowApp, HideApp, GetListOfSnippets, RunSnippet, RunSnippetWithFile, ReloadChatList, SelectChat, DelChat}

var descriptions = map[Command]string{
	ShowApp:            "Trigger to display the application",
	HideApp:            "Trigger to minimize the application",
	GetListOfSnippets:  "Get list of snippets",
	RunSnippet:         "Run snippet 'name' with 'text'",
	RunSnippetWithFile: "Run snippet 'name' with 'file'",
	ReloadChatList:     "Reload chat list",
	SelectChat:         "Select conv_id chat",
	DelChat:            "Delete conv_id chat",
}

// Description documents c; empty for commands outside the whitelist
func (c Command) Description() string {
	return descriptions[c]
}

// Supported reports whether name is in the whitelist
func Supported(name string) bool {
	_, ok := descriptions[Command(name)]
	return ok
}

// UnsupportedCommandError is returned by the client before any network I/O
type UnsupportedCommandError struct {
	Command string
}

func (e *UnsupportedCommandError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "'%s' not supported.\nSupported commands:\n", e.Command)
	for _, c := range Commands {
		fmt.Fprintf(&sb, "\t%s - %s\n", c, c.Description())
	}
	return sb.String()
}

var (
	ErrEmptyFrame     = errors.New("empty frame")
	ErrBadKey         = errors.New("invalid key")
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingParam   = errors.New("missing parameter")
)

// Params holds the positional parameters par0, par1, ...
type Params map[string]any

// NewParams maps args to par0..parN
func NewParams(args ...any) Params {
	if len(args) == 0 {
		return nil
	}
	p := make(Params, len(args))
	for i, a := range args {
		p[paramName(i)] = a
	}
	return p
}

func paramName(i int) string {
	return "par" + strconv.Itoa(i)
}

// String returns parameter i as text
func (p Params) String(i int) (string, error) {
	v, ok := p[paramName(i)]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, paramName(i))
	}
	switch v := v.(type) {
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	}
	return fmt.Sprint(v), nil
}

// Int64 returns parameter i as an integer; numeric strings are accepted
func (p Params) Int64(i int) (int64, error) {
	v, ok := p[paramName(i)]
	if !ok || v == nil {
		return 0, fmt.Errorf("%w: %s", ErrMissingParam, paramName(i))
	}
	var s string
	switch v := v.(type) {
	case json.Number:
		s = v.String()
	case string:
		s = strings.TrimSpace(v)
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("%s is not a number: %v", paramName(i), v)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s is not a number: %w", paramName(i), err)
	}
	return n, nil
}

// EncodeFrame builds a request frame without the trailing newline
func EncodeFrame(cmd Command, params Params) (string, error) {
	frame := Key + "|" + string(cmd)
	if len(params) == 0 {
		return frame, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode params: %w", err)
	}
	return frame + "|" + base64.StdEncoding.EncodeToString(data), nil
}

// DecodeFrame validates a request frame and decodes its parameters
func DecodeFrame(frame string) (Command, Params, error) {
	frame = strings.TrimRight(frame, "\r\n")
	if frame == "" {
		return "", nil, ErrEmptyFrame
	}
	parts := strings.SplitN(frame, "|", 3)
	if parts[0] != Key {
		return "", nil, ErrBadKey
	}
	if len(parts) < 2 || !Supported(parts[1]) {
		return "", nil, ErrUnknownCommand
	}
	cmd := Command(parts[1])
	if len(parts) == 2 || parts[2] == "" {
		return cmd, nil, nil
	}

	raw, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode params: %w", err)
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var params Params
	if err := dec.Decode(&params); err != nil {
		return "", nil, fmt.Errorf("failed to decode params: %w", err)
	}
	return cmd, params, nil
}

// Replies may span lines; they are escaped so one reply is one line
var (
	replyEscaper   = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)
	replyUnescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\r`, "\r")
)

// EncodeReply builds a reply frame without the trailing newline
func EncodeReply(result string) string {
	return Key + "|" + replyEscaper.Replace(result)
}

// DecodeReply extracts the result of a reply frame. ok is false for the
// empty and ACK results, which carry no value.
func DecodeReply(frame string) (result string, ok bool) {
	frame = strings.TrimRight(frame, "\r\n")
	if rest, found := strings.CutPrefix(frame, Key+"|"); found {
		result = replyUnescaper.Replace(rest)
	} else {
		// foreign host: trailing segment
		result = frame[strings.LastIndex(frame, "|")+1:]
	}
	if result == "" || result == ackReply {
		return "", false
	}
	return result, true
}
