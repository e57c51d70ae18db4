package llm

import (
	"errors"
	"strings"
)

// ErrNoFinishReason is returned when a completion carries none of the known finish fields
var ErrNoFinishReason = errors.New("no finish reason found in response metadata")

// Metadata keys holding the vendor finish reason, in lookup order
const (
	MetaFinishReason = "finish_reason"
	MetaStopReason   = "stop_reason"
	MetaDoneReason   = "done_reason"
)

var finishFields = []string{MetaFinishReason, MetaStopReason, MetaDoneReason}

var (
	completeReasons = map[string]bool{"stop": true, "end_turn": true, "stop_sequence": true}
	toolReasons     = map[string]bool{"tool_calls": true, "tool_use": true}
)

// FinishReason returns the lower-cased finish reason of c. The first known
// metadata field present wins.
func FinishReason(c *Completion) (string, error) {
	for _, field := range finishFields {
		if v, ok := c.Metadata[field]; ok {
			return strings.ToLower(strings.TrimSpace(v)), nil
		}
	}
	return "", ErrNoFinishReason
}

// IsComplete reports whether the model stopped on its own
func IsComplete(reason string) bool {
	return completeReasons[reason]
}

// IsToolUse reports whether the model stopped to call tools
func IsToolUse(reason string) bool {
	return toolReasons[reason]
}
