package assistant

import (
	"fmt"
	"strings"

	"kraina-desktop/utils"
)

// ValidationError reports an answer that does not match the output schema
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("response does not match the output schema: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// decodeStructured parses text as JSON and validates it. Models like to wrap
// JSON in a markdown code fence, which is removed first.
func decodeStructured(schema *utils.Schema, text string) (any, error) {
	data, err := schema.Validate([]byte(stripCodeFence(text)))
	if err != nil {
		return nil, &ValidationError{Err: err}
	}
	return data, nil
}

func stripCodeFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "```"))
}
