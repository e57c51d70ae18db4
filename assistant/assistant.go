// Package assistant runs assistant turns and snippets against the LLM
// providers, persists every step and accounts the tokens spent.
package assistant

import (
	"fmt"
	"strings"
	"sync"

	"kraina-desktop/llm"
	"kraina-desktop/utils"
)

// Type is the closed set of assistant variants
type Type int

const (
	TypeSimple Type = iota
	TypeWithTools
)

func (t Type) String() string {
	if t == TypeWithTools {
		return "with_tools"
	}
	return "simple"
}

// ParseType reads the config.yaml spelling of a Type
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "simple":
		return TypeSimple, nil
	case "with_tools":
		return TypeWithTools, nil
	}
	return TypeSimple, fmt.Errorf("type=%s is invalid. Supported type: [simple with_tools]", s)
}

// Default assistant settings used when config.yaml leaves them out
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 512
)

// Assistant is a loaded assistant definition. It is never modified after
// loading; a reload builds new instances.
type Assistant struct {
	Name        string
	Description string
	Prompt      string
	Model       string
	Temperature float64
	MaxTokens   int
	Type        Type
	Tools       []string // only for TypeWithTools
	ForceAPI    llm.APIType
	JSONMode    bool
	// OutputSchema is an optional JSON Schema the final answer must match
	OutputSchema string
	// NameConversations asks the model for a title of every new conversation
	NameConversations bool

	schemaOnce sync.Once
	schema     *utils.Schema
	schemaErr  error
}

func (a *Assistant) outputSchema() (*utils.Schema, error) {
	a.schemaOnce.Do(func() {
		if strings.TrimSpace(a.OutputSchema) != "" {
			a.schema, a.schemaErr = utils.CompileSchema(a.Name, a.OutputSchema)
		}
	})
	return a.schema, a.schemaErr
}

// Snippet is a one-shot prompt applied to a piece of text, without history
type Snippet struct {
	Name         string
	Description  string
	Prompt       string
	Model        string
	Temperature  float64
	MaxTokens    int
	ForceAPI     llm.APIType
	JSONMode     bool
	OutputSchema string

	schemaOnce sync.Once
	schema     *utils.Schema
	schemaErr  error
}

func (s *Snippet) outputSchema() (*utils.Schema, error) {
	s.schemaOnce.Do(func() {
		if strings.TrimSpace(s.OutputSchema) != "" {
			s.schema, s.schemaErr = utils.CompileSchema(s.Name, s.OutputSchema)
		}
	})
	return s.schema, s.schemaErr
}
