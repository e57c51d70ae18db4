// Package tools holds the tools an assistant may bind and the registry the
// agent loop executes them through.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"kraina-desktop/llm"
	"kraina-desktop/utils"
)

// Tool is a function the model may call
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON Schema of the arguments object
	Parameters() json.RawMessage
	Run(ctx context.Context, args json.RawMessage) (string, error)
}

// UnknownToolError is returned for tool names the registry does not hold
type UnknownToolError struct {
	Name      string
	Supported []string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool '%s', supported tools: %s", e.Name, strings.Join(e.Supported, ", "))
}

// Registry maps lower-case tool names to tools
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*utils.Schema
}

// NewRegistry returns a registry holding tools
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool), schemas: make(map[string]*utils.Schema)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := strings.ToLower(t.Name())
	r.tools[name] = t
	delete(r.schemas, name)
}

// Names returns the sorted tool names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get looks a tool up by name, case-insensitively
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	t, ok := r.tools[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownToolError{Name: name, Supported: r.Names()}
	}
	return t, nil
}

// Validate checks that every name is registered
func (r *Registry) Validate(names []string) error {
	for _, name := range names {
		if _, err := r.Get(name); err != nil {
			return err
		}
	}
	return nil
}

// Specs returns the model-facing description of the named tools, in order
func (r *Registry) Specs(names []string) ([]llm.ToolSpec, error) {
	specs := make([]llm.ToolSpec, 0, len(names))
	for _, name := range names {
		t, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		specs = append(specs, llm.ToolSpec{
			Name:        strings.ToLower(t.Name()),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return specs, nil
}

// Run executes call after validating its arguments against the tool schema
func (r *Registry) Run(ctx context.Context, call llm.ToolCall) (string, error) {
	t, err := r.Get(call.Name)
	if err != nil {
		return "", err
	}

	args := json.RawMessage(call.Arguments)
	if strings.TrimSpace(call.Arguments) == "" {
		args = json.RawMessage("{}")
	}
	schema, err := r.schema(t)
	if err != nil {
		return "", err
	}
	if schema != nil {
		if _, err := schema.Validate(args); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", t.Name(), err)
		}
	}
	return t.Run(ctx, args)
}

func (r *Registry) schema(t Tool) (*utils.Schema, error) {
	name := strings.ToLower(t.Name())
	r.mu.RLock()
	s, ok := r.schemas[name]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}
	if len(t.Parameters()) == 0 {
		return nil, nil
	}
	s, err := utils.CompileSchema(name, string(t.Parameters()))
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.schemas[name] = s
	r.mu.Unlock()
	return s, nil
}
