package assets

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"kraina-desktop/assistant"
	"kraina-desktop/utils"
)

// Set is an immutable snapshot of the loaded assets
type Set struct {
	Assistants map[string]*assistant.Assistant
	Snippets   map[string]*assistant.Snippet
}

// Registry serves the current Set. Reload builds a new Set and swaps it in
// whole, so running turns keep the assistant they started with.
type Registry struct {
	loader        *Loader
	assistantDirs []string
	snippetDirs   []string
	logger        *utils.Logger

	current atomic.Pointer[Set]

	mu        sync.Mutex
	listeners []func(*Set)
}

// NewRegistry creates a registry and loads the assets once
func NewRegistry(loader *Loader, assistantDirs, snippetDirs []string, logger *utils.Logger) (*Registry, error) {
	if logger == nil {
		logger = utils.NopLogger()
	}
	if loader.Logger == nil {
		loader.Logger = logger
	}
	r := &Registry{
		loader:        loader,
		assistantDirs: assistantDirs,
		snippetDirs:   snippetDirs,
		logger:        logger,
	}
	r.current.Store(&Set{
		Assistants: map[string]*assistant.Assistant{},
		Snippets:   map[string]*assistant.Snippet{},
	})
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rereads every asset folder. On error the previous set stays active.
func (r *Registry) Reload() error {
	assistants, err := r.loader.LoadAssistants(r.assistantDirs)
	if err != nil {
		return fmt.Errorf("failed to load assistants: %w", err)
	}
	snippets, err := r.loader.LoadSnippets(r.snippetDirs)
	if err != nil {
		return fmt.Errorf("failed to load snippets: %w", err)
	}
	set := &Set{Assistants: assistants, Snippets: snippets}
	r.current.Store(set)
	r.logger.Info("Loaded %d assistants and %d snippets", len(assistants), len(snippets))

	r.mu.Lock()
	listeners := append([]func(*Set){}, r.listeners...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(set)
	}
	return nil
}

// OnReload registers fn to be called with every new set
func (r *Registry) OnReload(fn func(*Set)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Current returns the active set
func (r *Registry) Current() *Set {
	return r.current.Load()
}

func (r *Registry) Assistant(name string) (*assistant.Assistant, bool) {
	a, ok := r.Current().Assistants[name]
	return a, ok
}

func (r *Registry) Snippet(name string) (*assistant.Snippet, bool) {
	s, ok := r.Current().Snippets[name]
	return s, ok
}

// AssistantNames returns the sorted assistant names
func (r *Registry) AssistantNames() []string {
	return sortedKeys(r.Current().Assistants)
}

// SnippetNames returns the sorted snippet names
func (r *Registry) SnippetNames() []string {
	return sortedKeys(r.Current().Snippets)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
