// Package assets loads assistant and snippet definitions from folders of
// prompt.md and config.yaml files and keeps them fresh while the app runs.
package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"kraina-desktop/assistant"
	"kraina-desktop/llm"
	"kraina-desktop/utils"
)

const (
	promptFile = "prompt.md"
	configFile = "config.yaml"

	contextHeader = "\nTake into consideration the context below while generating answers.\n# Context:"
)

// ToolValidator checks tool names; *tools.Registry implements it
type ToolValidator interface {
	Validate(names []string) error
}

// contextList is a contexts entry, written in config.yaml either as one
// string or as a list of strings
type contextList []string

func (c *contextList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*c = contextList{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*c = list
		return nil
	}
	return fmt.Errorf("line %d: context must be a string or a list of strings", node.Line)
}

// fileConfig mirrors config.yaml
type fileConfig struct {
	Description       string                 `yaml:"description"`
	Model             string                 `yaml:"model"`
	Temperature       *float64               `yaml:"temperature"`
	MaxTokens         int                    `yaml:"max_tokens"`
	Type              string                 `yaml:"type"`
	Tools             []string               `yaml:"tools"`
	ForceAPI          string                 `yaml:"force_api"`
	JSONMode          bool                   `yaml:"json_mode"`
	OutputSchema      string                 `yaml:"output_schema"`
	Contexts          map[string]contextList `yaml:"contexts"`
	NameConversations bool                   `yaml:"name_conversations"`
}

// folder is one parsed asset folder
type folder struct {
	name   string
	dir    string
	prompt string
	cfg    *fileConfig // nil without config.yaml
}

// Loader reads asset folders
type Loader struct {
	Tools  ToolValidator
	Logger *utils.Logger
	// OSInfo is appended to snippet contexts; empty means runtime.GOOS/GOARCH
	OSInfo string
}

// LoadAssistants reads every assistant folder under dirs. Later directories
// override earlier ones with the same folder name.
func (l *Loader) LoadAssistants(dirs []string) (map[string]*assistant.Assistant, error) {
	out := make(map[string]*assistant.Assistant)
	err := l.walk(dirs, func(f *folder) error {
		a, err := l.assistant(f)
		if err != nil {
			return fmt.Errorf("[%s] %w", f.name, err)
		}
		if _, exists := out[f.name]; exists {
			l.logger().Warn("Assistant %q defined again in %s, overriding", f.name, f.dir)
		}
		out[f.name] = a
		return nil
	})
	return out, err
}

// LoadSnippets reads every snippet folder under dirs
func (l *Loader) LoadSnippets(dirs []string) (map[string]*assistant.Snippet, error) {
	out := make(map[string]*assistant.Snippet)
	err := l.walk(dirs, func(f *folder) error {
		s, err := l.snippet(f)
		if err != nil {
			return fmt.Errorf("[%s] %w", f.name, err)
		}
		if _, exists := out[f.name]; exists {
			l.logger().Warn("Snippet %q defined again in %s, overriding", f.name, f.dir)
		}
		out[f.name] = s
		return nil
	})
	return out, err
}

func (l *Loader) logger() *utils.Logger {
	if l.Logger == nil {
		l.Logger = utils.NopLogger()
	}
	return l.Logger
}

// walk visits the asset folders of dirs in sorted order. Missing dirs are
// skipped, entries without prompt.md are ignored.
func (l *Loader) walk(dirs []string, visit func(*folder) error) error {
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				l.logger().Debug("Asset directory %s does not exist", dir)
				continue
			}
			return fmt.Errorf("failed to read asset directory: %w", err)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			f, err := readFolder(filepath.Join(dir, entry.Name()))
			if err != nil {
				return err
			}
			if f == nil {
				l.logger().Debug("Not an asset folder: %s", entry.Name())
				continue
			}
			if err := visit(f); err != nil {
				return err
			}
		}
	}
	return nil
}

func readFolder(dir string) (*folder, error) {
	prompt, err := os.ReadFile(filepath.Join(dir, promptFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read prompt: %w", err)
	}
	f := &folder{name: filepath.Base(dir), dir: dir, prompt: string(prompt)}

	data, err := os.ReadFile(filepath.Join(dir, configFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", configFile, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("[%s] failed to parse %s: %w", f.name, configFile, err)
	}
	f.cfg = &cfg
	return f, nil
}

func (l *Loader) assistant(f *folder) (*assistant.Assistant, error) {
	a := &assistant.Assistant{
		Name:        f.name,
		Prompt:      f.prompt,
		Model:       assistant.DefaultModel,
		Temperature: assistant.DefaultTemperature,
		MaxTokens:   assistant.DefaultMaxTokens,
		Type:        assistant.TypeSimple,
	}
	cfg := f.cfg
	if cfg == nil {
		l.logger().Debug("%s does not use %s, defaults will be used", f.name, configFile)
		return a, nil
	}

	typ, err := assistant.ParseType(cfg.Type)
	if err != nil {
		return nil, err
	}
	api, err := llm.ParseAPIType(cfg.ForceAPI)
	if err != nil {
		return nil, err
	}
	a.Type = typ
	a.ForceAPI = api
	a.Description = cfg.Description
	a.JSONMode = cfg.JSONMode
	a.OutputSchema = cfg.OutputSchema
	a.NameConversations = cfg.NameConversations
	applyLLMSettings(cfg, &a.Model, &a.Temperature, &a.MaxTokens)

	if len(cfg.Tools) > 0 {
		names := make([]string, len(cfg.Tools))
		for i, name := range cfg.Tools {
			names[i] = strings.ToLower(strings.TrimSpace(name))
		}
		if l.Tools == nil {
			return nil, fmt.Errorf("tools %v configured but no tools are available", names)
		}
		if err := l.Tools.Validate(names); err != nil {
			return nil, err
		}
		a.Tools = names
		a.Type = assistant.TypeWithTools
	}

	contexts := l.contexts(f)
	a.Prompt = appendContexts(a.Prompt, contexts)
	return a, nil
}

func (l *Loader) snippet(f *folder) (*assistant.Snippet, error) {
	s := &assistant.Snippet{
		Name:        f.name,
		Prompt:      f.prompt,
		Model:       assistant.DefaultModel,
		Temperature: assistant.DefaultSnippetTemperature,
		MaxTokens:   assistant.DefaultSnippetMaxTokens,
	}
	cfg := f.cfg
	if cfg == nil {
		return s, nil
	}

	api, err := llm.ParseAPIType(cfg.ForceAPI)
	if err != nil {
		return nil, err
	}
	if len(cfg.Tools) > 0 {
		l.logger().Warn("Snippet %s: tools are ignored for snippets", f.name)
	}
	s.ForceAPI = api
	s.Description = cfg.Description
	s.JSONMode = cfg.JSONMode
	s.OutputSchema = cfg.OutputSchema
	applyLLMSettings(cfg, &s.Model, &s.Temperature, &s.MaxTokens)

	contexts := l.contexts(f)
	contexts = append(contexts, "Current OS info: "+escapeBraces(l.osInfo()))
	s.Prompt = appendContexts(s.Prompt, contexts)
	return s, nil
}

func applyLLMSettings(cfg *fileConfig, model *string, temp *float64, maxTokens *int) {
	if cfg.Model != "" {
		*model = cfg.Model
	}
	if cfg.Temperature != nil {
		*temp = *cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		*maxTokens = cfg.MaxTokens
	}
}

// contexts resolves the contexts map of config.yaml. Keys containing
// "string" hold literal text, keys containing "file" hold paths relative to
// the asset folder. Values are escaped unless the key contains "_template",
// in which case their {placeholders} are filled at run time.
func (l *Loader) contexts(f *folder) []string {
	keys := make([]string, 0, len(f.cfg.Contexts))
	for k := range f.cfg.Contexts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, key := range keys {
		name := strings.ToLower(key)
		template := strings.Contains(name, "_template")
		for _, value := range f.cfg.Contexts[key] {
			switch {
			case strings.Contains(name, "string"):
				out = append(out, maybeEscape(value, template))
			case strings.Contains(name, "file"):
				path := value
				if !filepath.IsAbs(path) {
					path = filepath.Join(f.dir, path)
				}
				data, err := os.ReadFile(path)
				if err != nil {
					l.logger().Error("[%s] context file %s cannot be read: %v", f.name, path, err)
					continue
				}
				out = append(out, maybeEscape(string(data), template))
			default:
				l.logger().Warn("[%s] unknown context kind %q", f.name, key)
			}
		}
	}
	return append(out, "Current date: {date}")
}

func (l *Loader) osInfo() string {
	if l.OSInfo != "" {
		return l.OSInfo
	}
	return runtime.GOOS + "/" + runtime.GOARCH
}

func appendContexts(prompt string, contexts []string) string {
	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString(contextHeader)
	for i, c := range contexts {
		fmt.Fprintf(&sb, "\n## %d\n%s", i, c)
	}
	return sb.String()
}

func maybeEscape(s string, template bool) string {
	if template {
		return s
	}
	return escapeBraces(s)
}

func escapeBraces(s string) string {
	return strings.NewReplacer("{", "{{", "}", "}}").Replace(s)
}
