package assets

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kraina-desktop/assistant"
	"kraina-desktop/llm"
	"kraina-desktop/tools"
)

func writeAsset(t *testing.T, dir, name, prompt, config string) string {
	t.Helper()
	folder := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(folder, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(folder, promptFile), []byte(prompt), 0644))
	if config != "" {
		require.NoError(t, os.WriteFile(filepath.Join(folder, configFile), []byte(config), 0644))
	}
	return folder
}

func newLoader() *Loader {
	return &Loader{Tools: tools.NewRegistry(tools.CurrentDateTime{}), OSInfo: "linux/amd64"}
}

func TestLoadAssistantDefaults(t *testing.T) {
	dir := t.TempDir()
	writeAsset(t, dir, "chat", "You are helpful.", "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not an asset"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0755))

	got, err := newLoader().LoadAssistants([]string{dir, filepath.Join(dir, "missing")})
	require.NoError(t, err)
	require.Len(t, got, 1)

	a := got["chat"]
	assert.Equal(t, "You are helpful.", a.Prompt, "no config.yaml means no context block")
	assert.Equal(t, assistant.DefaultModel, a.Model)
	assert.Equal(t, assistant.DefaultTemperature, a.Temperature)
	assert.Equal(t, assistant.DefaultMaxTokens, a.MaxTokens)
	assert.Equal(t, assistant.TypeSimple, a.Type)
}

func TestLoadAssistantConfig(t *testing.T) {
	dir := t.TempDir()
	folder := writeAsset(t, dir, "coder", "Write code.", `
description: Writes code
model: A
temperature: 0
max_tokens: 2048
force_api: anthropic
name_conversations: true
tools: [Current_DateTime]
contexts:
  string: "use {braces}"
  string_template: "user is {user}"
  file: [notes.txt, gone.txt]
`)
	require.NoError(t, os.WriteFile(filepath.Join(folder, "notes.txt"), []byte("map[k]{v}"), 0644))

	got, err := newLoader().LoadAssistants([]string{dir})
	require.NoError(t, err)
	a := got["coder"]

	assert.Equal(t, "Writes code", a.Description)
	assert.Equal(t, "A", a.Model)
	assert.Equal(t, 0.0, a.Temperature)
	assert.Equal(t, 2048, a.MaxTokens)
	assert.Equal(t, llm.APIAnthropic, a.ForceAPI)
	assert.True(t, a.NameConversations)
	assert.Equal(t, assistant.TypeWithTools, a.Type)
	assert.Equal(t, []string{"current_datetime"}, a.Tools)

	want := "Write code." + contextHeader +
		"\n## 0\nmap[k]{{v}}" +
		"\n## 1\nuse {{braces}}" +
		"\n## 2\nuser is {user}" +
		"\n## 3\nCurrent date: {date}"
	assert.Equal(t, want, a.Prompt)

	rendered := assistant.RenderPrompt(a.Prompt, map[string]string{"user": "Ann", "date": "2024-03-01"})
	assert.Contains(t, rendered, "use {braces}")
	assert.Contains(t, rendered, "user is Ann")
	assert.Contains(t, rendered, "Current date: 2024-03-01")
}

func TestLoadAssistantErrors(t *testing.T) {
	cases := map[string]string{
		"unknown tool": "tools: [web_search]",
		"bad type":     "type: clever",
		"bad api":      "force_api: mainframe",
		"bad yaml":     "contexts: {string: {nested: map}}",
	}
	for name, config := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeAsset(t, dir, "broken", "p", config)
			_, err := newLoader().LoadAssistants([]string{dir})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "[broken]")
		})
	}

	dir := t.TempDir()
	writeAsset(t, dir, "broken", "p", "tools: [web_search]")
	_, err := newLoader().LoadAssistants([]string{dir})
	var unknown *tools.UnknownToolError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, []string{"current_datetime"}, unknown.Supported)
}

func TestLoadSnippets(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeAsset(t, first, "fix", "Fix the text.", "")
	writeAsset(t, first, "translate", "Translate.", "model: gpt-4o\njson_mode: true\n")
	writeAsset(t, second, "fix", "Fix it better.", "temperature: 0.1\n")

	got, err := newLoader().LoadSnippets([]string{first, second})
	require.NoError(t, err)
	require.Len(t, got, 2)

	fix := got["fix"]
	assert.Equal(t, 0.1, fix.Temperature, "later directories override")
	assert.Equal(t, assistant.DefaultSnippetMaxTokens, fix.MaxTokens)
	assert.Equal(t, "Fix it better."+contextHeader+"\n## 0\nCurrent date: {date}\n## 1\nCurrent OS info: linux/amd64", fix.Prompt)

	tr := got["translate"]
	assert.Equal(t, "gpt-4o", tr.Model)
	assert.True(t, tr.JSONMode)
	assert.Equal(t, assistant.DefaultSnippetTemperature, tr.Temperature)
}

func TestRegistryReloadKeepsOldSetOnError(t *testing.T) {
	dir := t.TempDir()
	writeAsset(t, dir, "chat", "v1", "")

	r, err := NewRegistry(newLoader(), []string{dir}, []string{dir}, nil)
	require.NoError(t, err)
	old, ok := r.Assistant("chat")
	require.True(t, ok)
	assert.Equal(t, []string{"chat"}, r.AssistantNames())
	assert.Equal(t, []string{"chat"}, r.SnippetNames())

	var notified int
	r.OnReload(func(*Set) { notified++ })

	writeAsset(t, dir, "chat", "v2", "")
	require.NoError(t, r.Reload())
	fresh, _ := r.Assistant("chat")
	assert.Equal(t, "v2", fresh.Prompt)
	assert.Equal(t, "v1", old.Prompt, "instances handed out earlier are untouched")
	assert.Equal(t, 1, notified)

	writeAsset(t, dir, "other", "p", "tools: [nope]")
	assert.Error(t, r.Reload())
	_, ok = r.Assistant("other")
	assert.False(t, ok)
	still, _ := r.Assistant("chat")
	assert.Same(t, fresh, still)
	assert.Equal(t, 1, notified)
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeAsset(t, dir, "chat", "v1", "")
	r, err := NewRegistry(newLoader(), []string{dir}, nil, nil)
	require.NoError(t, err)

	reloaded := make(chan *Set, 4)
	r.OnReload(func(s *Set) { reloaded <- s })

	w, err := NewWatcher(r, 50*time.Millisecond)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeAsset(t, dir, "review", "Review code.", "")

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}
	assert.Eventually(t, func() bool {
		_, ok := r.Assistant("review")
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
