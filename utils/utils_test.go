package utils

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kraina-desktop/db"
)

func TestLoadConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"llm_providers": {"openai": {"api_key": "sk-file", "enabled": true}},
		"assets": {"assistant_dirs": ["./assistants"]}
	}`), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8998", cfg.IPC.Address)
	assert.Equal(t, 30, cfg.IPC.TimeoutSeconds)
	// file wins over env
	assert.Equal(t, "sk-file", cfg.LLMProviders["openai"].APIKey)
	require.Contains(t, cfg.LLMProviders, "anthropic")
	assert.Equal(t, "sk-ant-test", cfg.LLMProviders["anthropic"].APIKey)
	assert.True(t, cfg.LLMProviders["anthropic"].Enabled)
	assert.True(t, filepath.IsAbs(cfg.Assets.AssistantDirs[0]))
}

func TestSaveAndLoadDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	require.NoError(t, SaveConfig(path, DefaultConfig()))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.LLM.MapModel["openai"]["A"])
	assert.True(t, cfg.Assets.Watch)
}

func TestExportImportRoundTrip(t *testing.T) {
	database, err := db.New(filepath.Join(t.TempDir(), "kraina.db"))
	require.NoError(t, err)
	defer database.Close()

	id, err := database.NewConversation("chat")
	require.NoError(t, err)
	name := "Channels"
	require.NoError(t, database.UpdateConversation(id, db.ConversationUpdate{Name: &name}))
	require.NoError(t, database.AddMessages([]db.NewMessage{
		{Type: db.MessageHuman, Text: "what is a channel"},
		{Type: db.MessageTool, Text: "Invoking Tool: 'x' with input '{}'"},
		{Type: db.MessageAI, Text: "a typed conduit"},
	}, id))

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "conv.json")
	require.NoError(t, ExportConversationToJSON(database, id, jsonPath))

	newID, err := ImportConversation(database, jsonPath)
	require.NoError(t, err)
	assert.NotEqual(t, id, newID)

	imported, err := database.GetConversation(newID)
	require.NoError(t, err)
	assert.Equal(t, "Channels", imported.Name)
	assert.Equal(t, "chat", imported.Assistant)
	require.Len(t, imported.Messages, 3)
	assert.Equal(t, db.MessageTool, imported.Messages[1].Type)
	assert.Equal(t, "a typed conduit", imported.Messages[2].Text)

	mdPath := filepath.Join(dir, "conv.md")
	require.NoError(t, ExportConversationToMarkdown(database, id, mdPath))
	md, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Channels")
	assert.Contains(t, string(md), "> Invoking Tool: 'x'")

	allPath := filepath.Join(dir, "all.json")
	require.NoError(t, ExportAllConversations(database, allPath))
	n, err := ImportAllConversations(database, allPath)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestGenerateExportFilename(t *testing.T) {
	name := GenerateExportFilename(`a/b:c`, FormatMarkdown)
	assert.True(t, strings.HasPrefix(name, "a_b_c_"))
	assert.True(t, strings.HasSuffix(name, ".md"))
}

func TestSafeGoWithErrorReportsPanic(t *testing.T) {
	got := make(chan error, 1)
	SafeGoWithError(NopLogger(), "test", func() error {
		panic("boom")
	}, func(err error) { got <- err })

	select {
	case err := <-got:
		var perr *PanicError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, "boom", perr.Value)
		assert.NotEmpty(t, perr.Stack)
	case <-time.After(time.Second):
		t.Fatal("panic was not reported")
	}
}

func TestReadFileForPrompt(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "shot.png")
	require.NoError(t, os.WriteFile(img, []byte{0x89, 'P', 'N', 'G'}, 0644))
	txt := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hello"), 0644))

	out, err := ReadFileForPrompt(img)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "![img-shot](data:image/png;base64,"))

	out, err = ReadFileForPrompt(txt)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	_, err = ReadFileForPrompt(dir)
	assert.Error(t, err)
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "abc", Shorten("abc", 5))
	assert.Equal(t, "ab...", Shorten("abcdef", 2))
}
