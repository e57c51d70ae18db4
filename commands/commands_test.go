package commands

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kraina-desktop/assistant"
	"kraina-desktop/db"
	"kraina-desktop/ipc"
)

type fakeWindow struct {
	mu     sync.Mutex
	events []string
}

func (w *fakeWindow) add(e string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, e)
}

func (w *fakeWindow) Show()           { w.add("show") }
func (w *fakeWindow) Hide()           { w.add("hide") }
func (w *fakeWindow) ReloadChatList() { w.add("reload") }

func (w *fakeWindow) SelectChat(id int64)  { w.add("select " + itoa(id)) }
func (w *fakeWindow) ChatDeleted(id int64) { w.add("deleted " + itoa(id)) }

func (w *fakeWindow) list() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string{}, w.events...)
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

type names []string

func (n names) SnippetNames() []string { return n }

type upper struct{}

func (upper) RunSnippet(_ context.Context, name, text string) (string, error) {
	if name != "shout" {
		return "", assistant.ErrUnknownSnippet
	}
	return strings.ToUpper(text), nil
}

type fixture struct {
	window *fakeWindow
	store  *db.DB
	d      *ipc.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	store, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{window: &fakeWindow{}, store: store, d: ipc.NewDispatcher(4, nil)}
	Register(f.d, Deps{Window: f.window, Snippets: names{"fix", "shout"}, Runner: upper{}, Store: store})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = f.d.Serve(ctx, func(fn func()) { fn() }) }()
	return f
}

func (f *fixture) call(t *testing.T, cmd ipc.Command, args ...any) ipc.Result {
	t.Helper()
	results, err := f.d.Post(context.Background(), cmd, ipc.NewParams(args...))
	require.NoError(t, err)
	select {
	case res := <-results:
		return res
	case <-time.After(5 * time.Second):
		t.Fatalf("%s did not reply", cmd)
	}
	return ipc.Result{}
}

func TestEveryCommandHasAHandler(t *testing.T) {
	f := newFixture(t)
	for _, cmd := range ipc.Commands {
		res := f.call(t, cmd)
		if res.Err != nil {
			assert.NotContains(t, res.Err.Error(), "no handler", cmd)
		}
	}
}

func TestWindowCommands(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.call(t, ipc.ShowApp).Err)
	require.NoError(t, f.call(t, ipc.HideApp).Err)
	require.NoError(t, f.call(t, ipc.ReloadChatList).Err)
	assert.Equal(t, []string{"show", "hide", "reload"}, f.window.list())

	res := f.call(t, ipc.GetListOfSnippets)
	assert.Equal(t, "fix,shout", res.Value)
}

func TestRunSnippetCommands(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "HELLO", f.call(t, ipc.RunSnippet, "shout", "hello").Value)
	assert.Equal(t, "FAIL: UnknownSnippet: unknown snippet", f.call(t, ipc.RunSnippet, "whisper", "hello").Value)
	assert.True(t, strings.HasPrefix(f.call(t, ipc.RunSnippet, "shout").Value, "FAIL: Error: missing parameter"))

	path := filepath.Join(t.TempDir(), "in.txt")
	require.NoError(t, os.WriteFile(path, []byte("from file"), 0644))
	assert.Equal(t, "FROM FILE", f.call(t, ipc.RunSnippetWithFile, "shout", path).Value)
	assert.True(t, strings.HasPrefix(f.call(t, ipc.RunSnippetWithFile, "shout", path+".missing").Value, "FAIL: "))
}

func TestChatCommands(t *testing.T) {
	f := newFixture(t)
	id, err := f.store.NewConversation("chat")
	require.NoError(t, err)

	require.NoError(t, f.call(t, ipc.SelectChat, id).Err)
	res := f.call(t, ipc.SelectChat, id+5)
	assert.True(t, errors.Is(res.Err, db.ErrConversationNotFound))

	require.NoError(t, f.call(t, ipc.DelChat, id).Err)
	ok, err := f.store.IsValid(id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, errors.Is(f.call(t, ipc.DelChat, id).Err, db.ErrConversationNotFound))
	assert.Error(t, f.call(t, ipc.DelChat, "abc").Err)

	assert.Equal(t, []string{"select " + itoa(id), "deleted " + itoa(id), "reload"}, f.window.list())
}
