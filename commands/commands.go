// Package commands binds the IPC command whitelist to the running app
package commands

import (
	"context"
	"fmt"
	"strings"

	"kraina-desktop/assistant"
	"kraina-desktop/db"
	"kraina-desktop/ipc"
	"kraina-desktop/utils"
)

// Window is the part of the UI the commands drive. Every method is called
// on the UI thread.
type Window interface {
	Show()
	Hide()
	ReloadChatList()
	SelectChat(convID int64)
	// ChatDeleted lets the window drop a chat that is currently open
	ChatDeleted(convID int64)
}

// Snippets lists and runs snippets; *assets.Registry and *assistant.Engine
// provide the two halves
type Snippets interface {
	SnippetNames() []string
}

// SnippetRunner runs a snippet by name
type SnippetRunner interface {
	RunSnippet(ctx context.Context, name, text string) (string, error)
}

// Store is the persistence the chat commands need
type Store interface {
	IsValid(id int64) (bool, error)
	DeleteConversation(id int64) error
}

// Deps groups everything the handlers use
type Deps struct {
	Window   Window
	Snippets Snippets
	Runner   SnippetRunner
	Store    Store
	Logger   *utils.Logger
	// Context bounds background snippet runs; process lifetime in the app
	Context context.Context
}

// Register installs a handler for every whitelisted command
func Register(d *ipc.Dispatcher, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = utils.NopLogger()
	}
	if deps.Context == nil {
		deps.Context = context.Background()
	}
	h := &handlers{Deps: deps}

	d.Handle(ipc.ShowApp, h.showApp)
	d.Handle(ipc.HideApp, h.hideApp)
	d.Handle(ipc.GetListOfSnippets, h.listSnippets)
	d.Handle(ipc.RunSnippet, h.runSnippet)
	d.Handle(ipc.RunSnippetWithFile, h.runSnippetWithFile)
	d.Handle(ipc.ReloadChatList, h.reloadChatList)
	d.Handle(ipc.SelectChat, h.selectChat)
	d.Handle(ipc.DelChat, h.deleteChat)
}

type handlers struct {
	Deps
}

func (h *handlers) showApp(req *ipc.Request) {
	h.Window.Show()
	req.Reply("", nil)
}

func (h *handlers) hideApp(req *ipc.Request) {
	h.Window.Hide()
	req.Reply("", nil)
}

func (h *handlers) listSnippets(req *ipc.Request) {
	req.Reply(strings.Join(h.Snippets.SnippetNames(), ","), nil)
}

func (h *handlers) reloadChatList(req *ipc.Request) {
	h.Window.ReloadChatList()
	req.Reply("", nil)
}

// runSnippet replies with the snippet output or a FAIL line. The snippet
// runs off the UI thread.
func (h *handlers) runSnippet(req *ipc.Request) {
	name, text, err := twoParams(req.Params)
	if err != nil {
		req.Reply(assistant.FormatFailure(err), nil)
		return
	}
	h.background(req, name, func() (string, error) { return text, nil })
}

func (h *handlers) runSnippetWithFile(req *ipc.Request) {
	name, path, err := twoParams(req.Params)
	if err != nil {
		req.Reply(assistant.FormatFailure(err), nil)
		return
	}
	h.background(req, name, func() (string, error) { return utils.ReadFileContent(path) })
}

func (h *handlers) background(req *ipc.Request, name string, input func() (string, error)) {
	utils.SafeGoWithError(h.Logger, "ipc snippet "+name, func() error {
		text, err := input()
		if err == nil {
			text, err = h.Runner.RunSnippet(h.Context, name, text)
		}
		if err != nil {
			req.Reply(assistant.FormatFailure(err), nil)
			return err
		}
		req.Reply(text, nil)
		return nil
	}, func(err error) {
		// only reached first for panics; Reply ignores repeats
		req.Reply(assistant.FormatFailure(err), nil)
	})
}

func (h *handlers) selectChat(req *ipc.Request) {
	id, err := h.validChat(req.Params)
	if err != nil {
		req.Reply("", err)
		return
	}
	h.Window.SelectChat(id)
	req.Reply("", nil)
}

func (h *handlers) deleteChat(req *ipc.Request) {
	id, err := h.validChat(req.Params)
	if err != nil {
		req.Reply("", err)
		return
	}
	if err := h.Store.DeleteConversation(id); err != nil {
		req.Reply("", err)
		return
	}
	h.Logger.Info("Conversation %d deleted over IPC", id)
	h.Window.ChatDeleted(id)
	h.Window.ReloadChatList()
	req.Reply("", nil)
}

func (h *handlers) validChat(params ipc.Params) (int64, error) {
	id, err := params.Int64(0)
	if err != nil {
		return 0, err
	}
	ok, err := h.Store.IsValid(id)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("conversation_id=%d: %w", id, db.ErrConversationNotFound)
	}
	return id, nil
}

func twoParams(p ipc.Params) (string, string, error) {
	a, err := p.String(0)
	if err != nil {
		return "", "", err
	}
	b, err := p.String(1)
	if err != nil {
		return "", "", err
	}
	return a, b, nil
}
