// Package ui is the fyne desktop shell. Worker goroutines never touch
// widgets; everything they produce reaches the UI through fyne.Do.
package ui

import (
	"context"
	"fmt"
	"path/filepath"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"

	"kraina-desktop/assets"
	"kraina-desktop/assistant"
	"kraina-desktop/db"
	"kraina-desktop/utils"
)

// Deps is what the shell needs from the rest of the app
type Deps struct {
	Config     *utils.Config
	ConfigPath string
	DB         *db.DB
	Assets     *assets.Registry
	Engine     *assistant.Engine
	Runner     *assistant.TurnRunner
	Logger     *utils.Logger
}

// App represents the main application window
type App struct {
	fyneApp fyne.App
	window  fyne.Window
	deps    Deps
	logger  *utils.Logger
	ctx     context.Context

	sidebar *Sidebar
	chat    *ChatView
}

// NewApp creates the window; ctx bounds the turns started from it
func NewApp(ctx context.Context, deps Deps) *App {
	fyneApp := app.NewWithID("kraina-desktop")
	window := fyneApp.NewWindow("krAIna")
	window.Resize(fyne.NewSize(float32(deps.Config.UI.WindowWidth), float32(deps.Config.UI.WindowHeight)))

	a := &App{
		fyneApp: fyneApp,
		window:  window,
		deps:    deps,
		logger:  deps.Logger,
		ctx:     ctx,
	}

	window.SetOnClosed(func() {
		size := window.Canvas().Size()
		a.deps.Config.UI.WindowWidth = int(size.Width)
		a.deps.Config.UI.WindowHeight = int(size.Height)
		if err := utils.SaveConfig(a.deps.ConfigPath, a.deps.Config); err != nil {
			a.logger.Error("Failed to save window size: %v", err)
		}
	})

	a.buildUI()
	a.SetupSystemTray()
	if deps.Config.UI.MinimizeToTray {
		a.EnableMinimizeToTray()
	}

	deps.Assets.OnReload(func(*assets.Set) {
		fyne.Do(a.chat.RefreshAssistants)
	})
	return a
}

func (a *App) buildUI() {
	a.chat = NewChatView(a)
	a.sidebar = NewSidebar(a)

	split := container.NewHSplit(a.sidebar.Build(), a.chat.Build())
	split.Offset = 0.25
	a.window.SetContent(split)
	a.window.SetMainMenu(fyne.NewMainMenu(
		fyne.NewMenu("Chat",
			fyne.NewMenuItem("New chat", a.chat.NewChat),
			fyne.NewMenuItem("Search", a.showSearch),
			fyne.NewMenuItem("Usage statistics", a.showUsageStats),
		),
		fyne.NewMenu("Data",
			fyne.NewMenuItem("Export all", a.exportAll),
			fyne.NewMenuItem("Import", a.importConversations),
			fyne.NewMenuItem("Reload assets", a.reloadAssets),
		),
	))
	a.sidebar.Reload()
}

// Run shows the window and blocks until the app quits. Turn results are
// drained on a goroutine and applied on the UI thread.
func (a *App) Run() {
	utils.SafeGo(a.logger, "turn results", func() {
		for {
			select {
			case <-a.ctx.Done():
				fyne.Do(a.fyneApp.Quit)
				return
			case res := <-a.deps.Runner.Results():
				fyne.Do(func() { a.chat.TurnFinished(res) })
			}
		}
	})
	a.window.ShowAndRun()
}

// Show raises the window
func (a *App) Show() {
	a.window.Show()
	a.window.RequestFocus()
	a.chat.FocusInput()
}

// Hide minimises the window to the tray
func (a *App) Hide() {
	a.window.Hide()
}

// ReloadChatList rereads the conversation list
func (a *App) ReloadChatList() {
	a.sidebar.Reload()
}

// SelectChat opens a conversation
func (a *App) SelectChat(convID int64) {
	a.chat.Open(convID)
	a.sidebar.Highlight(convID)
}

// ChatDeleted closes convID if it is open
func (a *App) ChatDeleted(convID int64) {
	if a.chat.ConversationID() == convID {
		a.chat.NewChat()
	}
}

func (a *App) reloadAssets() {
	utils.SafeGoWithError(a.logger, "reload assets", a.deps.Assets.Reload, func(err error) {
		fyne.Do(func() { dialog.ShowError(err, a.window) })
	})
}

func (a *App) exportAll() {
	dir, err := utils.GetDefaultExportPath()
	if err != nil {
		dialog.ShowError(err, a.window)
		return
	}
	path := filepath.Join(dir, utils.GenerateExportFilename("all_conversations", utils.FormatJSON))
	if err := utils.ExportAllConversations(a.deps.DB, path); err != nil {
		dialog.ShowError(err, a.window)
		return
	}
	dialog.ShowInformation("Export", "Exported to "+path, a.window)
}

func (a *App) importConversations() {
	dialog.ShowFileOpen(func(rc fyne.URIReadCloser, err error) {
		if err != nil || rc == nil {
			return
		}
		path := rc.URI().Path()
		rc.Close()
		n, err := utils.ImportAllConversations(a.deps.DB, path)
		if err != nil {
			dialog.ShowError(err, a.window)
			return
		}
		a.sidebar.Reload()
		dialog.ShowInformation("Import", fmt.Sprintf("Imported %d conversations", n), a.window)
	}, a.window)
}

func (a *App) exportConversation(convID int64, format utils.ExportFormat) {
	conv, err := a.deps.DB.GetConversation(convID)
	if err != nil {
		dialog.ShowError(err, a.window)
		return
	}
	dir, err := utils.GetDefaultExportPath()
	if err != nil {
		dialog.ShowError(err, a.window)
		return
	}
	path := filepath.Join(dir, utils.GenerateExportFilename(conv.Name, format))
	if format == utils.FormatMarkdown {
		err = utils.ExportConversationToMarkdown(a.deps.DB, convID, path)
	} else {
		err = utils.ExportConversationToJSON(a.deps.DB, convID, path)
	}
	if err != nil {
		dialog.ShowError(err, a.window)
		return
	}
	a.logger.Info("Conversation %d exported to %s", convID, path)
	dialog.ShowInformation("Export", "Exported to "+path, a.window)
}
