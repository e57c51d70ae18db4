package ui

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"

	"kraina-desktop/assistant"
	"kraina-desktop/db"
	"kraina-desktop/llm"
	"kraina-desktop/utils"
)

// chatEntry is a multi-line entry that sends on Ctrl+Enter
type chatEntry struct {
	widget.Entry
	onCtrlEnter func()
}

func newChatEntry(onCtrlEnter func()) *chatEntry {
	e := &chatEntry{onCtrlEnter: onCtrlEnter}
	e.MultiLine = true
	e.Wrapping = fyne.TextWrapWord
	e.ExtendBaseWidget(e)
	return e
}

// TypedShortcut handles keyboard shortcuts
func (e *chatEntry) TypedShortcut(shortcut fyne.Shortcut) {
	if ks, ok := shortcut.(*desktop.CustomShortcut); ok {
		if (ks.KeyName == fyne.KeyReturn || ks.KeyName == fyne.KeyEnter) && ks.Modifier == desktop.ControlModifier {
			e.onCtrlEnter()
			return
		}
	}
	e.Entry.TypedShortcut(shortcut)
}

// liveTurn identifies the turn whose tool activity is shown. Callbacks of
// older turns compare against ChatView.live and drop their output.
type liveTurn struct {
	requestID string
	convID    int64
}

// ChatView shows one conversation and sends turns to the engine
type ChatView struct {
	app *App

	assistantSelect *widget.Select
	modelOverride   *widget.Entry
	messages        *fyne.Container
	scroll          *container.Scroll
	input           *chatEntry
	sendBtn         *widget.Button
	attachBtn       *widget.Button
	status          *widget.Label
	progress        *widget.ProgressBarInfinite

	convID int64
	live   *liveTurn
}

// NewChatView creates the chat view
func NewChatView(app *App) *ChatView {
	return &ChatView{app: app}
}

// Build builds the chat UI
func (cv *ChatView) Build() fyne.CanvasObject {
	cv.assistantSelect = widget.NewSelect(nil, func(string) { cv.updateEstimate() })
	cv.modelOverride = widget.NewEntry()
	cv.modelOverride.SetPlaceHolder("model (optional)")
	cv.RefreshAssistants()

	cv.messages = container.NewVBox()
	cv.scroll = container.NewVScroll(cv.messages)

	cv.input = newChatEntry(cv.send)
	cv.input.SetPlaceHolder("Type a message, Ctrl+Enter to send")
	cv.input.SetMinRowsVisible(4)

	cv.sendBtn = widget.NewButton("Send", cv.send)
	cv.sendBtn.Importance = widget.HighImportance
	cv.attachBtn = widget.NewButton("Attach", cv.attach)

	cv.status = widget.NewLabel("")
	cv.progress = widget.NewProgressBarInfinite()
	cv.progress.Hide()

	top := container.NewBorder(nil, nil, widget.NewLabel("Assistant:"), cv.modelOverride, cv.assistantSelect)
	buttons := container.NewVBox(cv.sendBtn, cv.attachBtn)
	bottom := container.NewVBox(
		cv.progress,
		container.NewBorder(nil, nil, nil, buttons, cv.input),
		cv.status,
	)
	return container.NewBorder(top, bottom, nil, nil, cv.scroll)
}

// RefreshAssistants reloads the assistant list after an asset reload,
// keeping the selection when it still exists
func (cv *ChatView) RefreshAssistants() {
	names := cv.app.deps.Assets.AssistantNames()
	current := cv.assistantSelect.Selected
	cv.assistantSelect.SetOptions(names)
	switch {
	case current != "" && contains(names, current):
		cv.assistantSelect.SetSelected(current)
	case contains(names, "chat"):
		cv.assistantSelect.SetSelected("chat")
	case len(names) > 0:
		cv.assistantSelect.SetSelected(names[0])
	default:
		cv.assistantSelect.ClearSelected()
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ConversationID is the open conversation, 0 for a new chat
func (cv *ChatView) ConversationID() int64 {
	return cv.convID
}

// FocusInput moves the keyboard focus to the message entry
func (cv *ChatView) FocusInput() {
	cv.app.window.Canvas().Focus(cv.input)
}

// NewChat clears the view; the conversation is created by the first turn
func (cv *ChatView) NewChat() {
	cv.convID = 0
	cv.live = nil
	cv.messages.RemoveAll()
	cv.setBusy(false)
	cv.app.sidebar.Highlight(0)
	cv.updateEstimate()
	cv.FocusInput()
}

// Open shows the messages of convID
func (cv *ChatView) Open(convID int64) {
	conv, err := cv.app.deps.DB.GetConversation(convID)
	if err != nil {
		dialog.ShowError(err, cv.app.window)
		return
	}
	if conv.Assistant != "" && contains(cv.assistantSelect.Options, conv.Assistant) {
		cv.assistantSelect.SetSelected(conv.Assistant)
	}
	cv.convID = convID
	cv.live = nil
	cv.setBusy(cv.app.deps.Runner.Busy(convID))
	cv.loadMessages()
	cv.updateEstimate()
}

func (cv *ChatView) loadMessages() {
	cv.messages.RemoveAll()
	msgs, err := cv.app.deps.DB.ListMessages(cv.convID)
	if err != nil {
		cv.app.logger.Error("Failed to load messages of conversation %d: %v", cv.convID, err)
		return
	}
	for _, m := range msgs {
		cv.messages.Add(cv.renderMessage(m.Type, m.Text))
	}
	cv.scroll.ScrollToBottom()
}

func (cv *ChatView) renderMessage(typ db.MessageType, text string) fyne.CanvasObject {
	switch typ {
	case db.MessageHuman:
		body := container.NewVBox()
		for _, seg := range llm.ParseSegments(text, true) {
			if seg.Type == llm.SegmentImage {
				if img := imageFromDataURL(seg.ImageURL); img != nil {
					body.Add(img)
				}
				continue
			}
			label := widget.NewLabel(seg.Text)
			label.Wrapping = fyne.TextWrapWord
			label.Selectable = true
			body.Add(label)
		}
		return widget.NewCard("", "You", body)
	case db.MessageTool:
		label := widget.NewLabel(text)
		label.Wrapping = fyne.TextWrapWord
		label.TextStyle = fyne.TextStyle{Italic: true}
		return label
	default:
		rich := widget.NewRichTextFromMarkdown(text)
		rich.Wrapping = fyne.TextWrapWord
		copyBtn := widget.NewButton("Copy", func() {
			cv.app.fyneApp.Clipboard().SetContent(text)
		})
		copyBtn.Importance = widget.LowImportance
		return widget.NewCard("", "AI", container.NewBorder(nil, container.NewHBox(copyBtn), nil, nil, rich))
	}
}

// imageFromDataURL renders a base64 data URL, nil when it cannot be decoded
func imageFromDataURL(url string) fyne.CanvasObject {
	_, payload, ok := strings.Cut(url, ";base64,")
	if !ok {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil
	}
	img := canvas.NewImageFromResource(fyne.NewStaticResource("attachment", data))
	img.FillMode = canvas.ImageFillContain
	img.SetMinSize(fyne.NewSize(240, 180))
	return img
}

func (cv *ChatView) setBusy(busy bool) {
	if busy {
		cv.progress.Show()
		cv.progress.Start()
		cv.sendBtn.Disable()
	} else {
		cv.progress.Stop()
		cv.progress.Hide()
		cv.sendBtn.Enable()
	}
}

func (cv *ChatView) selectedAssistant() (*assistant.Assistant, bool) {
	return cv.app.deps.Assets.Assistant(cv.assistantSelect.Selected)
}

func (cv *ChatView) send() {
	query := strings.TrimSpace(cv.input.Text)
	if query == "" {
		return
	}
	a, ok := cv.selectedAssistant()
	if !ok {
		dialog.ShowInformation("No assistant", "Select an assistant first", cv.app.window)
		return
	}

	live := &liveTurn{convID: cv.convID}
	opts := assistant.RunOptions{
		ConversationID: cv.convID,
		Overrides:      llm.RequestOverrides{Model: strings.TrimSpace(cv.modelOverride.Text)},
		Callbacks:      cv.callbacks(live),
	}
	id, err := cv.app.deps.Runner.Start(cv.app.ctx, a, query, opts)
	if errors.Is(err, assistant.ErrConversationBusy) {
		dialog.ShowInformation("Busy", "This conversation is still waiting for an answer", cv.app.window)
		return
	}
	if err != nil {
		dialog.ShowError(err, cv.app.window)
		return
	}
	live.requestID = id
	cv.live = live
	cv.app.logger.Debug("Turn %s started with %s", id, a.Name)

	cv.input.SetText("")
	cv.messages.Add(cv.renderMessage(db.MessageHuman, query))
	cv.scroll.ScrollToBottom()
	cv.setBusy(true)
}

// callbacks streams tool activity of the live turn into the view
func (cv *ChatView) callbacks(live *liveTurn) assistant.Callbacks {
	show := func(prefix string) func(string) {
		return func(msg string) {
			fyne.Do(func() {
				if cv.live != live {
					return
				}
				cv.messages.Add(cv.renderMessage(db.MessageTool, prefix+utils.Shorten(msg, 500)))
				cv.scroll.ScrollToBottom()
			})
		}
	}
	return assistant.Callbacks{
		Action:        show("Action: "),
		Observation:   show("Observation: "),
		AIObservation: show("Thought: "),
	}
}

// TurnFinished applies a turn result on the UI thread
func (cv *ChatView) TurnFinished(res assistant.TurnResult) {
	cv.app.sidebar.Reload()
	if cv.live == nil || cv.live.requestID != res.RequestID {
		cv.app.logger.Debug("Turn %s finished in the background", res.RequestID)
		return
	}
	cv.live = nil
	cv.setBusy(false)

	if res.Err != nil {
		dialog.ShowError(res.Err, cv.app.window)
		return
	}
	resp := res.Response
	if resp.ConversationID != 0 {
		cv.convID = resp.ConversationID
		cv.loadMessages()
		cv.app.sidebar.Highlight(cv.convID)
	} else {
		typ := db.MessageAI
		if resp.Failed() {
			typ = db.MessageTool
		}
		cv.messages.Add(cv.renderMessage(typ, resp.Content+resp.Error))
		cv.scroll.ScrollToBottom()
	}
	cv.status.SetText(fmt.Sprintf("Last turn: %d tokens (prompt %d, history %d, input %d, output %d, tools %d)",
		resp.Usage.Total, resp.Usage.Prompt, resp.Usage.History, resp.Usage.Input, resp.Usage.Output, resp.Usage.Tools))
}

// updateEstimate shows what the next turn costs before the query
func (cv *ChatView) updateEstimate() {
	a, ok := cv.selectedAssistant()
	if !ok || cv.status == nil {
		return
	}
	convID := cv.convID
	utils.SafeGo(cv.app.logger, "estimate", func() {
		usage, err := cv.app.deps.Engine.Estimate(a, convID)
		fyne.Do(func() {
			if cv.convID != convID {
				return
			}
			if err != nil {
				cv.status.SetText("Token estimate unavailable: " + err.Error())
				return
			}
			cv.status.SetText(fmt.Sprintf("About %d tokens before your message (prompt %d, history %d)",
				usage.Total, usage.Prompt, usage.History))
		})
	})
}

func (cv *ChatView) attach() {
	dialog.ShowFileOpen(func(rc fyne.URIReadCloser, err error) {
		if err != nil || rc == nil {
			return
		}
		path := rc.URI().Path()
		rc.Close()
		content, err := utils.ReadFileForPrompt(path)
		if err != nil {
			dialog.ShowError(err, cv.app.window)
			return
		}
		if cv.input.Text != "" && !strings.HasSuffix(cv.input.Text, "\n") {
			content = "\n" + content
		}
		cv.input.SetText(cv.input.Text + content)
	}, cv.app.window)
}
