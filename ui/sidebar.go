package ui

import (
	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"kraina-desktop/db"
	"kraina-desktop/utils"
)

// ConversationItem is one row of the chat list with a context menu
type ConversationItem struct {
	widget.BaseWidget
	app          *App
	conversation *db.Conversation
	label        *widget.Label
	highlighted  bool
}

func newConversationItem(app *App) *ConversationItem {
	item := &ConversationItem{app: app, label: widget.NewLabel("")}
	item.label.Truncation = fyne.TextTruncateEllipsis
	item.ExtendBaseWidget(item)
	return item
}

// CreateRenderer creates the renderer for the conversation item
func (ci *ConversationItem) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(container.NewStack(ci.label))
}

func (ci *ConversationItem) bind(conv *db.Conversation, highlighted bool) {
	ci.conversation = conv
	ci.highlighted = highlighted
	ci.label.SetText(displayName(conv))
	ci.label.TextStyle = fyne.TextStyle{Bold: highlighted, Italic: !conv.Active}
	ci.label.Refresh()
}

func displayName(conv *db.Conversation) string {
	name := conv.Name
	if name == "" {
		name = utils.Shorten(conv.Description, 40)
	}
	if name == "" {
		name = "New chat (" + conv.Assistant + ")"
	}
	if conv.Pinned() {
		name = "📌 " + name
	}
	return name
}

// Tapped opens the conversation
func (ci *ConversationItem) Tapped(_ *fyne.PointEvent) {
	if ci.conversation != nil {
		ci.app.SelectChat(ci.conversation.ID)
	}
}

// TappedSecondary shows the context menu
func (ci *ConversationItem) TappedSecondary(pe *fyne.PointEvent) {
	if ci.conversation == nil {
		return
	}
	conv := ci.conversation
	s := ci.app.sidebar

	pin := fyne.NewMenuItem("Pin", func() { s.setPriority(conv.ID, 1) })
	if conv.Pinned() {
		pin = fyne.NewMenuItem("Unpin", func() { s.setPriority(conv.ID, 0) })
	}
	hide := fyne.NewMenuItem("Hide", func() { s.setActive(conv.ID, false) })
	if !conv.Active {
		hide = fyne.NewMenuItem("Unhide", func() { s.setActive(conv.ID, true) })
	}

	menu := fyne.NewMenu("",
		fyne.NewMenuItem("Rename", func() { s.rename(conv) }),
		pin,
		hide,
		fyne.NewMenuItem("Export as JSON", func() { ci.app.exportConversation(conv.ID, utils.FormatJSON) }),
		fyne.NewMenuItem("Export as Markdown", func() { ci.app.exportConversation(conv.ID, utils.FormatMarkdown) }),
		fyne.NewMenuItem("Delete", func() { s.delete(conv) }),
	)
	widget.NewPopUpMenu(menu, ci.app.window.Canvas()).ShowAtPosition(pe.AbsolutePosition)
}

// Sidebar lists the conversations, pinned first
type Sidebar struct {
	app           *App
	list          *widget.List
	conversations []*db.Conversation
	selected      int64
	showHidden    bool
}

// NewSidebar creates the conversation list
func NewSidebar(app *App) *Sidebar {
	return &Sidebar{app: app, showHidden: app.deps.Config.UI.ShowHidden}
}

// Build builds the sidebar UI
func (s *Sidebar) Build() fyne.CanvasObject {
	s.list = widget.NewList(
		func() int { return len(s.conversations) },
		func() fyne.CanvasObject { return newConversationItem(s.app) },
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			conv := s.conversations[id]
			obj.(*ConversationItem).bind(conv, conv.ID == s.selected)
		},
	)

	hidden := widget.NewCheck("Show hidden", func(on bool) {
		s.showHidden = on
		s.Reload()
	})
	hidden.SetChecked(s.showHidden)

	newChat := widget.NewButton("New chat", s.app.chat.NewChat)
	newChat.Importance = widget.HighImportance

	return container.NewBorder(newChat, hidden, nil, nil, s.list)
}

// Reload rereads the conversations from the database
func (s *Sidebar) Reload() {
	var active *bool
	if !s.showHidden {
		t := true
		active = &t
	}
	convs, err := s.app.deps.DB.ListConversations(active, s.app.deps.Config.UI.ChatListLimit)
	if err != nil {
		s.app.logger.Error("Failed to load conversations: %v", err)
		return
	}
	s.conversations = convs
	if s.list != nil {
		s.list.Refresh()
	}
}

// Highlight marks convID as the open conversation
func (s *Sidebar) Highlight(convID int64) {
	s.selected = convID
	s.list.Refresh()
}

func (s *Sidebar) update(id int64, upd db.ConversationUpdate) {
	if err := s.app.deps.DB.UpdateConversation(id, upd); err != nil {
		dialog.ShowError(err, s.app.window)
		return
	}
	s.Reload()
}

func (s *Sidebar) setPriority(id int64, priority int) {
	s.update(id, db.ConversationUpdate{Priority: &priority})
}

func (s *Sidebar) setActive(id int64, active bool) {
	s.update(id, db.ConversationUpdate{Active: &active})
}

func (s *Sidebar) rename(conv *db.Conversation) {
	entry := widget.NewEntry()
	entry.SetText(conv.Name)
	dialog.ShowForm("Rename chat", "Save", "Cancel",
		[]*widget.FormItem{widget.NewFormItem("Name", entry)},
		func(ok bool) {
			if ok {
				name := entry.Text
				s.update(conv.ID, db.ConversationUpdate{Name: &name})
			}
		}, s.app.window)
}

func (s *Sidebar) delete(conv *db.Conversation) {
	dialog.ShowConfirm("Delete chat", "Delete \""+displayName(conv)+"\" permanently?", func(ok bool) {
		if !ok {
			return
		}
		if err := s.app.deps.DB.DeleteConversation(conv.ID); err != nil {
			dialog.ShowError(err, s.app.window)
			return
		}
		s.app.ChatDeleted(conv.ID)
		s.Reload()
	}, s.app.window)
}
