package ui

import (
	"fmt"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"kraina-desktop/db"
)

const searchLimit = 100

// SearchView is the message search dialog
type SearchView struct {
	app     *App
	entry   *widget.Entry
	list    *widget.List
	status  *widget.Label
	results []*db.SearchResult
	dlg     dialog.Dialog
}

func newSearchView(app *App) *SearchView {
	return &SearchView{app: app}
}

// Build builds the search view UI
func (sv *SearchView) Build() fyne.CanvasObject {
	sv.entry = widget.NewEntry()
	sv.entry.SetPlaceHolder("Search messages...")
	sv.entry.OnSubmitted = func(string) { sv.search() }

	searchBtn := widget.NewButton("Search", sv.search)
	searchBtn.Importance = widget.HighImportance

	sv.status = widget.NewLabel("")
	if !sv.app.deps.DB.FullTextSearch() {
		sv.status.SetText("Full-text index unavailable, using substring match")
	}

	sv.list = widget.NewList(
		func() int { return len(sv.results) },
		func() fyne.CanvasObject {
			l := widget.NewLabel("")
			l.Truncation = fyne.TextTruncateEllipsis
			return l
		},
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			r := sv.results[id]
			snippet := strings.ReplaceAll(r.Snippet, "\n", " ")
			obj.(*widget.Label).SetText(fmt.Sprintf("#%d [%s] %s", r.ConversationID, r.Message.Type, snippet))
		},
	)
	sv.list.OnSelected = func(id widget.ListItemID) {
		convID := sv.results[id].ConversationID
		if sv.dlg != nil {
			sv.dlg.Hide()
		}
		sv.app.SelectChat(convID)
	}

	header := container.NewBorder(nil, nil, nil, searchBtn, sv.entry)
	return container.NewBorder(header, sv.status, nil, nil, sv.list)
}

func (sv *SearchView) search() {
	query := strings.TrimSpace(sv.entry.Text)
	if query == "" {
		return
	}
	results, err := sv.app.deps.DB.SearchMessages(query, searchLimit)
	if err != nil {
		sv.app.logger.Warn("Search for %q failed: %v", query, err)
		sv.status.SetText("Search failed: " + err.Error())
		return
	}
	sv.results = results
	sv.list.UnselectAll()
	sv.list.Refresh()
	sv.status.SetText(fmt.Sprintf("%d results", len(results)))
}

func (a *App) showSearch() {
	sv := newSearchView(a)
	sv.dlg = dialog.NewCustom("Search", "Close", sv.Build(), a.window)
	sv.dlg.Resize(fyne.NewSize(700, 500))
	sv.dlg.Show()
	a.window.Canvas().Focus(sv.entry)
}
