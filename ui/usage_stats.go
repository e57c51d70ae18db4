package ui

import (
	"fmt"
	"image/color"
	"sort"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"kraina-desktop/db"
)

var dateRanges = []string{"Last 7 Days", "Last 30 Days", "Last 90 Days", "This Month", "All Time"}

// UsageStatsView summarises the recorded token ledgers
type UsageStatsView struct {
	app        *App
	summary    *widget.Label
	assistants *fyne.Container
	models     *fyne.Container
	chart      *fyne.Container

	startDate time.Time
	endDate   time.Time
}

func newUsageStatsView(app *App) *UsageStatsView {
	usv := &UsageStatsView{app: app}
	usv.setRange("Last 30 Days", time.Now())
	return usv
}

// Build builds the usage statistics view UI
func (usv *UsageStatsView) Build() fyne.CanvasObject {
	usv.summary = widget.NewLabel("")
	usv.assistants = container.NewVBox()
	usv.models = container.NewVBox()
	usv.chart = container.NewStack()

	ranges := widget.NewSelect(dateRanges, func(v string) {
		usv.setRange(v, time.Now())
		usv.refresh()
	})
	ranges.SetSelected("Last 30 Days")

	header := container.NewBorder(nil, nil, widget.NewLabel("Date range:"), widget.NewButton("Refresh", usv.refresh), ranges)
	body := container.NewVBox(
		widget.NewCard("Overall", "", usv.summary),
		container.NewGridWithColumns(2,
			widget.NewCard("By assistant", "", usv.assistants),
			widget.NewCard("By model", "", usv.models),
		),
		widget.NewCard("Daily tokens", "", usv.chart),
	)
	usv.refresh()
	return container.NewBorder(header, nil, nil, nil, container.NewVScroll(body))
}

func (usv *UsageStatsView) setRange(selection string, now time.Time) {
	usv.endDate = now
	switch selection {
	case "Last 7 Days":
		usv.startDate = now.AddDate(0, 0, -7)
	case "Last 90 Days":
		usv.startDate = now.AddDate(0, 0, -90)
	case "This Month":
		usv.startDate = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	case "All Time":
		usv.startDate = time.Time{}
	default:
		usv.startDate = now.AddDate(0, 0, -30)
	}
}

func (usv *UsageStatsView) refresh() {
	if usv.summary == nil {
		return
	}
	stats, err := usv.app.deps.DB.GetUsageStats(usv.startDate, usv.endDate)
	if err != nil {
		usv.summary.SetText("Failed to load statistics: " + err.Error())
		return
	}

	usv.summary.SetText(fmt.Sprintf("Turns: %s (failed %s)\nTokens: %s",
		formatNumber(stats.TotalTurns), formatNumber(stats.FailedTurns), formatNumber(stats.TotalTokens)))

	usv.assistants.RemoveAll()
	names := make([]string, 0, len(stats.AssistantStats))
	for name := range stats.AssistantStats {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return stats.AssistantStats[names[i]].TotalTokens > stats.AssistantStats[names[j]].TotalTokens
	})
	for _, name := range names {
		s := stats.AssistantStats[name]
		usv.assistants.Add(widget.NewLabel(fmt.Sprintf("%s: %s tokens in %d turns", name, formatNumber(s.TotalTokens), s.Turns)))
	}

	usv.models.RemoveAll()
	models := make([]string, 0, len(stats.ModelStats))
	for m := range stats.ModelStats {
		models = append(models, m)
	}
	sort.Strings(models)
	for _, m := range models {
		s := stats.ModelStats[m]
		usv.models.Add(widget.NewLabel(fmt.Sprintf("%s: in %s, out %s, %d turns",
			m, formatNumber(s.InputTokens), formatNumber(s.OutputTokens), s.Turns)))
	}

	usv.chart.Objects = []fyne.CanvasObject{barChart(stats.DailyStats)}
	usv.chart.Refresh()
}

// barChart draws one bar per day
func barChart(days []*db.DailyUsageStats) fyne.CanvasObject {
	if len(days) == 0 {
		return widget.NewLabel("No usage in this range")
	}
	const (
		chartHeight = float32(160)
		barWidth    = float32(36)
		barSpacing  = float32(8)
	)
	var maxTokens int64 = 1
	for _, d := range days {
		if d.TotalTokens > maxTokens {
			maxTokens = d.TotalTokens
		}
	}

	bars := container.NewWithoutLayout()
	for i, d := range days {
		x := float32(i) * (barWidth + barSpacing)
		h := float32(d.TotalTokens) / float32(maxTokens) * chartHeight
		if h < 1 {
			h = 1
		}
		bar := canvas.NewRectangle(color.NRGBA{R: 0x2b, G: 0x6c, B: 0xd9, A: 0xff})
		bar.Resize(fyne.NewSize(barWidth, h))
		bar.Move(fyne.NewPos(x, chartHeight-h))
		bars.Add(bar)

		date := canvas.NewText(d.Date[5:], color.Gray{Y: 0x80})
		date.TextSize = 10
		date.Move(fyne.NewPos(x, chartHeight+4))
		bars.Add(date)
	}
	width := float32(len(days))*(barWidth+barSpacing) + barSpacing
	bars.Resize(fyne.NewSize(width, chartHeight+24))

	scroll := container.NewHScroll(bars)
	scroll.SetMinSize(fyne.NewSize(400, chartHeight+30))
	return scroll
}

// formatNumber adds thousands separators
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}

func (a *App) showUsageStats() {
	usv := newUsageStatsView(a)
	d := dialog.NewCustom("Usage statistics", "Close", usv.Build(), a.window)
	d.Resize(fyne.NewSize(800, 600))
	d.Show()
}
