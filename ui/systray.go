package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"fyne.io/fyne/v2"
	"fyne.io/systray"
)

// SetupSystemTray shows the tray icon; every menu action runs on the UI
// thread
func (a *App) SetupSystemTray() {
	onReady := func() {
		systray.SetIcon(trayIcon())
		systray.SetTitle("krAIna")
		systray.SetTooltip("krAIna chat")

		mShow := systray.AddMenuItem("Show", "Show main window")
		mNew := systray.AddMenuItem("New chat", "Start a new conversation")
		mSearch := systray.AddMenuItem("Search", "Search conversations")
		mReload := systray.AddMenuItem("Reload assets", "Reload assistants and snippets")
		systray.AddSeparator()
		mQuit := systray.AddMenuItem("Quit", "Quit krAIna")

		go func() {
			for {
				select {
				case <-mShow.ClickedCh:
					fyne.Do(a.Show)
				case <-mNew.ClickedCh:
					fyne.Do(func() {
						a.Show()
						a.chat.NewChat()
					})
				case <-mSearch.ClickedCh:
					fyne.Do(func() {
						a.Show()
						a.showSearch()
					})
				case <-mReload.ClickedCh:
					fyne.Do(a.reloadAssets)
				case <-mQuit.ClickedCh:
					a.logger.Info("Quit from system tray")
					fyne.Do(a.fyneApp.Quit)
					systray.Quit()
					return
				}
			}
		}()
	}

	go systray.Run(onReady, func() { a.logger.Info("System tray exited") })
	a.logger.Info("System tray initialized")
}

// EnableMinimizeToTray hides the window instead of closing it
func (a *App) EnableMinimizeToTray() {
	a.window.SetCloseIntercept(func() {
		a.logger.Debug("Window close intercepted, minimizing to tray")
		a.window.Hide()
	})
}

// trayIcon draws a 16x16 rounded badge
func trayIcon() []byte {
	const size = 16
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	fill := color.NRGBA{R: 0x2b, G: 0x6c, B: 0xd9, A: 0xff}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			corner := (x == 0 || x == size-1) && (y == 0 || y == size-1)
			if !corner {
				img.Set(x, y, fill)
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
