package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"rotations/internal/config"
	"rotations/internal/logger"
	"rotations/internal/tray"
)

const appID = "io.github.rotations"

func runTray() error {
	a := app.NewWithID(appID)
	desk, ok := a.(desktop.App)
	if !ok {
		return errors.New("this desktop has no system tray")
	}

	t := tray.New(tray.Options{
		ShowReflections: config.Get().Tray.ShowReflections,
		Install:         desk.SetSystemTrayMenu,
		About:           func() { showAbout(a) },
		Notify: func(title, body string) {
			a.SendNotification(fyne.NewNotification(title, body))
		},
	})

	svc, server, err := connect(t)
	if err != nil {
		return err
	}
	t.Bind(svc)

	desk.SetSystemTrayIcon(theme.ComputerIcon())
	t.Start()
	logger.Info("tray started", "display", config.Get().Display.Name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runErr error
	done := make(chan struct{})
	a.Lifecycle().SetOnStarted(func() {
		go func() {
			defer close(done)
			runErr = svc.Run(ctx)
			if runErr != nil {
				logger.Error("stopping", "err", runErr)
			}
			fyne.Do(a.Quit)
		}()
	})

	a.Run()

	cancel()
	svc.Close()
	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown", "err", err)
		}
	}
	select {
	case <-done:
	default:
		return nil
	}
	return runErr
}

func showAbout(a fyne.App) {
	w := a.NewWindow("About Rotations")
	w.SetContent(widget.NewLabel(fmt.Sprintf("Rotations %s\n\nPick a screen orientation from the tray menu.", Version)))
	w.Show()
}
