package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/handiism/dlmanager/internal/app"
	"github.com/handiism/dlmanager/internal/config"
	"github.com/handiism/dlmanager/internal/tui"
)

func main() {
	configFlag := flag.String("config", config.DefaultPath(), "Path to config file")
	flag.Parse()

	if err := run(*configFlag); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// the dashboard owns the terminal, so logs go to a file next to the state
	if err := os.MkdirAll(settings.StatePath, 0755); err != nil {
		return err
	}
	logFile, err := os.OpenFile(filepath.Join(settings.StatePath, "dlm-tui.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer logFile.Close()

	a, err := app.Open(ctx, settings, logFile)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	go a.Manager.Run(runCtx)

	uiErr := tui.Run(ctx, a.Manager)
	cancel()

	closeCtx, cancelClose := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelClose()
	if err := a.Close(closeCtx); err != nil {
		return err
	}
	return uiErr
}
