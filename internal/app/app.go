// Package app wires settings, logging, persistence and the HTTP adapter
// into a download manager for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/handiism/dlmanager/internal/config"
	"github.com/handiism/dlmanager/internal/download"
	dlhttp "github.com/handiism/dlmanager/internal/http"
	ioutils "github.com/handiism/dlmanager/internal/io"
)

// App is an opened manager and the resources behind it.
type App struct {
	Settings *config.Settings
	Manager  *download.Manager
	Logger   *slog.Logger

	closeStore func() error
}

// NewLogger builds a text logger at the configured level.
func NewLogger(settings *config.Settings, w io.Writer) (*slog.Logger, error) {
	level, err := settings.Level()
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// Open validates settings and opens the manager with its persisted state.
func Open(ctx context.Context, settings *config.Settings, logw io.Writer) (*App, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := NewLogger(settings, logw)
	if err != nil {
		return nil, err
	}
	opts, err := settings.ToOptions()
	if err != nil {
		return nil, err
	}
	if err := ioutils.EnsureDir(opts.DownloadsPath); err != nil {
		return nil, fmt.Errorf("creating downloads directory: %w", err)
	}

	engine, closeStore, err := settings.OpenEngine(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("opening state backend `%s`: %w", settings.StateBackend, err)
	}

	client := dlhttp.NewClient(
		dlhttp.WithUserAgent(settings.UserAgent),
		dlhttp.WithTimeout(settings.Timeout()),
		dlhttp.WithLogger(logger),
	)
	progress, reconcile := settings.Intervals()
	manager, err := download.Open(ctx, client, engine, opts,
		download.WithLogger(logger),
		download.WithAggregateInterval(progress),
		download.WithReconcileInterval(reconcile),
	)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("loading state: %w", err)
	}
	return &App{Settings: settings, Manager: manager, Logger: logger, closeStore: closeStore}, nil
}

// Close shuts the manager down, saving its state, and releases the state
// backend.
func (a *App) Close(ctx context.Context) error {
	return errors.Join(a.Manager.Close(ctx), a.closeStore())
}
