package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gosimple/slug"
	"golang.org/x/sync/errgroup"

	"github.com/handiism/dlmanager/internal/model"
)

// ErrNotFound is returned by a Backend when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Record names within a namespace.
const (
	TasksRecord    = "tasks.json"
	SectionsRecord = "sections.json"
	TrashRecord    = "trash.json"
)

// Backend stores named byte records grouped by namespace.
type Backend interface {
	// Read returns the record or ErrNotFound.
	Read(ctx context.Context, namespace, name string) ([]byte, error)

	// Write creates or replaces the record.
	Write(ctx context.Context, namespace, name string, data []byte) error

	// Delete removes the record. Deleting a missing record succeeds.
	Delete(ctx context.Context, namespace, name string) error
}

// Snapshot is everything the manager persists.
type Snapshot struct {
	// Tasks maps each task key to its record.
	Tasks map[string]model.Task

	// Sections is the manual ordering. It is empty outside manual mode.
	Sections []model.Section

	// Trash holds soft-deleted tasks, most recently deleted last.
	Trash []model.Task
}

// Engine saves and loads snapshots through a Backend.
//
// The three collections of a snapshot are independent records under one
// namespace derived from the manager identifier. An empty collection is
// stored as the absence of its record.
type Engine struct {
	backend   Backend
	namespace string
	logger    *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an engine for the manager with the given identifier.
//
// Example:
//
//	engine := store.NewEngine(store.NewOSBackend("/var/lib/dlm"), "My Downloads")
//	engine.Namespace() // "my-downloads"
func NewEngine(backend Backend, identifier string, opts ...EngineOption) *Engine {
	ns := slug.Make(identifier)
	if ns == "" {
		ns = "default"
	}
	e := &Engine{backend: backend, namespace: ns, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Namespace returns the namespace the engine's records live under.
func (e *Engine) Namespace() string {
	return e.namespace
}

// Save writes the three records concurrently. A failure of one record does
// not roll back the others; the next successful Save reconciles them.
func (e *Engine) Save(ctx context.Context, snap Snapshot) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.put(ctx, TasksRecord, snap.Tasks, len(snap.Tasks) == 0) })
	g.Go(func() error { return e.put(ctx, SectionsRecord, snap.Sections, len(snap.Sections) == 0) })
	g.Go(func() error { return e.put(ctx, TrashRecord, snap.Trash, len(snap.Trash) == 0) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("saving %s: %w", e.namespace, err)
	}
	e.logger.Debug("saved state", "namespace", e.namespace,
		"tasks", len(snap.Tasks), "sections", len(snap.Sections), "trash", len(snap.Trash))
	return nil
}

func (e *Engine) put(ctx context.Context, name string, v any, empty bool) error {
	if empty {
		if err := e.backend.Delete(ctx, e.namespace, name); err != nil {
			return fmt.Errorf("deleting %s: %w", name, err)
		}
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	if err := e.backend.Write(ctx, e.namespace, name, data); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// Load reads the three records concurrently. Missing records load as empty
// collections.
func (e *Engine) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.get(ctx, TasksRecord, &snap.Tasks) })
	g.Go(func() error { return e.get(ctx, SectionsRecord, &snap.Sections) })
	g.Go(func() error { return e.get(ctx, TrashRecord, &snap.Trash) })
	if err := g.Wait(); err != nil {
		return Snapshot{}, fmt.Errorf("loading %s: %w", e.namespace, err)
	}
	if snap.Tasks == nil {
		snap.Tasks = make(map[string]model.Task)
	}
	for key, task := range snap.Tasks {
		if task.URL == "" {
			task.URL = key
			snap.Tasks[key] = task
		}
	}
	return snap, nil
}

func (e *Engine) get(ctx context.Context, name string, v any) error {
	data, err := e.backend.Read(ctx, e.namespace, name)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", name, err)
	}
	return nil
}
