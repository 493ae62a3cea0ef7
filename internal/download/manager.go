package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ioutils "github.com/handiism/dlmanager/internal/io"
	"github.com/handiism/dlmanager/internal/model"
	"github.com/handiism/dlmanager/internal/queue"
	"github.com/handiism/dlmanager/internal/store"
	"github.com/handiism/dlmanager/internal/transfer"
)

// ErrFileSystem marks completion errors that report a failed file
// operation instead of the end of a transfer. They are non-fatal and do
// not change the task's state.
var ErrFileSystem = errors.New("file system error")

const (
	defaultAggregateInterval = time.Second
	defaultReconcileInterval = 30 * time.Second
)

// Manager is a persistent download manager with a cap on concurrent
// transfers.
//
// Manager owns every task record. All mutations, including adapter
// callbacks, are serialized by one lock; adapter calls and file removals
// are issued after the lock is released, in the order they were decided.
// Events are delivered asynchronously by a single goroutine.
//
// Example usage:
//
//	engine := store.NewEngine(store.NewOSBackend(stateDir), "default")
//	m, err := download.Open(ctx, http.NewClient(), engine, model.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Close(ctx)
//
//	m.Download([]string{"https://example.com/file.iso"})
type Manager struct {
	adapter transfer.Adapter
	engine  *store.Engine
	logger  *slog.Logger
	now     func() time.Time

	aggregateInterval time.Duration
	reconcileInterval time.Duration

	loadOnce sync.Once
	ready    chan struct{}
	loadErr  error

	// saveMu makes saves run one at a time in snapshot order.
	saveMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	drainOnce sync.Once
	drained   chan struct{}

	// mu guards everything below.
	mu          sync.RWMutex
	opts        model.Options
	tasks       map[string]*model.Task
	runs        map[string]*run
	stash       map[string][]byte
	handlers    map[string]CompletionHandler
	queue       *queue.Queue
	sections    []model.Section
	trash       []model.Task
	seq         int64
	closing     bool
	activeDirty bool

	// effectMu orders the side effects of consecutive updates. It is taken
	// while mu is held and released after the effects ran.
	effectMu sync.Mutex

	events *dispatcher
}

// run is the live transfer of a task.
type run struct {
	transfer transfer.Transfer

	// suspended transfers keep their connection but hold no slot.
	suspended bool

	// stopping transfers were cancelled with a resume token requested and
	// have not reported back yet.
	stopping bool

	// requeue asks for the task to be queued again once a stopping
	// transfer has reported its token.
	requeue bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithAggregateInterval sets how often Run emits EventAggregate.
func WithAggregateInterval(d time.Duration) Option {
	return func(m *Manager) { m.aggregateInterval = d }
}

// WithReconcileInterval sets how often Run checks the active set against
// the task records.
func WithReconcileInterval(d time.Duration) Option {
	return func(m *Manager) { m.reconcileInterval = d }
}

// WithClock replaces time.Now for the AddedTime of new tasks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a manager. Operations block until Load has completed; use
// Open to do both. A nil engine disables persistence.
func New(adapter transfer.Adapter, engine *store.Engine, opts model.Options, options ...Option) *Manager {
	m := &Manager{
		adapter:           adapter,
		engine:            engine,
		logger:            slog.Default(),
		now:               time.Now,
		aggregateInterval: defaultAggregateInterval,
		reconcileInterval: defaultReconcileInterval,
		ready:             make(chan struct{}),
		drained:           make(chan struct{}),
		opts:              opts,
		tasks:             make(map[string]*model.Task),
		runs:              make(map[string]*run),
		stash:             make(map[string][]byte),
		handlers:          make(map[string]CompletionHandler),
		queue:             queue.New(opts.MaxConcurrent),
		events:            newDispatcher(),
	}
	for _, opt := range options {
		opt(m)
	}
	m.opts.MaxConcurrent = m.queue.Limit()
	if m.opts.SortMode == model.SortManual {
		m.sections = []model.Section{{}}
	}
	return m
}

// Open creates a manager and loads its persisted state. If loading fails
// the manager is shut down without saving and only the error is returned.
func Open(ctx context.Context, adapter transfer.Adapter, engine *store.Engine, opts model.Options, options ...Option) (*Manager, error) {
	m := New(adapter, engine, opts, options...)
	if err := m.Load(ctx); err != nil {
		m.events.close()
		return nil, err
	}
	return m, nil
}

// Load restores the persisted state. Only the first call does any work;
// later calls return its result. A failed load leaves the manager empty but
// usable.
func (m *Manager) Load(ctx context.Context) error {
	m.loadOnce.Do(func() {
		m.loadErr = m.load(ctx)
		close(m.ready)
	})
	return m.loadErr
}

func (m *Manager) load(ctx context.Context) error {
	if m.engine == nil {
		return nil
	}
	snap, err := m.engine.Load(ctx)
	if err != nil {
		m.logger.Error("loading state", "namespace", m.engine.Namespace(), "err", err)
		return err
	}
	m.update(func(fx *effects) { m.restoreLocked(snap) })
	m.logger.Info("loaded state", "namespace", m.engine.Namespace(),
		"tasks", len(snap.Tasks), "trash", len(snap.Trash))
	return nil
}

// wait blocks until Load has completed.
func (m *Manager) wait() {
	<-m.ready
}

// Save writes the current state through the persistence engine. Saves
// never overlap, so a later save always wins. A failure is logged and
// returned; the in-memory state stays authoritative.
func (m *Manager) Save(ctx context.Context) error {
	m.wait()
	if m.engine == nil {
		return nil
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	snap, suspended := m.snapshot()
	checkpoint(snap, suspended)
	if err := m.engine.Save(ctx, snap); err != nil {
		m.logger.Error("saving state", "namespace", m.engine.Namespace(), "err", err)
		return err
	}
	return nil
}

// Close stops running transfers, keeping their progress as resume tokens,
// waits for the tokens until ctx is done, saves and stops event delivery.
// Tasks that were downloading or queued are queued again by the next Load.
//
// Close must not be called from an event handler.
func (m *Manager) Close(ctx context.Context) error {
	m.wait()
	m.closeOnce.Do(func() {
		m.update(func(fx *effects) {
			m.closing = true
			for key, r := range m.runs {
				t := m.tasks[key]
				if t == nil || r.stopping {
					continue
				}
				if t.State == model.StateDownloading || m.queue.Waiting(key) {
					t.AutoResume = true
				}
				m.queue.Remove(key)
				m.stopRunLocked(key, t, r, fx)
			}
			m.checkDrainedLocked()
		})
		select {
		case <-m.drained:
		case <-ctx.Done():
			m.logger.Warn("closing before all transfers reported back", "err", ctx.Err())
		}
		m.closeErr = m.Save(context.WithoutCancel(ctx))
		m.events.close()
	})
	return m.closeErr
}

// Run emits EventAggregate and reconciles the active set periodically
// until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	m.wait()
	aggregate := time.NewTicker(m.aggregateInterval)
	defer aggregate.Stop()
	reconcile := time.NewTicker(m.reconcileInterval)
	defer reconcile.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-aggregate.C:
			m.emitAggregate()
		case <-reconcile.C:
			m.reconcile()
		}
	}
}

// Subscribe registers fn for every event. Events are delivered in order
// from one goroutine; fn must not block for long.
func (m *Manager) Subscribe(fn func(Event)) *Subscription {
	return m.events.subscribe(fn)
}

// OnCompletion registers a fallback completion handler. It is called for
// tasks that were not downloaded with their own handler.
func (m *Manager) OnCompletion(fn CompletionHandler) *Subscription {
	return m.events.onCompletion(fn)
}

// Flush blocks until every event emitted so far has been delivered.
func (m *Manager) Flush() {
	m.events.flush()
}

// effects are side effects decided under the lock and run after it.
type effects []func()

func (fx *effects) add(f func()) {
	*fx = append(*fx, f)
}

// update runs fn under the write lock, admits waiting tasks, announces
// active-set changes and then runs the collected effects in order.
func (m *Manager) update(fn func(fx *effects)) {
	m.mu.Lock()
	wasBusy := m.queue.ActiveCount()+m.queue.WaitingCount() > 0
	m.activeDirty = false
	var fx effects
	fn(&fx)
	m.admitLocked(&fx)
	m.announceLocked(wasBusy)

	m.effectMu.Lock()
	m.mu.Unlock()
	defer m.effectMu.Unlock()
	for _, f := range fx {
		f()
	}
}

// admitLocked starts as many waiting tasks as the cap allows.
func (m *Manager) admitLocked(fx *effects) {
	if m.closing {
		return
	}
	for _, key := range m.queue.Next() {
		m.activeDirty = true
		t := m.tasks[key]
		if t == nil {
			m.queue.Deactivate(key)
			continue
		}
		t.State = model.StateDownloading
		t.LastError = ""
		if r := m.runs[key]; r != nil {
			r.suspended = false
			fx.add(r.transfer.Resume)
			m.emitStateLocked(key, t)
			continue
		}
		token := m.stash[key]
		delete(m.stash, key)
		if token == nil {
			t.ReceivedBytes = 0
		}
		r := &run{}
		r.transfer = m.adapter.New(transfer.Request{
			Key:         key,
			URL:         t.URL,
			Dir:         m.opts.DownloadsPath,
			FileName:    t.FileName,
			ResumeToken: token,
		}, &observer{m: m, key: key, run: r})
		m.runs[key] = r
		fx.add(r.transfer.Start)
		m.logger.Debug("admitted", "key", key, "resumed", token != nil)
		m.emitStateLocked(key, t)
	}
}

func (m *Manager) announceLocked(wasBusy bool) {
	active, waiting := m.queue.ActiveCount(), m.queue.WaitingCount()
	if m.activeDirty {
		m.events.post(Event{Kind: EventActiveChanged, Active: active, Waiting: waiting, Limit: m.queue.Limit()})
	}
	if wasBusy && active == 0 && waiting == 0 {
		m.events.post(Event{Kind: EventIdle})
	}
}

func (m *Manager) deactivateLocked(key string) {
	if m.queue.Deactivate(key) {
		m.activeDirty = true
	}
}

func (m *Manager) pushLocked(key string, tier queue.Tier) {
	m.queue.Push(key, tier, m.rankLocked(key))
}

func (m *Manager) emitStateLocked(key string, t *model.Task) {
	m.events.post(Event{
		Kind:     EventStateChanged,
		Key:      key,
		State:    t.State,
		Received: t.ReceivedBytes,
		Expected: t.ExpectedBytes,
	})
}

// stopRunLocked cancels a live transfer asking for a resume token. The
// task reads as stopped right away; the token is attached when the
// transfer reports back.
func (m *Manager) stopRunLocked(key string, t *model.Task, r *run, fx *effects) {
	r.stopping = true
	r.suspended = false
	fx.add(func() { r.transfer.Cancel(true) })
	m.deactivateLocked(key)
	t.State = model.StateStopped
	m.emitStateLocked(key, t)
}

// dropRunLocked cancels a live transfer and forgets it. Whatever the
// transfer reports afterwards is cleaned up and otherwise ignored.
func (m *Manager) dropRunLocked(key string, fx *effects) {
	r := m.runs[key]
	if r == nil {
		return
	}
	delete(m.runs, key)
	m.deactivateLocked(key)
	if !r.stopping {
		fx.add(func() { r.transfer.Cancel(false) })
	}
}

func (m *Manager) discardTokenLocked(key string, token []byte, fx *effects) {
	if len(token) == 0 {
		return
	}
	fx.add(func() {
		if err := m.adapter.Discard(token); err != nil {
			m.logger.Warn("discarding resume token", "key", key, "err", err)
		}
	})
}

func (m *Manager) removeFileLocked(key, path string, fx *effects) {
	if path == "" {
		return
	}
	fx.add(func() {
		if err := ioutils.RemoveFile(path); err != nil {
			m.reportFileError(key, path, err)
		}
	})
}

// reportFileError logs a failed file operation and delivers it to the
// fallback completion handlers as an error wrapping ErrFileSystem. Task
// handlers are kept for the end of the task's next transfer.
func (m *Manager) reportFileError(key, path string, err error) {
	m.logger.Warn("removing file", "key", key, "path", path, "err", err)
	m.events.post(Event{
		Kind:     EventCompleted,
		Key:      key,
		Location: path,
		Err:      fmt.Errorf("%w: %w", ErrFileSystem, err),
	})
}

func (m *Manager) checkDrainedLocked() {
	if m.closing && len(m.runs) == 0 {
		m.drainOnce.Do(func() { close(m.drained) })
	}
}

// observer routes the callbacks of one transfer back to the manager.
type observer struct {
	m   *Manager
	key string
	run *run
}

func (o *observer) Progress(received, expected int64) {
	o.m.progress(o.key, o.run, received, expected)
}

func (o *observer) Done(res transfer.Result) {
	o.m.finish(o.key, o.run, res)
}

func (m *Manager) progress(key string, r *run, received, expected int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[key]
	if m.runs[key] != r || t == nil {
		return
	}
	t.ReceivedBytes = received
	if expected > 0 {
		t.ExpectedBytes = expected
	}
	if t.State == model.StateDownloading {
		m.events.post(Event{Kind: EventProgress, Key: key, State: t.State, Received: received, Expected: t.ExpectedBytes})
	}
}

func (m *Manager) finish(key string, r *run, res transfer.Result) {
	m.update(func(fx *effects) {
		defer m.checkDrainedLocked()
		t := m.tasks[key]
		if m.runs[key] != r || t == nil {
			// the task was deleted or restarted meanwhile
			m.discardTokenLocked(key, res.ResumeToken, fx)
			m.removeFileLocked(key, res.Location, fx)
			return
		}
		delete(m.runs, key)
		m.deactivateLocked(key)
		if res.Expected > 0 {
			t.ExpectedBytes = res.Expected
		}

		switch {
		case res.Err == nil && res.Location != "":
			m.succeedLocked(key, t, res)
		case res.Err == nil:
			m.failLocked(key, t, transfer.ErrEmptyFile)
		case errors.Is(res.Err, transfer.ErrCancelled) && (r.stopping || r.requeue):
			m.settleStopLocked(key, t, r, res)
		default:
			m.discardTokenLocked(key, res.ResumeToken, fx)
			m.failLocked(key, t, res.Err)
		}
	})
}

func (m *Manager) succeedLocked(key string, t *model.Task, res transfer.Result) {
	t.State = model.StateFinished
	t.FileLocation = res.Location
	if res.ContentType != "" {
		t.FileType = res.ContentType
	}
	t.ReceivedBytes = res.Received
	t.ExpectedBytes = max(res.Expected, res.Received)
	t.ResumeToken = nil
	t.LastError = ""
	t.AutoResume = false
	m.logger.Info("download finished", "key", key, "location", res.Location, "bytes", res.Received)
	m.emitStateLocked(key, t)
	m.completeLocked(key, res.Location, nil)
}

// failLocked moves a task back to pending. Failure is not a state of its
// own; the error is kept in LastError and delivered to the handler.
func (m *Manager) failLocked(key string, t *model.Task, err error) {
	t.State = model.StatePending
	t.ReceivedBytes = 0
	t.ResumeToken = nil
	t.FileLocation = ""
	t.LastError = err.Error()
	t.AutoResume = false
	m.logger.Warn("download failed", "key", key, "err", err)
	m.emitStateLocked(key, t)
	m.completeLocked(key, "", err)
}

// settleStopLocked attaches the token reported by a stopped transfer. An
// adapter that could not produce one leaves the task pending with no
// progress.
func (m *Manager) settleStopLocked(key string, t *model.Task, r *run, res transfer.Result) {
	token := res.ResumeToken
	if len(token) > 0 {
		t.ReceivedBytes = res.Received
	} else {
		token = nil
		t.ReceivedBytes = 0
	}
	if r.requeue {
		if token != nil {
			m.stash[key] = token
		}
		m.pushLocked(key, queue.Priority)
		return
	}
	if token != nil {
		t.ResumeToken = token
		return
	}
	t.State = model.StatePending
	m.emitStateLocked(key, t)
}

func (m *Manager) completeLocked(key, location string, err error) {
	handler := m.handlers[key]
	delete(m.handlers, key)
	m.events.post(Event{Kind: EventCompleted, Key: key, Location: location, Err: err, handler: handler})
}

func (m *Manager) emitAggregate() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev := Event{
		Kind:    EventAggregate,
		Active:  m.queue.ActiveCount(),
		Waiting: m.queue.WaitingCount(),
		Limit:   m.queue.Limit(),
	}
	for _, t := range m.tasks {
		if t.State == model.StateDownloading {
			ev.Received += t.ReceivedBytes
			ev.Expected += t.ExpectedBytes
		}
	}
	m.events.post(ev)
}

// reconcile repairs bookkeeping that drifted from the task records, such
// as a slot still held by a transfer that is gone.
func (m *Manager) reconcile() {
	m.update(func(fx *effects) {
		for _, key := range m.queue.Snapshot().Active {
			t, r := m.tasks[key], m.runs[key]
			if t == nil || r == nil || r.suspended || r.stopping || t.State != model.StateDownloading {
				m.logger.Warn("releasing orphaned slot", "key", key)
				m.deactivateLocked(key)
			}
		}
		for key, r := range m.runs {
			if m.tasks[key] == nil {
				m.logger.Warn("cancelling transfer without a task", "key", key)
				delete(m.runs, key)
				if !r.stopping {
					fx.add(func() { r.transfer.Cancel(false) })
				}
			}
		}
		for key, t := range m.tasks {
			if t.State == model.StateDownloading && (m.runs[key] == nil || !m.queue.IsActive(key)) {
				m.logger.Warn("requeueing task without a transfer", "key", key)
				m.dropRunLocked(key, fx)
				t.State = model.StatePending
				t.ReceivedBytes = 0
				m.emitStateLocked(key, t)
				m.pushLocked(key, queue.Incidental)
			}
		}
	})
}
