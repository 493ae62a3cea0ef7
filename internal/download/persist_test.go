package download

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handiism/dlmanager/internal/model"
	"github.com/handiism/dlmanager/internal/store"
)

func newTestEngine(t *testing.T) *store.Engine {
	t.Helper()
	return store.NewEngine(store.NewFileBackend(memfs.New()), t.Name())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	opts := testOptions(t)
	opts.MaxConcurrent = 2
	urls := testURLs(5)
	finished, stopped, failed, running, paused := urls[0], urls[1], urls[2], urls[3], urls[4]

	first := newFakeAdapter()
	m := openManager(t, first, engine, opts)

	m.Download([]string{finished, stopped})
	first.last(stopped).progress(10, 100)
	finish(t, m, first, finished)
	m.Stop([]string{stopped})
	require.Eventually(t, func() bool { return m.ResumeToken(stopped) != nil }, eventually, time.Millisecond)

	m.Download([]string{failed})
	first.last(failed).fail(errors.New("boom"))

	m.SetMaxConcurrent(1)
	m.Download([]string{running, paused})
	m.Pause([]string{paused})
	require.Equal(t, model.StateDownloading, m.State(running))
	require.Equal(t, model.StatePaused, m.State(paused))

	require.NoError(t, m.Save(ctx))

	second := newFakeAdapter()
	reopened := openManager(t, second, engine, opts)
	for _, key := range []string{finished, stopped, failed, paused} {
		want, _ := m.Task(key)
		got, ok := reopened.Task(key)
		require.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}
	assert.Equal(t, "boom", func() string { task, _ := reopened.Task(failed); return task.LastError }())

	assert.Equal(t, model.StateDownloading, reopened.State(running), "interrupted downloads continue")
	assert.Equal(t, 1, second.count(running))
	assert.Zero(t, second.count(stopped), "stopped tasks wait for Resume")
	assert.Equal(t, []byte(stopped+"@10"), reopened.ResumeToken(stopped))
}

func TestSaveLoad_ManualLayoutAndTrash(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	opts := testOptions(t)
	opts.SortMode = model.SortManual
	urls := testURLs(4)

	m := openManager(t, newFakeAdapter(), engine, opts)
	m.Download(urls[:3])
	require.True(t, m.InsertSection(0, "First"))
	require.True(t, m.MoveTask(urls[2], model.Position{Section: 0, Row: 0}))
	m.Download(urls[3:])
	m.Delete(urls[3:], false)
	require.NoError(t, m.Save(ctx))

	reopened := openManager(t, newFakeAdapter(), engine, opts)
	assert.Equal(t, m.Sections(), reopened.Sections())
	require.Len(t, reopened.Trash(), 1)
	assert.Equal(t, urls[3], reopened.Trash()[0].URL)

	// new tasks keep counting from the persisted sequence
	accepted := reopened.Download([]string{"https://example.com/next.bin"})
	require.Len(t, accepted, 1)
	task, _ := reopened.Task(accepted[0])
	assert.Greater(t, task.AddedAt, int64(len(urls)))
}

func TestLoad_RepairsRecords(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	urls := testURLs(4)
	require.NoError(t, engine.Save(ctx, store.Snapshot{
		Tasks: map[string]model.Task{
			urls[0]:        {URL: urls[0], State: model.StateStopped, ReceivedBytes: 50, AddedAt: 1},
			urls[1]:        {URL: urls[1], State: model.StateFinished, ReceivedBytes: 50, AddedAt: 2},
			urls[2]:        {URL: urls[2], State: model.StateDownloading, ReceivedBytes: 50, AddedAt: 3},
			urls[3]:        {URL: urls[3], State: model.StatePaused, ResumeToken: []byte("stale"), AddedAt: 4},
			"ftp://x/file": {State: model.StatePending, AddedAt: 5},
		},
		Trash: []model.Task{
			{URL: urls[0], State: model.StatePending},
			{URL: "https://example.com/trashed", State: model.StatePending},
			{URL: "https://example.com/trashed", State: model.StatePending},
		},
	}))

	adapter := newFakeAdapter()
	m := openManager(t, adapter, engine, testOptions(t))

	assert.Equal(t, model.StatePending, m.State(urls[0]), "stopped without a token")
	task, _ := m.Task(urls[0])
	assert.Zero(t, task.ReceivedBytes)
	assert.Equal(t, model.StatePending, m.State(urls[1]), "finished without a file")
	assert.Equal(t, model.StateDownloading, m.State(urls[2]))
	assert.Nil(t, adapter.last(urls[2]).req.ResumeToken)
	task, _ = m.Task(urls[3])
	assert.Nil(t, task.ResumeToken)
	assert.Equal(t, "file-3.bin", task.FileName)
	assert.Equal(t, model.StateNotInList, m.State("ftp://x/file"))

	trash := m.Trash()
	require.Len(t, trash, 1, "entries shadowed by a task or repeated are dropped")
	assert.Equal(t, "https://example.com/trashed", trash[0].URL)
}

func TestLoad_AutoResumeOrder(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)
	urls := testURLs(3)
	require.NoError(t, engine.Save(ctx, store.Snapshot{
		Tasks: map[string]model.Task{
			urls[0]: {URL: urls[0], State: model.StatePending, AddedAt: 3, AutoResume: true},
			urls[1]: {URL: urls[1], State: model.StateStopped, ResumeToken: []byte("t"), ReceivedBytes: 5, AddedAt: 1, AutoResume: true},
			urls[2]: {URL: urls[2], State: model.StatePending, AddedAt: 2, AutoResume: true},
		},
	}))

	opts := testOptions(t)
	opts.MaxConcurrent = 1
	adapter := newFakeAdapter()
	m := openManager(t, adapter, engine, opts)

	assert.Equal(t, model.StateDownloading, m.State(urls[1]))
	assert.Equal(t, []byte("t"), adapter.last(urls[1]).req.ResumeToken)
	assert.Equal(t, []string{urls[2], urls[0]}, m.WaitingKeys())

	// an explicit request overtakes tasks queued by the load
	m.Resume([]string{urls[0]})
	assert.Equal(t, []string{urls[0], urls[2]}, m.WaitingKeys())
}

func TestLoad_Failure(t *testing.T) {
	engine := store.NewEngine(corruptBackend{}, "broken")

	m, err := Open(context.Background(), newFakeAdapter(), engine, testOptions(t))
	require.Error(t, err)
	assert.Nil(t, m, "Open shuts a manager that failed to load down")

	m = New(newFakeAdapter(), engine, testOptions(t), WithLogger(slog.New(slog.DiscardHandler)))
	t.Cleanup(func() { m.events.close() })
	require.Error(t, m.Load(context.Background()))
	assert.Empty(t, m.Keys())
	assert.Len(t, m.Download(testURLs(1)), 1, "the manager stays usable")
}

// corruptBackend returns undecodable data for every record.
type corruptBackend struct{}

func (corruptBackend) Read(context.Context, string, string) ([]byte, error) {
	return []byte("{not json"), nil
}

func (corruptBackend) Write(context.Context, string, string, []byte) error { return nil }

func (corruptBackend) Delete(context.Context, string, string) error { return nil }

// gatedBackend holds the first write of the task record until released.
type gatedBackend struct {
	store.Backend
	once    sync.Once
	held    chan struct{}
	release chan struct{}
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{
		Backend: store.NewFileBackend(memfs.New()),
		held:    make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (b *gatedBackend) Write(ctx context.Context, namespace, name string, data []byte) error {
	if name == store.TasksRecord {
		gate := false
		b.once.Do(func() { gate = true })
		if gate {
			close(b.held)
			<-b.release
		}
	}
	return b.Backend.Write(ctx, namespace, name, data)
}

func TestSave_RunsOneAtATime(t *testing.T) {
	ctx := context.Background()
	backend := newGatedBackend()
	engine := store.NewEngine(backend, t.Name())
	opts := testOptions(t)
	opts.TrashEnabled = true
	a := newFakeAdapter()
	m := openManager(t, a, engine, opts)
	key := testURLs(1)[0]
	m.Download([]string{key})
	finish(t, m, a, key)

	first := make(chan error, 1)
	go func() { first <- m.Save(ctx) }()
	select {
	case <-backend.held:
	case <-time.After(eventually):
		t.Fatal("first save never wrote")
	}

	require.Equal(t, []string{key}, m.Delete([]string{key}, true))
	second := make(chan error, 1)
	go func() { second <- m.Save(ctx) }()
	select {
	case <-second:
		t.Fatal("second save finished while the first was still writing")
	case <-time.After(50 * time.Millisecond):
	}

	close(backend.release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	reopened := openManager(t, newFakeAdapter(), engine, opts)
	assert.Equal(t, model.StateNotInList, reopened.State(key))
	trash := reopened.Trash()
	require.Len(t, trash, 1)
	assert.Equal(t, key, trash[0].URL)
	assert.Equal(t, model.StateFinished, trash[0].State)
}

func TestSaveLoad_SectionTitlesWithoutTasks(t *testing.T) {
	engine := newTestEngine(t)
	opts := testOptions(t)
	opts.SortMode = model.SortManual

	m := openManager(t, newFakeAdapter(), engine, opts)
	require.True(t, m.SetSectionTitle(0, "Inbox"))
	require.True(t, m.InsertSection(1, "Later"))
	require.NoError(t, m.Save(context.Background()))

	reopened := openManager(t, newFakeAdapter(), engine, opts)
	sections := reopened.Sections()
	require.Len(t, sections, 2)
	assert.Equal(t, "Inbox", sections[0].Title)
	assert.Equal(t, "Later", sections[1].Title)
	assert.Empty(t, sections[0].Keys)
	assert.Empty(t, sections[1].Keys)
}

func TestSave_CheckpointsSuspendedTransfers(t *testing.T) {
	engine := newTestEngine(t)
	opts := testOptions(t)
	opts.PauseBySuspension = true
	urls := testURLs(2)
	checkpointed, plain := urls[0], urls[1]

	a := newFakeAdapter()
	a.checkpoints = true
	m := openManager(t, a, engine, opts)
	m.Download(urls)
	a.last(checkpointed).progress(10, 100)
	require.Equal(t, urls, m.Pause(urls))
	require.NoError(t, m.Save(context.Background()))

	assert.Equal(t, model.StatePaused, m.State(checkpointed), "saving leaves the live transfer alone")
	_, suspended, cancelled, _ := a.last(checkpointed).state()
	assert.True(t, suspended)
	assert.False(t, cancelled)

	second := newFakeAdapter()
	reopened := openManager(t, second, engine, opts)
	task, ok := reopened.Task(checkpointed)
	require.True(t, ok)
	assert.Equal(t, model.StateStopped, task.State)
	assert.Equal(t, []byte(checkpointed+"@10"), task.ResumeToken)
	assert.Equal(t, int64(10), task.ReceivedBytes)

	task, _ = reopened.Task(plain)
	assert.Equal(t, model.StatePaused, task.State, "nothing received, nothing to checkpoint")
	assert.Nil(t, task.ResumeToken)
	assert.Zero(t, task.ReceivedBytes)

	// the partial data of a checkpoint is released when the task goes
	reopened.Delete([]string{checkpointed}, false)
	assert.Equal(t, []string{checkpointed + "@10"}, second.discardedTokens())
}
