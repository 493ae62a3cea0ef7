package tui

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handiism/dlmanager/internal/download"
	"github.com/handiism/dlmanager/internal/model"
	"github.com/handiism/dlmanager/internal/queue"
)

type stubManager struct {
	tasks []model.Task
	limit int
	calls []string
}

func (s *stubManager) Tasks() []model.Task     { return append([]model.Task(nil), s.tasks...) }
func (s *stubManager) WaitingKeys() []string   { return nil }
func (s *stubManager) ActiveKeys() []string    { return []string{"a", "b"} }
func (s *stubManager) MaxConcurrent() int      { return s.limit }
func (s *stubManager) SetMaxConcurrent(n int)  { s.limit = queue.Normalize(n) }
func (s *stubManager) record(op string, keys []string) []string {
	s.calls = append(s.calls, op+" "+keys[0])
	if keys[0] == "https://example.com/finished" {
		return nil
	}
	return keys
}

func (s *stubManager) Download(keys []string, _ ...download.DownloadOption) []string {
	s.tasks = append(s.tasks, model.Task{URL: keys[0], FileName: "new", State: model.StatePending})
	return s.record("download", keys)
}
func (s *stubManager) Pause(keys []string) []string  { return s.record("pause", keys) }
func (s *stubManager) Resume(keys []string) []string { return s.record("resume", keys) }
func (s *stubManager) Stop(keys []string) []string   { return s.record("stop", keys) }
func (s *stubManager) Restart(keys []string, keep bool) []string {
	return s.record("restart", keys)
}
func (s *stubManager) Delete(keys []string, keep bool) []string {
	if keep {
		return s.record("delete-keep", keys)
	}
	return s.record("delete", keys)
}

func newStub() *stubManager {
	return &stubManager{
		limit: 3,
		tasks: []model.Task{
			{URL: "https://example.com/a.iso", FileName: "a.iso", State: model.StateDownloading, ReceivedBytes: 512, ExpectedBytes: 2048},
			{URL: "https://example.com/finished", FileName: "finished", State: model.StateFinished},
		},
	}
}

func press(t *testing.T, m Model, keys ...string) Model {
	t.Helper()
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		case "down":
			msg = tea.KeyMsg{Type: tea.KeyDown}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func TestTaskActions(t *testing.T) {
	tests := []struct {
		key  string
		call string
	}{
		{"p", "pause https://example.com/a.iso"},
		{"r", "resume https://example.com/a.iso"},
		{"s", "stop https://example.com/a.iso"},
		{"R", "restart https://example.com/a.iso"},
		{"x", "delete https://example.com/a.iso"},
		{"X", "delete-keep https://example.com/a.iso"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			stub := newStub()
			m := press(t, NewModel(stub), tt.key)
			assert.Equal(t, []string{tt.call}, stub.calls)
			assert.Contains(t, m.status, "https://example.com/a.iso")
		})
	}
}

func TestNoOpActionReportsStatus(t *testing.T) {
	stub := newStub()
	m := press(t, NewModel(stub), "down", "p")
	assert.Equal(t, []string{"pause https://example.com/finished"}, stub.calls)
	assert.Equal(t, "nothing to do for https://example.com/finished", m.status)
}

func TestLimitKeys(t *testing.T) {
	stub := newStub()
	m := NewModel(stub)

	m = press(t, m, "+", "+")
	assert.Equal(t, 5, stub.limit)
	m = press(t, m, "-")
	assert.Equal(t, 4, stub.limit)
	m = press(t, m, "0")
	assert.Equal(t, queue.Unlimited, stub.limit)
	assert.Contains(t, m.View(), "Active: 2/unlimited")
	m = press(t, m, "+")
	assert.Equal(t, queue.Unlimited, stub.limit)
	press(t, m, "-")
	assert.Equal(t, 2, stub.limit, "leaving unlimited starts from the active count")
}

func TestAddURL(t *testing.T) {
	stub := newStub()
	m := press(t, NewModel(stub), "a")
	assert.Equal(t, modeAdd, m.mode)
	assert.Contains(t, m.View(), "Enter URL:")

	m = press(t, m, "h", "t", "t", "p", "s", ":", "/", "/", "x", ".", "y", "/", "z", "enter")
	assert.Equal(t, modeList, m.mode)
	assert.Equal(t, []string{"download https://x.y/z"}, stub.calls)
	assert.Len(t, m.tasks, 3)

	m = press(t, m, "a", "esc")
	assert.Equal(t, modeList, m.mode)
}

func TestEvents(t *testing.T) {
	stub := newStub()
	m := NewModel(stub)

	next, _ := m.Update(EventMsg{Event: download.Event{Kind: download.EventProgress, Key: "https://example.com/a.iso", Received: 1024, Expected: 2048}})
	m = next.(Model)
	assert.Equal(t, int64(1024), m.tasks[0].ReceivedBytes)
	assert.Contains(t, m.View(), "1.00 KiB / 2.00 KiB (50%)")

	next, _ = m.Update(EventMsg{Event: download.Event{Kind: download.EventCompleted, Key: "https://example.com/a.iso", Err: errors.New("reset")}})
	m = next.(Model)
	require.Len(t, m.logs, 1)
	assert.True(t, m.logs[0].Failed)
	assert.Contains(t, m.View(), "failed https://example.com/a.iso: reset")

	next, _ = m.Update(EventMsg{Event: download.Event{Kind: download.EventAggregate, Active: 1, Waiting: 4, Limit: 3}})
	m = next.(Model)
	assert.Contains(t, m.View(), "Active: 1/3 | Waiting: 4")
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.50 KiB", humanBytes(1536))
	assert.Equal(t, "3.00 GiB", humanBytes(3<<30))
}
