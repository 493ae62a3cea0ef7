package download

import (
	"github.com/handiism/dlmanager/internal/model"
)

// State returns the state of key, model.StateNotInList if unknown.
func (m *Manager) State(key string) model.State {
	m.wait()
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t := m.tasks[key]; t != nil {
		return t.State
	}
	return model.StateNotInList
}

// Progress returns the completed fraction of key in [0, 1].
func (m *Manager) Progress(key string) float64 {
	m.wait()
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t := m.tasks[key]; t != nil {
		return t.Progress()
	}
	return 0
}

// ResumeToken returns a copy of the resume token of a stopped task.
func (m *Manager) ResumeToken(key string) []byte {
	m.wait()
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t := m.tasks[key]; t != nil && t.ResumeToken != nil {
		return append([]byte(nil), t.ResumeToken...)
	}
	return nil
}

// FileLocation returns the file of a finished task.
func (m *Manager) FileLocation(key string) string {
	m.wait()
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t := m.tasks[key]; t != nil {
		return t.FileLocation
	}
	return ""
}

// IsRunning reports whether key is downloading.
func (m *Manager) IsRunning(key string) bool {
	return m.State(key) == model.StateDownloading
}

// Task returns a copy of the record of key with its current position.
func (m *Manager) Task(key string) (model.Task, bool) {
	m.wait()
	m.mu.RLock()
	defer m.mu.RUnlock()
	t := m.tasks[key]
	if t == nil {
		return model.Task{}, false
	}
	c := t.Clone()
	c.Position = m.positionsLocked()[key]
	return c, true
}

// Tasks returns copies of all records in list order.
func (m *Manager) Tasks() []model.Task {
	m.wait()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Task
	for i, s := range m.sectionsLocked() {
		for j, key := range s.Keys {
			c := m.tasks[key].Clone()
			c.Position = model.Position{Section: i, Row: j}
			out = append(out, c)
		}
	}
	return out
}

// Keys returns all task keys in list order.
func (m *Manager) Keys() []string {
	m.wait()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.orderedKeysLocked()
}

// ActiveKeys returns the keys holding a download slot, sorted.
func (m *Manager) ActiveKeys() []string {
	m.wait()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queue.Snapshot().Active
}

// WaitingKeys returns the queued keys in admission order.
func (m *Manager) WaitingKeys() []string {
	m.wait()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queue.Snapshot().Waiting
}

// MaxConcurrent returns the effective cap, queue.Unlimited or positive.
func (m *Manager) MaxConcurrent() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queue.Limit()
}

// SetMaxConcurrent changes the cap. Zero and negative values mean
// unlimited. Lowering the cap stops nothing; admissions wait until enough
// downloads have left.
func (m *Manager) SetMaxConcurrent(n int) {
	m.wait()
	m.update(func(fx *effects) {
		if !m.queue.SetLimit(n) {
			return
		}
		m.opts.MaxConcurrent = m.queue.Limit()
		m.logger.Info("concurrency limit changed", "limit", m.queue.Limit())
		m.events.post(Event{Kind: EventLimitChanged, Limit: m.queue.Limit()})
	})
}

// PauseBySuspension reports whether Pause suspends transfers instead of
// stopping them.
func (m *Manager) PauseBySuspension() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opts.PauseBySuspension
}

// SetPauseBySuspension selects how Pause treats downloading tasks.
func (m *Manager) SetPauseBySuspension(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts.PauseBySuspension = enabled
}
