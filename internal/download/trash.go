package download

import (
	"slices"

	"golang.org/x/sync/errgroup"

	ioutils "github.com/handiism/dlmanager/internal/io"
	"github.com/handiism/dlmanager/internal/model"
)

// cleanupWorkers bounds concurrent file removals when emptying the trash.
const cleanupWorkers = 4

// Trash returns the trashed tasks, most recently deleted last.
func (m *Manager) Trash() []model.Task {
	m.wait()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Task, len(m.trash))
	for i, t := range m.trash {
		out[i] = t.Clone()
	}
	return out
}

// TrashEnabled reports whether Delete moves tasks to the trash.
func (m *Manager) TrashEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opts.TrashEnabled
}

// SetTrashEnabled turns the trash on or off. Entries already in the trash
// stay there.
func (m *Manager) SetTrashEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts.TrashEnabled = enabled
}

// RestoreFromTrash moves trashed tasks back into the list.
//
// Under manual ordering at is required and names the section and row the
// first restored task is inserted at; the rest follow it. Otherwise at is
// ignored and the tasks reappear where the sort mode puts them. A finished
// task whose file no longer exists is restored as pending.
//
// It returns the restored keys, or nil if nothing was restored.
func (m *Manager) RestoreFromTrash(keys []string, at *model.Position) []string {
	m.wait()
	keys = uniqueKeys(keys)
	missing := m.missingTrashFiles(keys)

	var restored []string
	m.update(func(fx *effects) {
		manual := m.opts.SortMode == model.SortManual
		if manual && !m.validInsertLocked(at) {
			return
		}
		var row int
		if manual {
			row = at.Row
		}
		for _, key := range keys {
			i := m.trashIndexLocked(key)
			if i < 0 || m.tasks[key] != nil {
				continue
			}
			t := m.trash[i]
			m.trash = slices.Delete(m.trash, i, i+1)
			if t.State != model.StateFinished || missing[key] {
				t.State = model.StatePending
				t.ReceivedBytes = 0
				t.FileLocation = ""
			}
			m.tasks[key] = &t
			if manual {
				rows := m.sections[at.Section].Keys
				m.sections[at.Section].Keys = slices.Insert(rows, row, key)
				row++
			}
			m.emitStateLocked(key, &t)
			restored = append(restored, key)
		}
	})
	return restored
}

// missingTrashFiles checks the files of finished trash entries without
// holding the lock.
func (m *Manager) missingTrashFiles(keys []string) map[string]bool {
	m.mu.RLock()
	locations := make(map[string]string)
	for _, key := range keys {
		if i := m.trashIndexLocked(key); i >= 0 && m.trash[i].State == model.StateFinished {
			locations[key] = m.trash[i].FileLocation
		}
	}
	m.mu.RUnlock()

	missing := make(map[string]bool)
	for key, path := range locations {
		exists, err := ioutils.FileExists(path)
		if path == "" || err != nil || !exists {
			missing[key] = true
		}
	}
	return missing
}

// CleanupTrash permanently removes trash entries and their files.
//
// It returns the removed keys, or nil if nothing was removed.
func (m *Manager) CleanupTrash(keys []string) []string {
	m.wait()
	return m.cleanup(func() []string { return uniqueKeys(keys) })
}

// EmptyTrash permanently removes every trash entry.
func (m *Manager) EmptyTrash() []string {
	m.wait()
	return m.cleanup(func() []string {
		keys := make([]string, len(m.trash))
		for i, t := range m.trash {
			keys[i] = t.URL
		}
		return keys
	})
}

func (m *Manager) cleanup(keysLocked func() []string) []string {
	var removed []string
	m.update(func(fx *effects) {
		files := make(map[string]string)
		for _, key := range keysLocked() {
			i := m.trashIndexLocked(key)
			if i < 0 {
				continue
			}
			if t := m.trash[i]; t.State == model.StateFinished && t.FileLocation != "" {
				files[key] = t.FileLocation
			}
			m.trash = slices.Delete(m.trash, i, i+1)
			removed = append(removed, key)
		}
		if len(files) > 0 {
			fx.add(func() { m.removeFiles(files) })
		}
	})
	return removed
}

// removeFiles removes the files of cleaned up trash entries, keyed by task.
func (m *Manager) removeFiles(files map[string]string) {
	var g errgroup.Group
	g.SetLimit(cleanupWorkers)
	for key, path := range files {
		g.Go(func() error {
			if err := ioutils.RemoveFile(path); err != nil {
				m.reportFileError(key, path, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) trashIndexLocked(key string) int {
	return slices.IndexFunc(m.trash, func(t model.Task) bool { return t.URL == key })
}
