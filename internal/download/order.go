package download

import (
	"slices"

	"github.com/handiism/dlmanager/internal/model"
)

// Sections returns the current list layout. Under manual ordering it is
// the caller-controlled layout; otherwise it is derived from the sort mode.
func (m *Manager) Sections() []model.Section {
	m.wait()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return model.CloneSections(m.sectionsLocked())
}

// Position returns where key sits in the current layout.
func (m *Manager) Position(key string) (model.Position, bool) {
	m.wait()
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positionsLocked()[key]
	return pos, ok
}

// SortMode returns the current sort mode.
func (m *Manager) SortMode() model.SortMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opts.SortMode
}

// SortOrder returns the current sort order.
func (m *Manager) SortOrder() model.SortOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opts.SortOrder
}

// SetSort changes the list layout. Switching to manual ordering starts
// from the layout of the previous mode; leaving it drops the manual
// layout.
func (m *Manager) SetSort(mode model.SortMode, order model.SortOrder) {
	m.wait()
	m.update(func(fx *effects) {
		switch {
		case mode == model.SortManual && m.opts.SortMode != model.SortManual:
			m.sections = model.Arrange(m.taskValuesLocked(), m.opts.SortMode, m.opts.SortOrder)
			if len(m.sections) == 0 {
				m.sections = []model.Section{{}}
			}
		case mode != model.SortManual:
			m.sections = nil
		}
		m.opts.SortMode = mode
		m.opts.SortOrder = order
	})
}

// SetDisplayName sets the name shown for a task. An empty name falls back
// to the name derived from the URL.
func (m *Manager) SetDisplayName(key, name string) bool {
	return m.apply([]string{key}, func(_ string, t *model.Task, _ *effects) bool {
		t.DisplayName = name
		return true
	}) != nil
}

// MoveTask moves a task to another position under manual ordering. The
// row is interpreted after the task was taken out of its old place.
func (m *Manager) MoveTask(key string, to model.Position) bool {
	m.wait()
	moved := false
	m.update(func(fx *effects) {
		if m.opts.SortMode != model.SortManual || m.tasks[key] == nil {
			return
		}
		from, ok := m.positionsLocked()[key]
		if !ok {
			return
		}
		m.sections[from.Section].Keys = slices.Delete(m.sections[from.Section].Keys, from.Row, from.Row+1)
		if !m.validInsertLocked(&to) {
			m.sections[from.Section].Keys = slices.Insert(m.sections[from.Section].Keys, from.Row, key)
			return
		}
		m.sections[to.Section].Keys = slices.Insert(m.sections[to.Section].Keys, to.Row, key)
		moved = true
	})
	return moved
}

// InsertSection adds an empty section at index under manual ordering.
func (m *Manager) InsertSection(index int, title string) bool {
	m.wait()
	ok := false
	m.update(func(fx *effects) {
		if m.opts.SortMode != model.SortManual || index < 0 || index > len(m.sections) {
			return
		}
		m.sections = slices.Insert(m.sections, index, model.Section{Title: title})
		ok = true
	})
	return ok
}

// SetSectionTitle renames a section under manual ordering.
func (m *Manager) SetSectionTitle(index int, title string) bool {
	m.wait()
	ok := false
	m.update(func(fx *effects) {
		if m.opts.SortMode != model.SortManual || index < 0 || index >= len(m.sections) {
			return
		}
		m.sections[index].Title = title
		ok = true
	})
	return ok
}

// RemoveSection removes an empty section under manual ordering.
func (m *Manager) RemoveSection(index int) bool {
	m.wait()
	ok := false
	m.update(func(fx *effects) {
		if m.opts.SortMode != model.SortManual || index < 0 || index >= len(m.sections) {
			return
		}
		if len(m.sections[index].Keys) > 0 {
			return
		}
		m.sections = slices.Delete(m.sections, index, index+1)
		ok = true
	})
	return ok
}

func (m *Manager) sectionsLocked() []model.Section {
	if m.opts.SortMode == model.SortManual {
		return m.sections
	}
	return model.Arrange(m.taskValuesLocked(), m.opts.SortMode, m.opts.SortOrder)
}

func (m *Manager) taskValuesLocked() []model.Task {
	out := make([]model.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, *t)
	}
	return out
}

func (m *Manager) positionsLocked() map[string]model.Position {
	positions := make(map[string]model.Position, len(m.tasks))
	for i, s := range m.sectionsLocked() {
		for j, key := range s.Keys {
			positions[key] = model.Position{Section: i, Row: j}
		}
	}
	return positions
}

func (m *Manager) orderedKeysLocked() []string {
	var keys []string
	for _, s := range m.sectionsLocked() {
		keys = append(keys, s.Keys...)
	}
	return keys
}

// rankLocked orders incidental queue entries: list position under manual
// ordering, addition order otherwise.
func (m *Manager) rankLocked(key string) int64 {
	if m.opts.SortMode == model.SortManual {
		var n int64
		for _, s := range m.sections {
			if i := slices.Index(s.Keys, key); i >= 0 {
				return n + int64(i)
			}
			n += int64(len(s.Keys))
		}
		return n
	}
	if t := m.tasks[key]; t != nil {
		return t.AddedAt
	}
	return 0
}

// placeLocked appends a new key to the last manual section.
func (m *Manager) placeLocked(key string) {
	if m.opts.SortMode != model.SortManual {
		return
	}
	if len(m.sections) == 0 {
		m.sections = []model.Section{{}}
	}
	last := len(m.sections) - 1
	m.sections[last].Keys = append(m.sections[last].Keys, key)
}

func (m *Manager) unplaceLocked(key string) {
	for i := range m.sections {
		m.sections[i].Keys = slices.DeleteFunc(m.sections[i].Keys, func(k string) bool { return k == key })
	}
}

// validInsertLocked reports whether at names an existing section and a row
// between 0 and the section length.
func (m *Manager) validInsertLocked(at *model.Position) bool {
	if at == nil || at.Section < 0 || at.Section >= len(m.sections) {
		return false
	}
	return at.Row >= 0 && at.Row <= len(m.sections[at.Section].Keys)
}
