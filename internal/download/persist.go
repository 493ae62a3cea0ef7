package download

import (
	"cmp"
	"slices"

	"github.com/handiism/dlmanager/internal/model"
	"github.com/handiism/dlmanager/internal/queue"
	"github.com/handiism/dlmanager/internal/store"
	"github.com/handiism/dlmanager/internal/transfer"
)

// snapshot captures the state to persist. Live transfers cannot survive a
// restart, so their tasks are written as pending and marked to be queued
// again on load. Queued tasks keep their resume token as stopped tasks.
// Suspended transfers are returned separately for checkpoint.
func (m *Manager) snapshot() (store.Snapshot, map[string]transfer.Transfer) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	positions := m.positionsLocked()
	snap := store.Snapshot{Tasks: make(map[string]model.Task, len(m.tasks))}
	suspended := make(map[string]transfer.Transfer)
	for key, t := range m.tasks {
		c := t.Clone()
		c.Position = positions[key]
		r := m.runs[key]
		switch {
		case t.State == model.StateDownloading:
			c.State = model.StatePending
			c.ReceivedBytes = 0
			c.AutoResume = true

		case m.queue.Waiting(key):
			c.AutoResume = true
			switch token := m.stash[key]; {
			case token != nil:
				c.State = model.StateStopped
				c.ResumeToken = append([]byte(nil), token...)
			case r != nil && r.suspended:
				suspended[key] = r.transfer
			default:
				c.ReceivedBytes = 0
			}

		case r != nil && r.requeue:
			c.ReceivedBytes = 0
			c.AutoResume = true

		case r != nil && r.stopping:
			// the token has not arrived yet
			c.State = model.StatePending
			c.ReceivedBytes = 0

		case r != nil && r.suspended:
			suspended[key] = r.transfer
		}
		snap.Tasks[key] = c
	}

	if m.opts.SortMode == model.SortManual && slices.ContainsFunc(m.sections, func(s model.Section) bool {
		return s.Title != "" || len(s.Keys) > 0
	}) {
		snap.Sections = model.CloneSections(m.sections)
	}
	for _, t := range m.trash {
		snap.Trash = append(snap.Trash, t.Clone())
	}
	return snap, suspended
}

// checkpoint records the partial data of suspended transfers as resume
// tokens, so a restart without Close can continue them or discard their
// partial files. Paused tasks whose transfer cannot checkpoint are written
// with no progress.
func checkpoint(snap store.Snapshot, suspended map[string]transfer.Transfer) {
	for key, tr := range suspended {
		c := snap.Tasks[key]
		var token []byte
		if cp, ok := tr.(transfer.Checkpointer); ok {
			token = cp.Checkpoint()
		}
		if len(token) == 0 {
			c.ReceivedBytes = 0
		} else {
			c.State = model.StateStopped
			c.ResumeToken = token
		}
		snap.Tasks[key] = c
	}
}

// restoreLocked installs a loaded snapshot, repairs records that break the
// state invariants and queues the tasks marked for automatic resumption.
func (m *Manager) restoreLocked(snap store.Snapshot) {
	for key, t := range snap.Tasks {
		if _, err := model.ValidateURL(key); err != nil {
			m.logger.Warn("dropping persisted task", "key", key, "err", err)
			continue
		}
		t.URL = key
		switch t.State {
		case model.StateDownloading:
			t.State = model.StatePending
			t.ReceivedBytes = 0
			t.AutoResume = true
		case model.StateStopped:
			if len(t.ResumeToken) == 0 {
				t.State = model.StatePending
				t.ReceivedBytes = 0
			}
		case model.StateFinished:
			if t.FileLocation == "" {
				t.State = model.StatePending
				t.ReceivedBytes = 0
			}
		case model.StateNotInList:
			t.State = model.StatePending
		}
		if t.State != model.StateStopped {
			t.ResumeToken = nil
		}
		if t.State != model.StateFinished {
			t.FileLocation = ""
		}
		if t.FileName == "" {
			t.FileName = model.DeriveFileName(key)
		}
		m.tasks[key] = &t
		m.seq = max(m.seq, t.AddedAt)
	}

	seen := make(map[string]bool)
	for _, t := range snap.Trash {
		if t.URL == "" || m.tasks[t.URL] != nil || seen[t.URL] {
			continue
		}
		seen[t.URL] = true
		m.trash = append(m.trash, t)
		m.seq = max(m.seq, t.AddedAt)
	}

	if m.opts.SortMode == model.SortManual {
		m.sections = m.repairSectionsLocked(snap.Sections)
	}

	var resume []string
	for key, t := range m.tasks {
		if t.AutoResume {
			resume = append(resume, key)
		}
	}
	slices.SortFunc(resume, func(a, b string) int {
		return cmp.Compare(m.rankLocked(a), m.rankLocked(b))
	})
	for _, key := range resume {
		t := m.tasks[key]
		t.AutoResume = false
		if t.State == model.StateStopped {
			m.stash[key] = t.ResumeToken
			t.ResumeToken = nil
			t.State = model.StatePending
		}
		if t.State == model.StatePending {
			m.pushLocked(key, queue.Incidental)
		}
	}
}

// repairSectionsLocked keeps the persisted manual layout for the tasks
// that exist and appends the tasks it does not mention to the last
// section, in their persisted position order.
func (m *Manager) repairSectionsLocked(persisted []model.Section) []model.Section {
	placed := make(map[string]bool)
	sections := make([]model.Section, 0, len(persisted))
	for _, s := range persisted {
		section := model.Section{Title: s.Title}
		for _, key := range s.Keys {
			if m.tasks[key] == nil || placed[key] {
				continue
			}
			placed[key] = true
			section.Keys = append(section.Keys, key)
		}
		sections = append(sections, section)
	}

	var rest []*model.Task
	for key, t := range m.tasks {
		if !placed[key] {
			rest = append(rest, t)
		}
	}
	slices.SortFunc(rest, func(a, b *model.Task) int {
		return cmp.Or(
			cmp.Compare(a.Position.Section, b.Position.Section),
			cmp.Compare(a.Position.Row, b.Position.Row),
			cmp.Compare(a.AddedAt, b.AddedAt),
		)
	})
	if len(sections) == 0 {
		sections = append(sections, model.Section{})
	}
	last := len(sections) - 1
	for _, t := range rest {
		sections[last].Keys = append(sections[last].Keys, t.URL)
	}
	return sections
}
