package download

import (
	"strings"

	ioutils "github.com/handiism/dlmanager/internal/io"
	"github.com/handiism/dlmanager/internal/model"
	"github.com/handiism/dlmanager/internal/queue"
)

// DownloadOption configures a Download call.
type DownloadOption func(*downloadConfig)

type downloadConfig struct {
	completion CompletionHandler
}

// WithCompletion sets a handler for the accepted tasks of one Download
// call. It is called once per task, for the first attempt that ends, and
// then released. Tasks with their own handler are not reported to the
// OnCompletion handlers.
func WithCompletion(h CompletionHandler) DownloadOption {
	return func(c *downloadConfig) { c.completion = h }
}

// Download creates a task for every new, valid http or https URL and
// queues it ahead of incidentally waiting tasks. A pending task that is
// neither queued nor running, such as one whose last attempt failed, is
// queued again. Keys held in the trash are rejected; restore them instead.
//
// It returns the accepted keys, or nil if none were accepted.
func (m *Manager) Download(keys []string, opts ...DownloadOption) []string {
	m.wait()
	var cfg downloadConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var accepted []string
	m.update(func(fx *effects) {
		for _, key := range uniqueKeys(keys) {
			if t, ok := m.tasks[key]; ok {
				if t.State != model.StatePending || m.queue.Waiting(key) || m.runs[key] != nil {
					continue
				}
				m.pushLocked(key, queue.Priority)
			} else {
				if m.trashIndexLocked(key) >= 0 {
					continue
				}
				if _, err := model.ValidateURL(key); err != nil {
					m.logger.Debug("rejecting download", "url", key, "err", err)
					continue
				}
				m.seq++
				t := &model.Task{
					URL:       key,
					State:     model.StatePending,
					FileName:  model.DeriveFileName(key),
					AddedAt:   m.seq,
					AddedTime: m.now(),
				}
				m.tasks[key] = t
				m.placeLocked(key)
				m.emitStateLocked(key, t)
				m.pushLocked(key, queue.Priority)
			}
			if cfg.completion != nil {
				m.handlers[key] = cfg.completion
			}
			accepted = append(accepted, key)
		}
	})
	return accepted
}

// Pause pauses downloading tasks and takes queued tasks out of the queue.
//
// With PauseBySuspension the transfer keeps its connection and its slot is
// freed; without it pausing degrades to Stop. A queued task that carries a
// resume token goes back to stopped.
//
// It returns the affected keys, or nil if nothing changed.
func (m *Manager) Pause(keys []string) []string {
	return m.apply(keys, m.pauseLocked)
}

// PauseAll pauses every task that can be paused.
func (m *Manager) PauseAll() []string {
	return m.apply(nil, m.pauseLocked)
}

func (m *Manager) pauseLocked(key string, t *model.Task, fx *effects) bool {
	r := m.runs[key]
	switch {
	case t.State == model.StateDownloading && r != nil:
		if !m.opts.PauseBySuspension {
			m.stopRunLocked(key, t, r, fx)
			return true
		}
		r.suspended = true
		fx.add(r.transfer.Suspend)
		m.deactivateLocked(key)
		t.State = model.StatePaused
		m.emitStateLocked(key, t)
		return true

	case t.State == model.StatePending && m.queue.Remove(key):
		if token := m.stash[key]; token != nil {
			delete(m.stash, key)
			t.ResumeToken = token
			t.State = model.StateStopped
		} else {
			t.State = model.StatePaused
		}
		m.emitStateLocked(key, t)
		return true

	case t.State == model.StatePending && r != nil && r.requeue:
		r.requeue = false
		t.State = model.StateStopped
		m.emitStateLocked(key, t)
		return true
	}
	return false
}

// Stop cancels downloading and paused transfers, keeping their progress
// as a resume token. An adapter that cannot produce a token leaves the
// task pending with no progress. Queued tasks leave the queue.
//
// It returns the affected keys, or nil if nothing changed.
func (m *Manager) Stop(keys []string) []string {
	return m.apply(keys, m.stopLocked)
}

// StopAll stops every task that can be stopped.
func (m *Manager) StopAll() []string {
	return m.apply(nil, m.stopLocked)
}

func (m *Manager) stopLocked(key string, t *model.Task, fx *effects) bool {
	r := m.runs[key]
	switch {
	case (t.State == model.StateDownloading || t.State == model.StatePaused) && r != nil && !r.stopping:
		m.stopRunLocked(key, t, r, fx)
		return true

	case t.State == model.StatePaused:
		t.State = model.StatePending
		t.ReceivedBytes = 0
		m.emitStateLocked(key, t)
		return true

	case t.State == model.StatePending && m.queue.Remove(key):
		switch {
		case m.stash[key] != nil:
			t.ResumeToken = m.stash[key]
			delete(m.stash, key)
			t.State = model.StateStopped
			m.emitStateLocked(key, t)
		case r != nil && r.suspended:
			m.stopRunLocked(key, t, r, fx)
		}
		return true

	case t.State == model.StatePending && r != nil && r.requeue:
		r.requeue = false
		t.State = model.StateStopped
		m.emitStateLocked(key, t)
		return true
	}
	return false
}

// Resume queues paused, stopped and idle pending tasks ahead of
// incidentally waiting tasks. A stopped task replays its resume token; a
// suspended one continues its open transfer once admitted.
//
// It returns the affected keys, or nil if nothing changed.
func (m *Manager) Resume(keys []string) []string {
	return m.apply(keys, m.resumeLocked)
}

// ResumeAll resumes every task that can be resumed.
func (m *Manager) ResumeAll() []string {
	return m.apply(nil, m.resumeLocked)
}

func (m *Manager) resumeLocked(key string, t *model.Task, _ *effects) bool {
	r := m.runs[key]
	switch t.State {
	case model.StatePaused:
		t.State = model.StatePending
		if r == nil {
			t.ReceivedBytes = 0
		}

	case model.StateStopped:
		if r != nil && r.stopping {
			r.requeue = true
			t.State = model.StatePending
			m.emitStateLocked(key, t)
			return true
		}
		m.stash[key] = t.ResumeToken
		t.ResumeToken = nil
		t.State = model.StatePending

	case model.StatePending:
		if r != nil {
			return false
		}
		if m.queue.Waiting(key) {
			// promote an incidental entry; no state change to report
			m.queue.Remove(key)
			m.pushLocked(key, queue.Priority)
			return false
		}

	default:
		return false
	}
	m.emitStateLocked(key, t)
	m.pushLocked(key, queue.Priority)
	return true
}

// Restart discards any progress and queues the task to download from
// zero. It applies to every state except downloading. For finished tasks
// keepOldFile decides whether the previous file stays on disk.
//
// It returns the affected keys, or nil if nothing changed.
func (m *Manager) Restart(keys []string, keepOldFile bool) []string {
	return m.apply(keys, func(key string, t *model.Task, fx *effects) bool {
		if t.State == model.StateDownloading {
			return false
		}
		if t.State == model.StateFinished && !keepOldFile {
			m.removeFileLocked(key, t.FileLocation, fx)
		}
		m.queue.Remove(key)
		m.discardTokenLocked(key, m.stash[key], fx)
		delete(m.stash, key)
		m.discardTokenLocked(key, t.ResumeToken, fx)
		m.dropRunLocked(key, fx)

		t.State = model.StatePending
		t.ResumeToken = nil
		t.FileLocation = ""
		t.ReceivedBytes = 0
		t.ExpectedBytes = 0
		t.LastError = ""
		m.emitStateLocked(key, t)
		m.pushLocked(key, queue.Priority)
		return true
	})
}

// Delete removes tasks, cancelling their transfers first. Partial data is
// always discarded; a finished file is removed unless keepFinishedFile is
// set. With the trash enabled the records move to the trash: a finished
// task whose file was kept stays finished there, any other task is reset
// to pending.
//
// It returns the affected keys, or nil if nothing changed.
func (m *Manager) Delete(keys []string, keepFinishedFile bool) []string {
	return m.apply(keys, func(key string, t *model.Task, fx *effects) bool {
		m.deleteLocked(key, t, keepFinishedFile, fx)
		return true
	})
}

func (m *Manager) deleteLocked(key string, t *model.Task, keepFinishedFile bool, fx *effects) {
	m.dropRunLocked(key, fx)
	m.queue.Remove(key)
	m.discardTokenLocked(key, m.stash[key], fx)
	delete(m.stash, key)
	m.discardTokenLocked(key, t.ResumeToken, fx)
	delete(m.handlers, key)

	keptFile := t.State == model.StateFinished && keepFinishedFile
	if t.State == model.StateFinished && !keepFinishedFile {
		m.removeFileLocked(key, t.FileLocation, fx)
	}
	m.unplaceLocked(key)
	delete(m.tasks, key)

	if m.opts.TrashEnabled {
		entry := t.Clone()
		entry.ResumeToken = nil
		entry.AutoResume = false
		if !keptFile {
			entry.State = model.StatePending
			entry.ReceivedBytes = 0
			entry.FileLocation = ""
		}
		m.trash = append(m.trash, entry)
	}
	m.logger.Info("deleted task", "key", key, "trashed", m.opts.TrashEnabled, "kept_file", keptFile)
	m.events.post(Event{Kind: EventStateChanged, Key: key, State: model.StateNotInList})
}

// DeleteFile removes the file of a finished task and moves the task back
// to pending. It reports whether the file was removed. A file that cannot
// be removed leaves the task finished and is reported to the fallback
// completion handlers with an error wrapping ErrFileSystem.
func (m *Manager) DeleteFile(key string) bool {
	return m.deleteFiles([]string{key}) != nil
}

// DeleteAllFiles removes the files of every finished task.
func (m *Manager) DeleteAllFiles() []string {
	return m.deleteFiles(nil)
}

// deleteFiles removes files without holding the lock and then settles the
// tasks whose file is gone. Tasks that changed meanwhile are left alone.
func (m *Manager) deleteFiles(keys []string) []string {
	m.wait()
	m.mu.RLock()
	list := uniqueKeys(keys)
	if keys == nil {
		list = m.orderedKeysLocked()
	}
	var finished []string
	files := make(map[string]string)
	for _, key := range list {
		if t := m.tasks[key]; t != nil && t.State == model.StateFinished {
			finished = append(finished, key)
			files[key] = t.FileLocation
		}
	}
	m.mu.RUnlock()

	failed := make(map[string]error)
	for _, key := range finished {
		if err := ioutils.RemoveFile(files[key]); err != nil {
			failed[key] = err
		}
	}

	var affected []string
	m.update(func(fx *effects) {
		for _, key := range finished {
			t := m.tasks[key]
			if t == nil || t.State != model.StateFinished || t.FileLocation != files[key] {
				continue
			}
			if err := failed[key]; err != nil {
				m.reportFileError(key, files[key], err)
				continue
			}
			t.State = model.StatePending
			t.FileLocation = ""
			t.ReceivedBytes = 0
			m.emitStateLocked(key, t)
			affected = append(affected, key)
		}
	})
	return affected
}

// apply runs fn for each existing key, or for every task in list order
// when keys is nil, and collects the keys fn reports as changed.
func (m *Manager) apply(keys []string, fn func(key string, t *model.Task, fx *effects) bool) []string {
	m.wait()
	var affected []string
	m.update(func(fx *effects) {
		list := uniqueKeys(keys)
		if keys == nil {
			list = m.orderedKeysLocked()
		}
		for _, key := range list {
			t := m.tasks[key]
			if t == nil {
				continue
			}
			if fn(key, t, fx) {
				affected = append(affected, key)
			}
		}
	})
	return affected
}

// uniqueKeys trims keys and drops blanks and repeats, keeping order.
func uniqueKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}
