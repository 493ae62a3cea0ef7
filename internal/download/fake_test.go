package download

import (
	"fmt"
	"sync"

	"github.com/handiism/dlmanager/internal/transfer"
)

// fakeAdapter records every transfer it creates. Tests drive the
// transfers by hand.
type fakeAdapter struct {
	mu          sync.Mutex
	noTokens    bool
	checkpoints bool
	transfers   map[string][]*fakeTransfer
	discarded []string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{transfers: make(map[string][]*fakeTransfer)}
}

func (a *fakeAdapter) New(req transfer.Request, obs transfer.Observer) transfer.Transfer {
	a.mu.Lock()
	defer a.mu.Unlock()
	ft := &fakeTransfer{adapter: a, req: req, obs: obs}
	a.transfers[req.Key] = append(a.transfers[req.Key], ft)
	return ft
}

func (a *fakeAdapter) Discard(token []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.discarded = append(a.discarded, string(token))
	return nil
}

// last returns the most recent transfer created for key.
func (a *fakeAdapter) last(key string) *fakeTransfer {
	a.mu.Lock()
	defer a.mu.Unlock()
	list := a.transfers[key]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (a *fakeAdapter) count(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.transfers[key])
}

func (a *fakeAdapter) discardedTokens() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.discarded...)
}

type fakeTransfer struct {
	adapter *fakeAdapter
	req     transfer.Request
	obs     transfer.Observer

	mu        sync.Mutex
	started   bool
	suspended bool
	cancelled bool
	kept      bool
	done      bool
	received  int64
}

func (t *fakeTransfer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
}

func (t *fakeTransfer) Suspend() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.suspended = true
}

func (t *fakeTransfer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.suspended = false
}

// Cancel reports back from another goroutine, as a real adapter does.
func (t *fakeTransfer) Cancel(produceResumeToken bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	t.cancelled = true
	t.kept = produceResumeToken
	res := transfer.Result{Err: transfer.ErrCancelled, Received: t.received}
	if produceResumeToken && !t.adapter.noTokens && t.received > 0 {
		res.ResumeToken = []byte(fmt.Sprintf("%s@%d", t.req.Key, t.received))
	}
	go t.obs.Done(res)
}

// Checkpoint hands out a token for suspended transfers when the adapter
// supports checkpoints.
func (t *fakeTransfer) Checkpoint() []byte {
	t.adapter.mu.Lock()
	enabled := t.adapter.checkpoints
	t.adapter.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if !enabled || t.done || t.received == 0 {
		return nil
	}
	return []byte(fmt.Sprintf("%s@%d", t.req.Key, t.received))
}

func (t *fakeTransfer) state() (started, suspended, cancelled, kept bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started, t.suspended, t.cancelled, t.kept
}

// progress reports received bytes from the calling goroutine.
func (t *fakeTransfer) progress(received, expected int64) {
	t.mu.Lock()
	t.received = received
	t.mu.Unlock()
	t.obs.Progress(received, expected)
}

// succeed finishes the transfer from the calling goroutine.
func (t *fakeTransfer) succeed(location string) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	received := t.received
	t.mu.Unlock()
	t.obs.Done(transfer.Result{Location: location, ContentType: "application/octet-stream", Received: received, Expected: received})
}

// fail ends the transfer with err from the calling goroutine.
func (t *fakeTransfer) fail(err error) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	t.mu.Unlock()
	t.obs.Done(transfer.Result{Err: err})
}
