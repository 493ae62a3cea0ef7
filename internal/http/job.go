package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	ioutils "github.com/handiism/dlmanager/internal/io"
	"github.com/handiism/dlmanager/internal/transfer"
)

const progressInterval = 100 * time.Millisecond

// job is one transfer attempt. Its state is guarded by mu; the download
// itself runs in a goroutine started by Start.
type job struct {
	client *Client
	req    transfer.Request
	obs    transfer.Observer

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	cond      *sync.Cond
	started   bool
	suspended bool
	cancelled bool
	keep      bool

	// partial describes the file being written, with Offset kept at the
	// bytes written so far. Nil until the partial file is open.
	partial *resumeToken
}

func newJob(c *Client, req transfer.Request, obs transfer.Observer) *job {
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{client: c, req: req, obs: obs, ctx: ctx, cancel: cancel}
	j.cond = sync.NewCond(&j.mu)
	return j
}

var _ transfer.Checkpointer = (*job)(nil)

func (j *job) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started {
		return
	}
	j.started = true
	if j.cancelled {
		go j.finishUnstarted()
		return
	}
	go j.run()
}

func (j *job) Suspend() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.cancelled {
		j.suspended = true
	}
}

func (j *job) Resume() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.suspended = false
	j.cond.Broadcast()
}

func (j *job) Cancel(produceResumeToken bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelled {
		return
	}
	j.cancelled = true
	j.keep = produceResumeToken
	j.suspended = false
	j.cancel()
	j.cond.Broadcast()
}

// Checkpoint returns a resume token for the data written so far, or nil
// before any data arrived.
func (j *job) Checkpoint() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.partial == nil || j.partial.Offset == 0 {
		return nil
	}
	return j.partial.encode()
}

func (j *job) track(tok *resumeToken) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if tok == nil {
		j.partial = nil
		return
	}
	cp := *tok
	j.partial = &cp
}

func (j *job) written(n int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.partial != nil {
		j.partial.Offset = n
	}
}

// wait blocks while the job is suspended and reports whether it was
// cancelled meanwhile.
func (j *job) wait() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for j.suspended && !j.cancelled {
		j.cond.Wait()
	}
	if j.cancelled {
		return context.Canceled
	}
	return nil
}

func (j *job) keepPartial() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.keep
}

// finishUnstarted reports a job that was cancelled before it ever ran. A
// token it was given stays valid when the caller asked to keep progress.
func (j *job) finishUnstarted() {
	res := transfer.Result{Err: transfer.ErrCancelled}
	if len(j.req.ResumeToken) > 0 {
		if j.keepPartial() {
			res.ResumeToken = j.req.ResumeToken
		} else if err := j.client.Discard(j.req.ResumeToken); err != nil {
			j.client.logger.Warn("discarding partial file", "url", j.req.URL, "err", err)
		}
	}
	j.obs.Done(res)
}

func (j *job) run() {
	j.obs.Done(j.download())
}

func (j *job) download() transfer.Result {
	tok := &resumeToken{URL: j.req.URL}
	if len(j.req.ResumeToken) > 0 {
		decoded, err := decodeToken(j.req.ResumeToken)
		if err != nil {
			j.client.logger.Warn("ignoring resume token", "url", j.req.URL, "err", err)
		} else {
			tok = decoded
			tok.reconcile()
		}
	}
	if tok.PartialPath == "" {
		tok.PartialPath = filepath.Join(j.req.Dir, "."+uuid.NewString()+".part")
		tok.Offset = 0
	}

	if err := ioutils.EnsureDir(j.req.Dir); err != nil {
		return j.fail(tok, fmt.Errorf("creating download directory: %w", err))
	}

	resp, err := j.request(tok)
	if err != nil {
		return j.interrupted(tok, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent && tok.Offset > 0:
		if total := contentRangeTotal(resp.Header.Get("Content-Range")); total > 0 {
			tok.Expected = total
		}
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && tok.Offset > 0 && tok.Offset == tok.Expected:
		// the partial file already holds the whole resource
		return j.complete(tok, tok.ContentType)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// the server ignored the range or the validator did not match
		tok.Offset = 0
		tok.Expected = max(resp.ContentLength, 0)
		tok.ETag = resp.Header.Get("ETag")
		tok.LastModified = resp.Header.Get("Last-Modified")
	default:
		return j.fail(tok, &transfer.StatusError{Code: resp.StatusCode, Status: resp.Status})
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		tok.ContentType = ct
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if tok.Offset > 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(tok.PartialPath, flags, 0o644)
	if err != nil {
		return j.fail(tok, fmt.Errorf("opening partial file: %w", err))
	}

	j.track(tok)
	defer j.track(nil)

	var last time.Time
	pw := &ProgressWriter{
		Writer:  file,
		Total:   tok.Expected,
		Written: tok.Offset,
		OnUpdate: func(written, total int64) {
			j.written(written)
			if now := time.Now(); now.Sub(last) >= progressInterval {
				last = now
				j.obs.Progress(written, total)
			}
		},
	}
	_, copyErr := io.Copy(pw, &gatedReader{job: j, r: resp.Body})
	closeErr := file.Close()
	tok.Offset = pw.Written
	j.obs.Progress(tok.Offset, tok.Expected)

	if copyErr != nil {
		return j.interrupted(tok, copyErr)
	}
	if closeErr != nil {
		return j.fail(tok, fmt.Errorf("closing partial file: %w", closeErr))
	}
	if tok.Expected > 0 && tok.Offset < tok.Expected {
		return j.fail(tok, fmt.Errorf("received %d of %d bytes: %w", tok.Offset, tok.Expected, io.ErrUnexpectedEOF))
	}
	if tok.Offset == 0 {
		return j.fail(tok, transfer.ErrEmptyFile)
	}
	return j.complete(tok, tok.ContentType)
}

func (j *job) request(tok *resumeToken) (*http.Response, error) {
	req, err := http.NewRequestWithContext(j.ctx, http.MethodGet, j.req.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", j.client.userAgent)
	if tok.Offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(tok.Offset, 10)+"-")
		if tok.ETag != "" {
			req.Header.Set("If-Range", tok.ETag)
		} else if tok.LastModified != "" {
			req.Header.Set("If-Range", tok.LastModified)
		}
	}
	return j.client.httpClient.Do(req)
}

// interrupted settles a transfer that stopped early, either because it was
// cancelled or because the connection failed.
func (j *job) interrupted(tok *resumeToken, err error) transfer.Result {
	if j.ctx.Err() == nil {
		return j.fail(tok, err)
	}
	res := transfer.Result{Err: transfer.ErrCancelled, Received: tok.Offset, Expected: tok.Expected}
	if j.keepPartial() && tok.Offset > 0 {
		res.ResumeToken = tok.encode()
		return res
	}
	if err := removePartial(tok.PartialPath); err != nil {
		j.client.logger.Warn("discarding partial file", "url", j.req.URL, "err", err)
	}
	return res
}

func (j *job) fail(tok *resumeToken, err error) transfer.Result {
	if rmErr := removePartial(tok.PartialPath); rmErr != nil {
		j.client.logger.Warn("discarding partial file", "url", j.req.URL, "err", rmErr)
	}
	return transfer.Result{Err: err, Received: tok.Offset, Expected: tok.Expected}
}

func (j *job) complete(tok *resumeToken, contentType string) transfer.Result {
	name := j.req.FileName
	if name == "" {
		name = "download"
	}
	final, err := ioutils.UniquePath(filepath.Join(j.req.Dir, ioutils.SanitizeFileName(name)))
	if err != nil {
		return j.fail(tok, err)
	}
	if err := os.Rename(tok.PartialPath, final); err != nil {
		return j.fail(tok, fmt.Errorf("moving finished file: %w", err))
	}
	return transfer.Result{
		Location:    final,
		ContentType: detectType(final, contentType),
		Received:    tok.Offset,
		Expected:    max(tok.Expected, tok.Offset),
	}
}

// detectType prefers the server's Content-Type and sniffs the file when the
// header is missing or generic.
func detectType(path, header string) string {
	if header != "" {
		if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return ""
	}
	mt, _, _ := strings.Cut(detected.String(), ";")
	return mt
}

// contentRangeTotal parses the total size from "bytes a-b/total".
func contentRangeTotal(header string) int64 {
	_, total, ok := strings.Cut(header, "/")
	if !ok || total == "*" {
		return 0
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// gatedReader blocks reads while the job is suspended.
type gatedReader struct {
	job *job
	r   io.Reader
}

func (g *gatedReader) Read(p []byte) (int, error) {
	if err := g.job.wait(); err != nil {
		return 0, err
	}
	n, err := g.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && g.job.ctx.Err() != nil {
		return n, context.Canceled
	}
	return n, err
}
