package http

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/handiism/dlmanager/internal/transfer"
)

// Client is the HTTP implementation of transfer.Adapter.
//
// Client provides:
//   - Configured User-Agent header
//   - Response header timeout (the body may take as long as it needs)
//   - Resumable downloads through Range requests
//   - Suspension that keeps the connection open
//
// Example usage:
//
//	client := NewClient(WithUserAgent("dlmanager"), WithTimeout(30*time.Second))
//
//	t := client.New(transfer.Request{
//	    Key:      "https://example.com/file.iso",
//	    URL:      "https://example.com/file.iso",
//	    Dir:      "/downloads",
//	    FileName: "file.iso",
//	}, observer)
//	t.Start()
type Client struct {
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
}

var _ transfer.Adapter = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) { c.userAgent = userAgent }
}

// WithTimeout bounds the wait for response headers. Zero disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = timeout
		c.httpClient = &http.Client{Transport: transport}
	}
}

// WithHTTPClient replaces the underlying client, e.g. to add a proxy.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger sets the logger used for non-fatal conditions.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a new HTTP transfer client.
//
// The client is configured with:
//   - 60 second response header timeout
//   - "dlmanager" User-Agent header
func NewClient(opts ...Option) *Client {
	c := &Client{userAgent: "dlmanager", logger: slog.Default()}
	WithTimeout(60 * time.Second)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// New prepares a transfer. No I/O happens until Start is called.
func (c *Client) New(req transfer.Request, obs transfer.Observer) transfer.Transfer {
	return newJob(c, req, obs)
}

// Discard removes the partial file referenced by a resume token.
func (c *Client) Discard(token []byte) error {
	tok, err := decodeToken(token)
	if err != nil {
		return err
	}
	return removePartial(tok.PartialPath)
}

// ProgressWriter wraps a writer to track download progress.
//
// Use this to monitor large downloads by providing an OnUpdate callback
// that receives the current bytes written and total expected bytes.
//
// Example:
//
//	pw := &ProgressWriter{
//	    Writer: file,
//	    Total:  contentLength,
//	    OnUpdate: func(written, total int64) {
//	        fmt.Printf("%d / %d bytes\n", written, total)
//	    },
//	}
//	io.Copy(pw, response.Body)
type ProgressWriter struct {
	// Writer is the underlying writer to write data to.
	Writer io.Writer

	// Total is the expected total bytes (from Content-Length header).
	Total int64

	// Written is the current number of bytes written. Set it to the resume
	// offset before copying when appending to a partial file.
	Written int64

	// OnUpdate is called after each Write with current progress.
	// Parameters are (bytesWritten, totalExpected).
	OnUpdate func(written, total int64)
}

// Write implements io.Writer, tracking progress and calling OnUpdate.
func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	pw.Written += int64(n)
	if pw.OnUpdate != nil && n > 0 {
		pw.OnUpdate(pw.Written, pw.Total)
	}
	return n, err
}
