// Package http implements the transfer adapter that downloads over HTTP(S).
//
// The Client in this package handles:
//   - User-Agent headers
//   - Streaming a response body into a hidden partial file
//   - Resuming a partial file with a conditional Range request
//   - Suspending a transfer without closing its connection
//   - Content-Type detection for the finished file
//
// # Basic Usage
//
//	client := http.NewClient(http.WithLogger(logger))
//
//	t := client.New(transfer.Request{
//	    Key:      rawURL,
//	    URL:      rawURL,
//	    Dir:      "/downloads",
//	    FileName: "file.iso",
//	}, observer)
//	t.Start()
//
//	// Later: stop and keep what has been received so far.
//	t.Cancel(true)
//
// # Resume Tokens
//
// A transfer cancelled with Cancel(true) reports a resume token in its
// Result. The token is opaque to callers; passing it back in
// Request.ResumeToken continues from the recorded offset. If the server
// ignores the range or the validators no longer match, the transfer starts
// over. Client.Discard removes the partial file a token refers to.
//
// # Progress Tracking
//
// The ProgressWriter type can be used to wrap any io.Writer for progress tracking:
//
//	pw := &http.ProgressWriter{
//	    Writer:   file,
//	    Total:    contentLength,
//	    OnUpdate: func(written, total int64) { /* update UI */ },
//	}
package http
