package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is reported in Result.Err when a transfer ends because
	// Cancel was called.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrEmptyFile is reported when a transfer completes without producing
	// a destination file.
	ErrEmptyFile = errors.New("transfer produced no file")

	// ErrInvalidToken is returned when a resume token cannot be decoded.
	ErrInvalidToken = errors.New("invalid resume token")
)

// StatusError is reported for responses outside the 2xx range.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Status)
}

// Request describes one transfer attempt.
type Request struct {
	// Key identifies the task the transfer belongs to.
	Key string

	// URL is the resource to fetch.
	URL string

	// Dir is the directory the finished file is placed in.
	Dir string

	// FileName is the preferred name of the finished file.
	FileName string

	// ResumeToken continues a previously cancelled transfer when set.
	ResumeToken []byte
}

// Result is the terminal report of a transfer attempt.
type Result struct {
	// Location is the path of the finished file. Empty unless Err is nil.
	Location string

	// ContentType is the MIME type of the finished file, if known.
	ContentType string

	// Received and Expected are the final byte counters.
	Received int64
	Expected int64

	// ResumeToken is set when the transfer was cancelled with
	// produceResumeToken and the adapter could preserve progress.
	ResumeToken []byte

	// Err is nil on success, ErrCancelled after Cancel, or the failure.
	Err error
}

// Observer receives the callbacks of one transfer.
//
// Progress reports are delivered in non-decreasing order of received bytes.
// Done is called exactly once and is always the last callback. Neither is
// ever invoked synchronously from within a Transfer method, so the observer
// may take locks that the caller of those methods holds.
type Observer interface {
	Progress(received, expected int64)
	Done(result Result)
}

// Transfer is a handle to one transfer attempt. All methods are safe for
// concurrent use, never block on network I/O and are no-ops once the
// transfer has ended.
type Transfer interface {
	// Start begins the transfer in the background.
	Start()

	// Suspend pauses data transfer while keeping the connection open.
	Suspend()

	// Resume continues a suspended transfer.
	Resume()

	// Cancel ends the transfer. When produceResumeToken is true the adapter
	// keeps the partial data and reports a token in Result.ResumeToken if
	// it can; otherwise the partial data is discarded.
	Cancel(produceResumeToken bool)
}

// Checkpointer is implemented by transfers that can describe their partial
// data as a resume token without ending. It is only meaningful while the
// transfer is suspended; the token does not follow later progress.
type Checkpointer interface {
	Checkpoint() []byte
}

// Adapter creates transfers. It is the boundary between the download
// manager and the network.
type Adapter interface {
	// New prepares a transfer without starting any I/O.
	New(req Request, obs Observer) Transfer

	// Discard releases the partial data held by a resume token that will
	// never be replayed.
	Discard(token []byte) error
}
