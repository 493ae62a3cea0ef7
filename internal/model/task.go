package model

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	ioutils "github.com/handiism/dlmanager/internal/io"
)

// Task is the record kept for one download, keyed by its source URL.
//
// Task contains:
//   - The lifecycle State and the resume token captured on stop
//   - Byte counters reported by the transfer adapter
//   - The location of the finished file
//   - Display metadata (name, MIME type) used for sorting
//   - The list position used under manual ordering
//
// Records are owned by the download manager. Values returned from the
// manager are copies and can be kept by callers.
type Task struct {
	// URL is the task key.
	URL string `json:"url" yaml:"url"`

	// State is the lifecycle state.
	State State `json:"state" yaml:"state"`

	// ResumeToken is the opaque data returned by the adapter when the
	// transfer was cancelled with progress preserved. It is set only while
	// State is StateStopped.
	ResumeToken []byte `json:"resume_token,omitempty" yaml:"resume_token,omitempty"`

	// ReceivedBytes is the number of bytes written so far.
	ReceivedBytes int64 `json:"received_bytes" yaml:"received_bytes"`

	// ExpectedBytes is the total size announced by the server, 0 if unknown.
	ExpectedBytes int64 `json:"expected_bytes,omitempty" yaml:"expected_bytes,omitempty"`

	// FileLocation is the path of the downloaded file. It is set only while
	// State is StateFinished.
	FileLocation string `json:"file_location,omitempty" yaml:"file_location,omitempty"`

	// DisplayName overrides the URL-derived FileName for presentation.
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`

	// FileName is derived from the URL and used to name the local file.
	FileName string `json:"file_name" yaml:"file_name"`

	// FileType is the MIME type of the downloaded content, if known.
	FileType string `json:"file_type,omitempty" yaml:"file_type,omitempty"`

	// AddedAt is a monotonically increasing sequence number assigned when
	// the record is created. It defines the default ordering.
	AddedAt int64 `json:"added_at" yaml:"added_at"`

	// AddedTime is the wall clock time the record was created.
	AddedTime time.Time `json:"added_time" yaml:"added_time"`

	// Position is the (section, row) coordinate under manual ordering.
	Position Position `json:"position" yaml:"position"`

	// LastError describes the most recent transfer failure.
	LastError string `json:"last_error,omitempty" yaml:"last_error,omitempty"`

	// AutoResume marks tasks that were transferring or waiting when the
	// manager shut down. They are queued again after the next load.
	AutoResume bool `json:"auto_resume,omitempty" yaml:"auto_resume,omitempty"`
}

// Name returns the display name, falling back to the URL-derived name.
func (t *Task) Name() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return t.FileName
}

// Progress returns the completed fraction in [0, 1]. Unknown sizes report 0
// until the task finishes.
func (t *Task) Progress() float64 {
	if t.State == StateFinished {
		return 1
	}
	if t.ExpectedBytes <= 0 {
		return 0
	}
	p := float64(t.ReceivedBytes) / float64(t.ExpectedBytes)
	if p > 1 {
		return 1
	}
	return p
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	if t.ResumeToken != nil {
		t.ResumeToken = append([]byte(nil), t.ResumeToken...)
	}
	return t
}

// ErrUnsupportedScheme is returned by ValidateURL for schemes other than
// http and https.
var ErrUnsupportedScheme = errors.New("unsupported URL scheme")

// ValidateURL checks that raw is an absolute http or https URL with a host.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("URL %q is not absolute", raw)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// DeriveFileName picks the local file name for a URL.
//
// The last segment of the URL path is used when there is one; otherwise the
// host name is used. Query strings are ignored and the result is sanitized.
//
// Example:
//
//	DeriveFileName("https://example.com/files/video.mp4?token=1") // "video.mp4"
//	DeriveFileName("https://example.com/")                        // "example.com"
func DeriveFileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "download"
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		name = u.Hostname()
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}

	name = ioutils.SanitizeFileName(name)
	if name == "" {
		return "download"
	}
	return name
}
