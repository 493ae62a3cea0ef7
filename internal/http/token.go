package http

import (
	"encoding/json"
	"fmt"
	"os"

	ioutils "github.com/handiism/dlmanager/internal/io"
	"github.com/handiism/dlmanager/internal/transfer"
)

// resumeToken is the content of the opaque token handed to the manager.
// It points at the partial file and carries the validators needed to send
// a conditional Range request.
type resumeToken struct {
	URL          string `json:"url"`
	PartialPath  string `json:"partial_path"`
	Offset       int64  `json:"offset"`
	Expected     int64  `json:"expected,omitempty"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
}

func (t *resumeToken) encode() []byte {
	data, err := json.Marshal(t)
	if err != nil {
		// resumeToken only holds strings and integers
		panic(fmt.Sprintf("encoding resume token: %v", err))
	}
	return data
}

func decodeToken(data []byte) (*resumeToken, error) {
	var tok resumeToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("%w: %v", transfer.ErrInvalidToken, err)
	}
	if tok.PartialPath == "" || tok.Offset < 0 {
		return nil, transfer.ErrInvalidToken
	}
	return &tok, nil
}

func removePartial(path string) error {
	return ioutils.RemoveFile(path)
}

// reconcile trims the token's offset to what is actually on disk. A partial
// file that vanished or shrank restarts the transfer from zero.
func (t *resumeToken) reconcile() {
	if t.Offset == 0 {
		return
	}
	info, err := os.Stat(t.PartialPath)
	if err != nil || info.Size() != t.Offset {
		t.Offset = 0
	}
}
