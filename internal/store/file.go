package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// FileBackend keeps records as files, one directory per namespace.
type FileBackend struct {
	fs billy.Filesystem
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend creates a backend on top of any billy filesystem.
func NewFileBackend(fs billy.Filesystem) *FileBackend {
	return &FileBackend{fs: fs}
}

// NewOSBackend creates a backend rooted at a directory on disk.
func NewOSBackend(root string) *FileBackend {
	return NewFileBackend(osfs.New(root))
}

func (b *FileBackend) Read(_ context.Context, namespace, name string) ([]byte, error) {
	data, err := util.ReadFile(b.fs, path.Join(namespace, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", namespace, name, err)
	}
	return data, nil
}

// Write replaces the record atomically: the data goes to a temporary file
// that is renamed over the old record once complete.
func (b *FileBackend) Write(_ context.Context, namespace, name string, data []byte) error {
	if err := b.fs.MkdirAll(namespace, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", namespace, err)
	}
	tmp, err := util.TempFile(b.fs, namespace, "."+name+"-")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = b.fs.Remove(tmp.Name())
		return fmt.Errorf("writing %s/%s: %w", namespace, name, err)
	}
	if err := b.fs.Rename(tmp.Name(), path.Join(namespace, name)); err != nil {
		_ = b.fs.Remove(tmp.Name())
		return fmt.Errorf("replacing %s/%s: %w", namespace, name, err)
	}
	return nil
}

func (b *FileBackend) Delete(_ context.Context, namespace, name string) error {
	err := b.fs.Remove(path.Join(namespace, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting %s/%s: %w", namespace, name, err)
	}
	return nil
}
