package message

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Source yields the bytes of one outgoing stream.  Open may be called
// more than once; each call starts from the beginning.
type Source interface {
	Name() string
	Size() int64
	Open() (io.ReadCloser, error)
}

// FileSource streams a file from disk.
type FileSource struct {
	path string
	size int64
}

// NewFileSource stats path and returns a Source for it.
func NewFileSource(path string) (*FileSource, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stream source: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("stream source: %s is not a regular file", path)
	}
	return &FileSource{path: path, size: fi.Size()}, nil
}

func (f *FileSource) Name() string { return filepath.Base(f.path) }
func (f *FileSource) Size() int64  { return f.size }

func (f *FileSource) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

// BytesSource serves an in-memory payload.
type BytesSource struct {
	name string
	data []byte
}

func NewBytesSource(name string, data []byte) *BytesSource {
	return &BytesSource{name: name, data: data}
}

func (b *BytesSource) Name() string { return b.name }
func (b *BytesSource) Size() int64  { return int64(len(b.data)) }

func (b *BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}
