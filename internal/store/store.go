// Package store is the append-only log file shared by every connection.
//
// The file lives at one well-known path for the daemon's lifetime. Each
// connection opens its own handle, appends what it receives, reads the
// whole file back from offset zero, and closes the handle.
package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// FileMode is the permission the log file is created with.
const FileMode os.FileMode = 0o644

var (
	ErrShortWrite = errors.New("store: short write")
	ErrClosed     = errors.New("store: handle closed")
)

// Appender adds bytes at the logical end of the log.
type Appender interface {
	Append(p []byte) (int, error)
}

// Source yields the full log content from the start.
type Source interface {
	Reader() (io.Reader, error)
}

// File is one open handle on the log.
type File struct {
	path string

	mu     sync.Mutex
	f      *os.File
	closed bool
}

var (
	_ Appender = (*File)(nil)
	_ Source   = (*File)(nil)
)

// Open opens path create-if-absent, read-write, append.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, FileMode)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &File{path: path, f: f}, nil
}

func (s *File) Path() string {
	return s.path
}

// Append writes p at the end of the log. Writing fewer than len(p)
// bytes is ErrShortWrite.
func (s *File) Append(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n, err := s.f.Write(p)
	if err != nil {
		return n, fmt.Errorf("store: append %s: %w", s.path, err)
	}
	if n != len(p) {
		return n, fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(p))
	}
	return n, nil
}

// Reader rewinds to offset zero and returns a reader over the whole log.
// Appends still land at the end because the file is in append mode.
func (s *File) Reader() (io.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("store: seek %s: %w", s.path, err)
	}
	return &reader{file: s}, nil
}

// Size reports the current log length in bytes.
func (s *File) Size() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	info, err := s.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("store: stat %s: %w", s.path, err)
	}
	return info.Size(), nil
}

// Close releases the handle. Closing twice is a no-op.
func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("store: close %s: %w", s.path, err)
	}
	return nil
}

// reader reads through the handle so a closed handle fails cleanly
// instead of touching a recycled descriptor.
type reader struct {
	file *File
}

func (r *reader) Read(p []byte) (int, error) {
	r.file.mu.Lock()
	defer r.file.mu.Unlock()
	if r.file.closed {
		return 0, ErrClosed
	}
	n, err := r.file.f.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("store: read %s: %w", r.file.path, err)
	}
	return n, err
}

// Remove deletes the log file. A file that is already gone is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("store: remove %s: %w", path, err)
	}
	return nil
}
