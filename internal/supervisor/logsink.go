package supervisor

import (
	"os"
	"path/filepath"
	"sync"
)

const (
	// sinkMaxBytes bounds the on-disk size of the child log; pathological
	// child output must not fill the disk.
	sinkMaxBytes = 8 << 20
	// tailBytes is how much recent output is kept in memory for error
	// reporting.
	tailBytes = 4096
)

// logSink receives the child's combined stdout/stderr. Writes are
// lock-protected, size-bounded, and survive the log file being cleared or
// deleted externally: Reopen closes and recreates the handle so subsequent
// writes land in a fresh file instead of a stale inode.
type logSink struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	written int64
	tail    []byte
}

// newLogSink opens (appending) the sink file, creating parent directories.
func newLogSink(path string) (*logSink, error) {
	s := &logSink{path: path}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *logSink) open() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	s.file = f
	s.written = info.Size()
	return nil
}

// Write implements io.Writer. Once the size bound is hit the file is
// truncated and writing starts over; losing old output beats unbounded
// growth.
func (s *logSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendTail(p)
	if s.file == nil {
		if err := s.open(); err != nil {
			return len(p), nil
		}
	}
	if s.written+int64(len(p)) > sinkMaxBytes {
		if err := s.file.Truncate(0); err == nil {
			_, _ = s.file.Seek(0, 0)
			s.written = 0
		}
	}
	n, err := s.file.Write(p)
	s.written += int64(n)
	if err != nil {
		// The handle may point at a deleted file; drop it so the next
		// write reopens.
		s.file.Close()
		s.file = nil
	}
	return len(p), nil
}

// Reopen closes and recreates the file handle. Callers use it after clearing
// logs externally so new output is not written into an unlinked inode.
func (s *logSink) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	return s.open()
}

// Tail returns the most recent output, bounded to tailBytes.
func (s *logSink) Tail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.tail)
}

// Close flushes and closes the underlying file.
func (s *logSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *logSink) appendTail(p []byte) {
	s.tail = append(s.tail, p...)
	if len(s.tail) > tailBytes {
		s.tail = s.tail[len(s.tail)-tailBytes:]
	}
}
