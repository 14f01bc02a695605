package gguf

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// DataSource is a positioned byte stream over a model file. The
// metadata scanner drives it strictly forward except for the seeks
// issued when skipping values.
type DataSource interface {
	// ReadFull fills p entirely or returns an error. A source that
	// runs out of bytes mid-read returns io.ErrUnexpectedEOF.
	ReadFull(p []byte) error
	// Seek moves the read position to an absolute byte offset. The
	// move itself is cheap; an out-of-bounds position surfaces as an
	// error on the next read.
	Seek(pos uint64) error
	// Tell reports the offset the next read starts at.
	Tell() uint64
	// EOF reports whether the source has run out of bytes.
	EOF() bool

	io.Closer
}

// IsURL reports whether path should be fetched over HTTP rather than
// opened as a local file.
func IsURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

// fileSource reads a local model file. It owns the handle exclusively
// and closes it when the scan finishes.
type fileSource struct {
	f   *os.File
	pos uint64
	eof bool
}

func openFileSource(path string) (*fileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model file: %w", err)
	}
	return &fileSource{f: f}, nil
}

func (s *fileSource) ReadFull(p []byte) error {
	n, err := io.ReadFull(s.f, p)
	s.pos += uint64(n)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		s.eof = true
		return io.ErrUnexpectedEOF
	}
	return err
}

func (s *fileSource) Seek(pos uint64) error {
	if _, err := s.f.Seek(int64(pos), io.SeekStart); err != nil {
		return fmt.Errorf("seek to %d: %w", pos, err)
	}
	s.pos = pos
	s.eof = false
	return nil
}

func (s *fileSource) Tell() uint64 { return s.pos }

func (s *fileSource) EOF() bool { return s.eof }

func (s *fileSource) Close() error { return s.f.Close() }
