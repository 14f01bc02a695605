package gguf

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/23skdu/longbow-scout/internal/metrics"
)

const (
	// windowCapacity is the size of the in-memory window a remote
	// source buffers. It must be at least maxStringLen, otherwise a
	// maximal length-prefixed value could never be served from a
	// single window.
	windowCapacity = 1 << 20

	// fetchChunkSize is the number of bytes requested per range
	// request.
	fetchChunkSize = 256 << 10
)

// urlSource serves reads over HTTP byte-range requests, keeping only a
// small window of the remote file in memory. Invariant while the
// window is valid: winStart <= pos <= winStart+winLen.
type urlSource struct {
	url     string
	client  *http.Client
	timeout time.Duration

	buf      []byte
	winStart uint64 // file offset of buf[0]
	winLen   int    // valid bytes in buf
	pos      uint64
	eof      bool
	aborted  bool
}

func newURLSource(url string, client *http.Client, timeout time.Duration) *urlSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &urlSource{
		url:     url,
		client:  client,
		timeout: timeout,
		buf:     make([]byte, windowCapacity),
	}
}

func (s *urlSource) ReadFull(p []byte) error {
	if len(p) > windowCapacity {
		return fmt.Errorf("read of %d bytes exceeds %d byte window", len(p), windowCapacity)
	}
	for s.pos+uint64(len(p)) > s.winStart+uint64(s.winLen) {
		if s.eof || s.aborted {
			return io.ErrUnexpectedEOF
		}
		if err := s.fill(); err != nil {
			return err
		}
	}
	off := s.pos - s.winStart
	copy(p, s.buf[off:off+uint64(len(p))])
	s.pos += uint64(len(p))
	return nil
}

// fill compacts the window so pos sits at its front, then fetches one
// more chunk onto the end.
func (s *urlSource) fill() error {
	if s.pos > s.winStart {
		drop := s.pos - s.winStart
		copy(s.buf, s.buf[drop:uint64(s.winLen)])
		s.winLen -= int(drop)
		s.winStart = s.pos
	}
	space := windowCapacity - s.winLen
	if space > fetchChunkSize {
		space = fetchChunkSize
	}
	n, err := s.fetch(s.winStart+uint64(s.winLen), space)
	if err != nil {
		return err
	}
	if n == 0 {
		s.eof = true
		return nil
	}
	s.winLen += n
	return nil
}

// fetch issues one range request for want bytes starting at start,
// appending the response to the window. A zero return with nil error
// means the remote end has no bytes there.
func (s *urlSource) fetch(start uint64, want int) (int, error) {
	if s.aborted {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("range request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, start+uint64(want)-1))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("range fetch %q: %w", s.url, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent, http.StatusOK:
	case http.StatusRequestedRangeNotSatisfiable:
		return 0, nil
	default:
		return 0, fmt.Errorf("range fetch %q: unexpected status %d", s.url, resp.StatusCode)
	}

	dst := s.buf[s.winLen : s.winLen+want]
	total := 0
	for total < want {
		if s.aborted {
			break
		}
		n, rerr := resp.Body.Read(dst[total:])
		total += n
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return total, fmt.Errorf("range fetch %q: %w", s.url, rerr)
		}
	}
	metrics.RecordRangeFetch(total)
	return total, nil
}

func (s *urlSource) Seek(pos uint64) error {
	if pos >= s.winStart && pos < s.winStart+uint64(s.winLen) {
		s.pos = pos
		return nil
	}
	s.winStart = pos
	s.winLen = 0
	s.pos = pos
	s.eof = false
	return nil
}

func (s *urlSource) Tell() uint64 { return s.pos }

func (s *urlSource) EOF() bool { return s.eof }

func (s *urlSource) Close() error { return nil }

// setAbort stops the current and any further fetches. The scanner
// flips this once it has every field it needs; reads after that look
// like end-of-stream, not failures.
func (s *urlSource) setAbort() { s.aborted = true }
