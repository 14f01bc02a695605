package tui

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer guards the spinner's writer against the render goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinnerRendersFrames(t *testing.T) {
	out := &syncBuffer{}
	sp := NewSpinner(out, "Loading model")
	sp.Start()
	time.Sleep(120 * time.Millisecond)
	sp.Stop()

	text := out.String()
	if !strings.Contains(text, "\033[?25l") {
		t.Error("cursor was not hidden")
	}
	if !strings.Contains(text, "Loading model...") {
		t.Errorf("message missing: %q", text)
	}
	if !strings.Contains(text, spinnerFrames[0]) {
		t.Errorf("first frame missing: %q", text)
	}
	if !strings.HasSuffix(text, "\r\033[2K\033[?25h") {
		t.Errorf("line was not cleared on stop: %q", text)
	}
}

func TestSpinnerStopWithoutStart(t *testing.T) {
	out := &syncBuffer{}
	sp := NewSpinner(out, "idle")
	sp.Stop()
	if out.String() != "" {
		t.Errorf("Stop() before Start() wrote %q", out.String())
	}
}

func TestSpinnerDoubleStop(t *testing.T) {
	sp := NewSpinner(&syncBuffer{}, "work")
	sp.Start()
	sp.Stop()
	sp.Stop()
}
