// Package tui implements the terminal front end: interactive pickers,
// raw-mode input and the loading spinner.
package tui

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{
	"⢀⠀", "⡀⠀", "⠄⠀", "⢂⠀", "⡂⠀", "⠅⠀", "⢃⠀", "⡃⠀",
	"⠍⠀", "⢋⠀", "⡋⠀", "⠍⠁", "⢋⠁", "⡋⠁", "⠍⠉", "⠋⠉",
	"⠉⠙", "⠉⠩", "⠈⢙", "⠈⡙", "⢈⠩", "⡀⢙", "⠄⡙", "⢂⠩",
	"⡂⢘", "⠅⡘", "⢃⠨", "⡃⢐", "⠍⡐", "⢋⠠", "⡋⢀", "⠍⡁",
	"⢋⠁", "⡋⠁", "⠍⠉", "⠋⠉", "⠉⠙", "⠉⠩", "⠈⢙", "⠈⡙",
	"⠈⠩", "⠀⢙", "⠀⡙", "⠀⠩", "⠀⢘", "⠀⡘", "⠀⠨", "⠀⢐",
	"⠀⡐", "⠀⠠", "⠀⢀", "⠀⡀",
}

const spinnerInterval = 30 * time.Millisecond

// Spinner animates a braille progress indicator on one line until
// stopped. Start and Stop are safe to call from different goroutines;
// Stop blocks until the line is cleared, so the caller can write to w
// immediately after.
type Spinner struct {
	w       io.Writer
	message string

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewSpinner(w io.Writer, message string) *Spinner {
	return &Spinner{w: w, message: message}
}

func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	fmt.Fprint(s.w, "\033[?25l")
	go s.loop(s.stop, s.done)
}

func (s *Spinner) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()
	frame := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			fmt.Fprintf(s.w, "\r%s %s...   ", spinnerFrames[frame], s.message)
			frame = (frame + 1) % len(spinnerFrames)
		}
	}
}

// Stop ends the animation, clears the spinner line and restores the
// cursor. Stopping a spinner that never started is a no-op.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop, s.done = nil, nil
	fmt.Fprint(s.w, "\r\033[2K\033[?25h")
}
