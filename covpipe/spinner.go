package covpipe

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// SpinnerFrames defines the available spinner styles.
var SpinnerFrames = map[string][]string{
	"dots":  {"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
	"line":  {"-", "\\", "|", "/"},
	"ascii": {"-", "\\", "|", "/"},
}

// DefaultSpinnerStyle is the default animation.
const DefaultSpinnerStyle = "dots"

// Spinner provides an animated inline progress indicator for a running step.
type Spinner struct {
	frames   []string
	interval time.Duration
	message  string
	writer   io.Writer

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	frameIdx int
}

// SpinnerConfig configures the spinner.
type SpinnerConfig struct {
	Style    string        // "dots", "line", "ascii"
	Interval time.Duration // frame interval (default 80ms)
	Message  string        // text shown after the spinner
	Writer   io.Writer
}

// NewSpinner creates a spinner with the given config.
func NewSpinner(cfg SpinnerConfig) *Spinner {
	frames := SpinnerFrames[cfg.Style]
	if frames == nil {
		frames = SpinnerFrames[DefaultSpinnerStyle]
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = 80 * time.Millisecond
	}

	return &Spinner{
		frames:   frames,
		interval: interval,
		message:  cfg.Message,
		writer:   cfg.Writer,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the animation.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run()
}

// Stop halts the animation and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
	s.clearLine()
}

// UpdateMessage changes the spinner message while running.
func (s *Spinner) UpdateMessage(msg string) {
	s.mu.Lock()
	s.message = msg
	s.mu.Unlock()
}

func (s *Spinner) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.render()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.frameIdx = (s.frameIdx + 1) % len(s.frames)
			s.mu.Unlock()
			s.render()
		}
	}
}

func (s *Spinner) render() {
	s.mu.Lock()
	frame := s.frames[s.frameIdx]
	msg := s.message
	s.mu.Unlock()

	fmt.Fprintf(s.writer, "\r\033[K%s %s", frame, msg)
}

func (s *Spinner) clearLine() {
	fmt.Fprint(s.writer, "\r\033[K")
}
