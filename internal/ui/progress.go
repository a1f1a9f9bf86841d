package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// StepProgress reports step-by-step deployment progress
type StepProgress struct {
	out       io.Writer
	total     int
	current   int
	startTime time.Time
	mu        sync.Mutex

	successCount int
	failureCount int
	skipCount    int
}

// NewStepProgress creates a progress reporter for total steps
func NewStepProgress(out io.Writer, total int) *StepProgress {
	if out == nil {
		out = os.Stdout
	}
	return &StepProgress{
		out:       out,
		total:     total,
		startTime: time.Now(),
	}
}

// Start announces the next step
func (p *StepProgress) Start(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current++
	fmt.Fprintf(p.out, "%s %s [%d/%d] %s\n",
		ColorProgress("►"),
		p.bar(p.current-1),
		p.current,
		p.total,
		ColorBold(name),
	)
}

// Done records the outcome of the current step
func (p *StepProgress) Done(name string, elapsed time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.failureCount++
		fmt.Fprintf(p.out, "  %s %s failed after %s: %s\n", ColorError("✗"), name, formatDuration(elapsed), ErrorText(err))
		return
	}
	p.successCount++
	fmt.Fprintf(p.out, "  %s %s (%s)\n", ColorSuccess("✓"), name, formatDuration(elapsed))
}

// Skip records a step that did not run
func (p *StepProgress) Skip(name, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current++
	p.skipCount++
	fmt.Fprintf(p.out, "%s %s [%d/%d] %s %s\n",
		ColorDim("-"),
		p.bar(p.current),
		p.current,
		p.total,
		name,
		ColorDim("("+reason+")"),
	)
}

// Finish prints the summary line
func (p *StepProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.startTime)
	mark := ColorSuccess("✓")
	verb := "completed"
	if p.failureCount > 0 {
		mark = ColorError("✗")
		verb = "stopped"
	}

	fmt.Fprintf(p.out, "\n%s Deployment %s in %s\n", mark, verb, formatDuration(elapsed))
	fmt.Fprintf(p.out, "  %s %d succeeded\n", ColorSuccess("✓"), p.successCount)
	if p.skipCount > 0 {
		fmt.Fprintf(p.out, "  %s %d skipped\n", ColorWarning("-"), p.skipCount)
	}
	if p.failureCount > 0 {
		fmt.Fprintf(p.out, "  %s %d failed\n", ColorError("✗"), p.failureCount)
	}
}

// Counts returns the succeeded, skipped and failed step counts
func (p *StepProgress) Counts() (succeeded, skipped, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.successCount, p.skipCount, p.failureCount
}

func (p *StepProgress) bar(done int) string {
	const width = 20
	if p.total <= 0 {
		return strings.Repeat("░", width)
	}
	filled := done * width / p.total
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// Spinner animates a message while a long operation such as an LRO poll runs.
// Outside a terminal it prints the message once and the final status.
type Spinner struct {
	out      io.Writer
	frames   []string
	current  int
	message  string
	animate  bool
	stop     chan struct{}
	done     chan struct{}
	started  bool
	stopped  bool
	mu       sync.Mutex
	interval time.Duration
}

// NewSpinner creates a spinner writing to out
func NewSpinner(out io.Writer, message string) *Spinner {
	animate := false
	if out == nil {
		out = os.Stdout
	}
	if f, ok := out.(*os.File); ok {
		animate = isatty.IsTerminal(f.Fd())
	}
	return &Spinner{
		out:      out,
		frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		message:  message,
		animate:  animate,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		interval: 100 * time.Millisecond,
	}
}

// Start begins the spinner animation
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	if !s.animate {
		fmt.Fprintf(s.out, "%s %s\n", ColorProgress("…"), s.message)
		close(s.done)
		return
	}

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				fmt.Fprintf(s.out, "\r\033[K%s %s", ColorProgress(s.frames[s.current]), s.message)
				s.current = (s.current + 1) % len(s.frames)
				s.mu.Unlock()
			}
		}
	}()
}

// Stop ends the animation and prints the final status
func (s *Spinner) Stop(success bool, message string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	close(s.stop)
	if started {
		<-s.done
	}

	if s.animate {
		fmt.Fprint(s.out, "\r\033[K")
	}
	if success {
		fmt.Fprintf(s.out, "%s %s\n", ColorSuccess("✓"), message)
	} else {
		fmt.Fprintf(s.out, "%s %s\n", ColorError("✗"), message)
	}
}

// UpdateMessage updates the spinner message
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}
