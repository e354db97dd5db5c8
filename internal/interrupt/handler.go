// Package interrupt turns Ctrl+C into cooperative cancellation of a run.
// The first interrupt cancels the run context so in-flight work stops at the
// next checkpoint and partial results can be kept. A second interrupt within
// a short window exits immediately.
package interrupt

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Behavior is what the user wants done with a canceled run.
type Behavior int

const (
	// KeepPartial writes the outputs of the patterns that finished.
	KeepPartial Behavior = iota
	// Discard drops everything and exits.
	Discard
)

// String returns the string representation of the Behavior.
func (b Behavior) String() string {
	switch b {
	case KeepPartial:
		return "KeepPartial"
	case Discard:
		return "Discard"
	default:
		return fmt.Sprintf("Behavior(%d)", b)
	}
}

// ExitInterrupt is the exit code for interrupt (130 = 128 + SIGINT).
const ExitInterrupt = 130

// DefaultWindow is the time allowed for a second Ctrl+C.
const DefaultWindow = 2 * time.Second

// pollInterval is how often WaitForDecision checks for a second interrupt.
const pollInterval = 100 * time.Millisecond

const (
	firstMessage = "\nInterrupted: finishing the current call. Press Ctrl+C again to abort."
	abortMessage = "\nAborted."
)

// Handler watches for SIGINT/SIGTERM.
type Handler struct {
	mu          sync.Mutex
	first       time.Time
	interrupted bool
	aborted     bool
	stopped     bool
	cancel      context.CancelFunc
	done        chan struct{}

	window time.Duration
	exit   func(int)
	now    func() time.Time
	stderr io.Writer
	sigCh  <-chan os.Signal // nil means os/signal
}

// Option configures a Handler.
type Option func(*Handler)

// WithSignals reads signals from ch instead of os/signal (for testing).
func WithSignals(ch <-chan os.Signal) Option {
	return func(h *Handler) { h.sigCh = ch }
}

// WithExit replaces os.Exit (for testing).
func WithExit(fn func(int)) Option {
	return func(h *Handler) { h.exit = fn }
}

// WithClock replaces time.Now (for testing).
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithStderr sets the writer for user-facing messages. It must be safe for
// concurrent writes.
func WithStderr(w io.Writer) Option {
	return func(h *Handler) { h.stderr = w }
}

// WithWindow sets how long a second interrupt counts as an abort.
func WithWindow(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.window = d
		}
	}
}

// New creates a handler and a context that is canceled on the first
// interrupt. Call Stop when the run is over.
func New(parent context.Context, opts ...Option) (*Handler, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	h := &Handler{
		cancel: cancel,
		done:   make(chan struct{}),
		window: DefaultWindow,
		exit:   os.Exit,
		now:    time.Now,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(h)
	}

	sigCh := h.sigCh
	if sigCh == nil {
		ch := make(chan os.Signal, 2)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sigCh = ch
	}
	go h.listen(sigCh)
	return h, ctx
}

func (h *Handler) listen(sigCh <-chan os.Signal) {
	for {
		select {
		case <-h.done:
			return
		case _, ok := <-sigCh:
			if !ok {
				return
			}

			h.mu.Lock()
			if h.stopped {
				h.mu.Unlock()
				return
			}
			now := h.now()

			if !h.interrupted {
				h.interrupted = true
				h.first = now
				h.cancel()
				h.mu.Unlock()
				fmt.Fprintln(h.stderr, firstMessage)
				continue
			}

			if now.Sub(h.first) <= h.window {
				h.aborted = true
				h.mu.Unlock()
				fmt.Fprintln(h.stderr, abortMessage)
				h.exit(ExitInterrupt)
				return // exit may be a test double
			}
			h.mu.Unlock()
		}
	}
}

// Interrupted reports whether at least one interrupt was received.
func (h *Handler) Interrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}

// WaitForDecision gives the user the rest of the window to press Ctrl+C
// again. It returns Discard on a second interrupt and KeepPartial otherwise,
// including when no interrupt happened at all.
func (h *Handler) WaitForDecision(message string) Behavior {
	h.mu.Lock()
	if !h.interrupted {
		h.mu.Unlock()
		return KeepPartial
	}
	if h.aborted {
		h.mu.Unlock()
		return Discard
	}
	first := h.first
	h.mu.Unlock()

	remaining := h.window - h.now().Sub(first)
	if remaining <= 0 {
		return KeepPartial
	}

	if message != "" {
		fmt.Fprintln(h.stderr, message)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(remaining)
	defer deadline.Stop()

	for {
		select {
		case <-deadline.C:
			return KeepPartial
		case <-ticker.C:
			h.mu.Lock()
			aborted := h.aborted
			h.mu.Unlock()
			if aborted {
				return Discard
			}
		}
	}
}

// Stop releases the signal handler. It is safe to call more than once.
func (h *Handler) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	custom := h.sigCh != nil
	h.mu.Unlock()

	if !custom {
		signal.Reset(syscall.SIGINT, syscall.SIGTERM)
	}
	close(h.done)
	h.cancel()
}
