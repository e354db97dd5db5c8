package interrupt_test

// Notes:
// - Black-box tests; signals, exit and clock are injected through options.
// - The clock is a mutex-guarded fake advanced by each test, so the abort
//   window is decided without real waiting.
// - stderr is written from the listener goroutine, hence syncBuffer.

import (
	"bytes"
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alnah/go-fabric-analyze/internal/interrupt"
)

// syncBuffer is a thread-safe bytes.Buffer for testing.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Contains(substr string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Contains(b.buf.Bytes(), []byte(substr))
}

// fakeClock returns a settable time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	sigCh  chan os.Signal
	stderr *syncBuffer
	clock  *fakeClock
	exit   atomic.Int32
}

func newHarness(t *testing.T, opts ...interrupt.Option) (*harness, *interrupt.Handler, context.Context) {
	t.Helper()
	hs := &harness{
		sigCh:  make(chan os.Signal, 2),
		stderr: &syncBuffer{},
		clock:  newFakeClock(),
	}
	hs.exit.Store(-1)
	base := []interrupt.Option{
		interrupt.WithSignals(hs.sigCh),
		interrupt.WithStderr(hs.stderr),
		interrupt.WithClock(hs.clock.Now),
		interrupt.WithExit(func(code int) { hs.exit.Store(int32(code)) }),
	}
	h, ctx := interrupt.New(context.Background(), append(base, opts...)...)
	t.Cleanup(h.Stop)
	return hs, h, ctx
}

func waitDone(t *testing.T, ctx context.Context) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context should be canceled after first signal")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestBehavior_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		b    interrupt.Behavior
		want string
	}{
		{interrupt.KeepPartial, "KeepPartial"},
		{interrupt.Discard, "Discard"},
		{interrupt.Behavior(7), "Behavior(7)"},
	}
	for _, tt := range tests {
		if got := tt.b.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestHandler_NoSignal(t *testing.T) {
	t.Parallel()

	_, h, ctx := newHarness(t)

	select {
	case <-ctx.Done():
		t.Fatal("context canceled before any signal")
	default:
	}
	if h.Interrupted() {
		t.Error("Interrupted() = true before any signal")
	}
	if got := h.WaitForDecision("ignored"); got != interrupt.KeepPartial {
		t.Errorf("WaitForDecision() = %v, want KeepPartial", got)
	}
}

func TestHandler_FirstInterruptCancels(t *testing.T) {
	t.Parallel()

	hs, h, ctx := newHarness(t)
	hs.sigCh <- os.Interrupt
	waitDone(t, ctx)

	if !h.Interrupted() {
		t.Error("Interrupted() = false after first signal")
	}
	waitFor(t, func() bool { return hs.stderr.Contains("Press Ctrl+C again") })
	if hs.exit.Load() != -1 {
		t.Error("exit called after a single signal")
	}
}

func TestHandler_SecondInterruptWithinWindowAborts(t *testing.T) {
	t.Parallel()

	hs, h, ctx := newHarness(t)
	hs.sigCh <- os.Interrupt
	waitDone(t, ctx)

	hs.clock.Advance(time.Second)
	hs.sigCh <- os.Interrupt

	waitFor(t, func() bool { return hs.exit.Load() != -1 })
	if got := hs.exit.Load(); got != interrupt.ExitInterrupt {
		t.Errorf("exit code = %d, want %d", got, interrupt.ExitInterrupt)
	}
	if !hs.stderr.Contains("Aborted.") {
		t.Error("stderr should contain 'Aborted.'")
	}
	if got := h.WaitForDecision(""); got != interrupt.Discard {
		t.Errorf("WaitForDecision() = %v, want Discard", got)
	}
}

func TestHandler_SecondInterruptOutsideWindowIgnored(t *testing.T) {
	t.Parallel()

	hs, _, ctx := newHarness(t)
	hs.sigCh <- os.Interrupt
	waitDone(t, ctx)

	hs.clock.Advance(3 * time.Second)
	hs.sigCh <- os.Interrupt
	time.Sleep(50 * time.Millisecond)

	if hs.exit.Load() != -1 {
		t.Error("exit called for a signal outside the window")
	}
}

func TestHandler_WaitForDecision_WindowElapsed(t *testing.T) {
	t.Parallel()

	hs, h, ctx := newHarness(t)
	hs.sigCh <- os.Interrupt
	waitDone(t, ctx)

	hs.clock.Advance(interrupt.DefaultWindow + time.Millisecond)
	if got := h.WaitForDecision("Saving partial results..."); got != interrupt.KeepPartial {
		t.Errorf("WaitForDecision() = %v, want KeepPartial", got)
	}
	if hs.stderr.Contains("Saving partial results") {
		t.Error("message printed although the window had elapsed")
	}
}

func TestHandler_WaitForDecision_WaitsRemainingWindow(t *testing.T) {
	t.Parallel()

	hs, h, ctx := newHarness(t, interrupt.WithWindow(50*time.Millisecond))
	hs.sigCh <- os.Interrupt
	waitDone(t, ctx)

	start := time.Now()
	if got := h.WaitForDecision("Saving partial results..."); got != interrupt.KeepPartial {
		t.Errorf("WaitForDecision() = %v, want KeepPartial", got)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Error("WaitForDecision returned before the window closed")
	}
	if !hs.stderr.Contains("Saving partial results") {
		t.Error("message not printed")
	}
}

func TestHandler_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	_, h, ctx := newHarness(t)
	h.Stop()
	h.Stop()
	waitDone(t, ctx)
}
