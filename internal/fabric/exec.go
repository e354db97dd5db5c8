package fabric

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/alnah/go-fabric-analyze/internal/apierr"
)

// CLI defaults.
const (
	// DefaultCommand is the fabric binary name installed by the Go port.
	DefaultCommand = "fabric-ai"

	// maxErrorText bounds the stderr excerpt kept in error messages.
	maxErrorText = 200

	// waitDelay bounds how long Wait blocks on pipes after the process is killed.
	waitDelay = 2 * time.Second
)

// Compile-time interface compliance check.
var _ Streamer = (*CLIRunner)(nil)

// execFn runs a command with the given stdin and writers and returns the
// process error, if any. Tests replace it to avoid spawning processes.
type execFn func(ctx context.Context, path string, args []string, stdin io.Reader, stdout, stderr io.Writer) error

// CLIRunner invokes the fabric command line tool: the packet goes to stdin,
// the pattern result comes back on stdout.
type CLIRunner struct {
	command string
	exec    execFn
}

// CLIOption configures a CLIRunner.
type CLIOption func(*CLIRunner)

// WithCommand sets the binary name or path.
func WithCommand(cmd string) CLIOption {
	return func(r *CLIRunner) {
		if cmd != "" {
			r.command = cmd
		}
	}
}

// withExec sets a custom exec function (for testing).
func withExec(fn execFn) CLIOption {
	return func(r *CLIRunner) { r.exec = fn }
}

// NewCLIRunner creates a CLIRunner.
func NewCLIRunner(opts ...CLIOption) *CLIRunner {
	r := &CLIRunner{
		command: DefaultCommand,
		exec:    defaultExec,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Command returns the binary the runner invokes.
func (r *CLIRunner) Command() string { return r.command }

// Run implements Runner.
func (r *CLIRunner) Run(ctx context.Context, req Request) (string, error) {
	var stdout bytes.Buffer
	if err := r.invoke(ctx, req, false, &stdout); err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Stream implements Streamer. It passes -s so fabric flushes tokens as they
// arrive, and forwards each completed line to onLine.
func (r *CLIRunner) Stream(ctx context.Context, req Request, onLine LineFunc) (string, error) {
	lw := &lineWriter{onLine: onLine}
	err := r.invoke(ctx, req, true, lw)
	lw.flush()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(lw.buf.String()), nil
}

// Args builds the argument list for a request.
func Args(req Request, stream bool) []string {
	args := []string{"-p", req.Pattern}
	if req.Model != "" {
		args = append(args, "-m", req.Model)
	}
	if stream {
		args = append(args, "-s")
	}
	return args
}

func (r *CLIRunner) invoke(ctx context.Context, req Request, stream bool, stdout io.Writer) error {
	callCtx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	var stderr bytes.Buffer
	err := r.exec(callCtx, r.command, Args(req, stream), strings.NewReader(req.Input), stdout, &stderr)
	if err == nil {
		return nil
	}
	return r.classify(ctx, callCtx, req, err, stderr.String())
}

// classify turns a process failure into an *apierr.Error.
func (r *CLIRunner) classify(parent, call context.Context, req Request, err error, stderr string) error {
	switch {
	case parent.Err() != nil:
		return &apierr.Error{Kind: apierr.KindCanceled, Msg: parent.Err().Error(), Model: req.Model}
	case errors.Is(call.Err(), context.DeadlineExceeded):
		// A killed call keeps the kind its stderr reports, if any.
		text := strings.TrimSpace(stderr)
		if kind := apierr.Classify(text); kind != apierr.KindUnknown {
			return &apierr.Error{Kind: kind, Msg: errorText(kind, text), Model: req.Model}
		}
		return &apierr.Error{Kind: apierr.KindTimeout, Msg: fmt.Sprintf("Timeout after %ds", int(req.Timeout.Seconds())), Model: req.Model}
	case errors.Is(err, exec.ErrNotFound):
		return &apierr.Error{Kind: apierr.KindInvocation, Msg: fmt.Sprintf("%s not found: %v", r.command, err), Model: req.Model}
	}

	var exitErr exitCoder
	if !errors.As(err, &exitErr) {
		// The process never ran (permission denied, bad path).
		return &apierr.Error{Kind: apierr.KindInvocation, Msg: err.Error(), Model: req.Model}
	}

	text := strings.TrimSpace(stderr)
	if text == "" {
		text = fmt.Sprintf("Exit code %d", exitErr.ExitCode())
	}
	kind := apierr.Classify(text)
	return &apierr.Error{Kind: kind, Msg: errorText(kind, text), Model: req.Model}
}

// errorText normalizes quota and size messages and truncates the rest.
func errorText(kind apierr.Kind, text string) string {
	switch kind {
	case apierr.KindRateLimit:
		return "429 Rate limit exceeded"
	case apierr.KindTooLarge:
		return "413 Request too large"
	}
	return truncate(text, maxErrorText)
}

// exitCoder is satisfied by *exec.ExitError.
type exitCoder interface {
	error
	ExitCode() int
}

// defaultExec is the production implementation.
func defaultExec(ctx context.Context, path string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	return cmd.Run()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// lineWriter forwards complete lines to a callback and keeps a copy of
// everything written.
type lineWriter struct {
	buf     bytes.Buffer
	pending []byte
	onLine  LineFunc
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.emit(string(w.pending[:i]))
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if len(w.pending) > 0 {
		w.emit(string(w.pending))
		w.pending = nil
	}
}

func (w *lineWriter) emit(line string) {
	if w.onLine != nil {
		w.onLine(strings.TrimSuffix(line, "\r"))
	}
}
