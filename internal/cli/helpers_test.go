package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alnah/go-fabric-analyze/internal/config"
	"github.com/alnah/go-fabric-analyze/internal/fabric"
	"github.com/alnah/go-fabric-analyze/internal/interrupt"
)

// ---------------------------------------------------------------------------
// syncBuffer - thread-safe bytes.Buffer for concurrent test output
// ---------------------------------------------------------------------------

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Compile-time check that syncBuffer implements io.Writer.
var _ io.Writer = (*syncBuffer)(nil)

// ---------------------------------------------------------------------------
// testEnv - creates a fully mocked Env for testing
// ---------------------------------------------------------------------------

type testHarness struct {
	env    *Env
	stdout *syncBuffer
	stderr *syncBuffer
	config *mockConfigLoader
	runner *mockRunnerFactory
	outDir string
}

// testConfig returns defaults with zero delays and quiet logs, writing
// outputs to a temp dir.
func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Dir = t.TempDir()
	cfg.Log.Level = "error"
	cfg.Delay.Short = 0
	cfg.Delay.Long = 0
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond
	return cfg
}

// newHarness builds an Env around runner with every side effect captured.
func newHarness(t *testing.T, runner fabric.Runner) *testHarness {
	t.Helper()
	cfg := testConfig(t)
	h := &testHarness{
		stdout: &syncBuffer{},
		stderr: &syncBuffer{},
		config: &mockConfigLoader{cfg: cfg},
		runner: &mockRunnerFactory{runner: runner},
		outDir: cfg.Output.Dir,
	}
	h.env = &Env{
		Stdin:  strings.NewReader(""),
		Stdout: h.stdout,
		Stderr: h.stderr,
		Getenv: staticEnv(map[string]string{"GROQ_API_KEY": "test-key"}),
		Now:    time.Now,
		LookPath: func(name string) (string, error) {
			return "/usr/local/bin/" + name, nil
		},
		Sleep: func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
		Interrupts: func(ctx context.Context) (*interrupt.Handler, context.Context) {
			return interrupt.New(ctx, interrupt.WithSignals(make(chan os.Signal)))
		},
		ConfigLoader:  h.config,
		RunnerFactory: h.runner,
	}
	return h
}

// execute runs the root command with args.
func (h *testHarness) execute(args ...string) error {
	cmd := RootCmd(h.env, "test")
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(context.Background())
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// staticEnv returns a getenv function that returns values from the given map.
func staticEnv(env map[string]string) func(string) string {
	return func(key string) string {
		return env[key]
	}
}

// writeFile creates a file under a temp dir and returns its path.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// readFile returns the content of path or fails the test.
func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

// transcript returns n sentences of eight words.
func transcript(n int) string {
	var b strings.Builder
	for i := range n {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("The speaker explains one more idea about pipelines.")
	}
	return b.String()
}
