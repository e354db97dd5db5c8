package cli

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/alnah/go-fabric-analyze/internal/config"
	"github.com/alnah/go-fabric-analyze/internal/fabric"
)

// ---------------------------------------------------------------------------
// mockConfigLoader
// ---------------------------------------------------------------------------

type mockConfigLoader struct {
	cfg      config.Config
	err      error
	lastPath string
}

func (m *mockConfigLoader) Load(path string) (*config.Config, error) {
	m.lastPath = path
	if m.err != nil {
		return nil, m.err
	}
	cfg := m.cfg // copy so commands can mutate freely
	cfg.Patterns.Default = append([]string(nil), m.cfg.Patterns.Default...)
	return &cfg, nil
}

// ---------------------------------------------------------------------------
// mockRunner - scripted fabric.Runner that records calls
// ---------------------------------------------------------------------------

// mockRunner answers metadata patterns with parseable output and every other
// pattern with "<pattern> output". Patterns listed in fail return an
// invocation error.
type mockRunner struct {
	mu    sync.Mutex
	calls []fabric.Request
	fail  map[string]error
}

func (m *mockRunner) Run(_ context.Context, req fabric.Request) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if err, ok := m.fail[req.Pattern]; ok {
		return "", err
	}
	switch req.Pattern {
	case "create_micro_summary":
		return "# ONE SENTENCE SUMMARY:\nA talk about resilient pipelines.", nil
	case "extract_main_idea":
		return "# MAIN IDEA\nRetries need budgets and fallbacks.", nil
	case "extract_patterns":
		return "retries, fallbacks, chunking, context", nil
	}
	return req.Pattern + " output", nil
}

func (m *mockRunner) patterns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Pattern
	}
	return out
}

func (m *mockRunner) inputs(pattern string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.calls {
		if c.Pattern == pattern {
			out = append(out, c.Input)
		}
	}
	return out
}

// models returns the distinct models tried for pattern, in call order.
func (m *mockRunner) models(pattern string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.calls {
		if c.Pattern == pattern && (len(out) == 0 || out[len(out)-1] != c.Model) {
			out = append(out, c.Model)
		}
	}
	return out
}

// streamingRunner adds fabric.Streamer to mockRunner.
type streamingRunner struct {
	mockRunner
}

func (s *streamingRunner) Stream(ctx context.Context, req fabric.Request, onLine fabric.LineFunc) (string, error) {
	out, err := s.Run(ctx, req)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		onLine(line)
	}
	return out, nil
}

var (
	errInvalidPattern = errors.New("invalid pattern: no such pattern")
	errRateLimited    = errors.New("429 Too Many Requests: rate limit reached")
)

// ---------------------------------------------------------------------------
// mockRunnerFactory
// ---------------------------------------------------------------------------

type mockRunnerFactory struct {
	runner  fabric.Runner
	lastCfg config.Fabric
	lastKey string
}

func (m *mockRunnerFactory) NewRunner(cfg config.Fabric, apiKey string, _ fabric.PromptSource) fabric.Runner {
	m.lastCfg = cfg
	m.lastKey = apiKey
	return m.runner
}

// Compile-time interface checks.
var (
	_ ConfigLoader    = (*mockConfigLoader)(nil)
	_ RunnerFactory   = (*mockRunnerFactory)(nil)
	_ fabric.Streamer = (*streamingRunner)(nil)
)
