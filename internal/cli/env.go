package cli

import (
	"context"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/alnah/go-fabric-analyze/internal/config"
	"github.com/alnah/go-fabric-analyze/internal/fabric"
	"github.com/alnah/go-fabric-analyze/internal/interrupt"
	"github.com/alnah/go-fabric-analyze/internal/resilience"
)

// Env holds injectable dependencies for CLI commands.
// This is the central injection point for testing CLI commands in isolation.
//
// All fields have sensible defaults via DefaultEnv(). Tests can override
// specific fields using the With* options or by creating a custom Env.
type Env struct {
	// I/O and environment
	Stdin    io.Reader
	Stdout   io.Writer
	Stderr   io.Writer
	Getenv   func(string) string
	Now      func() time.Time
	LookPath func(string) (string, error)

	// Sleep replaces real waits (backoff and inter-chunk delays).
	// Nil means real time.
	Sleep resilience.SleepFunc

	// Interrupts installs the Ctrl+C handler for a run.
	Interrupts func(ctx context.Context) (*interrupt.Handler, context.Context)

	// Factories for domain objects
	ConfigLoader  ConfigLoader
	RunnerFactory RunnerFactory
}

// ConfigLoader loads the configuration. An empty path means the default
// config file.
type ConfigLoader interface {
	Load(path string) (*config.Config, error)
}

// RunnerFactory creates the pattern tool runner for a backend.
type RunnerFactory interface {
	NewRunner(cfg config.Fabric, apiKey string, prompts fabric.PromptSource) fabric.Runner
}

// EnvOption configures an Env.
type EnvOption func(*Env)

// WithStdout sets the stdout writer.
func WithStdout(w io.Writer) EnvOption {
	return func(e *Env) { e.Stdout = w }
}

// WithStderr sets the stderr writer.
func WithStderr(w io.Writer) EnvOption {
	return func(e *Env) { e.Stderr = w }
}

// WithStdin sets the stdin reader.
func WithStdin(r io.Reader) EnvOption {
	return func(e *Env) { e.Stdin = r }
}

// WithGetenv sets the environment variable getter.
func WithGetenv(fn func(string) string) EnvOption {
	return func(e *Env) { e.Getenv = fn }
}

// WithNow sets the time provider.
func WithNow(fn func() time.Time) EnvOption {
	return func(e *Env) { e.Now = fn }
}

// WithLookPath sets the executable lookup.
func WithLookPath(fn func(string) (string, error)) EnvOption {
	return func(e *Env) { e.LookPath = fn }
}

// WithSleep sets the sleep used for backoff and delays.
func WithSleep(fn resilience.SleepFunc) EnvOption {
	return func(e *Env) { e.Sleep = fn }
}

// WithInterrupts sets the interrupt handler factory.
func WithInterrupts(fn func(ctx context.Context) (*interrupt.Handler, context.Context)) EnvOption {
	return func(e *Env) { e.Interrupts = fn }
}

// WithConfigLoader sets the config loader.
func WithConfigLoader(l ConfigLoader) EnvOption {
	return func(e *Env) { e.ConfigLoader = l }
}

// WithRunnerFactory sets the runner factory.
func WithRunnerFactory(f RunnerFactory) EnvOption {
	return func(e *Env) { e.RunnerFactory = f }
}

// DefaultEnv returns an Env with production defaults.
func DefaultEnv() *Env {
	return &Env{
		Stdin:         os.Stdin,
		Stdout:        os.Stdout,
		Stderr:        os.Stderr,
		Getenv:        os.Getenv,
		Now:           time.Now,
		LookPath:      exec.LookPath,
		Interrupts:    defaultInterrupts,
		ConfigLoader:  &defaultConfigLoader{},
		RunnerFactory: &defaultRunnerFactory{},
	}
}

// NewEnv creates an Env with the given options applied to defaults.
func NewEnv(opts ...EnvOption) *Env {
	env := DefaultEnv()
	for _, opt := range opts {
		opt(env)
	}
	return env
}

// ---------------------------------------------------------------------------
// Default implementations - delegate to real packages
// ---------------------------------------------------------------------------

func defaultInterrupts(ctx context.Context) (*interrupt.Handler, context.Context) {
	return interrupt.New(ctx)
}

// defaultConfigLoader implements ConfigLoader using the config package.
type defaultConfigLoader struct{}

func (defaultConfigLoader) Load(path string) (*config.Config, error) {
	return config.Load(config.WithFile(path))
}

// defaultRunnerFactory builds the fabric CLI or OpenAI-compatible runner.
type defaultRunnerFactory struct{}

func (defaultRunnerFactory) NewRunner(cfg config.Fabric, apiKey string, prompts fabric.PromptSource) fabric.Runner {
	if cfg.Backend == config.BackendOpenAI {
		return fabric.NewOpenAIRunner(apiKey, cfg.BaseURL, prompts, fabric.WithDefaultModel(cfg.Model))
	}
	return fabric.NewCLIRunner(fabric.WithCommand(cfg.Command))
}

// Compile-time interface verification.
var (
	_ ConfigLoader  = (*defaultConfigLoader)(nil)
	_ RunnerFactory = (*defaultRunnerFactory)(nil)
)
