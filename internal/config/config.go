// Package config loads the tool configuration from built-in defaults, an
// optional YAML file and FABRIC_ANALYZE_* environment variables, in that
// order of precedence (last wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// AppName names the configuration directory.
const AppName = "fabric-analyze"

// FileName is the configuration file inside the configuration directory.
const FileName = "config.yml"

// EnvPrefix prefixes every environment override.
// FABRIC_ANALYZE_CHUNK_MAX_TOKENS sets chunk.max_tokens.
const EnvPrefix = "FABRIC_ANALYZE_"

// Backends.
const (
	BackendCLI    = "cli"
	BackendOpenAI = "openai"
)

// Estimators.
const (
	EstimatorWords    = "words"
	EstimatorTiktoken = "tiktoken"
)

// Config is the full tool configuration.
type Config struct {
	Fabric   Fabric   `koanf:"fabric"`
	Chunk    Chunk    `koanf:"chunk"`
	Retry    Retry    `koanf:"retry"`
	Models   Models   `koanf:"models"`
	Patterns Patterns `koanf:"patterns"`
	Phase1   Phase1   `koanf:"phase1"`
	Delay    Delay    `koanf:"delay"`
	Output   Output   `koanf:"output"`
	Log      Log      `koanf:"log"`
}

// Fabric configures the pattern tool boundary.
type Fabric struct {
	Backend     string        `koanf:"backend" validate:"oneof=cli openai"`
	Command     string        `koanf:"command" validate:"required"`
	BaseURL     string        `koanf:"base_url" validate:"omitempty,url"`
	APIKeyEnv   string        `koanf:"api_key_env" validate:"required"`
	PatternsDir string        `koanf:"patterns_dir"`
	Model       string        `koanf:"model"`
	Timeout     time.Duration `koanf:"timeout" validate:"gt=0"`
	Stream      bool          `koanf:"stream"`
}

// Chunk configures sizing.
type Chunk struct {
	MaxTokens            int     `koanf:"max_tokens" validate:"gt=0"`
	OverlapTokens        int     `koanf:"overlap_tokens" validate:"gte=0,ltfield=MaxTokens"`
	MaxRequestTokens     int     `koanf:"max_request_tokens" validate:"gtefield=MaxTokens"`
	Estimator            string  `koanf:"estimator" validate:"oneof=words tiktoken"`
	Encoding             string  `koanf:"encoding"`
	Overhead             int     `koanf:"overhead" validate:"gte=0"`
	PunctuationThreshold float64 `koanf:"punctuation_threshold" validate:"gt=0,lt=1"`
	WordsPerGroup        int     `koanf:"words_per_group" validate:"gte=10"`
	Balanced             bool    `koanf:"balanced"`
}

// Retry configures backoff.
type Retry struct {
	MaxRetries      int           `koanf:"max_retries" validate:"gte=0,lte=10"`
	BaseDelay       time.Duration `koanf:"base_delay" validate:"gt=0"`
	MaxDelay        time.Duration `koanf:"max_delay" validate:"gtefield=BaseDelay"`
	ExponentialBase float64       `koanf:"exponential_base" validate:"gte=1"`
}

// Models holds the ordered fallback chains. Aliases are resolved through the
// model catalog.
type Models struct {
	Phase1 []string `koanf:"phase1"`
	Phase2 []string `koanf:"phase2"`
}

// Patterns selects what runs.
type Patterns struct {
	Default  []string `koanf:"default" validate:"min=1,dive,required"`
	Join     string   `koanf:"join"`
	Summary  string   `koanf:"summary" validate:"required"`
	Theme    string   `koanf:"theme" validate:"required"`
	Topics   string   `koanf:"topics" validate:"required"`
	Parallel int      `koanf:"parallel" validate:"gte=1"`
}

// Phase1 configures metadata extraction.
type Phase1 struct {
	Model     string        `koanf:"model"`
	Timeout   time.Duration `koanf:"timeout" validate:"gt=0"`
	MaxWords  int           `koanf:"max_words" validate:"gt=0"`
	HeadWords int           `koanf:"head_words" validate:"gte=0"`
	TailWords int           `koanf:"tail_words" validate:"gte=0"`
}

// Delay configures the pause between chunks of one pattern.
type Delay struct {
	Short     time.Duration `koanf:"short" validate:"gte=0"`
	Long      time.Duration `koanf:"long" validate:"gte=0"`
	Threshold int           `koanf:"threshold" validate:"gte=1"`
}

// Output configures where results go.
type Output struct {
	Dir     string `koanf:"dir"`
	SaveDir string `koanf:"save_dir"`
}

// Log configures logging.
type Log struct {
	Level string `koanf:"level" validate:"oneof=debug info warn warning error"`
	JSON  bool   `koanf:"json"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Fabric: Fabric{
			Backend:     BackendCLI,
			Command:     "fabric-ai",
			APIKeyEnv:   "GROQ_API_KEY",
			PatternsDir: "~/.config/fabric/patterns",
			Timeout:     120 * time.Second,
		},
		Chunk: Chunk{
			MaxTokens:            8000,
			OverlapTokens:        200,
			MaxRequestTokens:     30000,
			Estimator:            EstimatorWords,
			Encoding:             "cl100k_base",
			Overhead:             800,
			PunctuationThreshold: 0.01,
			WordsPerGroup:        150,
			Balanced:             true,
		},
		Retry: Retry{
			MaxRetries:      3,
			BaseDelay:       5 * time.Second,
			MaxDelay:        60 * time.Second,
			ExponentialBase: 2.0,
		},
		Models: Models{
			Phase1: []string{"llama-8b", "kimi", "llama-70b"},
			Phase2: []string{"llama-70b", "kimi", "llama-8b"},
		},
		Patterns: Patterns{
			Default:  []string{"youtube_summary"},
			Summary:  "create_micro_summary",
			Theme:    "extract_main_idea",
			Topics:   "extract_patterns",
			Parallel: 1,
		},
		Phase1: Phase1{
			Timeout:   60 * time.Second,
			MaxWords:  10000,
			HeadWords: 2000,
			TailWords: 500,
		},
		Delay: Delay{
			Short:     500 * time.Millisecond,
			Long:      2 * time.Second,
			Threshold: 3,
		},
		Log: Log{Level: "warn"},
	}
}

// ---------------------------------------------------------------------------
// Paths
// ---------------------------------------------------------------------------

// dir returns the configuration directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/fabric-analyze.
func dir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", AppName), nil
}

// Path returns the full path to the config file.
func Path() (string, error) {
	d, err := dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, FileName), nil
}

// ResolveOutputPath resolves the final output path using the following precedence:
//  1. If output is absolute, use it as-is
//  2. If output is relative and outputDir is set, join them
//  3. If output is empty, use defaultName in outputDir (or cwd if no outputDir)
func ResolveOutputPath(output, outputDir, defaultName string) string {
	if output != "" && filepath.IsAbs(output) {
		return filepath.Clean(output)
	}
	if output != "" {
		if outputDir != "" {
			return filepath.Clean(filepath.Join(outputDir, output))
		}
		return filepath.Clean(output)
	}
	if outputDir != "" {
		return filepath.Clean(filepath.Join(outputDir, defaultName))
	}
	return filepath.Clean(defaultName)
}

// ValidOutputDir checks that d exists (creating it if needed), is a
// directory, and is writable.
func ValidOutputDir(d string) error {
	if d == "" {
		return fmt.Errorf("directory cannot be empty")
	}
	d = ExpandPath(d)

	info, err := os.Stat(d)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(d, 0750); err != nil { // #nosec G301 -- user output dir
				return fmt.Errorf("cannot create directory: %w", err)
			}
			return nil
		}
		return fmt.Errorf("cannot access directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", d)
	}

	testFile := filepath.Join(d, ".fabric-analyze-write-test")
	f, err := os.Create(testFile) // #nosec G304 -- path is constructed from validated dir
	if err != nil {
		return fmt.Errorf("directory is not writable: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(testFile)
		return fmt.Errorf("directory is not writable: %w", err)
	}
	_ = os.Remove(testFile)
	return nil
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(p string) string {
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, p[2:])
	}
	return p
}
