package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/alnah/go-fabric-analyze/internal/apierr"
	"github.com/alnah/go-fabric-analyze/internal/config"
	"github.com/alnah/go-fabric-analyze/internal/interrupt"
	"github.com/alnah/go-fabric-analyze/internal/orchestrate"
	"github.com/alnah/go-fabric-analyze/internal/pattern"
)

// CLI-specific sentinel errors.
// These are validation/usage errors that don't belong to domain packages.
var (
	// ErrAPIKeyMissing indicates the API key variable for the HTTP backend is not set.
	ErrAPIKeyMissing = errors.New("API key environment variable not set")

	// ErrFabricNotFound indicates the fabric command is not on PATH.
	ErrFabricNotFound = errors.New("fabric command not found")

	// ErrFileNotFound indicates the specified input file does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalidMeta indicates the source metadata file could not be parsed.
	ErrInvalidMeta = errors.New("invalid metadata file")

	// ErrOutputExists indicates the output file already exists.
	ErrOutputExists = errors.New("output file already exists")

	// ErrPatternsFailed indicates at least one pattern did not complete.
	ErrPatternsFailed = errors.New("one or more patterns failed")
)

// Exit codes.
const (
	ExitOK         = 0
	ExitGeneral    = 1
	ExitUsage      = 2
	ExitSetup      = 3
	ExitValidation = 4
	ExitPattern    = 5
	ExitInterrupt  = interrupt.ExitInterrupt
)

// ExitCode maps errors to exit codes.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, apierr.ErrCanceled) {
		return ExitInterrupt
	}

	if isCobraUsageError(err) {
		return ExitUsage
	}

	if errors.Is(err, ErrAPIKeyMissing) || errors.Is(err, ErrFabricNotFound) ||
		errors.Is(err, config.ErrInvalid) {
		return ExitSetup
	}

	if errors.Is(err, ErrFileNotFound) || errors.Is(err, ErrInvalidMeta) ||
		errors.Is(err, ErrOutputExists) || errors.Is(err, orchestrate.ErrEmptyInput) ||
		errors.Is(err, orchestrate.ErrNoPatterns) || errors.Is(err, pattern.ErrInvalidName) ||
		errors.Is(err, pattern.ErrUnknown) || errors.Is(err, config.ErrUnknownKey) {
		return ExitValidation
	}

	var callErr *apierr.Error
	if errors.Is(err, ErrPatternsFailed) || errors.As(err, &callErr) {
		return ExitPattern
	}

	return ExitGeneral
}

// cobraUsageErrorPatterns contains error message substrings that indicate Cobra usage errors.
// Cobra doesn't expose typed errors, so string matching is the only reliable approach.
var cobraUsageErrorPatterns = []string{
	"required flag",
	"unknown flag",
	"unknown shorthand",
	"flag needs an argument",
	"invalid argument",
	"if any flags in the group",
	"accepts ",
	"requires at least",
	"requires at most",
	"unknown command",
}

// isCobraUsageError checks if an error is a Cobra usage/parsing error.
func isCobraUsageError(err error) bool {
	msg := err.Error()
	for _, p := range cobraUsageErrorPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
