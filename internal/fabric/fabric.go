// Package fabric is the boundary to the external pattern tool.
//
// A Runner performs exactly one attempt: it never retries. Failures come back
// as *apierr.Error so the resilience layer can decide what to do next.
// Two backends exist: CLIRunner shells out to the fabric command, and
// OpenAIRunner calls an OpenAI-compatible chat endpoint with the pattern's
// system prompt.
package fabric

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Request is one pattern invocation.
type Request struct {
	Pattern string
	Model   string // empty means the tool's default model
	Input   string
	Timeout time.Duration // zero means no per-call deadline
}

// Runner executes a pattern once and returns its standard output.
type Runner interface {
	Run(ctx context.Context, req Request) (string, error)
}

// LineFunc receives output lines as they are produced, without the newline.
type LineFunc func(line string)

// Streamer is a Runner that can also forward output line by line.
// The full output is still returned once the call completes.
type Streamer interface {
	Runner
	Stream(ctx context.Context, req Request, onLine LineFunc) (string, error)
}

var (
	thinkRe    = regexp.MustCompile(`(?s)<think>.*?</think>`)
	thinkingRe = regexp.MustCompile(`(?s)<thinking>.*?</thinking>`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)
)

// StripThinking removes <think> and <thinking> blocks that reasoning models
// emit, collapses the blank lines they leave behind and trims the result.
func StripThinking(text string) string {
	text = thinkRe.ReplaceAllString(text, "")
	text = thinkingRe.ReplaceAllString(text, "")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// withTimeout derives the per-call context.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
