// Package apierr classifies failures of the external pattern tool into a
// closed set of kinds and carries the retry policy applied to them.
//
// Runners turn raw tool output into an *Error at the call boundary.
// Callers check with errors.Is(err, apierr.ErrRateLimit) etc., or switch on
// KindOf(err).
package apierr

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Sentinel errors, one per Kind.
var (
	// ErrTooLarge indicates the input exceeds what the tool accepts (not retryable).
	ErrTooLarge = errors.New("request too large")

	// ErrRateLimit indicates a quota or rate limit was hit (retryable, then fall back).
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrServer indicates a transient server-side failure (retryable, no fallback).
	ErrServer = errors.New("server error")

	// ErrInvocation indicates the tool could not be invoked as asked.
	ErrInvocation = errors.New("tool invocation failed")

	// ErrTimeout indicates the call exceeded its deadline.
	ErrTimeout = errors.New("request timeout")

	// ErrCanceled indicates the caller canceled the run.
	ErrCanceled = errors.New("canceled")

	// ErrUnknown covers any other tool failure.
	ErrUnknown = errors.New("call failed")
)

// Kind is the classification of one failed call.
type Kind int

// Kinds. KindNone means no failure.
const (
	KindNone Kind = iota
	KindTooLarge
	KindRateLimit
	KindServer
	KindInvocation
	KindTimeout
	KindCanceled
	KindUnknown
)

var kindNames = [...]string{
	KindNone:       "none",
	KindTooLarge:   "too_large",
	KindRateLimit:  "rate_limit",
	KindServer:     "server",
	KindInvocation: "invocation",
	KindTimeout:    "timeout",
	KindCanceled:   "canceled",
	KindUnknown:    "unknown",
}

// String returns the kind name used in logs.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Retriable reports whether the same call may succeed if repeated later.
func (k Kind) Retriable() bool {
	return k == KindRateLimit || k == KindServer
}

// Fallback reports whether, once retries are exhausted, the next model in
// the chain should be tried. Only quota signals are model-specific.
func (k Kind) Fallback() bool {
	return k == KindRateLimit
}

// Sentinel returns the sentinel error for the kind, nil for KindNone.
func (k Kind) Sentinel() error {
	switch k {
	case KindNone:
		return nil
	case KindTooLarge:
		return ErrTooLarge
	case KindRateLimit:
		return ErrRateLimit
	case KindServer:
		return ErrServer
	case KindInvocation:
		return ErrInvocation
	case KindTimeout:
		return ErrTimeout
	case KindCanceled:
		return ErrCanceled
	default:
		return ErrUnknown
	}
}

// Classification patterns, checked in order. An explicit 429 status wins
// over any wording. Size errors come next because some providers report
// oversized requests with quota wording.
var rules = []struct {
	kind Kind
	re   *regexp.Regexp
}{
	{KindRateLimit, regexp.MustCompile(`\b429\b`)},
	{KindTooLarge, regexp.MustCompile(`(?i)\b413\b|too large|context length|maximum context`)},
	{KindRateLimit, regexp.MustCompile(`(?i)rate.?limit|quota|too many requests|tokens per minute`)},
	{KindServer, regexp.MustCompile(`(?i)\b50[023]\b|server error|bad gateway|service unavailable|overloaded`)},
	{KindTimeout, regexp.MustCompile(`(?i)timeout|timed out|deadline exceeded`)},
	{KindInvocation, regexp.MustCompile(`(?i)executable file not found|no such file|command not found|unknown (flag|shorthand|command)|pattern .*not found|invalid pattern`)},
}

// Classify maps raw error text to a Kind. It is pure: the same text always
// yields the same kind. Empty text is KindUnknown.
func Classify(text string) Kind {
	for _, r := range rules {
		if r.re.MatchString(text) {
			return r.kind
		}
	}
	return KindUnknown
}

// KindOf returns the kind of err. Errors already carrying a kind keep it;
// context errors map to timeout and canceled; anything else is classified
// by its text.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for k := KindTooLarge; k <= KindUnknown; k++ {
		if errors.Is(err, k.Sentinel()) {
			return k
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return Classify(err.Error())
}

// Error is a classified call failure with the context needed to act on it.
type Error struct {
	Kind    Kind
	Msg     string
	Retries int    // failed retriable attempts, summed across models
	Model   string // model used by the last attempt, empty for the tool default
	Chunk   int    // 1-based chunk number, 0 when not tied to a chunk
}

// New creates an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Error renders "<msg> (after N retries) [model: <short>]", omitting the
// parts that are zero.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Msg)
	if s := e.Kind.Sentinel(); e.Msg == "" && s != nil {
		b.WriteString(s.Error())
	}
	if e.Retries > 0 {
		fmt.Fprintf(&b, " (after %d retries)", e.Retries)
	}
	if e.Model != "" {
		fmt.Fprintf(&b, " [model: %s]", ShortModel(e.Model))
	}
	return b.String()
}

// Unwrap returns the kind's sentinel.
func (e *Error) Unwrap() error {
	return e.Kind.Sentinel()
}

// ShortModel strips the provider prefix from a model id
// ("meta-llama/llama-4-scout" becomes "llama-4-scout").
func ShortModel(model string) string {
	if i := strings.LastIndex(model, "/"); i >= 0 {
		return model[i+1:]
	}
	return model
}
