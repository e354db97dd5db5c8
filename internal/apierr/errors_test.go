package apierr_test

// Coverage Notes:
// - Classify is tested on the messages the runners actually produce and on
//   provider texts seen in the wild.
// - Error wrapping is verified through errors.Is and errors.As.

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alnah/go-fabric-analyze/internal/apierr"
)

// ---------------------------------------------------------------------------
// TestClassify - raw text to Kind
// ---------------------------------------------------------------------------

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want apierr.Kind
	}{
		{"429 Rate limit exceeded", apierr.KindRateLimit},
		{"Rate limit reached for model llama-3.3-70b-versatile", apierr.KindRateLimit},
		{"You exceeded your current quota", apierr.KindRateLimit},
		{"Too Many Requests", apierr.KindRateLimit},
		{"413 Request too large", apierr.KindTooLarge},
		{"429: request too large for model, context length exceeded", apierr.KindRateLimit},
		{"status 413: rate limit wording in a size error", apierr.KindTooLarge},
		{"Request too large for model on tokens per minute (TPM)", apierr.KindTooLarge},
		{"Request too large: ~31000 tokens (max: 30000)", apierr.KindTooLarge},
		{"500 Internal Server Error", apierr.KindServer},
		{"502 Bad Gateway", apierr.KindServer},
		{"error: 503 service unavailable", apierr.KindServer},
		{"Timeout after 120s", apierr.KindTimeout},
		{"context deadline exceeded", apierr.KindTimeout},
		{`exec: "fabric-ai": executable file not found in $PATH`, apierr.KindInvocation},
		{"unknown flag: --bogus", apierr.KindInvocation},
		{"pattern youtube_sumary not found", apierr.KindInvocation},
		{"something odd happened", apierr.KindUnknown},
		{"", apierr.KindUnknown},
		{"port 4290 closed", apierr.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			if got := apierr.Classify(tt.text); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// TestKind - policy predicates
// ---------------------------------------------------------------------------

func TestKind_Policy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind      apierr.Kind
		retriable bool
		fallback  bool
	}{
		{apierr.KindNone, false, false},
		{apierr.KindTooLarge, false, false},
		{apierr.KindRateLimit, true, true},
		{apierr.KindServer, true, false},
		{apierr.KindInvocation, false, false},
		{apierr.KindTimeout, false, false},
		{apierr.KindCanceled, false, false},
		{apierr.KindUnknown, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			t.Parallel()
			if got := tt.kind.Retriable(); got != tt.retriable {
				t.Errorf("Retriable() = %v, want %v", got, tt.retriable)
			}
			if got := tt.kind.Fallback(); got != tt.fallback {
				t.Errorf("Fallback() = %v, want %v", got, tt.fallback)
			}
		})
	}
}

func TestKind_String(t *testing.T) {
	t.Parallel()

	if got := apierr.KindRateLimit.String(); got != "rate_limit" {
		t.Errorf("String() = %q, want rate_limit", got)
	}
	if got := apierr.Kind(99).String(); got != "unknown" {
		t.Errorf("String() = %q, want unknown", got)
	}
}

// ---------------------------------------------------------------------------
// TestKindOf - kind recovery from arbitrary errors
// ---------------------------------------------------------------------------

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want apierr.Kind
	}{
		{"nil", nil, apierr.KindNone},
		{"typed error", apierr.New(apierr.KindServer, "boom"), apierr.KindServer},
		{"wrapped typed error", fmt.Errorf("chunk 2: %w", apierr.New(apierr.KindRateLimit, "x")), apierr.KindRateLimit},
		{"wrapped sentinel", fmt.Errorf("call: %w", apierr.ErrInvocation), apierr.KindInvocation},
		{"deadline", context.DeadlineExceeded, apierr.KindTimeout},
		{"canceled", fmt.Errorf("run: %w", context.Canceled), apierr.KindCanceled},
		{"plain text", errors.New("HTTP 429"), apierr.KindRateLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := apierr.KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// TestError - message annotation and unwrapping
// ---------------------------------------------------------------------------

func TestError_Message(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *apierr.Error
		want string
	}{
		{
			name: "bare",
			err:  apierr.New(apierr.KindInvocation, "fabric-ai not found"),
			want: "fabric-ai not found",
		},
		{
			name: "retries and model",
			err:  &apierr.Error{Kind: apierr.KindRateLimit, Msg: "Max retries exceeded: 429 Rate limit exceeded", Retries: 4, Model: "meta-llama/llama-4-scout-17b-16e-instruct"},
			want: "Max retries exceeded: 429 Rate limit exceeded (after 4 retries) [model: llama-4-scout-17b-16e-instruct]",
		},
		{
			name: "empty message uses sentinel",
			err:  &apierr.Error{Kind: apierr.KindTimeout},
			want: "request timeout",
		},
		{
			name: "none kind without message",
			err:  &apierr.Error{},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_Is(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("pattern summary: %w", apierr.Newf(apierr.KindRateLimit, "after %d", 3))
	if !errors.Is(err, apierr.ErrRateLimit) {
		t.Error("errors.Is(err, ErrRateLimit) = false, want true")
	}
	if errors.Is(err, apierr.ErrServer) {
		t.Error("errors.Is(err, ErrServer) = true, want false")
	}

	var e *apierr.Error
	if !errors.As(err, &e) || e.Msg != "after 3" {
		t.Errorf("errors.As did not recover the typed error: %v", e)
	}
}

func TestShortModel(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"meta-llama/llama-4-scout-17b-16e-instruct": "llama-4-scout-17b-16e-instruct",
		"llama-3.1-8b-instant":                      "llama-3.1-8b-instant",
		"":                                          "",
	}
	for in, want := range tests {
		if got := apierr.ShortModel(in); got != want {
			t.Errorf("ShortModel(%q) = %q, want %q", in, got, want)
		}
	}
}
