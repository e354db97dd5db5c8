package pattern_test

// Notes:
// - Black-box testing through ParseName, ParseNames and Loader.
// - Prompt wording is not asserted beyond what the metadata parsers rely on.

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/alnah/go-fabric-analyze/internal/fabric"
	"github.com/alnah/go-fabric-analyze/internal/pattern"
)

// Compile-time check that Loader can back the HTTP runner.
var _ fabric.PromptSource = (*pattern.Loader)(nil)

// ---------------------------------------------------------------------------
// TestParseName
// ---------------------------------------------------------------------------

func TestParseName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		wantErr bool
	}{
		{"extract_wisdom", false},
		{"youtube_summary", false},
		{"summarize-v2", false},
		{"a1", false},
		{"", true},
		{"Extract_Wisdom", true},
		{"../etc", true},
		{"with space", true},
		{"_leading", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			n, err := pattern.ParseName(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseName(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, pattern.ErrInvalidName) {
					t.Errorf("error = %v, want ErrInvalidName", err)
				}
				if !n.IsZero() {
					t.Error("invalid name is not zero")
				}
				return
			}
			if n.String() != tt.in {
				t.Errorf("String() = %q", n.String())
			}
		})
	}
}

func TestMustParseName_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("MustParseName did not panic")
		}
	}()
	pattern.MustParseName("Bad Name")
}

func TestParseNames(t *testing.T) {
	t.Parallel()

	names, err := pattern.ParseNames(" extract_wisdom, youtube_summary,,extract_wisdom ")
	if err != nil {
		t.Fatal(err)
	}
	if got := pattern.Strings(names); !slices.Equal(got, []string{"extract_wisdom", "youtube_summary"}) {
		t.Errorf("ParseNames() = %v", got)
	}

	if _, err := pattern.ParseNames(" , "); !errors.Is(err, pattern.ErrInvalidName) {
		t.Errorf("empty list error = %v", err)
	}
	if _, err := pattern.ParseNames("ok,Not OK"); !errors.Is(err, pattern.ErrInvalidName) {
		t.Errorf("bad entry error = %v", err)
	}
}

// ---------------------------------------------------------------------------
// TestLoader
// ---------------------------------------------------------------------------

func writePattern(t *testing.T, dir, name, prompt string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, name), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name, pattern.SystemFile), []byte(prompt), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoader_Prompt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePattern(t, dir, "extract_wisdom", "\n  You extract wisdom.\n")
	writePattern(t, dir, pattern.MainIdea, "Custom main idea prompt.")
	writePattern(t, dir, "empty", "   ")

	l := pattern.NewLoader(dir)

	tests := []struct {
		name    string
		want    string
		wantErr error
	}{
		{"extract_wisdom", "You extract wisdom.", nil},
		{pattern.MainIdea, "Custom main idea prompt.", nil}, // directory wins over built-in
		{pattern.MicroSummary, "", nil},                     // built-in, checked below
		{"missing", "", pattern.ErrUnknown},
		{"empty", "", pattern.ErrUnknown},
		{"Bad Name", "", pattern.ErrInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := l.Prompt(tt.name)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Prompt(%q) error = %v, want %v", tt.name, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Prompt(%q) error = %v", tt.name, err)
			}
			if tt.want != "" && got != tt.want {
				t.Errorf("Prompt(%q) = %q, want %q", tt.name, got, tt.want)
			}
			if got == "" {
				t.Errorf("Prompt(%q) is empty", tt.name)
			}
		})
	}
}

func TestLoader_BuiltinsMatchParsers(t *testing.T) {
	t.Parallel()

	l := pattern.NewLoader("")
	summary, err := l.Prompt(pattern.MicroSummary)
	if err != nil || !strings.Contains(summary, "ONE SENTENCE SUMMARY") {
		t.Errorf("micro summary prompt = %q, %v", summary, err)
	}
	idea, err := l.Prompt(pattern.MainIdea)
	if err != nil || !strings.Contains(idea, "MAIN IDEA") {
		t.Errorf("main idea prompt = %q, %v", idea, err)
	}
	if _, err := l.Prompt(pattern.Join); err != nil {
		t.Errorf("join prompt error = %v", err)
	}
}

func TestLoader_WithoutBuiltins(t *testing.T) {
	t.Parallel()

	l := pattern.NewLoader(t.TempDir(), pattern.WithoutBuiltins())
	if _, err := l.Prompt(pattern.MicroSummary); !errors.Is(err, pattern.ErrUnknown) {
		t.Errorf("error = %v, want ErrUnknown", err)
	}
}

func TestLoader_ReadError(t *testing.T) {
	t.Parallel()

	l := pattern.NewLoader("/patterns", pattern.WithReadFile(func(string) ([]byte, error) {
		return nil, fs.ErrPermission
	}))
	_, err := l.Prompt(pattern.MicroSummary)
	if !errors.Is(err, fs.ErrPermission) {
		t.Errorf("error = %v, want permission error instead of built-in fallback", err)
	}
}

func TestLoader_Available(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePattern(t, dir, "extract_wisdom", "x")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := pattern.NewLoader(dir).Available()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{pattern.MicroSummary, pattern.MainIdea, pattern.Patterns, "extract_wisdom", pattern.Join}
	slices.Sort(want)
	if !slices.Equal(got, want) {
		t.Errorf("Available() = %v, want %v", got, want)
	}
}
