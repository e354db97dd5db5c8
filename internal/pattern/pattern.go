// Package pattern names and loads the prompts applied to packets.
package pattern

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

// ErrUnknown indicates a pattern that has no prompt.
var ErrUnknown = errors.New("unknown pattern")

// ErrInvalidName indicates a malformed pattern name.
var ErrInvalidName = errors.New("invalid pattern name")

// Well-known pattern names.
const (
	MicroSummary = "create_micro_summary"
	MainIdea     = "extract_main_idea"
	Patterns     = "extract_patterns"
	Join         = "join_chunks"
	Summary      = "youtube_summary"
)

// SystemFile is the prompt file inside a pattern directory.
const SystemFile = "system.md"

var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ---------------------------------------------------------------------------
// Name type - represents a validated pattern name
// ---------------------------------------------------------------------------

// Name is a validated pattern name. The zero value is invalid.
type Name struct {
	name string
}

// ParseName validates s. Names are lowercase letters, digits, '_' and '-'.
func ParseName(s string) (Name, error) {
	if s == "" {
		return Name{}, fmt.Errorf("pattern name cannot be empty: %w", ErrInvalidName)
	}
	if !nameRe.MatchString(s) {
		return Name{}, fmt.Errorf("pattern name %q: %w", s, ErrInvalidName)
	}
	return Name{name: s}, nil
}

// MustParseName parses a pattern name, panicking if invalid.
// Use only for constants and tests.
func MustParseName(s string) Name {
	n, err := ParseName(s)
	if err != nil {
		panic(err)
	}
	return n
}

// ParseNames splits a comma-separated list, trimming blanks and dropping
// duplicates while keeping the first occurrence order.
func ParseNames(list string) ([]Name, error) {
	var out []Name
	for _, s := range strings.Split(list, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		n, err := ParseName(s)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no pattern given: %w", ErrInvalidName)
	}
	return out, nil
}

// Strings converts names back to plain strings.
func Strings(names []Name) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n.name
	}
	return out
}

// String returns the pattern name.
func (n Name) String() string {
	return n.name
}

// IsZero reports whether no name is set.
func (n Name) IsZero() bool {
	return n.name == ""
}

// ---------------------------------------------------------------------------
// Loader - resolves names to system prompts
// ---------------------------------------------------------------------------

// Loader reads prompts from a fabric-style patterns directory
// (<dir>/<name>/system.md), falling back to the built-in prompts.
// It implements fabric.PromptSource.
type Loader struct {
	dir      string
	builtins map[string]string
	readFile func(string) ([]byte, error)
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithoutBuiltins disables the built-in prompts.
func WithoutBuiltins() LoaderOption {
	return func(l *Loader) { l.builtins = nil }
}

// withReadFile replaces os.ReadFile (for testing).
func withReadFile(fn func(string) ([]byte, error)) LoaderOption {
	return func(l *Loader) { l.readFile = fn }
}

// NewLoader creates a Loader for dir. An empty dir uses only built-ins.
func NewLoader(dir string, opts ...LoaderOption) *Loader {
	l := &Loader{
		dir:      dir,
		builtins: builtins,
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dir returns the patterns directory.
func (l *Loader) Dir() string { return l.dir }

// Prompt returns the system prompt for name.
func (l *Loader) Prompt(name string) (string, error) {
	n, err := ParseName(name)
	if err != nil {
		return "", err
	}
	if l.dir != "" {
		data, err := l.readFile(filepath.Join(l.dir, n.name, SystemFile))
		switch {
		case err == nil:
			if s := strings.TrimSpace(string(data)); s != "" {
				return s, nil
			}
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("read pattern %q: %w", name, err)
		}
	}
	if s, ok := l.builtins[n.name]; ok {
		return s, nil
	}
	return "", fmt.Errorf("pattern %q not found in %q: %w", name, l.dir, ErrUnknown)
}

// Available lists the patterns the loader can resolve, sorted.
func (l *Loader) Available() ([]string, error) {
	set := make(map[string]bool, len(l.builtins))
	for name := range l.builtins {
		set[name] = true
	}
	if l.dir != "" {
		entries, err := os.ReadDir(l.dir)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("list patterns: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() && nameRe.MatchString(e.Name()) {
				set[e.Name()] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	slices.Sort(out)
	return out, nil
}

// ---------------------------------------------------------------------------
// Built-in prompts
// ---------------------------------------------------------------------------

// builtins cover the metadata and join patterns so the HTTP backend works
// without a fabric installation.
var builtins = map[string]string{
	MicroSummary: microSummaryPrompt,
	MainIdea:     mainIdeaPrompt,
	Patterns:     patternsPrompt,
	Join:         joinPrompt,
}

const microSummaryPrompt = `You summarize content in as few words as possible.

Output exactly these sections in markdown:

# ONE SENTENCE SUMMARY:
One sentence of at most 20 words capturing the whole content.

# MAIN POINTS:
Up to 3 numbered points of at most 12 words each.

# TAKEAWAYS:
Up to 3 numbered takeaways of at most 12 words each.

Output only the sections above, no preamble.`

const mainIdeaPrompt = `You extract the single most important idea from content.

Output exactly these sections in markdown:

# MAIN IDEA
One sentence of at most 15 words stating the core idea.

# MAIN RECOMMENDATION
One sentence of at most 15 words stating the key recommendation.

Output only the sections above, no preamble.`

const patternsPrompt = `You identify the recurring topics, entities and patterns in content.

Output:
- First, one line listing the 5 to 10 key topics or entities, separated by commas.
- Then a "# PATTERNS" section with up to 10 bullets of at most 16 words each.

Output only the lines described above, no preamble.`

const joinPrompt = `You receive the analyses of consecutive parts of one document.
Each part starts with a "## Part X/Y" heading and a timestamp line.

Merge them into one coherent analysis:
- Keep the structure of the individual analyses.
- Merge duplicated sections and remove repeated points.
- Keep every distinct idea; do not invent anything.
- Do not mention parts, chunks or timestamps.

Output only the merged markdown.`
