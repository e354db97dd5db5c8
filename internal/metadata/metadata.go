// Package metadata extracts the global context of a transcript (summary,
// theme, topics) before it is chunked. Every field has a fallback so a
// failed extraction never stops a run.
package metadata

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alnah/go-fabric-analyze/internal/logging"
	"github.com/alnah/go-fabric-analyze/internal/packet"
	"github.com/alnah/go-fabric-analyze/internal/resilience"
)

// Field names, used as keys of GlobalMetadata.Errors and Raw.
const (
	FieldSummary = "summary"
	FieldTheme   = "theme"
	FieldTopics  = "topics"
)

// Fields lists the extracted fields in extraction order.
var Fields = []string{FieldSummary, FieldTheme, FieldTopics}

// Sampling defaults for long transcripts.
const (
	DefaultMaxWords  = 10000
	DefaultHeadWords = 2000
	DefaultTailWords = 500
	DefaultTimeout   = 60 * time.Second
)

// Ellipsis joins the head and tail of a sampled transcript.
const Ellipsis = "..."

// maxTopics caps topics derived from titles and tags.
const maxTopics = 5

// GlobalMetadata describes the whole source and is injected unchanged into
// every packet.
type GlobalMetadata struct {
	Summary    string            `json:"summary"`
	Theme      string            `json:"theme"`
	Topics     []string          `json:"topics"`
	Successful bool              `json:"extraction_successful"`
	Errors     map[string]string `json:"errors,omitempty"`

	// Raw holds the unparsed output of each successful extraction.
	Raw map[string]string `json:"-"`
}

// Context returns the packet context for a source titled title.
func (g GlobalMetadata) Context(title string) packet.Context {
	return packet.Context{Title: title, Summary: g.Summary, Topics: g.Topics}
}

// Patterns names the pattern used for each field.
type Patterns struct {
	Summary string
	Theme   string
	Topics  string
}

// DefaultPatterns returns the stock extraction patterns.
func DefaultPatterns() Patterns {
	return Patterns{
		Summary: "create_micro_summary",
		Theme:   "extract_main_idea",
		Topics:  "extract_patterns",
	}
}

func (p Patterns) forField(field string) string {
	switch field {
	case FieldSummary:
		return p.Summary
	case FieldTheme:
		return p.Theme
	default:
		return p.Topics
	}
}

// Caller runs one resilient call. *resilience.Engine implements it.
type Caller interface {
	Run(ctx context.Context, call resilience.Call) resilience.Result
}

var _ Caller = (*resilience.Engine)(nil)

// Extractor runs the extraction calls.
type Extractor struct {
	caller    Caller
	patterns  Patterns
	model     string
	fallbacks []string
	timeout   time.Duration
	maxWords  int
	headWords int
	tailWords int
	log       logrus.FieldLogger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithPatterns overrides the extraction patterns. Empty names keep the default.
func WithPatterns(p Patterns) Option {
	return func(e *Extractor) {
		if p.Summary != "" {
			e.patterns.Summary = p.Summary
		}
		if p.Theme != "" {
			e.patterns.Theme = p.Theme
		}
		if p.Topics != "" {
			e.patterns.Topics = p.Topics
		}
	}
}

// WithModel sets the preferred model.
func WithModel(model string) Option {
	return func(e *Extractor) { e.model = model }
}

// WithFallbacks sets the fallback chain for extraction calls.
func WithFallbacks(models ...string) Option {
	return func(e *Extractor) { e.fallbacks = models }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithSampling sets the sampling thresholds: transcripts longer than
// maxWords are reduced to their first head and last tail words.
func WithSampling(maxWords, head, tail int) Option {
	return func(e *Extractor) {
		if maxWords > 0 {
			e.maxWords = maxWords
		}
		if head >= 0 {
			e.headWords = head
		}
		if tail >= 0 {
			e.tailWords = tail
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.log = l
		}
	}
}

// NewExtractor creates an Extractor.
func NewExtractor(caller Caller, opts ...Option) *Extractor {
	e := &Extractor{
		caller:    caller,
		patterns:  DefaultPatterns(),
		timeout:   DefaultTimeout,
		maxWords:  DefaultMaxWords,
		headWords: DefaultHeadWords,
		tailWords: DefaultTailWords,
		log:       logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sample bounds the text sent to extraction calls.
func (e *Extractor) Sample(text string) string {
	return Sample(text, e.maxWords, e.headWords, e.tailWords)
}

// Extract runs the three extraction calls on a sample of text. Each failure
// is recorded in Errors and replaced by a fallback derived from title (or
// from tags when every call failed).
func (e *Extractor) Extract(ctx context.Context, text, title string, tags []string) GlobalMetadata {
	sample := e.Sample(text)
	if sample != text {
		e.log.WithFields(logrus.Fields{
			"words":  len(strings.Fields(text)),
			"sample": len(strings.Fields(sample)),
		}).Info("using transcript sample for metadata")
	}

	g := GlobalMetadata{
		Errors: make(map[string]string),
		Raw:    make(map[string]string),
	}
	for _, field := range Fields {
		pattern := e.patterns.forField(field)
		log := e.log.WithFields(logrus.Fields{logging.FieldPattern: pattern, "field": field})

		res := e.caller.Run(ctx, resilience.Call{
			Pattern:   pattern,
			Input:     sample,
			Timeout:   e.timeout,
			Model:     e.model,
			Fallbacks: e.fallbacks,
		})
		if !res.Success() {
			g.Errors[field] = res.Err.Error()
			log.WithError(res.Err).Warn("metadata extraction failed, using fallback")
			e.applyFallback(&g, field, title)
			continue
		}

		g.Raw[field] = res.Output
		switch field {
		case FieldSummary:
			g.Summary = ParseSummary(res.Output)
		case FieldTheme:
			g.Theme = ParseTheme(res.Output)
		case FieldTopics:
			g.Topics = ParseTopics(res.Output)
		}
		log.Debug("metadata extracted")
	}

	if len(g.Errors) == len(Fields) && len(tags) > 0 {
		g.Topics = limit(tags, maxTopics)
	}
	g.Successful = len(g.Errors) == 0
	if g.Successful {
		g.Errors = nil
	}
	return g
}

func (e *Extractor) applyFallback(g *GlobalMetadata, field, title string) {
	switch field {
	case FieldSummary:
		g.Summary = FallbackSummary(title)
	case FieldTheme:
		g.Theme = FallbackTheme
	case FieldTopics:
		g.Topics = TitleTopics(title)
	}
}

// ---------------------------------------------------------------------------
// Sampling
// ---------------------------------------------------------------------------

// Sample returns text unchanged when it has at most maxWords words, and
// otherwise its first head words and last tail words joined by Ellipsis.
func Sample(text string, maxWords, head, tail int) string {
	words := strings.Fields(text)
	if maxWords <= 0 || len(words) <= maxWords {
		return text
	}
	head = min(max(head, 0), len(words))
	tail = min(max(tail, 0), len(words)-head)

	out := make([]string, 0, head+tail+1)
	out = append(out, words[:head]...)
	out = append(out, Ellipsis)
	out = append(out, words[len(words)-tail:]...)
	return strings.Join(out, " ")
}

// ---------------------------------------------------------------------------
// Output parsers
// ---------------------------------------------------------------------------

// Parser defaults, used when the output has no recognizable content.
const (
	DefaultSummary = "Content overview"
	DefaultTopics  = "general topics"
)

// FallbackTheme replaces a failed theme extraction.
const FallbackTheme = "Content analysis"

// ParseSummary returns the line after the ONE SENTENCE SUMMARY heading, else
// the first plain line that does not look like a "label:" header.
func ParseSummary(output string) string {
	lines := splitLines(output)
	if s := afterHeading(lines, "ONE SENTENCE SUMMARY"); s != "" {
		return s
	}
	for _, l := range lines {
		head := l
		if len(head) > 30 {
			head = head[:30]
		}
		if l != "" && !strings.HasPrefix(l, "#") && !strings.Contains(head, ":") {
			return l
		}
	}
	return DefaultSummary
}

// ParseTheme returns the line after the MAIN IDEA heading, else the first
// plain line longer than 20 characters.
func ParseTheme(output string) string {
	lines := splitLines(output)
	if s := afterHeading(lines, "MAIN IDEA"); s != "" {
		return s
	}
	for _, l := range lines {
		if l != "" && !strings.HasPrefix(l, "#") && len(l) > 20 {
			return l
		}
	}
	return FallbackTheme
}

// ParseTopics returns the first plain line of at least 10 characters with
// two or more commas, split into topics. Otherwise it collects up to three
// leading words per line until five are gathered.
func ParseTopics(output string) []string {
	lines := splitLines(output)
	for _, l := range lines {
		if strings.HasPrefix(l, "#") || len(l) < 10 {
			continue
		}
		if strings.Count(l, ",") >= 2 {
			return splitTopics(l)
		}
	}

	var topics []string
	for _, l := range lines {
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		topics = append(topics, limit(strings.Fields(l), 3)...)
		if len(topics) >= maxTopics {
			break
		}
	}
	if len(topics) == 0 {
		return []string{DefaultTopics}
	}
	return limit(topics, maxTopics)
}

// ---------------------------------------------------------------------------
// Fallbacks
// ---------------------------------------------------------------------------

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true,
}

// FallbackSummary replaces a failed summary extraction.
func FallbackSummary(title string) string {
	return "Video titled '" + title + "'"
}

// TitleTopics derives up to five topics from the lowercased title words
// longer than three characters, skipping stop words. A title with no such
// word is returned whole.
func TitleTopics(title string) []string {
	var topics []string
	for _, w := range strings.Fields(strings.ToLower(title)) {
		if len(w) > 3 && !stopWords[w] {
			topics = append(topics, w)
		}
	}
	if len(topics) == 0 {
		if strings.TrimSpace(title) == "" {
			return nil
		}
		return []string{title}
	}
	return limit(topics, maxTopics)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func splitLines(s string) []string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return lines
}

func afterHeading(lines []string, heading string) string {
	for i, l := range lines {
		if strings.Contains(strings.ToUpper(l), heading) && i+1 < len(lines) && lines[i+1] != "" {
			return lines[i+1]
		}
	}
	return ""
}

func splitTopics(line string) []string {
	var out []string
	for _, t := range strings.Split(line, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func limit(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
