// Package chunk splits long transcripts into bounded, overlapping chunks that
// respect sentence boundaries.
package chunk

import (
	"regexp"
	"strings"

	"github.com/alnah/go-fabric-analyze/internal/tokens"
)

// Segmentation defaults.
const (
	// DefaultPunctuationThreshold is the sentence-mark density (marks per
	// word) above which text is split by sentence. Normal speech has about
	// 20 marks per 100 words; auto-generated captions have almost none.
	DefaultPunctuationThreshold = 0.01

	// DefaultWordsPerGroup sizes word groups for unpunctuated text.
	DefaultWordsPerGroup = 150

	minWordsPerGroup = 10
)

var (
	sentenceMarkRe = regexp.MustCompile(`[.!?]`)
	sentenceEndRe  = regexp.MustCompile(`[.!?]\s+`)
)

// Mode is the segmentation strategy chosen for a whole document.
type Mode int

const (
	// ModeSentence splits after sentence-ending punctuation.
	ModeSentence Mode = iota
	// ModeWords splits into fixed-size word groups.
	ModeWords
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeSentence:
		return "sentence"
	case ModeWords:
		return "words"
	default:
		return "unknown"
	}
}

// Segment is an atomic span of text. Segments are never split further.
type Segment struct {
	Text   string
	Tokens int // raw count, without prompt overhead
}

// Segmenter turns text into an ordered sequence of Segments.
// The zero value uses the package defaults and a word-based estimator.
type Segmenter struct {
	Threshold     float64
	WordsPerGroup int
	Estimator     tokens.Estimator
}

func (s Segmenter) threshold() float64 {
	if s.Threshold <= 0 {
		return DefaultPunctuationThreshold
	}
	return s.Threshold
}

func (s Segmenter) wordsPerGroup() int {
	if s.WordsPerGroup <= 0 {
		return DefaultWordsPerGroup
	}
	return max(s.WordsPerGroup, minWordsPerGroup)
}

// Mode measures punctuation density and picks the strategy for text.
func (s Segmenter) Mode(text string) Mode {
	words := len(strings.Fields(text))
	marks := len(sentenceMarkRe.FindAllStringIndex(text, -1))
	if float64(marks)/float64(max(words, 1)) > s.threshold() {
		return ModeSentence
	}
	return ModeWords
}

// Split segments text. Empty or whitespace-only text yields nil.
func (s Segmenter) Split(text string) []Segment {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var parts []string
	if s.Mode(text) == ModeSentence {
		parts = splitSentences(text)
	} else {
		parts = splitWordGroups(text, s.wordsPerGroup())
	}

	segments := make([]Segment, 0, len(parts))
	for _, p := range parts {
		segments = append(segments, Segment{Text: p, Tokens: s.Estimator.Count(p)})
	}
	return segments
}

// splitSentences cuts after every [.!?] followed by whitespace and drops
// empty pieces.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEndRe.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start : loc[0]+1]); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func splitWordGroups(text string, size int) []string {
	words := strings.Fields(text)
	out := make([]string, 0, len(words)/size+1)
	for i := 0; i < len(words); i += size {
		end := min(i+size, len(words))
		out = append(out, strings.Join(words[i:end], " "))
	}
	return out
}
