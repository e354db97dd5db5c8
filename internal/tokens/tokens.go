// Package tokens estimates how many processing units the pattern tool
// charges for a piece of text.
//
// Every sizing decision (chunk ceilings, overlap budgets, request limits)
// goes through an Estimator so that one counting strategy is used end to end.
package tokens

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultOverhead approximates the system prompt a pattern adds to every call.
// Patterns add roughly 500-1000 tokens; 800 sits in the middle.
const DefaultOverhead = 800

// tokensPerWord is the English-average ratio used by the word counter.
const tokensPerWord = 1.3

// defaultEncoding is the BPE used by GPT-4 class models and most hosted
// open-weight models served behind OpenAI-compatible APIs.
const defaultEncoding = "cl100k_base"

// Counter counts raw tokens in text, without any prompt overhead.
// Implementations must return 0 for empty text and must never decrease
// when text is extended.
type Counter interface {
	Count(text string) int
}

// Words counts tokens as words × 1.3, rounded down.
// It is fast, dependency-free and good enough for English transcripts.
type Words struct{}

// Compile-time interface compliance check.
var _ Counter = Words{}

// Count implements Counter.
func (Words) Count(text string) int {
	return int(float64(len(strings.Fields(text))) * tokensPerWord)
}

// Tiktoken counts tokens with a real BPE encoding.
type Tiktoken struct {
	mu  sync.Mutex
	tke *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding (cl100k_base when empty).
// The encoding file is fetched and cached by tiktoken-go on first use.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = defaultEncoding
	}
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return &Tiktoken{tke: tke}, nil
}

// Count implements Counter.
func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tke.Encode(text, nil, nil))
}

// Estimator adds a fixed prompt overhead on top of a Counter.
// The zero value counts words with DefaultOverhead.
type Estimator struct {
	counter  Counter
	overhead int
	set      bool
}

// New creates an Estimator. A nil counter means Words; a negative overhead
// is treated as 0.
func New(counter Counter, overhead int) Estimator {
	if counter == nil {
		counter = Words{}
	}
	return Estimator{counter: counter, overhead: max(overhead, 0), set: true}
}

// Default returns a word-based Estimator with DefaultOverhead.
func Default() Estimator {
	return New(Words{}, DefaultOverhead)
}

func (e Estimator) resolved() Estimator {
	if !e.set {
		return Default()
	}
	return e
}

// Count returns the raw token count of text, without overhead.
func (e Estimator) Count(text string) int {
	e = e.resolved()
	return e.counter.Count(text)
}

// Estimate returns the token count of text plus the prompt overhead.
// Empty text yields the overhead alone.
func (e Estimator) Estimate(text string) int {
	e = e.resolved()
	return e.counter.Count(text) + e.overhead
}

// Overhead returns the fixed per-call overhead.
func (e Estimator) Overhead() int {
	return e.resolved().overhead
}

// BalancedCeiling spreads total tokens evenly across the fewest chunks that
// respect ceiling, so 13K tokens become two 6.5K chunks instead of 8K + 5K.
// total and ceiling both include overhead; the overlap budget is reserved in
// every chunk. The result never exceeds ceiling.
func (e Estimator) BalancedCeiling(total, ceiling, overlap int) int {
	if total <= ceiling {
		return ceiling
	}
	overhead := e.Overhead()
	content := total - overhead
	capacity := ceiling - overhead
	if capacity <= 0 || content <= 0 {
		return ceiling
	}
	n := int(math.Ceil(float64(content) / float64(capacity)))
	balanced := int(math.Ceil(float64(content)/float64(n))) + overhead + max(overlap, 0)
	return min(balanced, ceiling)
}
