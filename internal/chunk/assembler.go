package chunk

import (
	"fmt"
	"strings"
	"time"

	"github.com/alnah/go-fabric-analyze/internal/tokens"
)

// Chunk sizing defaults.
const (
	DefaultMaxTokens     = 8000
	DefaultOverlapTokens = 200
)

// Chunk is a run of segments sized for one external call.
// Start and End are byte offsets into the segments joined by single spaces
// (the whole input text for a single-chunk result). StartTime and EndTime
// interpolate those offsets linearly over the source duration, which assumes
// evenly paced speech.
type Chunk struct {
	ID        string
	Index     int
	Total     int
	Start     int
	End       int
	StartTime time.Duration
	EndTime   time.Duration
	Tokens    int
	Text      string
	Segments  []Segment
	Overlap   int // leading segments carried over from the previous chunk
}

// Body returns the segments this chunk introduces, without the overlap
// carried over from its predecessor.
func (c Chunk) Body() []Segment {
	return c.Segments[min(c.Overlap, len(c.Segments)):]
}

// OverlapTokens returns the raw token count of the carried-over segments.
func (c Chunk) OverlapTokens() int {
	n := 0
	for _, s := range c.Segments[:min(c.Overlap, len(c.Segments))] {
		n += s.Tokens
	}
	return n
}

// ID formats the identifier of the chunk at a zero-based index.
func ID(index int) string {
	return fmt.Sprintf("chunk_%03d", index+1)
}

// Assembler packs segments into chunks.
type Assembler struct {
	est           tokens.Estimator
	segmenter     Segmenter
	maxTokens     int
	overlapTokens int
	balanced      bool
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithEstimator sets the token estimator used for every sizing decision.
func WithEstimator(est tokens.Estimator) Option {
	return func(a *Assembler) {
		a.est = est
	}
}

// WithMaxTokens sets the chunk ceiling, overhead included.
func WithMaxTokens(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// WithOverlapTokens sets the overlap budget. Zero disables overlap.
func WithOverlapTokens(n int) Option {
	return func(a *Assembler) {
		if n >= 0 {
			a.overlapTokens = n
		}
	}
}

// WithSegmenter sets the segmentation parameters.
// Its estimator is replaced by the Assembler's.
func WithSegmenter(s Segmenter) Option {
	return func(a *Assembler) {
		a.segmenter = s
	}
}

// WithBalancing toggles even chunk sizing. It is on by default.
func WithBalancing(on bool) Option {
	return func(a *Assembler) {
		a.balanced = on
	}
}

// NewAssembler creates an Assembler with the given options.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{
		est:           tokens.Default(),
		maxTokens:     DefaultMaxTokens,
		overlapTokens: DefaultOverlapTokens,
		balanced:      true,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.segmenter.Estimator = a.est
	return a
}

// MaxTokens returns the configured chunk ceiling.
func (a *Assembler) MaxTokens() int { return a.maxTokens }

// Ceiling returns the effective per-chunk ceiling for text: the configured
// ceiling, or a smaller balanced value when the text needs several chunks.
func (a *Assembler) Ceiling(text string) int {
	total := a.est.Estimate(text)
	if !a.balanced {
		return a.maxTokens
	}
	return a.est.BalancedCeiling(total, a.maxTokens, a.overlapTokens)
}

// Assemble splits text into chunks. Text whose estimate fits the ceiling is
// returned whole as a single chunk. Empty text yields nil.
func (a *Assembler) Assemble(text string, duration time.Duration) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if a.est.Estimate(text) <= a.maxTokens {
		return []Chunk{{
			ID:       ID(0),
			Index:    0,
			Total:    1,
			Start:    0,
			End:      len(text),
			EndTime:  max(duration, 0),
			Tokens:   a.est.Count(text),
			Text:     text,
			Segments: a.segmenter.Split(text),
		}}
	}

	segments := a.segmenter.Split(text)
	chunks := a.pack(segments, a.Ceiling(text))
	a.locate(chunks, segments, duration)
	return chunks
}

// pack runs the greedy accumulation. Each chunk holds at least one segment
// that no earlier chunk introduced.
func (a *Assembler) pack(segments []Segment, ceiling int) []Chunk {
	var chunks []Chunk
	var buf []Segment
	overlap := 0

	flush := func() {
		text := joinSegments(buf)
		chunks = append(chunks, Chunk{
			Index:    len(chunks),
			Tokens:   a.est.Count(text),
			Text:     text,
			Segments: buf,
			Overlap:  overlap,
		})
	}

	for _, seg := range segments {
		if len(buf) > 0 && a.est.Estimate(joinSegments(append(buf[:len(buf):len(buf)], seg))) > ceiling {
			flush()
			buf = a.tail(buf)
			for len(buf) > 0 && a.est.Estimate(joinSegments(append(buf[:len(buf):len(buf)], seg))) > ceiling {
				buf = buf[1:]
			}
			overlap = len(buf)
		}
		buf = append(buf[:len(buf):len(buf)], seg)
	}
	if len(buf) > 0 {
		flush()
	}

	for i := range chunks {
		chunks[i].ID = ID(i)
		chunks[i].Total = len(chunks)
	}
	return chunks
}

// tail returns the longest suffix of buf whose raw token total stays within
// the overlap budget.
func (a *Assembler) tail(buf []Segment) []Segment {
	if a.overlapTokens == 0 {
		return nil
	}
	sum := 0
	start := len(buf)
	for i := len(buf) - 1; i >= 0; i-- {
		if sum+buf[i].Tokens > a.overlapTokens {
			break
		}
		sum += buf[i].Tokens
		start = i
	}
	return buf[start:len(buf):len(buf)]
}

// locate fills offsets and interpolated timestamps. Offsets are positions
// in the segments joined by single spaces.
func (a *Assembler) locate(chunks []Chunk, segments []Segment, duration time.Duration) {
	offsets := make([]int, len(segments))
	pos := 0
	for i, s := range segments {
		offsets[i] = pos
		pos += len(s.Text) + 1
	}
	total := max(pos-1, 1)

	next := 0 // index of the first segment not yet introduced
	for i := range chunks {
		c := &chunks[i]
		first := next - c.Overlap
		last := first + len(c.Segments) - 1
		c.Start = offsets[first]
		c.End = offsets[last] + len(segments[last].Text)
		c.StartTime = interpolate(c.Start, total, duration)
		c.EndTime = interpolate(c.End, total, duration)
		next = last + 1
	}
}

func interpolate(offset, total int, duration time.Duration) time.Duration {
	if duration <= 0 {
		return 0
	}
	secs := int64(float64(offset) / float64(total) * duration.Seconds())
	return time.Duration(secs) * time.Second
}

func joinSegments(segs []Segment) string {
	var b strings.Builder
	for i, s := range segs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s.Text)
	}
	return b.String()
}
