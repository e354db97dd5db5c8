package orchestrate

import (
	"time"

	"github.com/alnah/go-fabric-analyze/internal/metadata"
	"github.com/alnah/go-fabric-analyze/internal/packet"
)

// Input is one document to analyze.
type Input struct {
	ID       string // document identifier, used for artifact naming
	Title    string
	Text     string
	Duration time.Duration
	Source   packet.Source
}

// PatternResult aggregates one pattern's chunk outputs.
type PatternResult struct {
	Pattern string `json:"pattern"`
	Success bool   `json:"success"`

	// Outputs holds successful chunk outputs in chunk order. After a failure
	// it keeps the outputs of the chunks that completed before it.
	Outputs []string `json:"outputs"`

	// Combined is the formatted final text. CombinedRaw is the text before
	// formatting, with chunk markers when there was more than one chunk.
	Combined    string `json:"combined,omitempty"`
	CombinedRaw string `json:"-"`
	Joined      bool   `json:"joined,omitempty"` // a join pattern produced Combined

	Timing  []time.Duration `json:"timing"` // per attempted chunk
	Models  []string        `json:"models"` // model used per attempted chunk
	Retries int             `json:"retries"`

	Error       string `json:"error,omitempty"`
	Err         error  `json:"-"`
	FailedChunk int    `json:"failed_chunk,omitempty"` // 1-based
}

// Timing records how long each stage of a run took.
type Timing struct {
	Metadata time.Duration `json:"metadata"`
	Chunking time.Duration `json:"chunking"`
	Patterns time.Duration `json:"patterns"`
	Total    time.Duration `json:"total"`
}

// Result is the outcome of one run.
type Result struct {
	RunID    string                    `json:"run_id"`
	Success  bool                      `json:"success"` // every pattern succeeded
	Metadata metadata.GlobalMetadata   `json:"metadata"`
	Patterns map[string]*PatternResult `json:"patterns"`
	Order    []string                  `json:"order"` // requested pattern order
	Packets  []packet.Packet           `json:"-"`
	Errors   []string                  `json:"errors,omitempty"`
	Timing   Timing                    `json:"timing"`
}

// Outputs maps each successful pattern to its final text.
func (r *Result) Outputs() map[string]string {
	out := make(map[string]string, len(r.Patterns))
	for name, p := range r.Patterns {
		if p.Success {
			out[name] = p.Combined
		}
	}
	return out
}

// EventKind identifies a progress event.
type EventKind int

// Progress events, in the order a run emits them.
const (
	MetadataStarted EventKind = iota
	MetadataDone
	ChunkingDone
	PatternStarted
	ChunkStarted
	ChunkDone
	ChunkFailed
	Joining
	PatternDone
)

// Event reports run progress to the caller. With a concurrent scheduler,
// events of different patterns may be delivered from different goroutines.
type Event struct {
	Kind    EventKind
	Pattern string
	Chunk   int // 1-based
	Total   int // chunk count
	Elapsed time.Duration
	Chars   int // output size for ChunkDone
	Err     error
}
