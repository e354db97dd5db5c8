// Package artifacts saves the intermediate products of a run (packets,
// global metadata, per-chunk and combined pattern outputs) for inspection.
//
// Layout under the save directory:
//
//	packets/<chunk_id>.md
//	packets/metadata.json
//	metadata/global_<field>.txt
//	outputs/<pattern>/combined.md
//	outputs/<pattern>/combined_raw.md
//	outputs/<pattern>/chunk_NNN.md
//	result.json
package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/alnah/go-fabric-analyze/internal/chunk"
	"github.com/alnah/go-fabric-analyze/internal/metadata"
	"github.com/alnah/go-fabric-analyze/internal/orchestrate"
	"github.com/alnah/go-fabric-analyze/internal/packet"
)

// ErrNoDir indicates a Writer created without a directory.
var ErrNoDir = errors.New("no save directory")

// Subdirectories and file names.
const (
	PacketsDir   = "packets"
	MetadataDir  = "metadata"
	OutputsDir   = "outputs"
	ManifestFile = "metadata.json"
	ResultFile   = "result.json"
	CombinedFile = "combined.md"
	RawFile      = "combined_raw.md"
)

// Compile-time interface compliance check.
var _ orchestrate.Sink = (*Writer)(nil)

// Writer writes artifacts below one directory. It is safe for concurrent use
// by patterns running in parallel.
type Writer struct {
	dir   string
	title string
	mu    sync.Mutex
}

// NewWriter creates a Writer for dir. title is recorded in the manifest.
func NewWriter(dir, title string) (*Writer, error) {
	if dir == "" {
		return nil, ErrNoDir
	}
	// #nosec G301 -- user-specified save directory with standard permissions
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create save directory: %w", err)
	}
	return &Writer{dir: dir, title: title}, nil
}

// Dir returns the save directory.
func (w *Writer) Dir() string { return w.dir }

// ---------------------------------------------------------------------------
// Manifest
// ---------------------------------------------------------------------------

// Manifest summarizes the packet plan of a document.
type Manifest struct {
	Title       string          `json:"video_title"`
	TotalChunks int             `json:"total_chunks"`
	Chunks      []ManifestEntry `json:"chunks"`
}

// ManifestEntry describes one packet.
type ManifestEntry struct {
	ID             string          `json:"id"`
	Index          int             `json:"index"`
	Position       packet.Position `json:"position"`
	Tokens         int             `json:"token_count"`
	OverlapTokens  int             `json:"overlap_tokens"`
	TimestampRange [2]string       `json:"timestamp_range"`
	CharRange      [2]int          `json:"char_range"`
}

// NewManifest builds the manifest for packets.
func NewManifest(title string, packets []packet.Packet) Manifest {
	m := Manifest{Title: title, TotalChunks: len(packets), Chunks: make([]ManifestEntry, len(packets))}
	for i, p := range packets {
		start, end := p.TimeRange()
		m.Chunks[i] = ManifestEntry{
			ID:             p.ID(),
			Index:          p.Chunk.Index,
			Position:       p.Position,
			Tokens:         p.Chunk.Tokens,
			OverlapTokens:  p.Chunk.OverlapTokens(),
			TimestampRange: [2]string{start, end},
			CharRange:      [2]int{p.Chunk.Start, p.Chunk.End},
		}
	}
	return m
}

// ---------------------------------------------------------------------------
// orchestrate.Sink
// ---------------------------------------------------------------------------

// SaveMetadata writes the raw output of each successful metadata field.
func (w *Writer) SaveMetadata(g metadata.GlobalMetadata) error {
	var errs []error
	for _, field := range metadata.Fields {
		raw, ok := g.Raw[field]
		if !ok {
			continue
		}
		errs = append(errs, w.write(filepath.Join(MetadataDir, "global_"+field+".txt"), raw))
	}
	return errors.Join(errs...)
}

// SavePackets writes each packet's submission text and the manifest.
func (w *Writer) SavePackets(packets []packet.Packet) error {
	var errs []error
	for _, p := range packets {
		errs = append(errs, w.write(filepath.Join(PacketsDir, p.ID()+".md"), p.Input()))
	}
	errs = append(errs, w.writeJSON(filepath.Join(PacketsDir, ManifestFile), NewManifest(w.title, packets)))
	return errors.Join(errs...)
}

// SavePattern writes the chunk outputs and, for successful patterns, the
// combined outputs.
func (w *Writer) SavePattern(r *orchestrate.PatternResult) error {
	dir := filepath.Join(OutputsDir, r.Pattern)
	var errs []error
	for i, out := range r.Outputs {
		errs = append(errs, w.write(filepath.Join(dir, chunk.ID(i)+".md"), out))
	}
	if r.Success {
		errs = append(errs, w.write(filepath.Join(dir, CombinedFile), r.Combined))
		if len(r.Outputs) > 1 {
			errs = append(errs, w.write(filepath.Join(dir, RawFile), r.CombinedRaw))
		}
	}
	return errors.Join(errs...)
}

// SaveResult writes the run summary.
func (w *Writer) SaveResult(r *orchestrate.Result) error {
	return w.writeJSON(ResultFile, r)
}

// ---------------------------------------------------------------------------
// File helpers
// ---------------------------------------------------------------------------

func (w *Writer) writeJSON(rel string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", rel, err)
	}
	return w.write(rel, string(data)+"\n")
}

// write replaces dir/rel atomically: content goes to a temporary file in the
// same directory, which is then renamed over the target.
func (w *Writer) write(rel, content string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := filepath.Join(w.dir, rel)
	// #nosec G301 -- artifact directories with standard permissions
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("cannot create directory for %s: %w", rel, err)
	}

	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", rel, err)
	}
	tmp := f.Name()

	writeErr := func() error {
		defer func() { _ = f.Close() }()
		if _, err := f.WriteString(content); err != nil {
			return fmt.Errorf("failed to write %s: %w", rel, err)
		}
		return nil
	}()
	if writeErr != nil {
		_ = os.Remove(tmp)
		return writeErr
	}

	// #nosec G302 -- artifacts are plain text readable by the user
	if err := os.Chmod(tmp, 0644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cannot set permissions on %s: %w", rel, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cannot move %s into place: %w", rel, err)
	}
	return nil
}
