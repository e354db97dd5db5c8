// Package packet wraps chunks with global and positional context so each one
// is self-describing when sent to the pattern tool.
package packet

import (
	"fmt"
	"strings"
	"time"

	"github.com/alnah/go-fabric-analyze/internal/chunk"
	"github.com/alnah/go-fabric-analyze/internal/format"
)

// DescriptionLimit caps the description excerpt, in characters.
const DescriptionLimit = 500

// Position is where a chunk sits in its sequence.
type Position string

// Positions.
const (
	Single    Position = "single"
	Beginning Position = "beginning"
	Middle    Position = "middle"
	End       Position = "end"
)

var notes = map[Position]string{
	Single:    "This is the complete content. Analyze comprehensively.",
	Beginning: "This is the opening segment. Focus on introductions, setup, and initial themes. Establish context for what follows.",
	Middle:    "This is a middle segment continuing from previous content. Focus on development, details, and progression of established themes.",
	End:       "This is the final segment concluding previous content. Focus on conclusions, resolutions, and final takeaways.",
}

// DeterminePosition classifies a zero-based index within total chunks.
func DeterminePosition(index, total int) Position {
	switch {
	case total <= 1:
		return Single
	case index == 0:
		return Beginning
	case index == total-1:
		return End
	default:
		return Middle
	}
}

// Note returns the processing instruction for the position.
// Unknown positions get the middle instruction.
func (p Position) Note() string {
	if n, ok := notes[p]; ok {
		return n
	}
	return notes[Middle]
}

// Source is raw context about where the transcript came from.
// Every field is optional.
type Source struct {
	Channel     string        `json:"channel,omitempty"`
	UploadDate  string        `json:"upload_date,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	Description string        `json:"description,omitempty"`
}

// IsZero reports whether s carries no information.
func (s Source) IsZero() bool {
	return s.Channel == "" && s.UploadDate == "" && s.Duration <= 0 &&
		len(s.Tags) == 0 && strings.TrimSpace(s.Description) == ""
}

// Context is the document-wide information injected into every packet.
type Context struct {
	Title   string
	Summary string
	Topics  []string
}

// Packet is a chunk plus everything the tool needs to process it in
// isolation. A packet owns its chunk.
type Packet struct {
	Chunk    chunk.Chunk
	Position Position
	Context  Context
	Source   Source
}

// Build creates one packet per chunk.
func Build(chunks []chunk.Chunk, ctx Context, src Source) []Packet {
	packets := make([]Packet, len(chunks))
	for i, c := range chunks {
		packets[i] = Packet{
			Chunk:    c,
			Position: DeterminePosition(c.Index, c.Total),
			Context:  ctx,
			Source:   src,
		}
	}
	return packets
}

// ID returns the chunk identifier.
func (p Packet) ID() string { return p.Chunk.ID }

// TimeRange returns the chunk's timestamp range as HH:MM:SS strings.
func (p Packet) TimeRange() (string, string) {
	return format.Timestamp(p.Chunk.StartTime), format.Timestamp(p.Chunk.EndTime)
}

// Input returns the text submitted to the tool: preamble, blank line,
// chunk text.
func (p Packet) Input() string {
	return p.Preamble() + "\n\n" + p.Chunk.Text
}

// Preamble renders the context block. Sections without data are omitted;
// the chunk section is always present.
func (p Packet) Preamble() string {
	var sections []string
	if s := p.sourceSection(); s != "" {
		sections = append(sections, s)
	}
	if s := p.contextSection(); s != "" {
		sections = append(sections, s)
	}
	sections = append(sections, p.chunkSection())

	return "---\n" + strings.Join(sections, "\n\n") + "\n\n---"
}

func (p Packet) sourceSection() string {
	s := p.Source
	if s.IsZero() {
		return ""
	}
	lines := []string{"SOURCE DETAILS:"}
	if s.Channel != "" {
		lines = append(lines, "- Channel: "+s.Channel)
	}
	if s.UploadDate != "" {
		lines = append(lines, "- Published: "+s.UploadDate)
	}
	if s.Duration > 0 {
		lines = append(lines, "- Duration: "+format.Timestamp(s.Duration))
	}
	if len(s.Tags) > 0 {
		lines = append(lines, "- Tags: "+strings.Join(s.Tags, ", "))
	}
	if d := Excerpt(s.Description, DescriptionLimit); d != "" {
		lines = append(lines, "- Description: "+d)
	}
	return strings.Join(lines, "\n")
}

func (p Packet) contextSection() string {
	c := p.Context
	var lines []string
	if c.Title != "" {
		lines = append(lines, "- Source: "+c.Title)
	}
	if c.Summary != "" {
		lines = append(lines, "- Overview: "+c.Summary)
	}
	if len(c.Topics) > 0 {
		lines = append(lines, "- Key Topics: "+strings.Join(c.Topics, ", "))
	}
	if len(lines) == 0 {
		return ""
	}
	return "CONTENT CONTEXT:\n" + strings.Join(lines, "\n")
}

func (p Packet) chunkSection() string {
	start, end := p.TimeRange()
	return fmt.Sprintf("CHUNK INFORMATION:\n- Position: %s (chunk %d of %d)\n- Timestamp Range: %s - %s\n- Processing Note: %s",
		p.Position, p.Chunk.Index+1, max(p.Chunk.Total, 1), start, end, p.Position.Note())
}

// Excerpt flattens whitespace and truncates text to limit characters,
// appending "..." when something was cut.
func Excerpt(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if limit <= 0 || len(r) <= limit {
		return text
	}
	return strings.TrimSpace(string(r[:limit])) + "..."
}
