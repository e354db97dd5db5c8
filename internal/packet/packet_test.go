package packet_test

import (
	"strings"
	"testing"
	"time"

	"github.com/alnah/go-fabric-analyze/internal/chunk"
	"github.com/alnah/go-fabric-analyze/internal/packet"
)

// ---------------------------------------------------------------------------
// TestDeterminePosition
// ---------------------------------------------------------------------------

func TestDeterminePosition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		index, total int
		want         packet.Position
	}{
		{0, 1, packet.Single},
		{0, 3, packet.Beginning},
		{1, 3, packet.Middle},
		{2, 3, packet.End},
		{0, 2, packet.Beginning},
		{1, 2, packet.End},
		{0, 0, packet.Single},
	}

	for _, tt := range tests {
		if got := packet.DeterminePosition(tt.index, tt.total); got != tt.want {
			t.Errorf("DeterminePosition(%d, %d) = %q, want %q", tt.index, tt.total, got, tt.want)
		}
	}
}

func TestPosition_Note(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for _, p := range []packet.Position{packet.Single, packet.Beginning, packet.Middle, packet.End} {
		n := p.Note()
		if n == "" {
			t.Errorf("%s has no note", p)
		}
		if seen[n] {
			t.Errorf("%s shares its note with another position", p)
		}
		seen[n] = true
	}
	if packet.Position("bogus").Note() != packet.Middle.Note() {
		t.Error("unknown position should fall back to the middle note")
	}
}

// ---------------------------------------------------------------------------
// TestPacket_Input - preamble layout
// ---------------------------------------------------------------------------

func TestPacket_Input_Full(t *testing.T) {
	t.Parallel()

	chunks := []chunk.Chunk{
		{ID: "chunk_001", Index: 0, Total: 2, EndTime: 5 * time.Minute, Text: "first part"},
		{ID: "chunk_002", Index: 1, Total: 2, StartTime: 5 * time.Minute, EndTime: 10 * time.Minute, Text: "second part"},
	}
	ctx := packet.Context{Title: "Go Talk", Summary: "A talk about Go.", Topics: []string{"go", "concurrency"}}
	src := packet.Source{Channel: "GopherCon", UploadDate: "2024-05-01", Duration: 10 * time.Minute, Tags: []string{"golang"}}

	packets := packet.Build(chunks, ctx, src)
	if len(packets) != 2 {
		t.Fatalf("len(packets) = %d, want 2", len(packets))
	}

	want := `---
SOURCE DETAILS:
- Channel: GopherCon
- Published: 2024-05-01
- Duration: 00:10:00
- Tags: golang

CONTENT CONTEXT:
- Source: Go Talk
- Overview: A talk about Go.
- Key Topics: go, concurrency

CHUNK INFORMATION:
- Position: end (chunk 2 of 2)
- Timestamp Range: 00:05:00 - 00:10:00
- Processing Note: This is the final segment concluding previous content. Focus on conclusions, resolutions, and final takeaways.

---

second part`

	if got := packets[1].Input(); got != want {
		t.Errorf("Input() mismatch\n got: %q\nwant: %q", got, want)
	}
	if packets[0].Position != packet.Beginning {
		t.Errorf("first packet Position = %q, want beginning", packets[0].Position)
	}
	if packets[1].ID() != "chunk_002" {
		t.Errorf("ID() = %q, want chunk_002", packets[1].ID())
	}
}

func TestPacket_Input_OmitsEmptySections(t *testing.T) {
	t.Parallel()

	p := packet.Build([]chunk.Chunk{{ID: "chunk_001", Total: 1, Text: "body"}}, packet.Context{}, packet.Source{})[0]
	got := p.Input()

	if strings.Contains(got, "SOURCE DETAILS") {
		t.Error("empty source section rendered")
	}
	if strings.Contains(got, "CONTENT CONTEXT") {
		t.Error("empty context section rendered")
	}
	if !strings.Contains(got, "- Position: single (chunk 1 of 1)") {
		t.Errorf("chunk section missing: %q", got)
	}
	if !strings.HasSuffix(got, "---\n\nbody") {
		t.Errorf("chunk text not separated by a blank line: %q", got)
	}
}

func TestPacket_DescriptionTruncated(t *testing.T) {
	t.Parallel()

	src := packet.Source{Description: strings.Repeat("é", 600)}
	p := packet.Build([]chunk.Chunk{{Total: 1, Text: "x"}}, packet.Context{}, src)[0]

	want := "- Description: " + strings.Repeat("é", packet.DescriptionLimit) + "..."
	if !strings.Contains(p.Preamble(), want) {
		t.Error("description not truncated to the character cap")
	}
}

func TestExcerpt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		limit int
		want  string
	}{
		{"short", "hello", 10, "hello"},
		{"whitespace flattened", "a\n\nb   c", 10, "a b c"},
		{"cut", "abcdefghij", 4, "abcd..."},
		{"no limit", "abc", 0, "abc"},
		{"empty", "", 5, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := packet.Excerpt(tt.text, tt.limit); got != tt.want {
				t.Errorf("Excerpt(%q, %d) = %q, want %q", tt.text, tt.limit, got, tt.want)
			}
		})
	}
}
