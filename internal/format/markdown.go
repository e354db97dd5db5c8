package format

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Markdown pipeline defaults.
const (
	// DefaultBaseHeading is where a pattern's H1 lands inside a larger note.
	DefaultBaseHeading = 4
	maxHeading         = 6
)

var (
	headingRe     = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	chunkMarkerRe = regexp.MustCompile(`^#{1,6}\s+Part\s+\d+/\d+`)
	ruleRe        = regexp.MustCompile(`^\s*---\s*$`)
)

// timestampPrefix starts the line emitted right after a chunk marker.
const timestampPrefix = "*Timestamp:"

// ChunkMarker returns the two-line boundary marker inserted between chunk
// outputs before they are joined. RemoveChunkMarkers strips it again.
func ChunkMarker(part, total int, start, end time.Duration) string {
	return fmt.Sprintf("## Part %d/%d\n%s %s - %s*", part, total, timestampPrefix, Timestamp(start), Timestamp(end))
}

// NormalizeHeadings shifts every heading so that H1 becomes base.
// Levels are capped at H6.
func NormalizeHeadings(text string, base int) string {
	if text == "" {
		return text
	}
	offset := max(base, 1) - 1

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		m := headingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		level := min(len(m[1])+offset, maxHeading)
		lines[i] = strings.Repeat("#", level) + " " + m[2]
	}
	return strings.Join(lines, "\n")
}

// CleanRules collapses consecutive horizontal rules and drops rules at the
// very start or end of the text. Rules are re-emitted surrounded by blank
// lines.
func CleanRules(text string) string {
	if text == "" {
		return text
	}
	var blocks []string
	var cur []string
	flush := func() {
		block := strings.Trim(strings.Join(cur, "\n"), "\n")
		if strings.TrimSpace(block) != "" {
			blocks = append(blocks, block)
		}
		cur = cur[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		if ruleRe.MatchString(line) {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return strings.TrimSpace(strings.Join(blocks, "\n\n---\n\n"))
}

// RemoveChunkMarkers drops "Part X/Y" headings and the timestamp line that
// directly follows each of them.
func RemoveChunkMarkers(text string) string {
	if text == "" {
		return text
	}
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	afterMarker := false

	for _, line := range lines {
		if chunkMarkerRe.MatchString(line) {
			afterMarker = true
			continue
		}
		if afterMarker && strings.HasPrefix(strings.TrimSpace(line), timestampPrefix) {
			afterMarker = false
			continue
		}
		afterMarker = false
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// Options controls Output.
type Options struct {
	BaseHeading      int
	KeepChunkMarkers bool
	KeepRules        bool
}

// Output applies the full cleanup pipeline to a pattern result:
// chunk-marker removal, heading normalization, rule cleanup.
// Zero Options gives the defaults used for final notes.
func Output(text string, opts Options) string {
	if text == "" {
		return text
	}
	if opts.BaseHeading <= 0 {
		opts.BaseHeading = DefaultBaseHeading
	}
	if !opts.KeepChunkMarkers {
		text = RemoveChunkMarkers(text)
	}
	text = NormalizeHeadings(text, opts.BaseHeading)
	if !opts.KeepRules {
		text = CleanRules(text)
	}
	return strings.TrimSpace(text)
}
