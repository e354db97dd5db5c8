package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alnah/go-fabric-analyze/internal/config"
	"github.com/alnah/go-fabric-analyze/internal/format"
	"github.com/alnah/go-fabric-analyze/internal/orchestrate"
)

// stdoutName is the --output value that prints to stdout.
const stdoutName = "-"

// warnNonMarkdownExtension writes a warning to w if path has an extension
// that is not .md. This alerts users that the output will be Markdown
// regardless of the file extension they specified.
func warnNonMarkdownExtension(w io.Writer, path string) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != "" && ext != ".md" {
		_, _ = fmt.Fprintf(w, "Warning: output is Markdown regardless of %s extension\n", ext)
	}
}

// outputPaths resolves one output path per pattern. An explicit output is
// only allowed with a single pattern; otherwise each pattern is written to
// <id>_<pattern>.md in outputDir.
func outputPaths(output, outputDir, id string, patterns []string) (map[string]string, error) {
	if output != "" && len(patterns) > 1 {
		return nil, fmt.Errorf("--output accepts a single pattern, got %d (use --output-dir)", len(patterns))
	}
	outputDir = config.ExpandPath(outputDir)
	paths := make(map[string]string, len(patterns))
	for _, p := range patterns {
		if output == stdoutName {
			paths[p] = stdoutName
			continue
		}
		paths[p] = config.ResolveOutputPath(config.ExpandPath(output), outputDir, id+"_"+p+".md")
	}
	return paths, nil
}

// checkOutputsFree fails if any output file already exists, before any
// call is made.
func checkOutputsFree(paths map[string]string) error {
	for _, p := range paths {
		if p == stdoutName {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return fmt.Errorf("output file already exists: %s: %w", p, ErrOutputExists)
		}
	}
	return nil
}

// writeFileAtomic writes content to path atomically.
// It fails if the file already exists (O_EXCL), preventing accidental overwrites.
// On write failure, the partial file is removed.
func writeFileAtomic(path, content string) error {
	if dir := filepath.Dir(path); dir != "." {
		// #nosec G301 -- user-specified output dir with standard permissions
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("cannot create output directory: %w", err)
		}
	}
	// #nosec G302 G304 -- user-specified output file with standard permissions
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("output file already exists: %s: %w", path, ErrOutputExists)
		}
		return fmt.Errorf("cannot create output file: %w", err)
	}

	writeErr := func() error {
		defer func() { _ = f.Close() }()
		if _, err := f.WriteString(content); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}()

	if writeErr != nil {
		_ = os.Remove(path)
		return writeErr
	}
	return nil
}

// writeOutputs writes the final text of each successful pattern, in
// requested order. It returns the files written.
func writeOutputs(env *Env, res *orchestrate.Result, paths map[string]string) ([]string, error) {
	var written []string
	for _, name := range res.Order {
		pr, ok := res.Patterns[name]
		if !ok || !pr.Success {
			continue
		}
		path := paths[name]
		if path == stdoutName {
			if _, err := fmt.Fprintln(env.Stdout, pr.Combined); err != nil {
				return written, fmt.Errorf("failed to write output: %w", err)
			}
			continue
		}
		if err := writeFileAtomic(path, pr.Combined+"\n"); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// ---------------------------------------------------------------------------
// Progress
// ---------------------------------------------------------------------------

// progressPrinter returns a callback that writes status lines to w. Events
// may arrive from several goroutines.
func progressPrinter(w io.Writer) func(orchestrate.Event) {
	var mu sync.Mutex
	return func(ev orchestrate.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.Kind {
		case orchestrate.MetadataStarted:
			_, _ = fmt.Fprintln(w, "Extracting metadata...")
		case orchestrate.ChunkingDone:
			_, _ = fmt.Fprintf(w, "Split into %d chunk(s)\n", ev.Total)
		case orchestrate.PatternStarted:
			_, _ = fmt.Fprintf(w, "Running pattern '%s'...\n", ev.Pattern)
		case orchestrate.ChunkDone:
			_, _ = fmt.Fprintf(w, "  [%s] chunk %d/%d done (%s, %d chars)\n",
				ev.Pattern, ev.Chunk, ev.Total, format.Seconds(ev.Elapsed), ev.Chars)
		case orchestrate.ChunkFailed:
			_, _ = fmt.Fprintf(w, "  [%s] chunk %d/%d failed: %v\n", ev.Pattern, ev.Chunk, ev.Total, ev.Err)
		case orchestrate.Joining:
			_, _ = fmt.Fprintf(w, "  [%s] joining %d parts...\n", ev.Pattern, ev.Total)
		}
	}
}

// printSummary reports the outcome of every pattern.
func printSummary(w io.Writer, res *orchestrate.Result) {
	if !res.Metadata.Successful {
		_, _ = fmt.Fprintln(w, "Metadata: fallbacks used")
	}
	for _, name := range res.Order {
		pr := res.Patterns[name]
		if pr == nil {
			continue
		}
		if pr.Success {
			_, _ = fmt.Fprintf(w, "OK   %s (%d chunk(s), %d retries)\n", name, len(pr.Outputs), pr.Retries)
			continue
		}
		_, _ = fmt.Fprintf(w, "FAIL %s: %s\n", name, pr.Error)
	}
	_, _ = fmt.Fprintf(w, "Total time: %s\n", format.Duration(res.Timing.Total))
}
