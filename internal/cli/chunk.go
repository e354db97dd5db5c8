package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alnah/go-fabric-analyze/internal/artifacts"
	"github.com/alnah/go-fabric-analyze/internal/orchestrate"
	"github.com/alnah/go-fabric-analyze/internal/packet"
	"github.com/alnah/go-fabric-analyze/internal/tokens"
)

// chunkFlags are the flags of the chunk command.
type chunkFlags struct {
	documentFlags
	maxTokens int
	overlap   int
	asJSON    bool
}

// ChunkCmd creates the chunk command, a dry run of the chunking stage.
func ChunkCmd(env *Env, g *globalFlags) *cobra.Command {
	var f chunkFlags

	cmd := &cobra.Command{
		Use:   "chunk <transcript|->",
		Short: "Show how a transcript would be chunked",
		Long: `Show how a transcript would be chunked, without calling any pattern.

Prints one line per packet: id, position, estimated tokens, overlap carried
from the previous chunk, and the interpolated timestamp range (when
--duration or --meta gives the source duration).`,
		Example: `  fabric-analyze chunk talk.txt --duration 1h05m
  fabric-analyze chunk talk.txt --max-tokens 4000 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChunk(cmd, env, g, args[0], f)
		},
	}

	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "Chunk ceiling in tokens (default: chunk.max_tokens)")
	cmd.Flags().IntVar(&f.overlap, "overlap", -1, "Overlap in tokens (default: chunk.overlap_tokens)")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "Print the packet manifest as JSON")
	addDocumentFlags(cmd, &f.documentFlags)

	return cmd
}

func runChunk(cmd *cobra.Command, env *Env, g *globalFlags, input string, f chunkFlags) error {
	cfg, err := loadConfig(cmd, env, g)
	if err != nil {
		return err
	}
	if f.maxTokens > 0 {
		cfg.Chunk.MaxTokens = f.maxTokens
	}
	if f.overlap >= 0 {
		cfg.Chunk.OverlapTokens = f.overlap
	}
	if cfg.Chunk.OverlapTokens >= cfg.Chunk.MaxTokens {
		return fmt.Errorf("overlap (%d) must be below the chunk ceiling (%d)", cfg.Chunk.OverlapTokens, cfg.Chunk.MaxTokens)
	}

	doc, err := readDocument(env, input, f.documentFlags)
	if err != nil {
		return err
	}
	if strings.TrimSpace(doc.Text) == "" {
		return fmt.Errorf("%s: %w", input, orchestrate.ErrEmptyInput)
	}

	est, err := newEstimator(cfg.Chunk)
	if err != nil {
		return err
	}
	assembler, err := newAssembler(cfg.Chunk)
	if err != nil {
		return err
	}

	chunks := assembler.Assemble(doc.Text, doc.Duration)
	packets := packet.Build(chunks, packet.Context{Title: doc.Title}, doc.Source)
	manifest := artifacts.NewManifest(doc.Title, packets)

	if f.asJSON {
		data, err := json.MarshalIndent(manifest, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode manifest: %w", err)
		}
		_, err = fmt.Fprintln(env.Stdout, string(data))
		return err
	}
	return printPlan(env, est, assembler.Ceiling(doc.Text), doc.Text, manifest)
}

// printPlan writes the chunk plan as an aligned table.
func printPlan(env *Env, est tokens.Estimator, ceiling int, text string, m artifacts.Manifest) error {
	fmt.Fprintf(env.Stdout, "%s: ~%d tokens, ceiling %d, %d chunk(s)\n\n",
		m.Title, est.Estimate(text), ceiling, m.TotalChunks)

	tw := tabwriter.NewWriter(env.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPOSITION\tTOKENS\tOVERLAP\tSTART\tEND")
	for _, c := range m.Chunks {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			c.ID, c.Position, c.Tokens, c.OverlapTokens, c.TimestampRange[0], c.TimestampRange[1])
	}
	return tw.Flush()
}
