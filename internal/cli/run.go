package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alnah/go-fabric-analyze/internal/artifacts"
	"github.com/alnah/go-fabric-analyze/internal/config"
	"github.com/alnah/go-fabric-analyze/internal/interrupt"
	"github.com/alnah/go-fabric-analyze/internal/orchestrate"
	"github.com/alnah/go-fabric-analyze/internal/pattern"
)

// runFlags are the flags of the run command.
type runFlags struct {
	documentFlags
	patterns  []string
	join      string
	model     string
	models    []string
	stream    bool
	parallel  int
	output    string
	outputDir string
	saveDir   string
	noSave    bool
}

// RunCmd creates the run command.
// The env parameter provides injectable dependencies for testing.
func RunCmd(env *Env, g *globalFlags) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run <transcript|->",
		Short: "Run patterns over a transcript",
		Long: `Run one or more fabric patterns over a transcript.

Phase 1 extracts a summary, theme and topics from a sample of the whole
transcript. Phase 2 splits the transcript into chunks, attaches that context
to each one and runs every pattern over every chunk in order, with retries
and model fallback on rate limits. Multi-chunk outputs are concatenated with
part markers, or synthesized by --join when set.

One Markdown file per successful pattern is written to <id>_<pattern>.md.
Pass "-" to read the transcript from stdin and -o - to print to stdout.`,
		Example: `  fabric-analyze run talk.txt
  fabric-analyze run talk.txt -p extract_wisdom,summarize --join join_chunks
  fabric-analyze run talk.txt --meta talk.info.json --stream -m llama-70b
  cat talk.txt | fabric-analyze run - --title "Keynote" -o -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, env, g, args[0], f)
		},
	}

	cmd.Flags().StringSliceVarP(&f.patterns, "patterns", "p", nil, "Patterns to run, comma separated (default: patterns.default)")
	cmd.Flags().StringVar(&f.join, "join", "", "Pattern that synthesizes multi-chunk outputs (default: patterns.join)")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "Preferred model or alias, e.g. llama-70b (default: fabric.model)")
	cmd.Flags().StringSliceVar(&f.models, "fallback", nil, "Fallback models, comma separated (default: models.phase2)")
	cmd.Flags().BoolVar(&f.stream, "stream", false, "Stream pattern output to stdout as it is generated")
	cmd.Flags().IntVar(&f.parallel, "parallel", 0, "Patterns run at once (default: patterns.parallel)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Output file for a single pattern, - for stdout")
	cmd.Flags().StringVar(&f.outputDir, "output-dir", "", "Directory for output files (default: output.dir)")
	cmd.Flags().StringVar(&f.saveDir, "save-dir", "", "Save packets and intermediate outputs under <dir>/<id> (default: output.save_dir)")
	cmd.Flags().BoolVar(&f.noSave, "no-save", false, "Do not save intermediate artifacts")
	addDocumentFlags(cmd, &f.documentFlags)

	return cmd
}

// addDocumentFlags registers the flags describing the input document.
func addDocumentFlags(cmd *cobra.Command, f *documentFlags) {
	cmd.Flags().StringVar(&f.meta, "meta", "", "Source info JSON (yt-dlp format: title, channel, upload_date, duration, tags, description)")
	cmd.Flags().StringVar(&f.id, "id", "", "Document id used in file names (default: input file name)")
	cmd.Flags().StringVar(&f.title, "title", "", "Document title (default: from --meta, else the id)")
	cmd.Flags().DurationVar(&f.duration, "duration", 0, "Source duration for chunk timestamps, e.g. 1h12m")
}

// applyRunFlags overrides configuration with explicitly set flags.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, f runFlags) {
	if len(f.patterns) > 0 {
		cfg.Patterns.Default = f.patterns
	}
	if cmd.Flags().Changed("join") {
		cfg.Patterns.Join = f.join
	}
	if f.model != "" {
		cfg.Fabric.Model = f.model
	}
	if len(f.models) > 0 {
		cfg.Models.Phase2 = f.models
	}
	if cmd.Flags().Changed("stream") {
		cfg.Fabric.Stream = f.stream
	}
	if f.parallel > 0 {
		cfg.Patterns.Parallel = f.parallel
	}
	if f.outputDir != "" {
		cfg.Output.Dir = f.outputDir
	}
	if f.saveDir != "" {
		cfg.Output.SaveDir = f.saveDir
	}
	if f.noSave {
		cfg.Output.SaveDir = ""
	}
}

// runAnalyze executes the analysis pipeline.
// Validation order: config -> patterns -> input -> outputs -> backend setup.
func runAnalyze(cmd *cobra.Command, env *Env, g *globalFlags, input string, f runFlags) error {
	// === VALIDATION (fail-fast) ===

	cfg, err := loadConfig(cmd, env, g)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg, f)

	names, err := pattern.ParseNames(strings.Join(cfg.Patterns.Default, ","))
	if err != nil {
		return err
	}
	cfg.Patterns.Default = pattern.Strings(names)
	if cfg.Patterns.Join != "" {
		if _, err := pattern.ParseName(cfg.Patterns.Join); err != nil {
			return err
		}
	}

	doc, err := readDocument(env, input, f.documentFlags)
	if err != nil {
		return err
	}
	if strings.TrimSpace(doc.Text) == "" {
		return fmt.Errorf("%s: %w", input, orchestrate.ErrEmptyInput)
	}

	paths, err := outputPaths(f.output, cfg.Output.Dir, doc.ID, cfg.Patterns.Default)
	if err != nil {
		return err
	}
	if err := checkOutputsFree(paths); err != nil {
		return err
	}
	if f.output != "" && f.output != stdoutName {
		warnNonMarkdownExtension(env.Stderr, f.output)
	}

	// === SETUP ===

	log, err := newLogger(env, cfg)
	if err != nil {
		return err
	}
	p, err := buildPipeline(env, cfg, log)
	if err != nil {
		return err
	}

	opts := []orchestrate.Option{
		orchestrate.WithScheduler(p.scheduler()),
		orchestrate.WithLogger(log),
		orchestrate.WithProgress(progressPrinter(env.Stderr)),
		orchestrate.WithClock(env.Now),
	}
	if env.Sleep != nil {
		opts = append(opts, orchestrate.WithSleep(env.Sleep))
	}
	if cfg.Fabric.Stream {
		opts = append(opts, orchestrate.WithLineHandler(func(_ string, _ int, line string) {
			_, _ = fmt.Fprintln(env.Stdout, line)
		}))
	}

	var writer *artifacts.Writer
	if cfg.Output.SaveDir != "" {
		dir := filepath.Join(config.ExpandPath(cfg.Output.SaveDir), doc.ID)
		if writer, err = artifacts.NewWriter(dir, doc.Title); err != nil {
			return err
		}
		opts = append(opts, orchestrate.WithSink(writer))
	}

	orch := orchestrate.New(p.engine, p.extractor, p.assembler, p.orchestratorConfig(), opts...)

	// === ANALYSIS ===

	handler, ctx := env.Interrupts(cmd.Context())
	defer handler.Stop()

	fmt.Fprintf(env.Stderr, "Analyzing '%s' with %s...\n", doc.Title, strings.Join(cfg.Patterns.Default, ", "))
	res, runErr := orch.Run(ctx, doc)
	if res == nil {
		return runErr
	}

	canceled := runErr != nil && errors.Is(runErr, context.Canceled)
	if canceled {
		if handler.WaitForDecision("Saving partial results... (press Ctrl+C again to discard)") == interrupt.Discard {
			return runErr
		}
	} else if runErr != nil {
		return runErr
	}

	// === WRITE OUTPUT ===

	written, err := writeOutputs(env, res, paths)
	if err != nil {
		return err
	}
	if writer != nil {
		if err := writer.SaveResult(res); err != nil {
			fmt.Fprintf(env.Stderr, "Warning: failed to save result: %v\n", err)
		} else {
			fmt.Fprintf(env.Stderr, "Artifacts: %s\n", writer.Dir())
		}
	}

	printSummary(env.Stderr, res)
	for _, path := range written {
		fmt.Fprintf(env.Stderr, "Done: %s\n", path)
	}

	if canceled {
		return runErr
	}
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrPatternsFailed, strings.Join(res.Errors, "; "))
	}
	return nil
}
