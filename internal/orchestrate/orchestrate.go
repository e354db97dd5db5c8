// Package orchestrate runs the two-phase analysis of a document: global
// metadata first, then every requested pattern over every chunk, then
// recombination of the chunk outputs.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alnah/go-fabric-analyze/internal/apierr"
	"github.com/alnah/go-fabric-analyze/internal/chunk"
	"github.com/alnah/go-fabric-analyze/internal/fabric"
	"github.com/alnah/go-fabric-analyze/internal/format"
	"github.com/alnah/go-fabric-analyze/internal/logging"
	"github.com/alnah/go-fabric-analyze/internal/metadata"
	"github.com/alnah/go-fabric-analyze/internal/packet"
	"github.com/alnah/go-fabric-analyze/internal/resilience"
)

// Inter-chunk delay defaults.
const (
	DefaultShortDelay     = 500 * time.Millisecond
	DefaultLongDelay      = 2 * time.Second
	DefaultDelayThreshold = 3
	DefaultTimeout        = 120 * time.Second
)

// ErrEmptyInput is returned when the document has no text.
var ErrEmptyInput = errors.New("empty transcript")

// ErrNoPatterns is returned when no pattern was requested.
var ErrNoPatterns = errors.New("no patterns requested")

// Engine executes resilient pattern calls. *resilience.Engine implements it.
type Engine interface {
	Run(ctx context.Context, call resilience.Call) resilience.Result
	RunStreaming(ctx context.Context, call resilience.Call, onLine fabric.LineFunc) resilience.Result
}

// Extractor produces the global metadata. *metadata.Extractor implements it.
type Extractor interface {
	Extract(ctx context.Context, text, title string, tags []string) metadata.GlobalMetadata
}

// Chunker splits a document. *chunk.Assembler implements it.
type Chunker interface {
	Assemble(text string, duration time.Duration) []chunk.Chunk
}

// Sink persists intermediate artifacts. Sink failures are logged and never
// fail the run.
type Sink interface {
	SaveMetadata(g metadata.GlobalMetadata) error
	SavePackets(packets []packet.Packet) error
	SavePattern(r *PatternResult) error
}

// Compile-time interface compliance checks.
var (
	_ Engine    = (*resilience.Engine)(nil)
	_ Extractor = (*metadata.Extractor)(nil)
	_ Chunker   = (*chunk.Assembler)(nil)
)

// Config holds the pattern-stage settings.
type Config struct {
	Patterns    []string
	JoinPattern string // optional; synthesizes multi-chunk outputs
	Model       string
	Fallbacks   []string
	Timeout     time.Duration
	Stream      bool

	ShortDelay     time.Duration // between chunks when there are few
	LongDelay      time.Duration // between chunks when there are more than DelayThreshold
	DelayThreshold int
}

// DefaultConfig returns the defaults for a single pattern.
func DefaultConfig(patterns ...string) Config {
	return Config{
		Patterns:       patterns,
		Timeout:        DefaultTimeout,
		ShortDelay:     DefaultShortDelay,
		LongDelay:      DefaultLongDelay,
		DelayThreshold: DefaultDelayThreshold,
	}
}

// Orchestrator runs documents through metadata extraction, chunking and
// pattern processing.
type Orchestrator struct {
	engine    Engine
	extractor Extractor
	chunker   Chunker
	cfg       Config

	scheduler Scheduler
	sink      Sink
	sleep     resilience.SleepFunc
	now       func() time.Time
	log       logrus.FieldLogger
	progress  func(Event)
	onLine    func(pattern string, chunk int, line string)
	newRunID  func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithScheduler sets the pattern scheduler. The default is Sequential.
func WithScheduler(s Scheduler) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.scheduler = s
		}
	}
}

// WithSink persists artifacts as the run progresses.
func WithSink(s Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithSleep replaces the inter-chunk sleep (for testing).
func WithSleep(fn resilience.SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithClock replaces time.Now (for testing).
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithProgress receives progress events.
func WithProgress(fn func(Event)) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

// WithLineHandler receives output lines while streaming.
func WithLineHandler(fn func(pattern string, chunk int, line string)) Option {
	return func(o *Orchestrator) { o.onLine = fn }
}

// withRunID replaces the run identifier generator (for testing).
func withRunID(fn func() string) Option {
	return func(o *Orchestrator) { o.newRunID = fn }
}

// New creates an Orchestrator.
func New(engine Engine, extractor Extractor, chunker Chunker, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.DelayThreshold <= 0 {
		cfg.DelayThreshold = DefaultDelayThreshold
	}
	o := &Orchestrator{
		engine:    engine,
		extractor: extractor,
		chunker:   chunker,
		cfg:       cfg,
		scheduler: Sequential{},
		sleep:     sleepCtx,
		now:       time.Now,
		log:       logging.Discard(),
		newRunID:  logging.NewRunID,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// InterChunkDelay returns the pause between two chunks of one pattern.
func (o *Orchestrator) InterChunkDelay(total int) time.Duration {
	if total > o.cfg.DelayThreshold {
		return o.cfg.LongDelay
	}
	return o.cfg.ShortDelay
}

// Run analyzes one document. Pattern failures are reported in the result,
// not as an error; the error is non-nil only for invalid input or when ctx
// ends, in which case the partial result is still returned.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*Result, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, ErrEmptyInput
	}
	if len(o.cfg.Patterns) == 0 {
		return nil, ErrNoPatterns
	}

	start := o.now()
	res := &Result{
		RunID:    o.newRunID(),
		Patterns: make(map[string]*PatternResult, len(o.cfg.Patterns)),
		Order:    o.cfg.Patterns,
	}
	log := logging.WithRun(o.log, res.RunID).WithField("document", in.ID)
	log.WithFields(logrus.Fields{
		"patterns": strings.Join(o.cfg.Patterns, ","),
		"words":    len(strings.Fields(in.Text)),
	}).Info("starting analysis")

	// Phase 1: global metadata.
	o.emit(Event{Kind: MetadataStarted})
	t := o.now()
	res.Metadata = o.extractor.Extract(ctx, in.Text, in.Title, in.Source.Tags)
	res.Timing.Metadata = o.now().Sub(t)
	o.emit(Event{Kind: MetadataDone, Elapsed: res.Timing.Metadata})
	if !res.Metadata.Successful {
		log.WithField("fields", errorFields(res.Metadata.Errors)).Info("metadata used fallbacks")
	}
	o.save(log, "metadata", func(s Sink) error { return s.SaveMetadata(res.Metadata) })

	if err := ctx.Err(); err != nil {
		return o.finish(res, start), err
	}

	// Chunking.
	t = o.now()
	chunks := o.chunker.Assemble(in.Text, in.Duration)
	res.Packets = packet.Build(chunks, res.Metadata.Context(in.Title), in.Source)
	res.Timing.Chunking = o.now().Sub(t)
	o.emit(Event{Kind: ChunkingDone, Total: len(res.Packets), Elapsed: res.Timing.Chunking})
	log.WithField("chunks", len(res.Packets)).Info("document chunked")
	o.save(log, "packets", func(s Sink) error { return s.SavePackets(res.Packets) })

	// Phase 2: patterns.
	t = o.now()
	results := make([]*PatternResult, len(o.cfg.Patterns))
	schedErr := o.scheduler.Each(ctx, len(o.cfg.Patterns), func(ctx context.Context, i int) {
		results[i] = o.processPattern(ctx, log, o.cfg.Patterns[i], res.Packets)
	})
	res.Timing.Patterns = o.now().Sub(t)

	for i, name := range o.cfg.Patterns {
		pr := results[i]
		if pr == nil {
			pr = &PatternResult{
				Pattern: name,
				Err:     apierr.New(apierr.KindCanceled, "not started"),
				Error:   "Canceled before start",
			}
		}
		res.Patterns[name] = pr
		if !pr.Success {
			res.Errors = append(res.Errors, fmt.Sprintf("Pattern '%s' failed: %s", name, pr.Error))
		}
	}
	res.Success = len(res.Errors) == 0

	res = o.finish(res, start)
	log.WithFields(logrus.Fields{
		"success": res.Success,
		"errors":  len(res.Errors),
		"elapsed": format.Duration(res.Timing.Total),
	}).Info("analysis finished")

	if schedErr != nil {
		return res, schedErr
	}
	return res, ctx.Err()
}

func (o *Orchestrator) finish(res *Result, start time.Time) *Result {
	res.Timing.Total = o.now().Sub(start)
	return res
}

// processPattern runs one pattern over every packet in order. The first
// failing chunk stops the pattern; earlier outputs are kept.
func (o *Orchestrator) processPattern(ctx context.Context, log *logrus.Entry, pattern string, packets []packet.Packet) *PatternResult {
	pr := &PatternResult{Pattern: pattern}
	total := len(packets)
	delay := o.InterChunkDelay(total)
	log = log.WithField(logging.FieldPattern, pattern)

	o.emit(Event{Kind: PatternStarted, Pattern: pattern, Total: total})
	defer func() {
		o.emit(Event{Kind: PatternDone, Pattern: pattern, Total: total, Err: pr.Err})
		o.save(log, "pattern", func(s Sink) error { return s.SavePattern(pr) })
	}()

	for i, p := range packets {
		n := i + 1
		if err := ctx.Err(); err != nil {
			o.fail(pr, n, &apierr.Error{Kind: apierr.KindCanceled, Msg: err.Error(), Chunk: n})
			return pr
		}

		o.emit(Event{Kind: ChunkStarted, Pattern: pattern, Chunk: n, Total: total})
		call := resilience.Call{
			Pattern:   pattern,
			Input:     p.Input(),
			Timeout:   o.cfg.Timeout,
			Model:     o.cfg.Model,
			Fallbacks: o.cfg.Fallbacks,
			Chunk:     n,
		}
		cr := o.call(ctx, call)
		pr.Timing = append(pr.Timing, cr.Elapsed)
		pr.Models = append(pr.Models, cr.Model)
		pr.Retries += cr.Retries

		if !cr.Success() {
			o.emit(Event{Kind: ChunkFailed, Pattern: pattern, Chunk: n, Total: total, Elapsed: cr.Elapsed, Err: cr.Err})
			log.WithField(logging.FieldChunk, n).WithError(cr.Err).Warn("chunk failed, stopping pattern")
			o.fail(pr, n, cr.Err)
			return pr
		}

		pr.Outputs = append(pr.Outputs, cr.Output)
		o.emit(Event{Kind: ChunkDone, Pattern: pattern, Chunk: n, Total: total, Elapsed: cr.Elapsed, Chars: len(cr.Output)})

		if n < total && delay > 0 {
			log.WithField(logging.FieldDelay, delay.String()).Debug("waiting before next chunk")
			if err := o.sleep(ctx, delay); err != nil {
				// Cancellation is reported at the top of the next iteration.
				continue
			}
		}
	}

	pr.Success = true
	o.combine(ctx, log, pr, packets)
	return pr
}

func (o *Orchestrator) call(ctx context.Context, call resilience.Call) resilience.Result {
	if !o.cfg.Stream {
		return o.engine.Run(ctx, call)
	}
	return o.engine.RunStreaming(ctx, call, func(line string) {
		if o.onLine != nil {
			o.onLine(call.Pattern, call.Chunk, line)
		}
	})
}

func (o *Orchestrator) fail(pr *PatternResult, chunk int, err error) {
	pr.Success = false
	pr.Err = err
	pr.FailedChunk = chunk
	pr.Error = fmt.Sprintf("Chunk %d failed: %v", chunk, err)
}

// combine builds the final text. A single output is formatted directly.
// Several outputs are concatenated with chunk markers, optionally handed to
// the join pattern, then formatted with the markers removed.
func (o *Orchestrator) combine(ctx context.Context, log *logrus.Entry, pr *PatternResult, packets []packet.Packet) {
	if len(pr.Outputs) == 1 {
		pr.CombinedRaw = pr.Outputs[0]
		pr.Combined = format.Output(pr.CombinedRaw, format.Options{})
		return
	}

	pr.CombinedRaw = Concatenate(pr.Outputs, packets)
	final := pr.CombinedRaw

	if o.cfg.JoinPattern != "" && len(pr.Outputs) > 1 {
		o.emit(Event{Kind: Joining, Pattern: pr.Pattern, Total: len(pr.Outputs)})
		jr := o.engine.Run(ctx, resilience.Call{
			Pattern:   o.cfg.JoinPattern,
			Input:     pr.CombinedRaw,
			Timeout:   o.cfg.Timeout,
			Model:     o.cfg.Model,
			Fallbacks: o.cfg.Fallbacks,
		})
		pr.Retries += jr.Retries
		if jr.Success() {
			final = jr.Output
			pr.Joined = true
		} else {
			log.WithError(jr.Err).Warn("join pattern failed, using concatenation")
		}
	}

	pr.Combined = format.Output(final, format.Options{})
}

// Concatenate joins chunk outputs, each preceded by its part marker and
// followed by a horizontal rule. outputs[i] belongs to packets[i].
func Concatenate(outputs []string, packets []packet.Packet) string {
	parts := make([]string, len(outputs))
	for i, out := range outputs {
		var start, end time.Duration
		if i < len(packets) {
			start, end = packets[i].Chunk.StartTime, packets[i].Chunk.EndTime
		}
		parts[i] = format.ChunkMarker(i+1, len(outputs), start, end) + "\n\n" + out + "\n\n---\n"
	}
	return strings.Join(parts, "\n")
}

func (o *Orchestrator) emit(ev Event) {
	if o.progress != nil {
		o.progress(ev)
	}
}

func (o *Orchestrator) save(log *logrus.Entry, what string, fn func(Sink) error) {
	if o.sink == nil {
		return
	}
	if err := fn(o.sink); err != nil {
		log.WithError(err).WithField("artifact", what).Warn("failed to save artifact")
	}
}

func errorFields(errs map[string]string) string {
	var fields []string
	for _, f := range metadata.Fields {
		if _, ok := errs[f]; ok {
			fields = append(fields, f)
		}
	}
	return strings.Join(fields, ",")
}

// sleepCtx waits for d unless ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
