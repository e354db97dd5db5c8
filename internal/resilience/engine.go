// Package resilience turns single, unreliable pattern-tool calls into one
// reliable logical operation: size validation, retry with exponential
// backoff, and escalation through an ordered chain of fallback models.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/alnah/go-fabric-analyze/internal/apierr"
	"github.com/alnah/go-fabric-analyze/internal/fabric"
	"github.com/alnah/go-fabric-analyze/internal/logging"
	"github.com/alnah/go-fabric-analyze/internal/tokens"
)

// DefaultMaxRequestTokens is the input ceiling checked before any call.
// It is higher than the chunk ceiling, which already bounds packets.
const DefaultMaxRequestTokens = 30000

// State is a step of the per-call state machine.
type State int

// States. Succeeded, NonRetriable and ModelsExhausted are terminal.
const (
	Attempting State = iota
	Backoff
	Succeeded
	NonRetriable
	ModelsExhausted
)

var stateNames = [...]string{
	Attempting:      "attempting",
	Backoff:         "backoff",
	Succeeded:       "succeeded",
	NonRetriable:    "non_retriable",
	ModelsExhausted: "models_exhausted",
}

// String returns the state name used in logs.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Call is one logical pattern invocation.
type Call struct {
	Pattern   string
	Input     string
	Timeout   time.Duration
	Model     string   // preferred model; empty means the tool default
	Fallbacks []string // tried in order after Model hits quota limits
	Chunk     int      // 1-based chunk number for logs, 0 if none
}

// Result is the outcome of a Call.
type Result struct {
	Output   string
	Err      error // *apierr.Error when the call failed
	Retries  int   // failed retriable attempts summed over every model tried
	Attempts int
	Model    string // model of the last attempt; empty for the tool default
	Elapsed  time.Duration
}

// Success reports whether the call produced output.
func (r Result) Success() bool { return r.Err == nil }

// Event reports a state transition to observers.
type Event struct {
	State   State
	Pattern string
	Chunk   int
	Model   string
	Attempt int
	Delay   time.Duration
	Err     error
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Engine executes Calls through a fabric.Runner.
type Engine struct {
	runner           fabric.Runner
	est              tokens.Estimator
	maxRequestTokens int
	retry            apierr.RetryConfig
	catalog          *Catalog
	sleep            SleepFunc
	now              func() time.Time
	log              logrus.FieldLogger
	observe          func(Event)
}

// Option configures an Engine.
type Option func(*Engine)

// WithEstimator sets the estimator used for request validation.
func WithEstimator(est tokens.Estimator) Option {
	return func(e *Engine) { e.est = est }
}

// WithMaxRequestTokens sets the request ceiling.
func WithMaxRequestTokens(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRequestTokens = n
		}
	}
}

// WithRetry sets the retry policy.
func WithRetry(cfg apierr.RetryConfig) Option {
	return func(e *Engine) { e.retry = cfg.Normalized() }
}

// WithCatalog sets the catalog used to resolve model aliases.
func WithCatalog(c *Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithSleep replaces the backoff sleep (for testing).
func WithSleep(fn SleepFunc) Option {
	return func(e *Engine) { e.sleep = fn }
}

// WithClock replaces time.Now (for testing).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger. The default discards.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithObserver receives every state transition.
func WithObserver(fn func(Event)) Option {
	return func(e *Engine) { e.observe = fn }
}

// New creates an Engine.
func New(runner fabric.Runner, opts ...Option) *Engine {
	e := &Engine{
		runner:           runner,
		est:              tokens.Default(),
		maxRequestTokens: DefaultMaxRequestTokens,
		retry:            apierr.DefaultRetryConfig(),
		sleep:            sleepCtx,
		now:              time.Now,
		log:              logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate rejects inputs whose estimate exceeds the request ceiling.
func (e *Engine) Validate(input string) error {
	if n := e.est.Estimate(input); n > e.maxRequestTokens {
		return apierr.Newf(apierr.KindTooLarge, "Request too large: ~%d tokens (max: %d)", n, e.maxRequestTokens)
	}
	return nil
}

// Models returns the ordered model list for a call: the preferred model
// (possibly empty, meaning the tool default) followed by its fallbacks,
// aliases resolved and duplicates removed.
func (e *Engine) Models(call Call) []string {
	first := e.catalog.Resolve(call.Model)
	models := []string{first}
	seen := map[string]bool{first: true}
	for _, f := range call.Fallbacks {
		id := e.catalog.Resolve(f)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		models = append(models, id)
	}
	return models
}

// Run executes call. Rate-limit and server failures are retried with
// backoff; once a model's retries are spent, only rate-limit failures move
// on to the next model. Any other failure ends the call immediately.
func (e *Engine) Run(ctx context.Context, call Call) Result {
	start := e.now()
	res := e.run(ctx, call)
	res.Elapsed = e.now().Sub(start)
	return res
}

func (e *Engine) run(ctx context.Context, call Call) Result {
	if err := e.Validate(call.Input); err != nil {
		return Result{Err: err, Model: e.catalog.Resolve(call.Model)}
	}

	models := e.Models(call)
	var (
		res      Result
		mi       int
		schedule = e.retry.Schedule()
		delay    time.Duration
		last     *apierr.Error
		state    = Attempting
	)

	for {
		model := models[mi]
		log := e.log.WithFields(logrus.Fields{
			logging.FieldPattern: call.Pattern,
			logging.FieldChunk:   call.Chunk,
			logging.FieldModel:   displayModel(model),
		})

		switch state {
		case Attempting:
			if err := ctx.Err(); err != nil {
				last = &apierr.Error{Kind: apierr.KindCanceled, Msg: err.Error()}
				state = NonRetriable
				break
			}
			res.Attempts++
			res.Model = model
			e.emit(Event{State: Attempting, Pattern: call.Pattern, Chunk: call.Chunk, Model: model, Attempt: res.Attempts})
			log.WithField(logging.FieldAttempt, res.Attempts).Debug("calling pattern")

			out, err := e.runner.Run(ctx, fabric.Request{
				Pattern: call.Pattern,
				Model:   model,
				Input:   call.Input,
				Timeout: call.Timeout,
			})
			if err == nil {
				res.Output = fabric.StripThinking(out)
				state = Succeeded
				break
			}

			last = asError(err)
			kind := last.Kind
			log = log.WithFields(logrus.Fields{logging.FieldKind: kind.String(), logrus.ErrorKey: last.Msg})
			if !kind.Retriable() {
				log.Debug("non-retriable failure")
				state = NonRetriable
				break
			}

			res.Retries++
			delay = schedule.NextBackOff()
			if delay != backoff.Stop {
				state = Backoff
				break
			}

			last = &apierr.Error{Kind: kind, Msg: "Max retries exceeded: " + last.Msg}
			switch {
			case !kind.Fallback():
				state = NonRetriable
			case mi+1 < len(models):
				mi++
				schedule = e.retry.Schedule()
				log.WithField("next", displayModel(models[mi])).Warn("model quota exhausted, trying fallback")
				state = Attempting
			default:
				state = ModelsExhausted
			}

		case Backoff:
			e.emit(Event{State: Backoff, Pattern: call.Pattern, Chunk: call.Chunk, Model: model, Attempt: res.Retries, Delay: delay, Err: last})
			log.WithFields(logrus.Fields{
				logging.FieldDelay:   delay.String(),
				logging.FieldAttempt: res.Retries,
			}).Info("retriable failure, backing off")

			if err := e.sleep(ctx, delay); err != nil {
				last = &apierr.Error{Kind: apierr.KindCanceled, Msg: err.Error()}
				state = NonRetriable
				break
			}
			state = Attempting

		case Succeeded:
			e.emit(Event{State: Succeeded, Pattern: call.Pattern, Chunk: call.Chunk, Model: model, Attempt: res.Attempts})
			return res

		case NonRetriable, ModelsExhausted:
			e.emit(Event{State: state, Pattern: call.Pattern, Chunk: call.Chunk, Model: model, Attempt: res.Attempts, Err: last})
			last.Retries = res.Retries
			last.Model = model
			if call.Chunk > 0 {
				last.Chunk = call.Chunk
			}
			res.Err = last
			log.WithField(logging.FieldState, state.String()).Warn("call failed")
			return res
		}
	}
}

// RunStreaming behaves like Run but forwards output lines as they arrive
// when the runner supports streaming. A quota failure while streaming falls
// back to the blocking path with full retry and fallback handling. Other
// streaming failures are terminal.
func (e *Engine) RunStreaming(ctx context.Context, call Call, onLine fabric.LineFunc) Result {
	streamer, ok := e.runner.(fabric.Streamer)
	if !ok {
		return e.Run(ctx, call)
	}

	start := e.now()
	if err := e.Validate(call.Input); err != nil {
		return Result{Err: err, Model: e.catalog.Resolve(call.Model), Elapsed: e.now().Sub(start)}
	}

	model := e.catalog.Resolve(call.Model)
	out, err := streamer.Stream(ctx, fabric.Request{
		Pattern: call.Pattern,
		Model:   model,
		Input:   call.Input,
		Timeout: call.Timeout,
	}, onLine)
	if err == nil {
		return Result{Output: fabric.StripThinking(out), Attempts: 1, Model: model, Elapsed: e.now().Sub(start)}
	}

	last := asError(err)
	if last.Kind != apierr.KindRateLimit {
		last.Model = model
		if call.Chunk > 0 {
			last.Chunk = call.Chunk
		}
		return Result{Err: last, Attempts: 1, Model: model, Elapsed: e.now().Sub(start)}
	}

	e.log.WithFields(logrus.Fields{
		logging.FieldPattern: call.Pattern,
		logging.FieldChunk:   call.Chunk,
		logging.FieldModel:   displayModel(model),
	}).Warn("rate limit while streaming, retrying without streaming")

	res := e.run(ctx, call)
	res.Retries++
	res.Attempts++
	if res.Err != nil {
		var ae *apierr.Error
		if errors.As(res.Err, &ae) {
			ae.Retries = res.Retries
		}
	}
	res.Elapsed = e.now().Sub(start)
	return res
}

func (e *Engine) emit(ev Event) {
	if e.observe != nil {
		e.observe(ev)
	}
}

// asError converts any runner error into an *apierr.Error, classifying
// untyped errors by their text.
func asError(err error) *apierr.Error {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		cp := *ae
		return &cp
	}
	return &apierr.Error{Kind: apierr.KindOf(err), Msg: err.Error()}
}

func displayModel(model string) string {
	if model == "" {
		return "default"
	}
	return apierr.ShortModel(model)
}

// sleepCtx waits for d unless ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("interrupted during backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
