package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/alnah/go-fabric-analyze/internal/apierr"
	"github.com/alnah/go-fabric-analyze/internal/chunk"
	"github.com/alnah/go-fabric-analyze/internal/config"
	"github.com/alnah/go-fabric-analyze/internal/metadata"
	"github.com/alnah/go-fabric-analyze/internal/orchestrate"
	"github.com/alnah/go-fabric-analyze/internal/pattern"
	"github.com/alnah/go-fabric-analyze/internal/resilience"
	"github.com/alnah/go-fabric-analyze/internal/tokens"
)

// pipeline holds the components of one run, built from configuration.
type pipeline struct {
	cfg       *config.Config
	catalog   *resilience.Catalog
	assembler *chunk.Assembler
	engine    *resilience.Engine
	extractor *metadata.Extractor
}

// newEstimator builds the configured token estimator.
func newEstimator(cfg config.Chunk) (tokens.Estimator, error) {
	var counter tokens.Counter = tokens.Words{}
	if cfg.Estimator == config.EstimatorTiktoken {
		tk, err := tokens.NewTiktoken(cfg.Encoding)
		if err != nil {
			return tokens.Estimator{}, err
		}
		counter = tk
	}
	return tokens.New(counter, cfg.Overhead), nil
}

// newAssembler builds the chunk assembler from configuration.
func newAssembler(cfg config.Chunk) (*chunk.Assembler, error) {
	est, err := newEstimator(cfg)
	if err != nil {
		return nil, err
	}
	return chunk.NewAssembler(
		chunk.WithEstimator(est),
		chunk.WithMaxTokens(cfg.MaxTokens),
		chunk.WithOverlapTokens(cfg.OverlapTokens),
		chunk.WithSegmenter(chunk.Segmenter{
			Threshold:     cfg.PunctuationThreshold,
			WordsPerGroup: cfg.WordsPerGroup,
		}),
		chunk.WithBalancing(cfg.Balanced),
	), nil
}

// buildPipeline checks the backend setup and wires the run components.
func buildPipeline(env *Env, cfg *config.Config, log logrus.FieldLogger) (*pipeline, error) {
	var apiKey string
	switch cfg.Fabric.Backend {
	case config.BackendOpenAI:
		apiKey = env.Getenv(cfg.Fabric.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("%w: %s (set it with: export %s=...)", ErrAPIKeyMissing, cfg.Fabric.APIKeyEnv, cfg.Fabric.APIKeyEnv)
		}
	default:
		if _, err := env.LookPath(cfg.Fabric.Command); err != nil {
			return nil, fmt.Errorf("%w: %s (install fabric or set fabric.command)", ErrFabricNotFound, cfg.Fabric.Command)
		}
	}

	est, err := newEstimator(cfg.Chunk)
	if err != nil {
		return nil, err
	}
	assembler, err := newAssembler(cfg.Chunk)
	if err != nil {
		return nil, err
	}

	catalog := resilience.DefaultCatalog()
	prompts := pattern.NewLoader(config.ExpandPath(cfg.Fabric.PatternsDir))
	runner := env.RunnerFactory.NewRunner(cfg.Fabric, apiKey, prompts)

	engineOpts := []resilience.Option{
		resilience.WithEstimator(est),
		resilience.WithMaxRequestTokens(cfg.Chunk.MaxRequestTokens),
		resilience.WithRetry(apierr.RetryConfig{
			MaxRetries:      cfg.Retry.MaxRetries,
			BaseDelay:       cfg.Retry.BaseDelay,
			MaxDelay:        cfg.Retry.MaxDelay,
			ExponentialBase: cfg.Retry.ExponentialBase,
		}),
		resilience.WithCatalog(catalog),
		resilience.WithLogger(log),
	}
	if env.Sleep != nil {
		engineOpts = append(engineOpts, resilience.WithSleep(env.Sleep))
	}
	engine := resilience.New(runner, engineOpts...)

	phase1Model, phase1Fallbacks := phase1Models(cfg, catalog)
	extractor := metadata.NewExtractor(engine,
		metadata.WithPatterns(metadata.Patterns{
			Summary: cfg.Patterns.Summary,
			Theme:   cfg.Patterns.Theme,
			Topics:  cfg.Patterns.Topics,
		}),
		metadata.WithModel(phase1Model),
		metadata.WithFallbacks(phase1Fallbacks...),
		metadata.WithTimeout(cfg.Phase1.Timeout),
		metadata.WithSampling(cfg.Phase1.MaxWords, cfg.Phase1.HeadWords, cfg.Phase1.TailWords),
		metadata.WithLogger(log),
	)

	return &pipeline{
		cfg:       cfg,
		catalog:   catalog,
		assembler: assembler,
		engine:    engine,
		extractor: extractor,
	}, nil
}

// phase1Models returns the preferred metadata model (phase1.model, else
// fabric.model, else the tool default) and models.phase1 ordered by
// throughput. The HTTP backend needs a concrete model, so it starts on the
// first fallback when nothing is set.
func phase1Models(cfg *config.Config, catalog *resilience.Catalog) (string, []string) {
	fallbacks := catalog.Chain(cfg.Models.Phase1...)
	model := cfg.Phase1.Model
	if model == "" {
		model = cfg.Fabric.Model
	}
	if model == "" && cfg.Fabric.Backend == config.BackendOpenAI && len(fallbacks) > 0 {
		model = fallbacks[0]
	}
	return model, fallbacks
}

// orchestratorConfig derives the pattern-stage settings. The preferred
// model is fabric.model (the tool default when empty, except for the HTTP
// backend which needs a concrete model); fallbacks follow models.phase2
// ordered by throughput.
func (p *pipeline) orchestratorConfig() orchestrate.Config {
	cfg := p.cfg
	fallbacks := p.catalog.Chain(cfg.Models.Phase2...)
	model := cfg.Fabric.Model
	if model == "" && cfg.Fabric.Backend == config.BackendOpenAI && len(fallbacks) > 0 {
		model = fallbacks[0]
	}
	return orchestrate.Config{
		Patterns:       cfg.Patterns.Default,
		JoinPattern:    cfg.Patterns.Join,
		Model:          model,
		Fallbacks:      fallbacks,
		Timeout:        cfg.Fabric.Timeout,
		Stream:         cfg.Fabric.Stream,
		ShortDelay:     cfg.Delay.Short,
		LongDelay:      cfg.Delay.Long,
		DelayThreshold: cfg.Delay.Threshold,
	}
}

// scheduler returns Sequential unless patterns.parallel asks for more.
func (p *pipeline) scheduler() orchestrate.Scheduler {
	if p.cfg.Patterns.Parallel > 1 {
		return orchestrate.Concurrent{Limit: p.cfg.Patterns.Parallel}
	}
	return orchestrate.Sequential{}
}
