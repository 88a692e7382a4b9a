package retrieval

import (
	"log/slog"

	"github.com/vmelnikau/docqa/internal/core/ports"
)

// Config carries the strategy defaults resolved from external configuration.
type Config struct {
	DefaultTopN        int
	K                  int
	ScoreThreshold     float64
	PrioritizeSemantic bool
	EnsembleWeights    []float64
	RRFK               int
}

func (c Config) normalize() Config {
	out := c
	if out.DefaultTopN <= 0 {
		out.DefaultTopN = defaultTopN
	}
	if out.K <= 0 {
		out.K = 5
	}
	if out.ScoreThreshold <= 0 {
		out.ScoreThreshold = 0.5
	}
	if len(out.EnsembleWeights) == 0 {
		out.EnsembleWeights = []float64{0.5, 0.5}
	}
	if out.RRFK <= 0 {
		out.RRFK = defaultRRFK
	}
	return out
}

// Factory maps a strategy name to a configured strategy instance.
type Factory struct {
	store  ports.VectorStore
	corpus ports.CorpusReader
	cfg    Config
	logger *slog.Logger

	keyword *KeywordStrategy
}

func NewFactory(store ports.VectorStore, corpus ports.CorpusReader, cfg Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalize()
	return &Factory{
		store:  store,
		corpus: corpus,
		cfg:    cfg,
		logger: logger,
		// The keyword index is expensive to build, so one instance is
		// shared across calls; it revalidates its cached tenant itself.
		keyword: NewKeywordStrategy(corpus, cfg.K),
	}
}

// Get resolves a strategy name to an instance. Unrecognized names fall back
// to Default with a logged warning, never an error, so misconfiguration
// degrades gracefully instead of blocking a user turn.
func (f *Factory) Get(name string) Strategy {
	method, ok := ParseMethod(name)
	if !ok {
		f.logger.Warn("unknown retrieval strategy, falling back to default", "requested", name)
	}
	return f.build(method)
}

func (f *Factory) build(method Method) Strategy {
	switch method {
	case MethodSemantic:
		return NewSemanticStrategy(f.store, f.cfg.K, f.cfg.ScoreThreshold)
	case MethodKeyword:
		return f.keyword
	case MethodHybrid:
		return NewHybridStrategy(
			NewSemanticStrategy(f.store, f.cfg.K, f.cfg.ScoreThreshold),
			NewDefaultStrategy(f.store, f.cfg.DefaultTopN),
			f.cfg.K,
			f.cfg.PrioritizeSemantic,
		)
	case MethodEnsemble:
		ensemble, err := NewEnsembleStrategy(
			[]Strategy{
				NewDefaultStrategy(f.store, f.cfg.DefaultTopN),
				NewSemanticStrategy(f.store, f.cfg.K, f.cfg.ScoreThreshold),
			},
			f.cfg.EnsembleWeights,
			f.cfg.K,
			f.cfg.RRFK,
		)
		if err != nil {
			f.logger.Warn("ensemble construction failed, falling back to default", "error", err)
			return NewDefaultStrategy(f.store, f.cfg.DefaultTopN)
		}
		return ensemble
	default:
		return NewDefaultStrategy(f.store, f.cfg.DefaultTopN)
	}
}
