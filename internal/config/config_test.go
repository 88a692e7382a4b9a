package config

import "testing"

func TestLoadIncludesRetrievalDefaults(t *testing.T) {
	t.Setenv("RETRIEVAL_DEFAULT_METHOD", "")
	t.Setenv("RETRIEVAL_TOP_N", "")
	t.Setenv("RETRIEVAL_K", "")
	t.Setenv("RETRIEVAL_SCORE_THRESHOLD", "")
	t.Setenv("RETRIEVAL_ENSEMBLE_WEIGHTS", "")
	t.Setenv("RETRIEVAL_RRF_K", "")

	cfg := Load()
	if cfg.RetrievalDefaultMethod != "default" {
		t.Fatalf("expected default method, got %q", cfg.RetrievalDefaultMethod)
	}
	if cfg.RetrievalTopN != 20 {
		t.Fatalf("expected default top n 20, got %d", cfg.RetrievalTopN)
	}
	if cfg.RetrievalK != 5 {
		t.Fatalf("expected default k 5, got %d", cfg.RetrievalK)
	}
	if cfg.RetrievalScoreThreshold != 0.5 {
		t.Fatalf("expected default score threshold 0.5, got %v", cfg.RetrievalScoreThreshold)
	}
	if len(cfg.RetrievalEnsembleWeights) != 2 || cfg.RetrievalEnsembleWeights[0] != 0.5 {
		t.Fatalf("expected default ensemble weights 0.5,0.5, got %v", cfg.RetrievalEnsembleWeights)
	}
	if cfg.RetrievalRRFK != 60 {
		t.Fatalf("expected default rrf k 60, got %d", cfg.RetrievalRRFK)
	}
}

func TestLoadParsesRetrievalOverrides(t *testing.T) {
	t.Setenv("RETRIEVAL_DEFAULT_METHOD", "ensemble")
	t.Setenv("RETRIEVAL_K", "8")
	t.Setenv("RETRIEVAL_SCORE_THRESHOLD", "0.65")
	t.Setenv("RETRIEVAL_ENSEMBLE_WEIGHTS", "0.7, 0.3")
	t.Setenv("RETRIEVAL_RRF_K", "75")

	cfg := Load()
	if cfg.RetrievalDefaultMethod != "ensemble" {
		t.Fatalf("expected method override, got %q", cfg.RetrievalDefaultMethod)
	}
	if cfg.RetrievalK != 8 {
		t.Fatalf("expected k 8, got %d", cfg.RetrievalK)
	}
	if cfg.RetrievalScoreThreshold != 0.65 {
		t.Fatalf("expected score threshold 0.65, got %v", cfg.RetrievalScoreThreshold)
	}
	if len(cfg.RetrievalEnsembleWeights) != 2 || cfg.RetrievalEnsembleWeights[0] != 0.7 || cfg.RetrievalEnsembleWeights[1] != 0.3 {
		t.Fatalf("expected ensemble weights 0.7,0.3, got %v", cfg.RetrievalEnsembleWeights)
	}
	if cfg.RetrievalRRFK != 75 {
		t.Fatalf("expected rrf k 75, got %d", cfg.RetrievalRRFK)
	}
}

func TestLoadFallsBackOnMalformedWeights(t *testing.T) {
	t.Setenv("RETRIEVAL_ENSEMBLE_WEIGHTS", "0.7,oops")

	cfg := Load()
	if len(cfg.RetrievalEnsembleWeights) != 2 || cfg.RetrievalEnsembleWeights[0] != 0.5 {
		t.Fatalf("expected fallback weights on malformed value, got %v", cfg.RetrievalEnsembleWeights)
	}
}
