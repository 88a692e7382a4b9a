package domain

// Document is an immutable retrieved passage. Metadata always carries at
// least "source"; ranking steps may attach transient fields such as the
// relevance grade.
type Document struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Source returns the origin locator recorded at ingestion time, if any.
func (d Document) Source() string {
	if d.Metadata == nil {
		return ""
	}
	if s, ok := d.Metadata["source"].(string); ok {
		return s
	}
	return ""
}

// WithMetadata returns a copy of the document with one metadata field set.
// The receiver's metadata map is never mutated.
func (d Document) WithMetadata(key string, value any) Document {
	meta := make(map[string]any, len(d.Metadata)+1)
	for k, v := range d.Metadata {
		meta[k] = v
	}
	meta[key] = value
	d.Metadata = meta
	return d
}

// ScoredDocument pairs a document with its similarity or fused rank score.
// Created by a strategy at query time and discarded at end of turn.
type ScoredDocument struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// RetrievalRequest carries the parameters of one retrieval call. UserID must
// be present in a multi-tenant deployment; its absence is a logged security
// warning rather than a hard failure.
type RetrievalRequest struct {
	Query          string
	K              int
	ScoreThreshold *float64
	Filter         map[string]any
	UserID         string
}

// StrategyInfo describes one retrieval strategy for the listing endpoint.
type StrategyInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
