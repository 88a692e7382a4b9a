package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vmelnikau/docqa/internal/core/domain"
)

// SummaryClient indexes conversation summaries in their own collection so
// long-term memory search never mixes with document retrieval.
type SummaryClient struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func NewSummaryClient(baseURL, collection string) *SummaryClient {
	return &SummaryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *SummaryClient) IndexSummary(ctx context.Context, summary domain.ConversationSummary, vector []float32) error {
	if len(vector) == 0 {
		return nil
	}
	if err := c.ensureCollection(ctx, len(vector)); err != nil {
		return err
	}

	body, err := json.Marshal(map[string]any{
		"points": []map[string]any{
			{
				"id":     summary.ID,
				"vector": vector,
				"payload": map[string]any{
					"user_id":         summary.UserID,
					"conversation_id": summary.ConversationID,
					"summary_id":      summary.ID,
					"turn_from":       summary.TurnFrom,
					"turn_to":         summary.TurnTo,
					"text":            summary.Summary,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal summary upsert body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create summary upsert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("summary upsert request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("summary upsert status: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	return nil
}

func (c *SummaryClient) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	body, err := json.Marshal(map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	})
	if err != nil {
		return fmt.Errorf("marshal summary ensure collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create summary ensure collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("summary ensure collection request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusConflict {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("summary ensure collection status: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	c.ensureMu.Lock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	c.ensureMu.Unlock()
	return nil
}
