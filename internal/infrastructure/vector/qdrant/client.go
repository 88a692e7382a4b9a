package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vmelnikau/docqa/internal/core/domain"
	"github.com/vmelnikau/docqa/internal/core/ports"
)

const scrollPageSize = 256

// Client is the document index. Queries are embedded on the way in, so the
// retrieval core only ever deals in text.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	embedder   ports.Embedder
}

func New(baseURL, collection string, embedder ports.Embedder) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		embedder:   embedder,
	}
}

// SimilaritySearch embeds the query and returns the nearest document chunks,
// scoped to the requesting tenant when req.UserID is set.
func (c *Client) SimilaritySearch(ctx context.Context, req domain.RetrievalRequest) ([]domain.ScoredDocument, error) {
	queryVector, err := c.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	limit := req.K
	if limit <= 0 {
		limit = 10
	}

	reqBody := map[string]any{
		"query":        queryVector,
		"limit":        limit,
		"with_payload": true,
	}
	if req.ScoreThreshold != nil {
		reqBody["score_threshold"] = *req.ScoreThreshold
	}
	if filter := buildSearchFilter(req.UserID, req.Filter); filter != nil {
		reqBody["filter"] = filter
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/query", c.baseURL, c.collection)
	resp, err := c.do(ctx, http.MethodPost, url, body, "search")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	points, err := decodeQueryPoints(resp.Body)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ScoredDocument, 0, len(points))
	for _, p := range points {
		out = append(out, domain.ScoredDocument{
			Document: documentFromPayload(p.Payload),
			Score:    p.Score,
		})
	}
	return out, nil
}

// GetDocuments scrolls the full document set for one tenant. It backs the
// keyword index, which re-reads the corpus on tenant change.
func (c *Client) GetDocuments(ctx context.Context, userID string) ([]domain.Document, error) {
	var (
		out    []domain.Document
		offset any
	)
	for {
		reqBody := map[string]any{
			"limit":        scrollPageSize,
			"with_payload": true,
		}
		if filter := buildSearchFilter(userID, nil); filter != nil {
			reqBody["filter"] = filter
		}
		if offset != nil {
			reqBody["offset"] = offset
		}

		body, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal scroll body: %w", err)
		}

		url := fmt.Sprintf("%s/collections/%s/points/scroll", c.baseURL, c.collection)
		resp, err := c.do(ctx, http.MethodPost, url, body, "scroll")
		if err != nil {
			return nil, err
		}

		var scrollResp struct {
			Result struct {
				Points []struct {
					Payload map[string]any `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		err = json.NewDecoder(resp.Body).Decode(&scrollResp)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode scroll response: %w", err)
		}

		for _, p := range scrollResp.Result.Points {
			out = append(out, documentFromPayload(p.Payload))
		}
		if scrollResp.Result.NextPageOffset == nil || len(scrollResp.Result.Points) == 0 {
			return out, nil
		}
		offset = scrollResp.Result.NextPageOffset
	}
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, operation string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(raw)); msg != "" {
			return nil, fmt.Errorf("qdrant %s status: %s: %s", operation, resp.Status, msg)
		}
		return nil, fmt.Errorf("qdrant %s status: %s", operation, resp.Status)
	}
	return resp, nil
}

func buildSearchFilter(userID string, extra map[string]any) map[string]any {
	must := make([]map[string]any, 0, 1+len(extra))
	if strings.TrimSpace(userID) != "" {
		must = append(must, map[string]any{
			"key":   "user_id",
			"match": map[string]any{"value": userID},
		})
	}
	for key, value := range extra {
		must = append(must, map[string]any{
			"key":   key,
			"match": map[string]any{"value": value},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

type queryPoint struct {
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

func decodeQueryPoints(body io.Reader) ([]queryPoint, error) {
	var queryResp struct {
		Result struct {
			Points []queryPoint `json:"points"`
		} `json:"result"`
	}
	if err := json.NewDecoder(body).Decode(&queryResp); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	return queryResp.Result.Points, nil
}

func documentFromPayload(payload map[string]any) domain.Document {
	content := getStringPayload(payload, "content")
	metadata := make(map[string]any, len(payload))
	for key, value := range payload {
		if key == "content" {
			continue
		}
		metadata[key] = value
	}
	return domain.Document{Content: content, Metadata: metadata}
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
