package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vmelnikau/docqa/internal/core/domain"
	"github.com/vmelnikau/docqa/internal/core/ports"
	"github.com/vmelnikau/docqa/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	exec       *resilience.Executor
}

func New(baseURL, genModel, embedModel string, exec *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		exec:       exec,
	}
}

// Generator produces answer text, whole or fragment by fragment.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.client.generateText(ctx, prompt)
}

// GenerateStream starts a streaming generation. Fragments arrive on the
// returned channel in model order; the channel closes when the model reports
// done or the request fails. Streams are not retried once started.
func (g *Generator) GenerateStream(ctx context.Context, prompt string) (<-chan ports.Fragment, error) {
	reqBody := map[string]any{
		"model":  g.client.genModel,
		"prompt": prompt,
		"stream": true,
	}

	body, err := g.client.postStream(ctx, "/api/generate", reqBody, "generate_stream")
	if err != nil {
		return nil, wrapTemporaryIfNeeded("generate_stream", err)
	}

	out := make(chan ports.Fragment)
	go func() {
		defer close(out)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var piece struct {
				Response string `json:"response"`
				Done     bool   `json:"done"`
			}
			if err := json.Unmarshal([]byte(line), &piece); err != nil {
				sendFragment(ctx, out, ports.Fragment{Err: fmt.Errorf("decode stream line: %w", err)})
				return
			}
			if piece.Response != "" {
				if !sendFragment(ctx, out, ports.Fragment{Text: piece.Response}) {
					return
				}
			}
			if piece.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			sendFragment(ctx, out, ports.Fragment{Err: fmt.Errorf("read stream: %w", err)})
		}
	}()
	return out, nil
}

func sendFragment(ctx context.Context, out chan<- ports.Fragment, fragment ports.Fragment) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- fragment:
		return true
	}
}

// Classifier answers single-shot judgment calls in JSON mode.
type Classifier struct {
	client *Client
}

func NewClassifier(client *Client) *Classifier {
	return &Classifier{client: client}
}

func (c *Classifier) ClassifyRoute(ctx context.Context, question string, summaries []string) (string, error) {
	raw, err := c.client.generateJSON(ctx, buildRoutePrompt(question, summaries))
	if err != nil {
		return "", err
	}

	var result struct {
		Route string `json:"route"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &result); err != nil {
		return "", fmt.Errorf("parse route json: %w", err)
	}
	return strings.ToLower(strings.TrimSpace(result.Route)), nil
}

func (c *Classifier) ClassifyBinary(ctx context.Context, prompt string) (bool, error) {
	raw, err := c.client.generateJSON(ctx, buildBinaryPrompt(prompt))
	if err != nil {
		return false, err
	}

	var result struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &result); err != nil {
		return false, fmt.Errorf("parse binary json: %w", err)
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(result.Answer)), "y"), nil
}

// Compressor asks the model which passages are worth keeping as generation
// context and maps the selection back to the input documents.
type Compressor struct {
	client *Client
}

func NewCompressor(client *Client) *Compressor {
	return &Compressor{client: client}
}

func (c *Compressor) Compress(ctx context.Context, query string, documents []domain.Document, numPassages int) ([]domain.Document, error) {
	if len(documents) == 0 {
		return []domain.Document{}, nil
	}
	if numPassages <= 0 || numPassages > len(documents) {
		numPassages = len(documents)
	}

	raw, err := c.client.generateJSON(ctx, buildCompressPrompt(query, documents, numPassages))
	if err != nil {
		return nil, err
	}

	var result struct {
		Selected []int `json:"selected"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &result); err != nil {
		return nil, fmt.Errorf("parse compression json: %w", err)
	}

	out := make([]domain.Document, 0, numPassages)
	seen := make(map[int]struct{}, len(result.Selected))
	for _, idx := range result.Selected {
		if idx < 1 || idx > len(documents) {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, documents[idx-1])
		if len(out) == numPassages {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("compression selected no valid passages")
	}
	return out, nil
}

// Embedder builds dense vectors for summary indexing.
type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.postResilient(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, err
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	}
	return c.generate(ctx, reqBody)
}

func (c *Client) generateText(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
	}
	return c.generate(ctx, reqBody)
}

func (c *Client) generate(ctx context.Context, reqBody map[string]any) (string, error) {
	var response struct {
		Response string `json:"response"`
	}
	if err := c.postResilient(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

// postResilient runs a request under retry and circuit-breaker policy when an
// executor is configured.
func (c *Client) postResilient(ctx context.Context, path string, payload, out any, operation string) error {
	if c.exec == nil {
		return wrapTemporaryIfNeeded(operation, c.postJSON(ctx, path, payload, out, operation))
	}
	err := c.exec.Execute(ctx, "ollama_"+operation, func(ctx context.Context) error {
		return c.postJSON(ctx, path, payload, out, operation)
	}, classifyOllamaError)
	return wrapTemporaryIfNeeded(operation, err)
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
