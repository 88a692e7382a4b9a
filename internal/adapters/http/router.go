package httpadapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vmelnikau/docqa/internal/core/domain"
	"github.com/vmelnikau/docqa/internal/core/ports"
	"github.com/vmelnikau/docqa/internal/observability/metrics"
)

const maxRequestBodyBytes = 1 << 20

// Config carries the traffic-control knobs for the public API surface.
type Config struct {
	ServiceName      string
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxInFlight      int
	BackpressureWait time.Duration
}

// Router exposes the chat and retrieval services over HTTP.
type Router struct {
	chat      ports.ChatService
	retriever ports.DocumentRetriever
	metrics   *metrics.HTTPServerMetrics
	cfg       Config
	logger    *slog.Logger
}

func NewRouter(
	chat ports.ChatService,
	retriever ports.DocumentRetriever,
	m *metrics.HTTPServerMetrics,
	cfg Config,
	logger *slog.Logger,
) *Router {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "docqa-api"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		chat:      chat,
		retriever: retriever,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", rt.handleHealth)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}
	mux.HandleFunc("/v1/chat", rt.handleChat)
	mux.HandleFunc("/v1/chat/stream", rt.handleChatStream)
	mux.HandleFunc("/v1/retrieve", rt.handleRetrieve)
	mux.HandleFunc("/v1/retrieve/strategies", rt.handleStrategies)

	var handler http.Handler = mux
	handler = identityMiddleware(handler)
	handler = backpressureMiddleware(handler, rt.cfg.MaxInFlight, rt.cfg.BackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.cfg.ServiceName, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Question       string `json:"question"`
}

func (rt *Router) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req chatRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	result, err := rt.chat.Ask(r.Context(), req.ConversationID, req.Question)
	if err != nil {
		rt.logger.Error("chat turn failed",
			"request_id", requestIDFromContext(r.Context()),
			"conversation_id", req.ConversationID,
			"error", err,
		)
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordChatTurn(rt.cfg.ServiceName, "chat", result.Route, time.Since(start))
		rt.metrics.RecordVerdict(rt.cfg.ServiceName, result.Verdict.Grounded, result.Verdict.AnswersQuestion)
	}

	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req chatRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	chunks, err := rt.chat.AskStream(r.Context(), req.ConversationID, req.Question)
	if err != nil {
		rt.logger.Error("chat stream failed",
			"request_id", requestIDFromContext(r.Context()),
			"conversation_id", req.ConversationID,
			"error", err,
		)
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emitted := 0
	for chunk := range chunks {
		if err := writeSSEEvent(w, chunk); err != nil {
			rt.logger.Warn("stream client gone",
				"request_id", requestIDFromContext(r.Context()),
				"conversation_id", req.ConversationID,
				"error", err,
			)
			return
		}
		flusher.Flush()
		emitted++
	}

	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()

	if rt.metrics != nil {
		rt.metrics.RecordChatTurn(rt.cfg.ServiceName, "chat_stream", "", time.Since(start))
		rt.metrics.RecordStreamChunks(rt.cfg.ServiceName, emitted)
	}
}

func writeSSEEvent(w http.ResponseWriter, chunk domain.StreamChunk) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal stream chunk: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write stream chunk: %w", err)
	}
	return nil
}

type retrieveRequest struct {
	Query          string         `json:"query"`
	Method         string         `json:"method"`
	K              int            `json:"k"`
	ScoreThreshold *float64       `json:"score_threshold,omitempty"`
	Filter         map[string]any `json:"filter,omitempty"`
}

type retrieveResponse struct {
	Method    string                  `json:"method"`
	Documents []domain.ScoredDocument `json:"documents"`
}

func (rt *Router) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req retrieveRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	docs, err := rt.retriever.Retrieve(r.Context(), req.Query, req.Method, domain.RetrievalRequest{
		Query:          req.Query,
		K:              req.K,
		ScoreThreshold: req.ScoreThreshold,
		Filter:         req.Filter,
	})
	if err != nil {
		rt.logger.Error("retrieval failed",
			"request_id", requestIDFromContext(r.Context()),
			"method", req.Method,
			"error", err,
		)
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordRetrieval(rt.cfg.ServiceName, req.Method, len(docs))
	}
	if docs == nil {
		docs = []domain.ScoredDocument{}
	}

	writeJSON(w, http.StatusOK, retrieveResponse{
		Method:    req.Method,
		Documents: docs,
	})
}

type strategiesResponse struct {
	Strategies []domain.StrategyInfo `json:"strategies"`
}

func (rt *Router) handleStrategies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, strategiesResponse{Strategies: rt.retriever.ListStrategies()})
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
