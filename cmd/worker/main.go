package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vmelnikau/docqa/internal/bootstrap"
	"github.com/vmelnikau/docqa/internal/config"
	"github.com/vmelnikau/docqa/internal/observability/logging"
	"github.com/vmelnikau/docqa/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("docqa-worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("docqa-worker")
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		logger.Info("worker metrics listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("worker metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeTurnCompleted(ctx, func(handlerCtx context.Context, userID, conversationID string, userTurn int) error {
		workerMetrics.StartTurnEvent()
		start := time.Now()

		summarizeCtx, cancel := context.WithTimeout(handlerCtx, 5*time.Minute)
		defer cancel()

		created, err := app.SummaryUC.SummarizeIfDue(summarizeCtx, userID, conversationID, userTurn)
		workerMetrics.FinishTurnEvent("docqa-worker", time.Since(start), err)
		if created {
			workerMetrics.RecordSummaryCreated("docqa-worker")
		}
		return err
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
