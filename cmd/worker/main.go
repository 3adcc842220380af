package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kirillkom/legal-doc-analyzer/internal/bootstrap"
	"github.com/kirillkom/legal-doc-analyzer/internal/config"
	"github.com/kirillkom/legal-doc-analyzer/internal/core/domain"
	"github.com/kirillkom/legal-doc-analyzer/internal/observability/logging"
	"github.com/kirillkom/legal-doc-analyzer/internal/observability/metrics"
)

const serviceName = "worker"

// runObserver feeds run progress into the worker's prometheus registry.
type runObserver struct {
	metrics *metrics.WorkerMetrics
}

func (o *runObserver) ObserveStage(stage domain.RunStage, duration time.Duration) {
	o.metrics.ObserveStage(serviceName, string(stage), duration)
}

func (o *runObserver) RecordRetry() {
	o.metrics.RecordRetry(serviceName)
}

func main() {
	cfg := config.Load()
	logging.Setup(serviceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app.AnalyzeUC.SetObserver(&runObserver{metrics: workerMetrics})
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		log.Printf("worker metrics listening on :%s", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("worker metrics server error: %v", err)
		}
	}()

	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	slots := make(chan struct{}, concurrency)
	var inFlight sync.WaitGroup

	log.Printf("worker subscribed to %s with concurrency %d", cfg.NATSSubject, concurrency)
	err = app.Queue.SubscribeAnalysisRequested(ctx, func(handlerCtx context.Context, documentID, runID string) error {
		select {
		case slots <- struct{}{}:
		case <-handlerCtx.Done():
			return handlerCtx.Err()
		}

		inFlight.Add(1)
		go func() {
			defer inFlight.Done()
			defer func() { <-slots }()

			// Runs outlive the subscription callback; the shared parent
			// context still cancels them on shutdown.
			processCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
			defer cancel()

			if run, err := app.Runs.GetRun(processCtx, runID); err == nil {
				workerMetrics.ObserveQueueLag(serviceName, time.Since(run.StartedAt))
			}

			workerMetrics.StartRun()
			start := time.Now()
			runErr := app.AnalyzeUC.Run(processCtx, documentID, runID)
			workerMetrics.FinishRun(serviceName, time.Since(start), runErr)
			if runErr != nil {
				log.Printf("analysis run failed doc=%s run=%s: %v", documentID, runID, runErr)
			}
		}()
		return nil
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}

	inFlight.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("worker metrics shutdown error: %v", err)
	}
}
