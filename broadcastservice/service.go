// --- File: broadcastservice/service.go ---
package broadcastservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-broadcast-service/broadcastservice/config"
	"github.com/tinywideclouds/go-broadcast-service/internal/api"
	"github.com/tinywideclouds/go-broadcast-service/internal/pipeline"
	"github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[broadcast.Event]
	triggerAPI      *api.TriggerAPI
	logger          *slog.Logger
}

// New assembles the service: a Pub/Sub trigger pipeline and an HTTP trigger,
// both feeding the same runner.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	runner broadcast.Runner,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Processor
	processor := pipeline.NewProcessor(runner, logger.With("component", "Processor"))

	// 3. Pipeline
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.EventTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. API (HTTP Trigger)
	triggerAPI := api.NewTriggerAPI(runner, logger.With("component", "TriggerAPI"))

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	mux.Handle("POST /api/v1/notifications", corsMiddleware(authMiddleware(http.HandlerFunc(triggerAPI.CreateNotification))))

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		triggerAPI:      triggerAPI,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

// Shutdown stops intake first, then waits for HTTP-triggered runs still in flight.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}

	done := make(chan struct{})
	go func() {
		w.triggerAPI.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("Broadcast runs still in flight at shutdown deadline.")
		if finalErr == nil {
			finalErr = ctx.Err()
		}
	}

	w.logger.Info("Service shutdown complete.")
	return finalErr
}
