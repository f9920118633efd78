package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/paperpilot/internal/api"
	"github.com/timmy/paperpilot/internal/api/handler"
	"github.com/timmy/paperpilot/internal/bootstrap"
	"github.com/timmy/paperpilot/internal/config"
	"github.com/timmy/paperpilot/internal/logger"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	appLogger := bootstrap.NewLogger(cfg, "paperpilot-api")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer app.Close()

	// Jobs submitted through the admin API run in this process.
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := app.Queue.Consume(ctx, app.Runner, nil); err != nil {
			appLogger.WithError(err).Error("Job consumer stopped")
		}
	}()

	admin := handler.AdminDeps{
		Stats:    app.Ingest,
		Searches: app.Events,
		Queue:    app.Queue,
		Runs:     app.JobRuns,
	}
	if app.Reranker != nil {
		admin.RerankerState = app.Reranker.State
	}
	router := api.SetupRouter(api.Handlers{
		Health:         handler.NewHealthHandler(app.Ping),
		Search:         handler.NewSearchHandler(app.Search),
		Papers:         handler.NewPaperHandler(app.Ingest),
		Recommendation: handler.NewRecommendationHandler(app.Personalization),
		Trends:         handler.NewTrendHandler(app.Trends),
		Admin:          handler.NewAdminHandler(admin),
	}, appLogger, cfg.Server.Mode)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port":           cfg.Server.Port,
			"mode":           cfg.Server.Mode,
			"vector_backend": cfg.Vector.Backend,
			"sources":        app.Registry.Names(),
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
	}

	appLogger.Info("Server exited")
}
