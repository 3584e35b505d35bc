package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	http_api "publish-engine/internal/api/http"
	"publish-engine/internal/config"
	"publish-engine/internal/dispatcher"
	"publish-engine/internal/domain"
	"publish-engine/internal/execution"
	"publish-engine/internal/infra/channels"
	"publish-engine/internal/infra/etcd"
	"publish-engine/internal/infra/signals"
	"publish-engine/internal/metrics"
	"publish-engine/internal/preflight"
	"publish-engine/internal/rollback"
	"publish-engine/internal/tracing"
	"publish-engine/internal/usecase"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// corsMiddleware wraps an http.Handler with CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	// 1. Initialize logger and tracer
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	tracerShutdown, err := tracing.InitTracer("publish-engine")
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	log.Println("Starting publish engine...")

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 3. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Setup graceful shutdown
	setupGracefulShutdown(cancel)

	// 5. Init etcd client
	etcdClient, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
	if err != nil {
		log.Fatalf("Failed to create etcd client: %v", err)
	}
	defer etcdClient.Close()
	log.Println("Connected to etcd.")

	// 6. Instantiate repositories and collaborators
	jobRepo := etcd.NewJobRepository(etcdClient, logger)
	preflightRepo := etcd.NewPreflightRepository(etcdClient, logger)
	execRepo := etcd.NewExecutionRepository(etcdClient, logger)
	rollbackRepo := etcd.NewRollbackRepository(etcdClient, logger)
	auditRepo := etcd.NewAuditRepository(etcdClient, logger)
	claimer := etcd.NewClaimer(etcdClient)

	registry := domain.NewCapabilityRegistry()

	adapters, err := channels.BuildAdapters(cfg.ChannelBaseURLs, cfg.AdapterTimeout, logger)
	if err != nil {
		log.Fatalf("Failed to build channel adapters: %v", err)
	}
	signalProvider := signals.NewHTTPProvider(cfg.SignalProviderURL, cfg.SignalTimeout, logger)

	// 7. Instantiate engines and service
	checker := preflight.NewEngine(registry, logger)
	executor := execution.NewEngine(registry, adapters, execRepo, auditRepo, logger)
	reverser := rollback.NewEngine(registry, adapters, execRepo, rollbackRepo, auditRepo, logger)

	publishService := usecase.NewPublishService(
		jobRepo, preflightRepo, execRepo, rollbackRepo, auditRepo,
		signalProvider, checker, executor, reverser, logger,
	)

	// 8. Start the background dispatcher
	disp, err := dispatcher.New(publishService, jobRepo, execRepo, claimer, cfg.DispatchInterval, logger)
	if err != nil {
		log.Fatalf("Failed to create dispatcher: %v", err)
	}
	go func() {
		if err := disp.Start(rootCtx); err != nil && err != context.Canceled {
			log.Fatalf("Dispatcher stopped with error: %v", err)
		}
	}()

	// 9. Register routes and metrics endpoint
	metrics.Register()
	publishHandler := http_api.NewPublishHandler(publishService, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	publishHandler.RegisterRoutes(mux)

	// 10. Start HTTP API server with CORS middleware
	log.Printf("Starting HTTP API server on %s", cfg.HttpListenAddr)
	server := &http.Server{
		Addr:    cfg.HttpListenAddr,
		Handler: corsMiddleware(mux),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// 11. Block until shutdown
	<-rootCtx.Done()
	log.Println("Shutting down application gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("HTTP server shutdown failed: %v", err)
	}

	log.Println("Application shut down.")
}

func setupGracefulShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v. Initiating graceful shutdown...", sig)
		cancel()
	}()
}
