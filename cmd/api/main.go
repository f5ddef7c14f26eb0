// Package main is the entry point for the automation engine API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/resolvely-ai/automation-engine/internal/action"
	"github.com/resolvely-ai/automation-engine/internal/audit"
	"github.com/resolvely-ai/automation-engine/internal/collab"
	"github.com/resolvely-ai/automation-engine/internal/config"
	"github.com/resolvely-ai/automation-engine/internal/engine"
	"github.com/resolvely-ai/automation-engine/internal/extract"
	"github.com/resolvely-ai/automation-engine/internal/handler"
	"github.com/resolvely-ai/automation-engine/internal/llm"
	"github.com/resolvely-ai/automation-engine/internal/middleware"
	natsclient "github.com/resolvely-ai/automation-engine/internal/nats"
	"github.com/resolvely-ai/automation-engine/internal/notify"
	"github.com/resolvely-ai/automation-engine/internal/policy"
	"github.com/resolvely-ai/automation-engine/internal/quota"
	"github.com/resolvely-ai/automation-engine/internal/store"
	"github.com/resolvely-ai/automation-engine/pkg/logger"
	"github.com/resolvely-ai/automation-engine/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting automation engine")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "automation-engine", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	// Ensure the audit stream exists
	trail := audit.NewStream(natsClient, log)
	if err := trail.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure audit stream", zap.Error(err))
		os.Exit(1)
	}

	// Initialize LLM client for the classifier fallback
	var llmClient llm.Client
	if cfg.AnthropicAPIKey != "" {
		llmClient, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey)
		if err != nil {
			log.Warn("failed to create Anthropic client, classifier fallback disabled", zap.Error(err))
		}
	} else if cfg.OpenAIAPIKey != "" {
		llmClient, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
		if err != nil {
			log.Warn("failed to create OpenAI client, classifier fallback disabled", zap.Error(err))
		}
	}

	// Integration gateway: orders, outbound email, refunds, subscriptions
	gateway := collab.NewHTTPClient(cfg.GatewayURL, cfg.GatewayToken, cfg.GatewayTimeout)

	// Core components
	memory := store.NewMemory()
	dispatcher := notify.NewDispatcher(gateway, log)

	unlimited := make(map[string]bool, len(cfg.UnlimitedServices))
	for _, svc := range cfg.UnlimitedServices {
		unlimited[svc] = true
	}
	limits := func(tenantID, service string) quota.Limits {
		return quota.Limits{
			Daily:     cfg.DailyActionLimit,
			Monthly:   cfg.MonthlyActionLimit,
			Unlimited: unlimited[service],
		}
	}
	contact := func(tenantID string) string {
		return cfg.UsageAlertsEmail
	}
	tracker := quota.NewTracker(memory, limits, dispatcher, trail, contact, log)

	extractor := extract.New(llmClient, cfg.ConfidenceThreshold, cfg.ClassifierTimeout, log)
	executor := action.NewExecutor(gateway, gateway, cfg.ActionTimeout, log)

	policies := func(tenantID string) policy.TenantPolicy {
		return policy.TenantPolicy{
			AutoApprovalWindow: time.Duration(cfg.AutoApprovalWindowDays) * 24 * time.Hour,
			MaxFollowUps:       cfg.MaxFollowUps,
			EvidenceRequired:   cfg.EvidenceRequired,
		}
	}
	eng := engine.New(memory, tracker, extractor, gateway, executor, dispatcher, trail, policies, cfg.LookupTimeout, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient)
	requestHandler := handler.NewRequestHandler(eng, log)
	conversationHandler := handler.NewConversationHandler(memory, eng, log)
	usageHandler := handler.NewUsageHandler(tracker, eng, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Inbound customer messages
		r.Post("/requests", requestHandler.Receive)

		// Conversations
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Get("/stale", conversationHandler.Stale)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Post("/escalate", conversationHandler.Escalate)
			})
		})

		// Usage
		r.Get("/usage/{service}", usageHandler.Get)

		// Admin operations
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireScope("admin"))

			r.Post("/usage/{service}/reset", usageHandler.Reset)
			r.Post("/sweep", usageHandler.Sweep)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
