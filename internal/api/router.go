package api

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/arbiterhq/arbiter/internal/agent"
	"github.com/arbiterhq/arbiter/internal/api/handlers"
	mw "github.com/arbiterhq/arbiter/internal/api/middleware"
	"github.com/arbiterhq/arbiter/internal/buildconfig"
	"github.com/arbiterhq/arbiter/internal/config"
	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/ledger"
	"github.com/arbiterhq/arbiter/internal/resilience"
	"github.com/arbiterhq/arbiter/internal/service"
	"github.com/arbiterhq/arbiter/internal/store"
	"github.com/arbiterhq/arbiter/internal/verify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const retrievalCacheSize = 1000

// App holds the router and background services for lifecycle management.
type App struct {
	Router       *chi.Mux
	Maintenance  *service.MaintenanceService
	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewApp(db *pgxpool.Pool, logger *zap.Logger) *App {
	// Stores
	pipelineStore := store.NewPipelineStore(db)
	reviewStore := store.NewReviewStore(db)
	disputeStore := store.NewDisputeStore(db)
	feedbackStore := store.NewFeedbackStore(db)
	accuracyStore := store.NewAccuracyStore(db)

	// External clients
	assessmentClient, err := agent.NewAssessmentClient(config.AssessmentProvider(), config.OpenAIAPIKey(), config.AssessmentModel())
	if err != nil {
		logger.Warn("assessment client initialization failed, falling back to mock",
			zap.String("provider", config.AssessmentProvider()), zap.Error(err))
		assessmentClient = agent.NewMockAssessmentClient()
	} else {
		logger.Info("assessment client initialized", zap.String("provider", config.AssessmentProvider()))
	}

	if config.SearchAPIURL() == "" {
		logger.Warn("SEARCH_API_URL not configured, evidence retrieval will fail")
	}
	retriever := agent.NewSearchRetriever(config.SearchAPIURL(), config.SearchAPIKey())

	var ledgerClient service.LedgerClient
	if url := config.LedgerURL(); url != "" {
		ledgerClient = ledger.NewHTTPClient(url, config.LedgerAPIKey())
		logger.Info("ledger client initialized", zap.String("url", url))
	} else {
		ledgerClient = ledger.NewNoopClient(logger)
		logger.Warn("LEDGER_URL not configured, bond movements are log-only")
	}

	// Agents
	retrievalAgent := agent.NewRetrievalAgent(retriever, logger)
	synthesisAgent := agent.NewSynthesisAgent(assessmentClient, logger)
	deliberationAgent := agent.NewDeliberationAgent(agent.DefaultEnsemble(assessmentClient), logger)
	explanationAgent := agent.NewExplanationAgent(assessmentClient, logger)

	// Verification engine. The accuracy ledger is warmed from the store so
	// historical source weighting survives restarts.
	tracker := verify.NewAccuracyTracker(accuracyStore, logger)
	if err := tracker.Load(context.Background()); err != nil {
		logger.Warn("source accuracy history not loaded", zap.Error(err))
	}
	engine := verify.NewEngine(
		verify.NewClassifier(),
		verify.NewOwnershipAnalyzer(),
		tracker,
		verify.NewTemporalValidator(),
		verify.DefaultEngineConfig(),
		logger,
	)

	// Resilience layer shared by the pipeline stages
	breaker := resilience.NewCircuitBreaker(logger)
	limiter := resilience.NewRateLimiter(nil)
	cache := resilience.NewCache(retrievalCacheSize, config.RetrievalCacheTTL())

	// Services
	reviewSvc := service.NewReviewService(reviewStore, logger)
	if err := reviewSvc.Load(context.Background()); err != nil {
		logger.Warn("review queue not hydrated", zap.Error(err))
	}
	disputeSvc := service.NewDisputeService(disputeStore, ledgerClient, logger)
	feedbackSvc := service.NewFeedbackService(feedbackStore, logger)
	orchestrator := service.NewOrchestrator(
		retrievalAgent, synthesisAgent, deliberationAgent, explanationAgent,
		engine, breaker, limiter, cache,
		pipelineStore, reviewSvc, logger,
	)
	orchestrator.RetrievalCacheTTL = config.RetrievalCacheTTL()
	maintenanceSvc := service.NewMaintenanceService(cache, breaker, limiter, reviewSvc, disputeSvc, feedbackSvc, logger)
	maintenanceSvc.SetInterval(config.MaintenanceInterval())

	// Handlers
	resolutionHandler := handlers.NewResolutionHandler(orchestrator, pipelineStore, domain.ResolveOptions{
		EnsembleMethod: domain.EnsembleMethod(config.EnsembleMethod()),
		MaxSources:     config.MaxSources(),
	})
	reviewHandler := handlers.NewReviewHandler(reviewSvc)
	disputeHandler := handlers.NewDisputeHandler(disputeSvc, feedbackSvc, orchestrator, pipelineStore, logger)
	feedbackHandler := handlers.NewFeedbackHandler(feedbackSvc, orchestrator, logger)
	statusHandler := handlers.NewStatusHandler(maintenanceSvc)

	r := chi.NewRouter()

	app := &App{
		Router:      r,
		Maintenance: maintenanceSvc,
		startTime:   time.Now(),
	}

	// Metrics collector for middleware
	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	// Health (no auth)
	r.Get("/health", healthHandler(db))

	// Metrics (no auth)
	r.Get("/metrics", app.metricsHandler())

	// Authenticated routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(config.APIKey()))

		// Resolutions
		r.Route("/resolutions", func(r chi.Router) {
			r.Post("/", resolutionHandler.Resolve)
			r.Get("/{id}", resolutionHandler.GetByID)
		})
		r.Get("/markets/{marketID}/resolutions", resolutionHandler.ListByMarket)
		r.Get("/markets/{marketID}/disputes", disputeHandler.ListByMarket)

		// Human review queue
		r.Route("/reviews", func(r chi.Router) {
			r.Get("/next", reviewHandler.Next)
			r.Get("/stats", reviewHandler.Stats)
			r.Post("/{id}/submit", reviewHandler.Submit)
		})

		// Disputes
		r.Route("/disputes", func(r chi.Router) {
			r.Post("/", disputeHandler.Initiate)
			r.Get("/stats", disputeHandler.Stats)
			r.Get("/experts", disputeHandler.ExpertPanel)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", disputeHandler.GetByID)
				r.Post("/escalate", disputeHandler.Escalate)
				r.Post("/finalize", disputeHandler.Finalize)
			})
		})

		// Feedback loop
		r.Route("/feedback", func(r chi.Router) {
			r.Post("/", feedbackHandler.Create)
			r.Get("/metrics", feedbackHandler.Metrics)
			r.Get("/report", feedbackHandler.Report)
		})

		// Subsystem status and maintenance
		r.Get("/status", statusHandler.Status)
		r.Post("/maintenance/run", statusHandler.RunMaintenance)
	})

	return app
}

// NewRouter returns just the chi.Mux for callers that manage lifecycle themselves.
func NewRouter(db *pgxpool.Pool, logger *zap.Logger) *chi.Mux {
	return NewApp(db, logger).Router
}

func healthHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
			"build":      buildconfig.VersionInfo(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores and clients satisfy interfaces at compile time.
var (
	_ domain.PipelineStore     = (*store.PipelineStore)(nil)
	_ domain.ReviewStore       = (*store.ReviewStore)(nil)
	_ domain.DisputeStore      = (*store.DisputeStore)(nil)
	_ domain.FeedbackStore     = (*store.FeedbackStore)(nil)
	_ domain.AccuracyStore     = (*store.AccuracyStore)(nil)
	_ domain.EvidenceRetriever = (*agent.SearchRetriever)(nil)
	_ service.LedgerClient     = (*ledger.HTTPClient)(nil)
	_ service.LedgerClient     = (*ledger.NoopClient)(nil)
	_ domain.AssessmentClient  = (*agent.OpenAIClient)(nil)
	_ domain.AssessmentClient  = (*agent.MockAssessmentClient)(nil)
)
