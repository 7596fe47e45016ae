package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/arbiterhq/arbiter/internal/api/handlers"
	mw "github.com/arbiterhq/arbiter/internal/api/middleware"
	"github.com/arbiterhq/arbiter/internal/buildconfig"
	"github.com/arbiterhq/arbiter/internal/config"
	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/embedding"
	"github.com/arbiterhq/arbiter/internal/service"
	"github.com/arbiterhq/arbiter/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// App holds the router and background services for lifecycle management.
type App struct {
	Router       *chi.Mux
	Memory       *service.MemoryTierService
	PatternGate  *service.PatternGateService
	Scheduler    *service.ReviewScheduler
	Debate       *service.DebateService
	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewApp(db *pgxpool.Pool, logger *zap.Logger) *App {
	// Stores
	tenantStore := store.NewTenantStore(db)
	participantStore := store.NewParticipantStore(db)
	claimStore := store.NewClaimStore(db)
	challengeStore := store.NewChallengeStore(db)
	resolutionStore := store.NewResolutionStore(db)
	credibilityStore := store.NewCredibilityStore(db)
	patternStore := store.NewPatternStore(db)
	sharedMemoryStore := store.NewSharedMemoryStore(db)
	snapshotStore := store.NewSnapshotStore(db)
	conflictStore := store.NewConflictStore(db)
	reviewStore := store.NewReviewStore(db)

	// External clients via provider factory
	embeddingClient, err := embedding.NewClient(config.EmbeddingProvider(), config.EmbeddingAPIKey())
	if err != nil {
		logger.Warn("embedding client initialization failed",
			zap.String("provider", config.EmbeddingProvider()), zap.Error(err))
		embeddingClient = embedding.NewMockClient()
	} else {
		logger.Info("embedding client initialized", zap.String("provider", config.EmbeddingProvider()))
	}

	// Services
	memorySvc := service.NewMemoryTierService(sharedMemoryStore, snapshotStore, conflictStore, logger)
	credibilitySvc := service.NewCredibilityService(credibilityStore, participantStore, logger)
	claimSvc := service.NewClaimService(claimStore, patternStore, embeddingClient, logger)
	patternSvc := service.NewPatternGateService(patternStore, reviewStore, logger)
	schedulerSvc := service.NewReviewScheduler(reviewStore, logger)
	debateSvc := service.NewDebateService(challengeStore, claimStore, resolutionStore, participantStore,
		memorySvc, credibilitySvc, schedulerSvc, logger)

	// Handlers
	tenantHandler := handlers.NewTenantHandler(tenantStore)
	participantHandler := handlers.NewParticipantHandler(participantStore, schedulerSvc)
	claimHandler := handlers.NewClaimHandler(claimSvc)
	challengeHandler := handlers.NewChallengeHandler(debateSvc, challengeStore)
	patternHandler := handlers.NewPatternHandler(patternSvc, patternStore)
	credibilityHandler := handlers.NewCredibilityHandler(credibilitySvc)
	reviewHandler := handlers.NewReviewHandler(schedulerSvc, reviewStore)
	memoryHandler := handlers.NewMemoryHandler(memorySvc, conflictStore)

	r := chi.NewRouter()

	app := &App{
		Router:      r,
		Memory:      memorySvc,
		PatternGate: patternSvc,
		Scheduler:   schedulerSvc,
		Debate:      debateSvc,
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

	// Tenant creation (no auth — bootstrap endpoint)
	r.Post("/v1/tenants", tenantHandler.Create)

	// Authenticated routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(tenantStore))

		// Participants (workers and human reviewers)
		r.Route("/participants", func(r chi.Router) {
			r.Post("/", participantHandler.Create)
			r.Get("/{id}", participantHandler.GetByID)
		})

		// Claims
		r.Route("/claims", func(r chi.Router) {
			r.Post("/", claimHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", claimHandler.GetByID)
				r.Delete("/", claimHandler.Delete)
				r.Post("/revise", claimHandler.Revise)
				r.Get("/related", claimHandler.Related)
			})
		})

		// Challenges (debate resolution)
		r.Route("/challenges", func(r chi.Router) {
			r.Get("/", challengeHandler.ListActive)
			r.Post("/", challengeHandler.Open)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", challengeHandler.GetByID)
				r.Post("/respond", challengeHandler.Respond)
				r.Post("/cancel", challengeHandler.Cancel)
				r.Get("/resolution", challengeHandler.GetResolution)
				r.Post("/override", challengeHandler.Override)
			})
		})

		// Patterns (validation gate)
		r.Route("/patterns", func(r chi.Router) {
			r.Get("/", patternHandler.List)
			r.Post("/", patternHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", patternHandler.GetByID)
				r.Post("/occurrences", patternHandler.RecordOccurrence)
				r.Post("/advance", patternHandler.Advance)
				r.Post("/review", patternHandler.Review)
				r.Post("/outcome", patternHandler.RecordLiveOutcome)
				r.Get("/transitions", patternHandler.GetTransitions)
			})
		})

		// Credibility
		r.Route("/credibility", func(r chi.Router) {
			r.Post("/samples", credibilityHandler.RecordSample)
			r.Get("/score", credibilityHandler.GetScore)
		})

		// Review queue
		r.Route("/reviews", func(r chi.Router) {
			r.Get("/", reviewHandler.ListPending)
			r.Post("/next", reviewHandler.Next)
			r.Post("/{id}/decision", reviewHandler.Decide)
		})

		// Memory tiers
		r.Route("/memory", func(r chi.Router) {
			r.Post("/entries", memoryHandler.Put)
			r.Get("/entries/{key}", memoryHandler.Get)
			r.Post("/sync", memoryHandler.Sync)
			r.Get("/conflicts", memoryHandler.ListConflicts)
			r.Route("/snapshots", func(r chi.Router) {
				r.Post("/", memoryHandler.CreateSnapshot)
				r.Get("/{id}/entries/{key}", memoryHandler.ReadSnapshot)
				r.Delete("/{id}", memoryHandler.ReleaseSnapshot)
			})
		})
	})

	return app
}

// NewRouter returns just the chi.Mux for callers that do not manage
// background service lifecycles.
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
	_ domain.TenantStore       = (*store.TenantStore)(nil)
	_ domain.ParticipantStore  = (*store.ParticipantStore)(nil)
	_ domain.ClaimStore        = (*store.ClaimStore)(nil)
	_ domain.ChallengeStore    = (*store.ChallengeStore)(nil)
	_ domain.ResolutionStore   = (*store.ResolutionStore)(nil)
	_ domain.CredibilityStore  = (*store.CredibilityStore)(nil)
	_ domain.PatternStore      = (*store.PatternStore)(nil)
	_ domain.SharedMemoryStore = (*store.SharedMemoryStore)(nil)
	_ domain.SnapshotStore     = (*store.SnapshotStore)(nil)
	_ domain.ConflictStore     = (*store.ConflictStore)(nil)
	_ domain.ReviewStore       = (*store.ReviewStore)(nil)
	_ domain.EmbeddingClient   = (*embedding.OpenAIClient)(nil)
	_ domain.EmbeddingClient   = (*embedding.MockClient)(nil)
)
