package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/api/handlers"
	mw "github.com/mnemo-ai/mnemo/internal/api/middleware"
	"github.com/mnemo-ai/mnemo/internal/buildconfig"
	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/llm"
	"github.com/mnemo-ai/mnemo/internal/service"
	"github.com/mnemo-ai/mnemo/internal/store"
)

// App holds the router and background services for lifecycle management.
type App struct {
	Router        *chi.Mux
	Conversations *service.ConversationService
	Compaction    *service.CompactionService
	startTime     time.Time
	requestCount  atomic.Int64
	errorCount    atomic.Int64
}

// NewApp wires stores, services, and handlers. The relational pool holds
// the semantic, procedural, portfolio, profile, and intent tables; the
// timeseries pool holds the time-partitioned episodic and emotional rows.
// A misconfigured embedding or LLM gateway fails construction: every
// ingest and retrieval path needs both, so limping along without them
// only defers the error to the first request.
func NewApp(db, tsdb *pgxpool.Pool, rdb *redis.Client, logger *zap.Logger) (*App, error) {
	// Stores
	vectorStore := store.NewVectorStore(db)
	episodicStore := store.NewEpisodicStore(tsdb)
	emotionalStore := store.NewEmotionalStore(tsdb)
	proceduralStore := store.NewProceduralStore(db)
	portfolioStore := store.NewPortfolioStore(db)
	profileStore := store.NewProfileStore(db)
	intentStore := store.NewIntentStore(db)
	consentStore := store.NewConsentStore(db)
	cache := store.NewRedisCache(rdb)

	// External clients via provider factory
	embeddingClient, err := embedding.NewClient(config.EmbeddingProvider(), config.EmbeddingAPIKey())
	if err != nil {
		return nil, fmt.Errorf("embedding client: %w", err)
	}
	logger.Info("embedding client initialized", zap.String("provider", config.EmbeddingProvider()))

	llmClient, err := llm.NewClient(config.LLMProvider(), config.LLMAPIKey(), config.LLMModel())
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}
	logger.Info("llm client initialized", zap.String("provider", config.LLMProvider()))

	// Services
	storageSvc := service.NewStorageService(vectorStore, episodicStore, emotionalStore, proceduralStore, portfolioStore, cache, config.ShortTermTTL(), logger)
	profileSvc := service.NewProfileService(profileStore, cache, logger)
	ingestSvc := service.NewIngestService(vectorStore, storageSvc, profileSvc, embeddingClient, llmClient, config.ExtractionConfidenceThreshold(), config.DedupCosineThreshold(), logger)
	retrievalSvc := service.NewRetrievalService(vectorStore, episodicStore, proceduralStore, embeddingClient, llmClient, logger)
	conversationSvc := service.NewConversationService(retrievalSvc, ingestSvc, profileSvc, embeddingClient, config.MaxInjectionsPerTurn(), config.ProfileQuestionCooldown(), logger)
	compactionSvc := service.NewCompactionService(vectorStore, storageSvc, embeddingClient, llmClient, cache, config.CompactionHalfLife(), logger)
	intentSvc := service.NewIntentService(intentStore, config.IntentsMaxPerUser(), config.ClaimTimeout(), logger)
	hookSvc := service.NewHookService(consentStore, ingestSvc, logger)
	portfolioSvc := service.NewPortfolioService(portfolioStore, logger)

	// Handlers
	memoryHandler := handlers.NewMemoryHandler(storageSvc, ingestSvc, embeddingClient)
	retrieveHandler := handlers.NewRetrieveHandler(retrievalSvc, profileSvc)
	orchestratorHandler := handlers.NewOrchestratorHandler(conversationSvc)
	profileHandler := handlers.NewProfileHandler(profileSvc)
	portfolioHandler := handlers.NewPortfolioHandler(portfolioSvc)
	intentHandler := handlers.NewIntentHandler(intentSvc)
	maintenanceHandler := handlers.NewMaintenanceHandler(compactionSvc)
	hookHandler := handlers.NewHookHandler(hookSvc)

	r := chi.NewRouter()

	app := &App{
		Router:        r,
		Conversations: conversationSvc,
		Compaction:    compactionSvc,
		startTime:     time.Now(),
	}

	requestMetrics := mw.NewRequestMetrics(&app.requestCount, &app.errorCount)

	// Middleware
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestMetrics.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	r.Get("/health", app.healthHandler(db))
	r.Get("/health/full", app.healthFullHandler(db, tsdb, cache, embeddingClient, llmClient))
	r.Get("/metrics", app.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/store", memoryHandler.Store)
		r.Get("/retrieve", retrieveHandler.Simple)
		r.Post("/retrieve", retrieveHandler.PersonaRetrieve)
		r.Post("/retrieve/structured", retrieveHandler.Structured)
		r.Post("/narrative", retrieveHandler.Narrative)
		r.Post("/memories/direct", memoryHandler.Direct)
		r.Delete("/memories/{id}", memoryHandler.Delete)

		r.Post("/forget", maintenanceHandler.Forget)
		r.Post("/maintenance", maintenanceHandler.Compact)
		r.Post("/maintenance/compact_all", maintenanceHandler.CompactAll)

		r.Post("/orchestrator/message", orchestratorHandler.Message)
		r.Post("/orchestrator/retrieve", orchestratorHandler.Retrieve)
		r.Post("/orchestrator/transcript", orchestratorHandler.Transcript)

		r.Route("/profile", func(r chi.Router) {
			r.Get("/", profileHandler.Get)
			r.Delete("/", profileHandler.Delete)
			r.Get("/completeness", profileHandler.Completeness)
			r.Get("/export", profileHandler.Export)
			r.Post("/import", profileHandler.Import)
			r.Get("/audit", profileHandler.Audit)
			r.Get("/{category}", profileHandler.Category)
			r.Put("/{category}/{field}", profileHandler.SetField)
			r.Delete("/{category}/{field}", profileHandler.DeleteField)
		})

		r.Route("/portfolio", func(r chi.Router) {
			r.Get("/summary", portfolioHandler.Summary)
			r.Post("/snapshot", portfolioHandler.Snapshot)
			r.Put("/preference/{name}", portfolioHandler.PutPreference)
			r.Get("/holding/{ticker}", portfolioHandler.GetHolding)
			r.Post("/holding/{ticker}", portfolioHandler.PutHolding)
			r.Put("/holding/{ticker}", portfolioHandler.PutHolding)
			r.Delete("/holding/{ticker}", portfolioHandler.DeleteHolding)
		})

		r.Route("/intents", func(r chi.Router) {
			r.Post("/", intentHandler.Create)
			r.Get("/", intentHandler.List)
			r.Get("/pending", intentHandler.Pending)
			r.Get("/{id}", intentHandler.Get)
			r.Put("/{id}", intentHandler.Update)
			r.Delete("/{id}", intentHandler.Delete)
			r.Post("/{id}/claim", intentHandler.Claim)
			r.Post("/{id}/fire", intentHandler.Fire)
			r.Get("/{id}/history", intentHandler.History)
		})

		r.Route("/hooks/{hook}", func(r chi.Router) {
			r.Put("/consent", hookHandler.SetConsent)
			r.Get("/consent", hookHandler.GetConsent)
			r.Post("/event", hookHandler.Event)
		})
	})

	return app, nil
}

func (app *App) healthHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "down", "database": "unreachable"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// healthFullHandler reports per-backend status: ok when everything
// responds, degraded when a non-primary backend is down, down when the
// primary database is unreachable.
func (app *App) healthFullHandler(db, tsdb *pgxpool.Pool, cache domain.Cache, ec domain.EmbeddingClient, lc domain.LLMClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		backends := map[string]string{}
		status := "ok"

		if err := db.Ping(r.Context()); err != nil {
			backends["postgres"] = "down"
			status = "down"
		} else {
			backends["postgres"] = "ok"
		}
		if err := tsdb.Ping(r.Context()); err != nil {
			backends["timeseries"] = "down"
			if status == "ok" {
				status = "degraded"
			}
		} else {
			backends["timeseries"] = "ok"
		}
		if err := cache.Ping(r.Context()); err != nil {
			backends["redis"] = "down"
			if status == "ok" {
				status = "degraded"
			}
		} else {
			backends["redis"] = "ok"
		}

		// Gateways report configured-ness only; no live upstream call.
		backends["embedding"] = "configured"
		if ec == nil {
			backends["embedding"] = "not_configured"
		}
		backends["llm"] = "configured"
		if lc == nil {
			backends["llm"] = "not_configured"
		}

		code := http.StatusOK
		if status == "down" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   status,
			"backends": backends,
			"uptime":   time.Since(app.startTime).Round(time.Second).String(),
		})
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
			"version":    buildconfig.Version(),
			"commit":     buildconfig.Commit(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores and clients satisfy interfaces at compile time.
var (
	_ domain.VectorStore     = (*store.VectorStore)(nil)
	_ domain.EpisodicStore   = (*store.EpisodicStore)(nil)
	_ domain.EmotionalStore  = (*store.EmotionalStore)(nil)
	_ domain.ProceduralStore = (*store.ProceduralStore)(nil)
	_ domain.PortfolioStore  = (*store.PortfolioStore)(nil)
	_ domain.ProfileStore    = (*store.ProfileStore)(nil)
	_ domain.IntentStore     = (*store.IntentStore)(nil)
	_ domain.ConsentStore    = (*store.ConsentStore)(nil)
	_ domain.Cache           = (*store.RedisCache)(nil)
	_ domain.EmbeddingClient = (*embedding.OpenAIClient)(nil)
	_ domain.EmbeddingClient = (*embedding.MockClient)(nil)
	_ domain.LLMClient       = (*llm.OpenAIClient)(nil)
	_ domain.LLMClient       = (*llm.MockClient)(nil)
)
