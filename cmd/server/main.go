package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/freeeve/kriegsim/internal/agent"
	"github.com/freeeve/kriegsim/internal/auth"
	"github.com/freeeve/kriegsim/internal/config"
	"github.com/freeeve/kriegsim/internal/handler"
	"github.com/freeeve/kriegsim/internal/logger"
	"github.com/freeeve/kriegsim/internal/middleware"
	"github.com/freeeve/kriegsim/internal/repository"
	"github.com/freeeve/kriegsim/internal/repository/memory"
	"github.com/freeeve/kriegsim/internal/repository/postgres"
	redisrepo "github.com/freeeve/kriegsim/internal/repository/redis"
	"github.com/freeeve/kriegsim/internal/repository/sqlite"
	"github.com/freeeve/kriegsim/internal/scenario"
	"github.com/freeeve/kriegsim/internal/service"
	"github.com/freeeve/kriegsim/internal/telemetry"
)

const maxRequestBody = 1 << 20

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init(logger.Options{})
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile, Pretty: cfg.Dev})
	agent.EnginePath = cfg.EnginePath
	agent.ModelPath = cfg.ModelPath
	log.Info().Str("store", cfg.Store).Str("port", cfg.Port).Msg("Config loaded")

	shutdownTracing, err := telemetry.Setup(context.Background(), "kriegsim-server", cfg.OTelEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("Tracing setup failed")
	}
	if cfg.OTelEndpoint != "" {
		log.Info().Str("endpoint", cfg.OTelEndpoint).Msg("Tracing enabled")
	}

	library := scenario.NewLibrary()
	if cfg.ScenarioDir != "" {
		if library, err = scenario.LoadDir(cfg.ScenarioDir); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.ScenarioDir).Msg("Loading scenarios failed")
		}
	}
	log.Info().Strs("scenarios", library.Names()).Msg("Scenarios loaded")

	var (
		battles repository.BattleRepository
		turns   repository.TurnRepository
		cache   repository.BattleCache
		rdb     *goredis.Client
	)
	switch cfg.Store {
	case config.StoreMemory:
		store := memory.NewStore()
		battles, turns, cache = store, store, store
		log.Warn().Msg("Using the in-memory store, battles are lost on restart")
	case config.StoreSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("SQLite open failed")
		}
		defer db.Close()
		// Live state stays in process; only one server may own the file.
		live := memory.NewStore()
		battles, turns, cache = db, db, live
		log.Info().Str("path", cfg.SQLitePath).Msg("Using the SQLite store")
	default:
		db, err := postgres.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Database connection failed")
		}
		defer db.Close()
		applied, err := postgres.Migrate(db, cfg.MigrationsDir)
		if err != nil {
			log.Fatal().Err(err).Msg("Migrations failed")
		}
		log.Info().Int("applied", applied).Msg("Migrations done")

		redisCache, err := redisrepo.Dial(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Redis connection failed")
		}
		defer redisCache.Close()
		rdb = redisCache.Conn()
		if err := redisCache.NotifyExpiry(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to set Redis keyspace notifications (deadlines fall back to polling)")
		}
		battles, turns, cache = postgres.NewBattleRepo(db), postgres.NewTurnRepo(db), redisCache
	}

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.SeatTokenTTL)
	wsHub := handler.NewHub()

	battleSvc := service.NewBattleService(battles, turns, cache, wsHub, library)
	battleSvc.SetTurnTimeout(cfg.TurnTimeout)
	battleSvc.SetDefaultMaxTurns(cfg.MaxTurns)

	api := handler.Routes(handler.NewBattleHandler(battleSvc, jwtMgr), handler.NewWSHandler(wsHub), jwtMgr)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", api))

	root := middleware.Chain(mux,
		middleware.Recover,
		middleware.Trace,
		middleware.MaxBody(maxRequestBody),
		middleware.Logger,
		middleware.CORS(cfg.CORSOrigin),
		middleware.JSON,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Rebuild live state of active battles after a restart.
	if err := battleSvc.RecoverActiveBattles(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to recover active battles (non-fatal)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.TurnTimeout > 0 {
		go service.NewDeadlineListener(rdb, battleSvc).Start(ctx)
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server shutdown error")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Flushing traces failed")
	}
	log.Info().Msg("Server stopped")
}
