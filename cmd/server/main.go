package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/eatrack/internal/account"
	"github.com/ksred/eatrack/internal/auth"
	"github.com/ksred/eatrack/internal/config"
	"github.com/ksred/eatrack/internal/copytrading"
	"github.com/ksred/eatrack/internal/database"
	"github.com/ksred/eatrack/internal/expertadvisor"
	"github.com/ksred/eatrack/internal/heartbeat"
	"github.com/ksred/eatrack/internal/ingestion"
	"github.com/ksred/eatrack/internal/statistics"
	"github.com/ksred/eatrack/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

type handlers struct {
	ingestion     *ingestion.GinHandlers
	accounts      *account.GinHandlers
	experts       *expertadvisor.GinHandlers
	statistics    *statistics.GinHandlers
	copyTrading   *copytrading.GinHandlers
	authService   *auth.Service
	eaRateLimiter *middleware.RateLimiter
	ipRateLimiter *middleware.RateLimiter
}

// main wires the EA ingestion and dashboard APIs and serves them until
// SIGINT or SIGTERM
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewDatabase(cfg.DBPath)
	if err != nil {
		zlog.Fatal().Err(err).Str("db_path", cfg.DBPath).Msg("Failed to initialize database")
	}

	router := gin.Default()

	hb := heartbeat.NewCoordinator(db, cfg.Heartbeat)
	authService := auth.NewService(db, cfg.JWTSecret, cfg.TokenTTL)

	h := handlers{
		ingestion:     ingestion.NewGinHandlers(ingestion.NewService(db, hb)),
		accounts:      account.NewGinHandlers(account.NewService(db, hb)),
		experts:       expertadvisor.NewGinHandlers(expertadvisor.NewService(db)),
		statistics:    statistics.NewGinHandlers(statistics.NewService(db, hb)),
		copyTrading:   copytrading.NewGinHandlers(copytrading.NewService(db)),
		authService:   authService,
		eaRateLimiter: middleware.NewRateLimiter(cfg.RateLimit.EAPerMinute, cfg.RateLimit.EABurst),
		ipRateLimiter: middleware.NewRateLimiter(cfg.RateLimit.IPPerMinute, cfg.RateLimit.IPBurst),
	}
	defer h.eaRateLimiter.Stop()
	defer h.ipRateLimiter.Stop()

	setupRoutes(router, h)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		zlog.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// - EA routes: rate limited per client IP, authenticated by the trading account's
//   API key, then rate limited per account
// - Dashboard routes: authenticated by a user JWT
func setupRoutes(router *gin.Engine, h handlers) {
	v1 := router.Group("/api/v1")

	v1.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	ea := v1.Group("/ea")
	ea.Use(
		middleware.RateLimitByIP(h.ipRateLimiter),
		middleware.APIKeyAuth(h.authService),
		middleware.RateLimit(h.eaRateLimiter),
	)
	{
		ea.POST("/ping", h.ingestion.PingHandler())
		ea.POST("/activity", h.ingestion.ActivityHandler())
		ea.POST("/snapshot", h.ingestion.SnapshotHandler())
		ea.POST("/positions/sync", h.ingestion.SyncPositionsHandler())
		ea.POST("/positions", h.ingestion.UpsertPositionHandler())
		ea.POST("/positions/close", h.ingestion.ClosePositionHandler())
		ea.POST("/history/sync", h.ingestion.SyncHistoryHandler())
	}

	dash := v1.Group("")
	dash.Use(middleware.UserAuth(h.authService))
	{
		accounts := dash.Group("/accounts")
		accounts.POST("", h.accounts.CreateHandler())
		accounts.GET("", h.accounts.ListHandler())
		accounts.GET("/:id", h.accounts.GetHandler())
		accounts.PATCH("/:id", h.accounts.UpdateHandler())
		accounts.DELETE("/:id", h.accounts.DeleteHandler())
		accounts.POST("/:id/heartbeat", h.accounts.HeartbeatHandler())
		accounts.POST("/:id/api-key", h.accounts.RotateKeyHandler())
		accounts.GET("/:id/stats", h.statistics.AccountStatsHandler())
		accounts.GET("/:id/equity-curve", h.statistics.EquityCurveHandler())
		accounts.GET("/:id/experts", h.experts.ListHandler())
		accounts.POST("/:id/experts", h.experts.CreateHandler())

		experts := dash.Group("/experts")
		experts.GET("/:id", h.experts.GetHandler())
		experts.PATCH("/:id", h.experts.UpdateHandler())
		experts.DELETE("/:id", h.experts.DeleteHandler())
		experts.GET("/:id/statistics", h.statistics.ExpertStatisticsHandler())
		experts.POST("/:id/recalculate", h.statistics.RecalculateHandler())

		relations := dash.Group("/copy-relations")
		relations.POST("", h.copyTrading.CreateHandler())
		relations.GET("", h.copyTrading.ListHandler())
		relations.PATCH("/:id", h.copyTrading.UpdateHandler())
		relations.DELETE("/:id", h.copyTrading.DeleteHandler())
	}
}
