package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cashqueue/internal/bot"
	"cashqueue/internal/config"
	"cashqueue/internal/database"
	"cashqueue/internal/handler"
	"cashqueue/internal/logger"
	"cashqueue/internal/matcher"
	"cashqueue/internal/memstore"
	"cashqueue/internal/metrics"
	"cashqueue/internal/middleware"
	"cashqueue/internal/model"
	"cashqueue/internal/repository"
	"cashqueue/internal/settlement"
	"cashqueue/internal/ton"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// Load .env file if it exists
	envErr := godotenv.Load()

	cfg := config.Load()

	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()
	if envErr != nil {
		zlog.Debug("no .env file found")
	}

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		return err
	}

	repo, closeRepo, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer closeRepo()

	m := metrics.New(prometheus.DefaultRegisterer)

	engine, err := newEngine(repo, settings, m, zlog)
	if err != nil {
		return err
	}

	var notifier handler.Notifier
	if cfg.Telegram.BotToken != "" {
		api, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			return fmt.Errorf("failed to start telegram bot: %w", err)
		}
		b := bot.New(api, engine, settings.IsStaff, zlog)
		notifier = b

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		go b.Run(ctx, api.GetUpdatesChan(u))
		defer api.StopReceivingUpdates()
		zlog.Info("telegram bot started", zap.String("username", api.Self.UserName))
	}

	h := handler.NewHandler(engine, zlog, notifier)

	rateLimiter := middleware.NewIPRateLimiter(settings.RateLimit)
	go pruneLoop(ctx, rateLimiter)

	router := setupRouter(h, rateLimiter, m, cfg.AdminAPIKey, zlog)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("server starting",
			zap.String("port", cfg.Server.Port),
			zap.String("store", cfg.Database.Store),
			zap.String("matching_mode", settings.MatchingMode))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zlog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openStore(cfg config.DatabaseConfig) (repository.Repository, func(), error) {
	switch cfg.Store {
	case "memory":
		return memstore.New(), func() {}, nil
	case "sqlite", "":
		db, err := database.New(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE %q", cfg.Store)
	}
}

func newEngine(repo repository.Repository, settings config.Settings, m *metrics.Metrics, zlog *zap.Logger) (*settlement.Engine, error) {
	strategy, err := matcher.ForMode(settings.MatchingMode)
	if err != nil {
		return nil, err
	}
	fallbacks, err := settings.Fallbacks()
	if err != nil {
		return nil, err
	}

	checks := map[model.Method]settlement.DestinationCheck{}
	if settings.CryptoAddressCheck == config.CryptoCheckTON {
		checks[model.MethodCrypto] = ton.ValidateAddress
	}

	return settlement.New(repo, zlog, settlement.Options{
		Strategy:               strategy,
		FallbackContacts:       fallbacks,
		MaxConfirmAttempts:     settings.MaxConfirmAttempts,
		ExtraDestinationChecks: checks,
		Metrics:                m,
	}), nil
}

func pruneLoop(ctx context.Context, limiter *middleware.IPRateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Prune()
		}
	}
}

func setupRouter(h *handler.Handler, limiter *middleware.IPRateLimiter, m *metrics.Metrics, adminKey string, zlog *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.Recovery(zlog))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(zlog))
	router.Use(middleware.Metrics(m))
	router.Use(middleware.Cors())
	router.Use(limiter.RateLimit())

	// Health check endpoint
	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := router.Group("/api/v1", middleware.Privilege(adminKey))
	h.RegisterRoutes(v1)

	return router
}
