package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	captcha "go.pilab.hu/captcha"
	captchaapi "go.pilab.hu/captcha/api/echo"
	"go.pilab.hu/captcha/config"
	"go.pilab.hu/captcha/domain"
	"go.pilab.hu/captcha/internal/csrf"
	"go.pilab.hu/captcha/internal/server"
	"go.pilab.hu/captcha/log"
	"go.pilab.hu/captcha/memstore"
	"go.pilab.hu/captcha/mongodb"
	"go.pilab.hu/captcha/recaptcha"
	"go.pilab.hu/captcha/redisstore"
)

var (
	appLogger  log.Logger
	httpServer *http.Server
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	appLogger = log.NewZerologAdapter(logLevel, cfg.LogPretty)

	ctx := context.Background()
	appLogger.Info(ctx, "Starting captcha-gate server...")
	appLogger.Info(ctx, "Configuration loaded", map[string]interface{}{
		"http_port":     cfg.HTTPPort,
		"store_backend": cfg.StoreBackend,
		"log_level":     cfg.LogLevel,
		"token_ttl_min": cfg.TokenTTLMin,
	})

	if err := cfg.Validate(); err != nil {
		appLogger.Fatal(ctx, "Invalid configuration", err, nil)
	}

	// Store backend selection.
	var (
		repo   domain.CaptchaTokenRepository
		health server.HealthChecker
	)
	switch cfg.StoreBackend {
	case config.StoreBackendMongo:
		if initErr := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); initErr != nil {
			appLogger.Fatal(ctx, "Failed to initialize MongoDB connection", initErr, nil)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			mongodb.CloseMongoDB(closeCtx)
		}()

		mongoRepo, repoErr := mongodb.NewCaptchaTokenRepository(ctx, mongodb.GetDB())
		if repoErr != nil {
			appLogger.Fatal(ctx, "Failed to initialize CaptchaTokenRepository", repoErr, nil)
		}
		repo = mongoRepo
		health = func(c echo.Context) error { return mongodb.Ping(c.Request().Context()) }

	case config.StoreBackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if pingErr := client.Ping(ctx).Err(); pingErr != nil {
			appLogger.Fatal(ctx, "Failed to ping Redis", pingErr, nil)
		}
		defer client.Close()
		repo = redisstore.NewTokenStore(client, cfg.RedisPrefix)
		health = func(c echo.Context) error { return client.Ping(c.Request().Context()).Err() }

	case config.StoreBackendMemory:
		appLogger.Warn(ctx, "Using the in-memory store; records are process-local and lost on restart", nil)
		store := memstore.NewTokenStore()
		defer store.Close()
		repo = store
	}

	// Services.
	binder := csrf.NewBinder(cfg.CaptchaHMACSecret)
	verifier := recaptcha.NewVerifier(cfg.RecaptchaSecretKey,
		recaptcha.WithTimeout(cfg.SiteverifyTimeout()),
	)
	captchaService := captcha.NewService(repo, binder, verifier, cfg.TokenTTL(), cfg.AllowedHostnameList())
	api := captchaapi.NewCaptchaAPI(captchaService, cfg.RecaptchaSiteKey)

	httpServer = server.NewHTTPServer(cfg, appLogger, api, health)
	go func() {
		appLogger.Info(context.Background(), fmt.Sprintf("HTTP server listening on port %s", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(context.Background(), "Failed to start HTTP server", err, nil)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-quit

	appLogger.Info(ctx, fmt.Sprintf("Received signal: %v. Shutting down server...", receivedSignal))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err, nil)
	}

	appLogger.Info(shutdownCtx, "Server gracefully stopped.")
}
