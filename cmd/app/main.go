// File: cmd/app/main.go
package main

import (
	"context"
	"crypto/x509"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mobile-iap-subscription/internal/config"
	"mobile-iap-subscription/internal/domain/ports/adapter"
	"mobile-iap-subscription/internal/infra/adapters/store"
	pg "mobile-iap-subscription/internal/infra/db/postgres"
	"mobile-iap-subscription/internal/infra/logging"
	"mobile-iap-subscription/internal/infra/metrics"
	red "mobile-iap-subscription/internal/infra/redis"
	"mobile-iap-subscription/internal/infra/sched"
	"mobile-iap-subscription/internal/infra/web"
	"mobile-iap-subscription/internal/usecase"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("developer mode enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, int32(cfg.Database.PoolSize))
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis (optional; rate limiting fails open without it) ----
	var limiter *red.RateLimiter
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		limiter = red.NewRateLimiter(redisClient)
	} else {
		logger.Warn().Msg("redis.url not set; request rate limiting disabled")
	}

	// ---- Repositories ----
	subRepo := pg.NewSubscriptionRepo(pool)
	userRepo := pg.NewUserRepo(pool)
	tm := pg.NewTxManager(pool)

	// ---- Store validators & webhook decoders ----
	var validators []adapter.ReceiptValidator
	var decoders []adapter.WebhookDecoder

	if cfg.ConfiguresApple() {
		appleValidator, err := store.NewAppleValidator(cfg.Apple, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("apple validator")
		}
		validators = append(validators, appleValidator)

		var roots *x509.CertPool
		if cfg.Apple.RootCAPath != "" {
			caPEM, err := os.ReadFile(cfg.Apple.RootCAPath)
			if err != nil {
				logger.Fatal().Err(err).Msg("apple root ca")
			}
			roots = x509.NewCertPool()
			if !roots.AppendCertsFromPEM(caPEM) {
				logger.Fatal().Msg("apple root ca: no certificates in PEM")
			}
		}
		decoders = append(decoders, store.NewAppleWebhookDecoder(roots, logger))
	}

	if cfg.ConfiguresGoogle() {
		googleValidator, err := store.NewGoogleValidator(cfg.Google, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("google validator")
		}
		validators = append(validators, googleValidator)
		decoders = append(decoders, store.NewGoogleWebhookDecoder(googleValidator, logger))
	}

	registry, err := usecase.NewValidatorRegistry(validators...)
	if err != nil {
		logger.Fatal().Err(err).Msg("validator registry")
	}
	platforms := registry.SupportedPlatforms()
	logger.Info().Interface("platforms", platforms).Msg("receipt validators registered")

	// ---- Use cases ----
	subUC := usecase.NewSubscriptionUseCase(registry, subRepo, userRepo, tm, logger)
	webhookUC := usecase.NewWebhookUseCase(subRepo, userRepo, tm, logger)

	// ---- Expiry sweep ----
	worker := sched.NewExpiryWorker(cfg.Scheduler.ExpiryCheckInterval.Std(), subUC, subRepo, logger)
	go func() {
		if err := worker.Run(ctx); err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("expiry worker stopped")
		}
	}()

	// ---- HTTP ----
	server := web.NewServer(cfg, subUC, webhookUC, decoders, limiter, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	// ---- Shutdown ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}
