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

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/authguard-api/api/swagger"
	"github.com/noah-isme/authguard-api/internal/handler"
	"github.com/noah-isme/authguard-api/internal/repository"
	"github.com/noah-isme/authguard-api/internal/service"
	"github.com/noah-isme/authguard-api/pkg/broker"
	"github.com/noah-isme/authguard-api/pkg/cache"
	"github.com/noah-isme/authguard-api/pkg/config"
	"github.com/noah-isme/authguard-api/pkg/database"
	"github.com/noah-isme/authguard-api/pkg/hashing"
	"github.com/noah-isme/authguard-api/pkg/logger"
)

// @title AuthGuard API
// @version 1.0.0
// @description Session, token and login security control plane
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server exited", zap.Error(err))
	}
	logr.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	var publisher broker.Publisher
	if kafka := broker.NewKafkaPublisher(cfg.Kafka, logr); kafka != nil {
		publisher = kafka
	}

	hasher, err := hashing.NewHasher(cfg.Hashing.Algorithm, cfg.Hashing.Cost)
	if err != nil {
		return err
	}

	credentialRepo := repository.NewCredentialRepository(db)
	attemptRepo := repository.NewLoginAttemptRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	refreshRepo := repository.NewRefreshTokenRepository(db)
	blacklistRepo := repository.NewTokenBlacklistRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	validate := validator.New()
	metrics := service.NewMetricsService()

	tokens := service.NewTokenService(service.TokenConfig{
		AccessSecret:  cfg.JWT.AccessSecret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
	})
	gate := service.NewRateGate(attemptRepo, service.RateGateConfig{
		MaxAttempts:           cfg.RateLimit.MaxAttempts,
		MaxIPAttempts:         cfg.RateLimit.MaxIPAttempts,
		Window:                cfg.RateLimit.Window,
		LockoutThreshold:      cfg.RateLimit.LockoutThreshold,
		LockoutWindow:         cfg.RateLimit.LockoutWindow,
		SuspiciousIPThreshold: cfg.RateLimit.SuspiciousIPThreshold,
	})
	security := service.NewSecurityService(service.NewDeviceFingerprinter(), gate, attemptRepo, metrics, logr)
	audit := service.NewAuditService(auditRepo, cfg.Audit.Retention, logr)
	sessions := service.NewSessionService(sessionRepo, refreshRepo, credentialRepo, tokens, audit, metrics, logr, service.SessionConfig{
		DefaultTTL:       cfg.Session.DefaultTTL,
		RememberTTL:      cfg.Session.RememberTTL,
		RevokeOnReuse:    cfg.Session.RevokeOnReuse,
		ReuseGracePeriod: cfg.Session.ReuseGrace,
	})
	blacklist := service.NewBlacklistService(tokens, blacklistRepo, cacheRepo, metrics, logr)
	notifier := service.NewNotificationService(publisher, service.NotificationConfig{
		Enabled:    cfg.Notifications.Enabled,
		Topic:      cfg.Kafka.NotificationTopic,
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.MaxRetries,
	}, logr)
	cleanup := service.NewCleanupService(sessionRepo, refreshRepo, attemptRepo, audit, blacklist, metrics, logr, service.CleanupConfig{
		SessionGrace:     cfg.Cleanup.SessionGrace,
		AttemptRetention: cfg.Cleanup.AttemptRetention,
	})

	authService := service.NewAuthService(service.AuthDependencies{
		Credentials:   credentialRepo,
		Hasher:        hasher,
		Security:      security,
		Lockout:       gate,
		Sessions:      sessions,
		Tokens:        tokens,
		Blacklist:     blacklist,
		Audit:         audit,
		Notifications: notifier,
		Metrics:       metrics,
	}, validate, logr, service.AuthConfig{RejectBots: cfg.RateLimit.RejectBots})

	accounts := service.NewAccountService(credentialRepo, hasher, sessions, audit, validate, logr)

	router, err := newRouter(cfg, logr, routerDeps{
		auth:     handler.NewAuthHandler(authService),
		account:  handler.NewAccountHandler(accounts),
		audit:    handler.NewAuditHandler(audit, service.NewAuditExportService(audit, logr)),
		health:   handler.NewMetricsHandler(metrics, map[string]handler.ReadinessCheck{"postgres": db.PingContext, "redis": cacheRepo.Ping}),
		authn:    authService,
		recorder: audit,
		metrics:  metrics,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Cleanup.Enabled {
		g.Go(func() error {
			return cleanup.Start(gctx, cfg.Cleanup.Interval)
		})
	}

	notifier.Start(gctx)
	defer notifier.Stop()

	return g.Wait()
}
