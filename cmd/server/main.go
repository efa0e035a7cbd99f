package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"shopledger/backend/internal/cache"
	"shopledger/backend/internal/config"
	"shopledger/backend/internal/events"
	"shopledger/backend/internal/httpapi"
	"shopledger/backend/internal/lock"
	"shopledger/backend/internal/service"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/store/memory"
	pgstore "shopledger/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				logger.Fatalf("postgres migration failed: %v", err)
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	statsCache, locker, redisCloser := connectRedis(ctx, cfg, logger)
	if redisCloser != nil {
		closers = append(closers, redisCloser)
	}

	var publisher events.Publisher = events.Noop{}
	if cfg.PubSubProjectID != "" {
		ps, err := events.NewPubSub(ctx, cfg.PubSubProjectID, cfg.PubSubTopic, cfg.PubSubCredentialsJSON)
		if err != nil {
			logger.Warnf("pubsub unavailable (%v), events disabled", err)
		} else {
			publisher = ps
			closers = append(closers, ps.Close)
			logger.WithField("topic", cfg.PubSubTopic).Info("events: pubsub")
		}
	} else {
		logger.Info("events: disabled")
	}

	svc := service.New(repo, service.Options{
		Cache:       statsCache,
		StatsTTL:    cfg.StatsCacheTTL,
		Locker:      locker,
		Publisher:   publisher,
		Logger:      logger,
		PhoneRegion: cfg.PhoneRegion,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		CookieSecure:  cfg.CookieSecure,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Infof("shop backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Errorf("close error: %v", err)
		}
	}

	logger.Info("server stopped")
}

// connectRedis backs the stats cache and the owner lock with redis when it is
// configured and reachable, and falls back to in-process versions otherwise.
func connectRedis(ctx context.Context, cfg config.Config, logger *logrus.Logger) (cache.StatsCache, lock.Locker, func() error) {
	if cfg.RedisAddr == "" {
		logger.Info("cache: in-memory, lock: local")
		return cache.NewMemoryStatsCache(), lock.NewLocal(), nil
	}

	client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	redisCache := cache.NewRedisStatsCache(client)
	if err := redisCache.Ping(ctx); err != nil {
		logger.Warnf("redis unavailable (%v), using in-memory cache and local lock", err)
		_ = client.Close()
		return cache.NewMemoryStatsCache(), lock.NewLocal(), nil
	}
	logger.Info("cache: redis, lock: redis")
	return redisCache, lock.NewRedis(client), client.Close
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "*" && cfg.CookieSecure {
		return fmt.Errorf("ALLOWED_ORIGIN must name an origin when cookie sessions are enabled")
	}
	return nil
}
