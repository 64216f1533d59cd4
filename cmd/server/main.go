package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"freshroute/backend/internal/cache"
	"freshroute/backend/internal/config"
	"freshroute/backend/internal/httpapi"
	"freshroute/backend/internal/logger"
	"freshroute/backend/internal/offer"
	"freshroute/backend/internal/service"
	"freshroute/backend/internal/store"
	"freshroute/backend/internal/store/memory"
	pgstore "freshroute/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Env: cfg.AppEnv, Level: cfg.LogLevel})

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid security configuration")
	}
	if cfg.ManagerPIN == "" {
		log.Warn().Msg("MANAGER_PIN is not set; sale cancellation is disabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, closers := openRepository(ctx, cfg, log)
	carts, cartClosers := openCartStore(ctx, cfg, log)
	closers = append(closers, cartClosers...)

	svc := service.New(repo, service.Options{
		Carts:     carts,
		CartTTL:   cfg.CartSessionTTL,
		OfferRule: offer.Rule{BuyQuantity: cfg.OfferBuyQuantity},
		Location:  cfg.Location(),
		Logger:    log,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Str("timezone", cfg.Location().String()).Msg("freshroute backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}

	log.Info().Msg("server stopped")
}

// openRepository uses Postgres when DATABASE_URL is set and never falls back
// to memory in that case.
func openRepository(ctx context.Context, cfg config.Config, log zerolog.Logger) (store.Repository, []func() error) {
	if cfg.DatabaseURL == "" {
		log.Info().Msg("repository: in-memory")
		return memory.NewSeeded(), nil
	}

	pg, err := pgstore.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		log.Fatal().Err(err).Msg("apply schema")
	}
	log.Info().Int32("max_conns", cfg.DBMaxConns).Msg("repository: postgres")
	return pg, []func() error{func() error { pg.Close(); return nil }}
}

// openCartStore prefers Redis and degrades to process memory when Redis is
// unreachable at startup.
func openCartStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (cache.CartStore, []func() error) {
	if cfg.RedisAddr == "" {
		log.Info().Msg("cart store: local")
		return cache.NewLocalCartStore(), nil
	}

	redisCarts := cache.NewRedisCartStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCarts.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, using local cart store")
		_ = redisCarts.Close()
		return cache.NewLocalCartStore(), nil
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("cart store: redis")
	return redisCarts, []func() error{redisCarts.Close}
}

// validateSecurityConfig requires a long signing secret. MANAGER_PIN may be
// left unset outside production, which disables cancellation.
func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.ManagerPIN == "" {
		if cfg.AppEnv == "production" {
			return fmt.Errorf("MANAGER_PIN must be set in production")
		}
		return nil
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be at least 6 digits")
	}
	for _, r := range cfg.ManagerPIN {
		if r < '0' || r > '9' {
			return fmt.Errorf("MANAGER_PIN must contain digits only")
		}
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that repeat one digit, run in sequence,
// or appear on the common-PIN list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "121212": true, "112233": true,
		"123123": true, "123321": true, "696969": true, "159753": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
