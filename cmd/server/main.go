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

	"golang.org/x/crypto/bcrypt"

	"github.com/thechillpixel0/tallyra/internal/cache"
	"github.com/thechillpixel0/tallyra/internal/config"
	"github.com/thechillpixel0/tallyra/internal/domain"
	"github.com/thechillpixel0/tallyra/internal/httpapi"
	"github.com/thechillpixel0/tallyra/internal/logger"
	"github.com/thechillpixel0/tallyra/internal/service"
	"github.com/thechillpixel0/tallyra/internal/store"
	"github.com/thechillpixel0/tallyra/internal/store/memory"
	pgstore "github.com/thechillpixel0/tallyra/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogPretty)
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid security configuration")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("schema migration failed")
		}
		if err := bootstrapShop(ctx, pg, cfg); err != nil {
			log.Fatal().Err(err).Msg("shop bootstrap failed")
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info().Msg("repository: postgres")
	} else {
		seeded, err := memory.NewSeeded(cfg.OwnerPasscode, cfg.StaffPasscode)
		if err != nil {
			log.Fatal().Err(err).Msg("seed in-memory store")
		}
		repo = seeded
		log.Info().Str("shop_id", memory.DemoShopID).Msg("repository: in-memory")
	}

	catalog := cache.CatalogCache(cache.NoopCatalogCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCatalogCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using noop catalog cache")
			_ = redisCache.Close()
		} else {
			catalog = redisCache
			closers = append(closers, redisCache.Close)
			log.Info().Str("addr", cfg.RedisAddr).Msg("cache: redis")
		}
	} else {
		log.Info().Msg("cache: noop")
	}

	svc := service.New(repo, catalog, service.Options{CatalogTTL: cfg.CatalogCacheTTL(), Logger: log})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL())
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:          cfg.AllowedOrigin,
		LoginAttemptsPerMinute: cfg.LoginAttemptsPerMinute,
		ResetDelay:             cfg.CommittedResetDelay(),
		Logger:                 log,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Msg("tallyra backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
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

// bootstrapShop creates the configured shop on first start. An existing shop
// is left as is, including its passcode.
func bootstrapShop(ctx context.Context, pg *pgstore.Store, cfg config.Config) error {
	if cfg.OwnerPasscode == "" {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.OwnerPasscode), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = pg.EnsureShop(ctx, domain.Shop{
		ID:                 cfg.DefaultShopID,
		Name:               cfg.ShopName,
		MasterPasscodeHash: string(hash),
		UPIID:              cfg.ShopUPIID,
	})
	return err
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.DatabaseURL == "" && cfg.OwnerPasscode == "" {
		return fmt.Errorf("OWNER_PASSCODE must be set when running without DATABASE_URL")
	}
	if cfg.OwnerPasscode != "" {
		if err := validatePasscodeStrength(cfg.OwnerPasscode); err != nil {
			return fmt.Errorf("OWNER_PASSCODE is too weak: %w", err)
		}
	}
	if cfg.StaffPasscode != "" {
		if err := validatePasscodeStrength(cfg.StaffPasscode); err != nil {
			return fmt.Errorf("STAFF_PASSCODE is too weak: %w", err)
		}
		if cfg.StaffPasscode == cfg.OwnerPasscode {
			return fmt.Errorf("STAFF_PASSCODE must differ from OWNER_PASSCODE")
		}
	}
	return nil
}

// validatePasscodeStrength rejects short or non-numeric passcodes, and
// passcodes that are all one digit or a straight run such as 1234 or 9876.
func validatePasscodeStrength(code string) error {
	if len(code) < 4 || len(code) > 32 {
		return fmt.Errorf("passcode must be 4 to 32 digits")
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return fmt.Errorf("passcode must be numeric")
		}
	}

	allSame := true
	for i := 1; i < len(code); i++ {
		if code[i] != code[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit passcode not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(code); i++ {
		diff := int(code[i]) - int(code[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential passcode not allowed")
	}
	return nil
}
