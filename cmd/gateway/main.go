package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/loomworks/fabricgate/internal/app"
	"github.com/loomworks/fabricgate/internal/auth"
	"github.com/loomworks/fabricgate/internal/cache"
	"github.com/loomworks/fabricgate/internal/database"
	"github.com/loomworks/fabricgate/internal/gateway"
	"github.com/loomworks/fabricgate/internal/middleware"
	"github.com/loomworks/fabricgate/internal/policy"
	"github.com/loomworks/fabricgate/internal/services"
	"github.com/loomworks/fabricgate/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fabricgate-gateway", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithComponent("gateway-bootstrap")

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		return errors.New("auth.jwt.secret must be configured")
	}

	db, err := database.Open(cfg.DatabaseSettings())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer closeDatabase(db, log)

	store, cleanup, err := buildCacheStore(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	registrySource, err := policy.NewGormRegistrySource(db)
	if err != nil {
		return fmt.Errorf("initialise registry source: %w", err)
	}
	permissionSource, err := policy.NewGormPermissionSource(db)
	if err != nil {
		return fmt.Errorf("initialise permission source: %w", err)
	}

	policyCache := policy.NewCache(store, registrySource, permissionSource, cfg.CacheTTLSettings(), logger.WithComponent("policy-cache"))

	auditSvc, err := services.NewAuditService(db, cfg.Audit.QueueSize, logger.WithComponent("audit"))
	if err != nil {
		return fmt.Errorf("initialise audit service: %w", err)
	}
	defer auditSvc.Close()

	engine := policy.NewEngine(policyCache, auditSvc, logger.WithComponent("policy-engine"))

	verifier, err := auth.NewJWTVerifier(cfg.JWTVerifierSettings())
	if err != nil {
		return fmt.Errorf("initialise token verifier: %w", err)
	}

	proxy, err := gateway.NewProxy(cfg.Gateway.Upstream)
	if err != nil {
		return fmt.Errorf("build upstream proxy: %w", err)
	}

	filter := gateway.NewFilter(verifier, engine, cfg.Gateway.PublicPaths)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.Metrics())
	router.Use(filter.Handler())
	router.NoRoute(proxy)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("gateway listening",
			zap.String("addr", server.Addr),
			zap.String("upstream", cfg.Gateway.Upstream),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("gateway error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("gateway error: %w", err)
	}

	log.Info("gateway stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func buildCacheStore(cfg *app.Config, log *zap.Logger) (cache.Store, func(), error) {
	local, err := cache.NewLocalStore(cfg.LocalCacheSettings())
	if err != nil {
		return nil, nil, fmt.Errorf("initialise local cache: %w", err)
	}

	if !cfg.Cache.Redis.Enabled {
		return local, local.Close, nil
	}

	remote, err := cache.NewRedisStore(cfg.RedisSettings())
	if err != nil {
		log.Warn("redis unavailable; running with local cache only", zap.Error(err))
		return local, local.Close, nil
	}
	log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))

	tiered := cache.NewTiered(local, remote, cfg.Cache.LocalTTL)
	cleanup := func() {
		_ = remote.Close()
		local.Close()
	}
	return tiered, cleanup, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
