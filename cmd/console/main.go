package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/knowledge-mesh/internal/access"
	"github.com/xela07ax/knowledge-mesh/internal/audit"
	"github.com/xela07ax/knowledge-mesh/internal/compare"
	"github.com/xela07ax/knowledge-mesh/internal/console/handler"
	"github.com/xela07ax/knowledge-mesh/internal/console/server"
	"github.com/xela07ax/knowledge-mesh/internal/console/service"
	"github.com/xela07ax/knowledge-mesh/internal/directory"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"github.com/xela07ax/knowledge-mesh/internal/infra"
	"github.com/xela07ax/knowledge-mesh/internal/infra/auth"
	"github.com/xela07ax/knowledge-mesh/internal/repository/postgres"
	"github.com/xela07ax/knowledge-mesh/internal/source"
	"github.com/xela07ax/knowledge-mesh/internal/subscription"
	"go.uber.org/zap"
)

// console — admin/API plane: HTTP-поверхность поверх того же Postgres + Redis.
func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	store, err := postgres.NewStore(pingCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("postgres connect failed", zap.Error(err))
	}
	if err := store.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()
	defer store.Close()

	// 3. Ключи RS256
	publicKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key", zap.Error(err))
	}
	privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("auth private key", zap.Error(err))
	}

	// 4. Метрики и аудит
	reg := prometheus.NewRegistry()
	metrics := subscription.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	overflow := audit.NewOverflowLog(cfg.Audit.OverflowPath)
	recorder := audit.NewRecorder(store, overflow, audit.Options{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
	}, metrics.AuditBufferFill, logger)
	recorder.Start()

	// 5. Контур доступа: кэш допусков + DAG групп + резолвер
	cache := access.NewClearanceCache(store, cfg.Access.ClearanceCacheTTL, nil,
		metrics.ClearanceCacheHits, metrics.ClearanceCacheMisses, logger)
	go cache.StartListener(appCtx, rdb)
	bus := access.NewRedisInvalidationBus(rdb)

	groups := directory.NewRegistry(appCtx, store, rdb, logger)
	resolver := access.NewResolver(store, cache, groups, recorder, logger)

	// 6. Бизнес-сервисы
	subService := subscription.NewService(store, resolver, recorder, rdb, cfg.Sync, logger)

	local := source.NewLocalSource(store)
	factory := func(sub *domain.Subscription) (source.ContentSource, error) { return local, nil }
	syncer := subscription.NewSyncer(store, factory, recorder, metrics, cfg.Sync, logger)
	bundler, err := subscription.NewBundler(cfg.Export.SigningKey, cfg.Export.PeerKeys,
		store, syncer, local, recorder, cfg.Sync.BatchSize, logger)
	if err != nil {
		logger.Fatal("bundler init", zap.Error(err))
	}

	pipeline := compare.NewPipeline(store, compare.NewVectorIndex(store), logger)

	authService := service.NewAuthService(store, privateKey, publicKey, cfg.Auth.TokenTTL)
	clearanceService := service.NewClearanceService(store, cache, bus, recorder, logger)
	notebookService := service.NewNotebookService(store, resolver, local, recorder, rdb, logger)
	auditService := service.NewAuditService(store)

	// 7. HTTP-сервер
	srvHandler := server.NewConsoleServer(
		cfg, logger, authService,
		handler.NewAuthHandler(authService),
		handler.NewSubscriptionHandler(subService),
		handler.NewBundleHandler(bundler, resolver),
		handler.NewNotebookHandler(notebookService),
		handler.NewClearanceHandler(clearanceService),
		handler.NewGroupHandler(groups, recorder),
		handler.NewCompareHandler(pipeline, resolver),
		handler.NewAuditHandler(auditService),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srvHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("console api started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("console stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	cancel()
	recorder.Stop()
	logger.Info("console exited properly")
}
