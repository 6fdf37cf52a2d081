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
	"github.com/xela07ax/knowledge-mesh/internal/audit"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"github.com/xela07ax/knowledge-mesh/internal/infra"
	"github.com/xela07ax/knowledge-mesh/internal/repository/postgres"
	"github.com/xela07ax/knowledge-mesh/internal/source"
	"github.com/xela07ax/knowledge-mesh/internal/subscription"
	"go.uber.org/zap"
)

// kernel — data plane: движок синхронизации подписок, слушатели сигналов,
// пакетная запись аудита, /metrics.
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

	// Контекст жизни фоновых горутин: SIGTERM останавливает всё
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

	// 3. Метрики
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

	// 4. Аудит: bounded queue -> батчи в Postgres, overflow на диск
	overflow := audit.NewOverflowLog(cfg.Audit.OverflowPath)
	recorder := audit.NewRecorder(store, overflow, audit.Options{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
	}, metrics.AuditBufferFill, logger)
	recorder.Start()

	// 5. Движок синхронизации
	local := source.NewLocalSource(store)
	sources := source.NewRegistry(local, cfg.Sync.Remotes, cfg.Sync.FetchTimeout)
	factory := func(sub *domain.Subscription) (source.ContentSource, error) {
		return sources.For(sub.SourceNotebookID), nil
	}

	syncer := subscription.NewSyncer(store, factory, recorder, metrics, cfg.Sync, logger)
	engine := subscription.NewEngine(store, syncer, rdb, cfg.Sync, metrics, logger)

	engineDone := make(chan struct{})
	go func() {
		engine.Run(appCtx)
		close(engineDone)
	}()

	// 6. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("kernel stopping...")

	cancel()
	// Движок дорабатывает текущие циклы, затем аудит доливает буфер
	select {
	case <-engineDone:
	case <-time.After(30 * time.Second):
		logger.Warn("engine shutdown timed out")
	}
	recorder.Stop()
	logger.Info("kernel exited properly")
}
