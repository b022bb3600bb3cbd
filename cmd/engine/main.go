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
	"go.uber.org/zap"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/audit"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/handler"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/infra"
	infraauth "github.com/keovoin/wing-cash-movement-system-sub000/internal/infra/auth"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/notify"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/policy"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/repository/postgres"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/server"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/service"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/workflow"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	// Контекст жизненного цикла фоновых горутин:
	// SIGTERM останавливает слушателей через cancel()
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Таблицы workflow: валидация покрытия порогов — прямо на старте.
	// Дефектный конфиг не должен дожить до первой заявки.
	table, err := workflow.NewThresholdTable(
		cfg.Workflow.Thresholds,
		cfg.Workflow.Templates,
		cfg.Workflow.SLAMinutes,
		cfg.Workflow.DefaultSLAMinutes,
	)
	if err != nil {
		logger.Fatal("workflow configuration rejected", zap.Error(err))
	}
	logger.Info("workflow tables loaded",
		zap.String("version", cfg.Workflow.Version),
		zap.Int("templates", len(cfg.Workflow.Templates)),
		zap.Int("thresholds", len(cfg.Workflow.Thresholds)))

	// 3. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	repo, err := postgres.NewRequestRepo(appCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	defer repo.Close()

	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	if err := repo.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	// 4. Метрики
	reg := prometheus.NewRegistry()
	metrics := workflow.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics endpoint failed", zap.Error(err))
		}
	}()

	// 5. Control Plane: заморозка отделений
	freeze := service.NewFreezeManager(rdb, repo, logger)
	if err := freeze.Init(appCtx); err != nil {
		logger.Fatal("freeze manager init failed", zap.Error(err))
	}
	go freeze.StartListener(appCtx)

	// Identity-кэш: роли операторов из Postgres в память
	directory := policy.NewMemoDirectory(repo, logger)
	if err := directory.Refresh(appCtx); err != nil {
		logger.Fatal("identity cache warmup failed", zap.Error(err))
	}
	go directory.StartListener(appCtx, rdb)

	// 6. Аудит решений: асинхронный батчер поверх Postgres
	trail := audit.NewTrail(repo, logger, cfg.Engine.AuditBufferSize, cfg.Engine.AuditFlushInterval)
	trail.Start()

	// Уведомления: fire-and-forget в Redis через Reliability-обертку
	notifier := notify.NewRedisNotifier(rdb, notify.ReliabilityOptions{
		CBMaxRequests: uint32(cfg.Engine.CBMaxRequests),
		CBInterval:    cfg.Engine.CBInterval,
		CBTimeout:     cfg.Engine.CBTimeout,
	}, logger)

	// 7. Сборка ядра
	machine := workflow.NewMachine(table)
	requestService := service.NewRequestService(
		repo, machine, directory, notifier, trail, metrics, freeze, logger,
		cfg.Engine.BulkWorkers, cfg.Engine.EscalationRoles,
	)

	// 8. Auth: RS256 ключи обязательны для API
	pubKey, err := infraauth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("public key load failed", zap.Error(err))
	}
	privKey, err := infraauth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("private key load failed", zap.Error(err))
	}
	authService := service.NewAuthService(repo, infraauth.NewBaseValidator(pubKey), privKey, cfg.Auth.TokenTTL)

	// 9. HTTP Server
	srv := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: server.NewServer(
			cfg,
			logger,
			authService,
			handler.NewAuthHandler(authService),
			handler.NewRequestHandler(requestService),
			handler.NewDenominationHandler(workflow.NewReconciler()),
			handler.NewDashboardHandler(requestService),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 10. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("workflow engine started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("workflow engine stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Останавливаем фоновые слушатели и дописываем аудит (Final Flush)
	cancel()
	trail.Stop()
	logger.Info("workflow engine exited properly")
}
