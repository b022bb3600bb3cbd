package main

/*
slawatch — внешний планировщик SLA. Движок сам по себе не эскалирует:
«эскалировать по прорыву SLA» — это решение вызывающего, не трекера.
Планировщик опрашивает активные заявки, и для каждой просроченной берет
распределенную блокировку в Redis (SetNX): при нескольких инстансах
slawatch эскалацию конкретной заявки выполняет только один.
*/

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/audit"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/infra"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/notify"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/policy"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/repository/postgres"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/service"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/workflow"
)

// escalationLockTTL держит замок дольше интервала опроса, чтобы
// конкурирующий инстанс не повторил эскалацию на следующем тике.
const escalationLockTTL = 10 * time.Minute

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()
	logger = logger.Named("slawatch")

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	table, err := workflow.NewThresholdTable(
		cfg.Workflow.Thresholds,
		cfg.Workflow.Templates,
		cfg.Workflow.SLAMinutes,
		cfg.Workflow.DefaultSLAMinutes,
	)
	if err != nil {
		logger.Fatal("workflow configuration rejected", zap.Error(err))
	}

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

	freeze := service.NewFreezeManager(rdb, repo, logger)
	directory := policy.NewMemoDirectory(repo, logger)
	trail := audit.NewTrail(repo, logger, cfg.Engine.AuditBufferSize, cfg.Engine.AuditFlushInterval)
	trail.Start()

	notifier := notify.NewRedisNotifier(rdb, notify.ReliabilityOptions{
		CBMaxRequests: uint32(cfg.Engine.CBMaxRequests),
		CBInterval:    cfg.Engine.CBInterval,
		CBTimeout:     cfg.Engine.CBTimeout,
	}, logger)

	requestService := service.NewRequestService(
		repo, workflow.NewMachine(table), directory, notifier, trail,
		workflow.NewMetrics(nil), freeze, logger,
		cfg.Engine.BulkWorkers, cfg.Engine.EscalationRoles,
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Engine.SLAPollInterval)
	defer ticker.Stop()

	logger.Info("SLA watcher started",
		zap.Duration("poll_interval", cfg.Engine.SLAPollInterval),
		zap.Strings("escalation_roles", cfg.Engine.EscalationRoles))

	for {
		select {
		case <-stop:
			logger.Info("SLA watcher stopping...")
			cancel()
			trail.Stop()
			return
		case <-ticker.C:
			sweep(appCtx, logger, rdb, requestService)
		}
	}
}

// sweep — один проход: найти просроченные, эскалировать под Redis-замком.
func sweep(ctx context.Context, logger *zap.Logger, rdb *redis.Client, svc *service.RequestService) {
	var overdue []string

	// База может моргнуть между тиками — опрос ретраим с бэкоффом
	err := retry.New(retry.Context(ctx), retry.Attempts(3)).Do(func() error {
		var pollErr error
		overdue, pollErr = svc.ActiveOverdue(ctx)
		return pollErr
	})
	if err != nil {
		logger.Error("overdue poll failed", zap.Error(err))
		return
	}
	if len(overdue) == 0 {
		return
	}

	logger.Info("overdue requests detected", zap.Int("count", len(overdue)))

	for _, id := range overdue {
		lockKey := infra.GetEscalationLockKey(id)
		ok, err := rdb.SetNX(ctx, lockKey, "processing", escalationLockTTL).Result()
		if err != nil {
			logger.Warn("escalation lock unavailable", zap.String("request_id", id), zap.Error(err))
			continue
		}
		if !ok {
			continue // Другой инстанс уже занимается этой заявкой
		}

		if _, err := svc.AutoEscalate(ctx, id); err != nil {
			logger.Error("auto-escalation failed", zap.String("request_id", id), zap.Error(err))
			// Снимаем замок, чтобы следующий проход мог повторить
			rdb.Del(ctx, lockKey)
		}
	}
}
