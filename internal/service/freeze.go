package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/infra"
)

// FrozenBranchSource — выборка замороженных отделений из персистентного
// хранилища (для прогрева кэша при старте и при переподключении).
type FrozenBranchSource interface {
	GetFrozenBranches(ctx context.Context) ([]string, error)
}

// FreezeManager — локальный кэш заморозки отделений.
// Back-office замораживает отделение (инкассация, ревизия, инцидент) —
// замороженное отделение не может ни подавать заявки, ни принимать решения.
// Состояние живет в трех слоях: Postgres (истина), Redis Set (теплый кэш
// для новых инстансов), RAM (Hot Path проверка на каждом переходе).
type FreezeManager struct {
	mu     sync.RWMutex
	frozen map[string]struct{}

	rdb    *redis.Client
	source FrozenBranchSource
	logger *zap.Logger
}

func NewFreezeManager(rdb *redis.Client, source FrozenBranchSource, logger *zap.Logger) *FreezeManager {
	return &FreezeManager{
		frozen: make(map[string]struct{}),
		rdb:    rdb,
		source: source,
		logger: logger.Named("freeze"),
	}
}

// Init прогревает L1 (RAM) и L2 (Redis) кэши из базы при старте.
func (m *FreezeManager) Init(ctx context.Context) error {
	codes, err := m.source.GetFrozenBranches(ctx)
	if err != nil {
		return fmt.Errorf("freeze warmup failed: %w", err)
	}

	m.setAll(codes)

	// Распределенная блокировка (SetNX): Redis греет только один инстанс
	ok, err := m.rdb.SetNX(ctx, infra.RedisKeyLockFrozenWarmup, "processing", 30*time.Second).Result()
	if err != nil || !ok {
		return nil // Либо сеть, либо другой инстанс уже греет
	}

	count, err := m.rdb.SCard(ctx, infra.RedisKeyFrozenBranches).Result()
	if err != nil {
		count = 0
		m.logger.Warn("could not check Redis set size, proceeding with warm-up", zap.Error(err))
	}

	if count == 0 && len(codes) > 0 {
		m.logger.Info("Redis freeze cache is empty, performing warm-up from DB...",
			zap.Int("count", len(codes)))
		pipe := m.rdb.Pipeline()
		for _, code := range codes {
			pipe.SAdd(ctx, infra.RedisKeyFrozenBranches, code)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *FreezeManager) setAll(codes []string) {
	next := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		next[c] = struct{}{}
	}
	m.mu.Lock()
	m.frozen = next
	m.mu.Unlock()
}

// StartListener — «живучая» подписка на сигналы заморозки.
// Формат сообщения: "BR-001:on" / "BR-001:off". При переподключении
// состояние пересинхронизируется из базы — пропущенные сигналы не теряются.
func (m *FreezeManager) StartListener(ctx context.Context) {
	for {
		pubsub := m.rdb.Subscribe(ctx, infra.RedisChanBranchFreeze)

		if _, err := pubsub.Receive(ctx); err != nil {
			m.logger.Error("failed to subscribe", zap.Error(err))
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		// Синхронизация при каждом успешном коннекте
		if codes, err := m.source.GetFrozenBranches(ctx); err != nil {
			m.logger.Error("sync failed on reconnect", zap.Error(err))
		} else {
			m.setAll(codes)
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				parts := strings.Split(msg.Payload, ":")
				if len(parts) != 2 {
					m.logger.Error("invalid freeze signal format", zap.String("payload", msg.Payload))
					continue
				}

				code := parts[0]
				on := parts[1] == "true" || parts[1] == "on"
				m.apply(code, on)
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}

func (m *FreezeManager) apply(code string, frozen bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if frozen {
		m.frozen[code] = struct{}{}
		m.logger.Warn("branch frozen", zap.String("branch", code))
	} else {
		delete(m.frozen, code)
		m.logger.Info("branch unfrozen", zap.String("branch", code))
	}
}

// IsFrozen проверяется на каждом Submit/Decide — только RAM, без I/O.
func (m *FreezeManager) IsFrozen(branch string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.frozen[branch]
	return ok
}

// Signal публикует сигнал заморозки остальным инстансам и поддерживает
// Redis Set для прогрева будущих.
func (m *FreezeManager) Signal(ctx context.Context, code string, frozen bool) error {
	val := "off"
	if frozen {
		val = "on"
	}
	// Сразу применяем локально: источник сигнала не должен ждать свой же pub/sub
	m.apply(code, frozen)

	if frozen {
		if err := m.rdb.SAdd(ctx, infra.RedisKeyFrozenBranches, code).Err(); err != nil {
			m.logger.Warn("freeze set update failed", zap.Error(err))
		}
	} else {
		if err := m.rdb.SRem(ctx, infra.RedisKeyFrozenBranches, code).Err(); err != nil {
			m.logger.Warn("freeze set update failed", zap.Error(err))
		}
	}

	payload := fmt.Sprintf("%s:%s", code, val)
	return m.rdb.Publish(ctx, infra.RedisChanBranchFreeze, payload).Err()
}
