package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/domain"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/infra"
)

// Directory — граница Identity/Policy. Движок никогда не смотрит в
// credentials напрямую: ему нужны только роль актора и право override.
type Directory interface {
	RoleOf(ctx context.Context, actorID string) (string, error)
	CanOverride(ctx context.Context, actorID string) (bool, error)
}

// UserRepository описывает требования к хранилищу операторов
type UserRepository interface {
	ListUsers(ctx context.Context) ([]*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// MemoDirectory — потокобезопасный in-memory кэш ролей операторов.
// Синхронизируется с БД через Refresh, в рантайме переходы заявок
// обращаются только к памяти (Hot Path не ходит в Postgres).
type MemoDirectory struct {
	mu sync.RWMutex
	// Кэш: actor_id -> Actor
	actors map[string]domain.Actor

	repo   UserRepository // Используется для Refresh() и cache miss
	logger *zap.Logger
}

func NewMemoDirectory(repo UserRepository, logger *zap.Logger) *MemoDirectory {
	return &MemoDirectory{
		actors: make(map[string]domain.Actor),
		repo:   repo,
		logger: logger.Named("directory"),
	}
}

// Refresh выполняет «холодную загрузку» всех операторов из PostgreSQL
// в память (при старте и по сигналу обновления).
func (d *MemoDirectory) Refresh(ctx context.Context) error {
	users, err := d.repo.ListUsers(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]domain.Actor, len(users))
	for _, u := range users {
		next[u.ID] = domain.Actor{ID: u.ID, Role: u.Role, CanOverride: u.CanOverride}
	}

	d.mu.Lock()
	d.actors = next
	d.mu.Unlock()

	d.logger.Info("identity cache refreshed", zap.Int("count", len(next)))
	return nil
}

// StartListener — «живучая» подписка на сигнал обновления справочника.
// Back-office публикует сигнал при смене ролей; каждый инстанс перечитывает
// весь кэш из базы. При переподключении синхронизация выполняется тоже —
// пропущенные сигналы не теряются.
func (d *MemoDirectory) StartListener(ctx context.Context, rdb *redis.Client) {
	for {
		pubsub := rdb.Subscribe(ctx, infra.RedisChanDirectoryUpdate)

		if _, err := pubsub.Receive(ctx); err != nil {
			d.logger.Error("failed to subscribe", zap.Error(err))
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		if err := d.Refresh(ctx); err != nil {
			d.logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case _, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				if err := d.Refresh(ctx); err != nil {
					d.logger.Error("identity cache refresh failed", zap.Error(err))
				}
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}

func (d *MemoDirectory) lookup(ctx context.Context, actorID string) (domain.Actor, error) {
	d.mu.RLock()
	actor, ok := d.actors[actorID]
	d.mu.RUnlock()
	if ok {
		return actor, nil
	}

	// Cache miss: новый оператор мог появиться после прогрева
	user, err := d.repo.GetUserByID(ctx, actorID)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: identity lookup: %v", domain.ErrDependencyUnavailable, err)
	}
	if user == nil {
		// Неизвестный актор — запрет по умолчанию (Zero Trust)
		return domain.Actor{}, fmt.Errorf("%w: unknown actor %q", domain.ErrNotAuthorized, actorID)
	}

	actor = domain.Actor{ID: user.ID, Role: user.Role, CanOverride: user.CanOverride}
	d.mu.Lock()
	d.actors[actorID] = actor
	d.mu.Unlock()
	return actor, nil
}

func (d *MemoDirectory) RoleOf(ctx context.Context, actorID string) (string, error) {
	actor, err := d.lookup(ctx, actorID)
	if err != nil {
		return "", err
	}
	return actor.Role, nil
}

func (d *MemoDirectory) CanOverride(ctx context.Context, actorID string) (bool, error) {
	actor, err := d.lookup(ctx, actorID)
	if err != nil {
		return false, err
	}
	return actor.CanOverride, nil
}
