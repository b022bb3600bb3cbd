package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/domain"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/infra"
)

// Event — уведомление о переходе заявки. Движок только эмитит событие,
// доставкой адресатам (email/push) занимаются подписчики канала.
type Event struct {
	RequestID string               `json:"request_id"`
	Branch    string               `json:"branch"`
	Type      domain.RequestType   `json:"type"`
	Status    domain.RequestStatus `json:"status"`
	StageRole string               `json:"stage_role,omitempty"` // роль нового текущего этапа
	ActorID   string               `json:"actor_id,omitempty"`
	Operation string               `json:"operation"` // submit / decide / escalate / cancel
	Timestamp time.Time            `json:"timestamp"`
}

// Notifier — fire-and-forget граница уведомлений: движок не ждет доставки.
type Notifier interface {
	Notify(event Event)
}

// redisSender — транспорт доставки: публикация в Pub/Sub канал.
type redisSender struct {
	rdb *redis.Client
}

func (s *redisSender) Send(ctx context.Context, payload []byte) error {
	return s.rdb.Publish(ctx, infra.RedisChanRequestEvents, payload).Err()
}

// RedisNotifier публикует события переходов в Redis через ReliableSender
// (лимитер + предохранитель + ретраи). Публикация идет в фоне и не влияет
// на исход перехода: заявка к этому моменту уже сохранена, сбой доставки —
// warn в логе, не ошибка операции.
type RedisNotifier struct {
	sender Sender
	logger *zap.Logger
}

func NewRedisNotifier(rdb *redis.Client, opts ReliabilityOptions, logger *zap.Logger) *RedisNotifier {
	logger = logger.Named("notifier")
	return &RedisNotifier{
		sender: NewReliableSender(&redisSender{rdb: rdb}, opts, logger),
		logger: logger,
	}
}

func (n *RedisNotifier) Notify(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("failed to marshal event", zap.Error(err))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := n.sender.Send(ctx, payload); err != nil {
			// Fail-open: подписчики переживут пропуск, заявка уже в базе
			n.logger.Warn("event delivery failed",
				zap.String("request_id", event.RequestID),
				zap.String("operation", event.Operation),
				zap.Error(err))
			return
		}
		n.logger.Debug("event published",
			zap.String("request_id", event.RequestID),
			zap.String("operation", event.Operation),
			zap.String("status", string(event.Status)))
	}()
}
