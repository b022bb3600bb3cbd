package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "wingcm"
)

// Ключи для Sets (состояние)
const (
	RedisKeyFrozenBranches   = RedisNamespace + ":branches:frozen_set"
	RedisKeyLockFrozenWarmup = RedisNamespace + ":lock:warmup:frozen"
	RedisKeyLockEscalation   = RedisNamespace + ":escalation:lock:" // + request_id
)

// Каналы Pub/Sub (события)
const (
	// RedisChanRequestEvents — канал fire-and-forget уведомлений о переходах этапов.
	RedisChanRequestEvents = RedisNamespace + ":requests:events"
	// RedisChanBranchFreeze — сигналы заморозки/разморозки отделений ("BR-001:on").
	RedisChanBranchFreeze = RedisNamespace + ":branches:freeze-signal"
	// RedisChanDirectoryUpdate — сигнал перечитать справочник операторов
	// (публикуется back-office при изменении ролей).
	RedisChanDirectoryUpdate = RedisNamespace + ":operators:directory-update"
)

// GetEscalationLockKey — ключ распределенной блокировки авто-эскалации заявки.
// Гарантирует, что из нескольких инстансов slawatch эскалирует только один.
func GetEscalationLockKey(requestID string) string {
	return fmt.Sprintf("%s%s", RedisKeyLockEscalation, requestID)
}
