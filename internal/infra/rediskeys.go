package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "kmesh"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanClearanceInvalidate — широковещательная инвалидация кэша допусков.
	// Payload: "principal_id:org_id" либо "*" для FlushAll (incident response).
	RedisChanClearanceInvalidate = RedisNamespace + ":clearances:invalidate"

	// RedisChanSyncWakeup — форс-синк конкретной подписки. Payload: subscription_id.
	RedisChanSyncWakeup = RedisNamespace + ":subscriptions:wakeup"

	// RedisChanLabelChange — сигнал об изменении метки ноутбука.
	// Движок немедленно переоценивает доминирование по затронутым подпискам.
	RedisChanLabelChange = RedisNamespace + ":notebooks:label-change"

	// RedisChanGroupRefresh — изменение DAG групп (ребра/метки), слушатели
	// перечитывают adjacency из Postgres.
	RedisChanGroupRefresh = RedisNamespace + ":groups:refresh"
)

// GetSyncLockKey Генератор ключей для распределенных блокировок цикла синка
func GetSyncLockKey(subscriptionID string) string {
	return fmt.Sprintf("%s:lock:sync:%s", RedisNamespace, subscriptionID)
}
