package access

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"github.com/xela07ax/knowledge-mesh/internal/infra"
	"go.uber.org/zap"
)

// ClearanceStore — авторитетное хранилище допусков (Postgres).
type ClearanceStore interface {
	GetClearance(ctx context.Context, principalID, orgID string) (*domain.Clearance, error)
}

// InvalidationBus — межпроцессная инвалидация кэша. Интерфейс плагинный:
// single-instance деплой обходится синхронной эвикцией, для кластера
// подключается RedisInvalidationBus. Конкретная pub/sub технология
// не зашита в контракт кэша.
type InvalidationBus interface {
	// BroadcastEvict рассылает эвикцию ключа всем инстансам.
	BroadcastEvict(ctx context.Context, key domain.ClearanceKey) error
	// BroadcastFlushAll — аварийный сброс всего кэша (incident response).
	BroadcastFlushAll(ctx context.Context) error
}

// Clock инжектируется ради детерминированных тестов sliding expiration.
type Clock func() time.Time

type cacheEntry struct {
	clearance *domain.Clearance // nil = закэшированное «допуска нет»
	expiresAt time.Time
}

// ClearanceCache — единственная разделяемая мутабельная структура на hot path
// чтения. Sliding TTL задает окно bounded staleness: отозванный допуск
// перестает действовать не позже TTL, а при явной эвикции — немедленно.
type ClearanceCache struct {
	mu      sync.RWMutex
	entries map[domain.ClearanceKey]cacheEntry

	store  ClearanceStore
	ttl    time.Duration
	now    Clock
	logger *zap.Logger

	hits   prometheus.Counter
	misses prometheus.Counter
}

func NewClearanceCache(store ClearanceStore, ttl time.Duration, now Clock, hits, misses prometheus.Counter, logger *zap.Logger) *ClearanceCache {
	if now == nil {
		now = time.Now
	}
	return &ClearanceCache{
		entries: make(map[domain.ClearanceKey]cacheEntry),
		store:   store,
		ttl:     ttl,
		now:     now,
		logger:  logger.Named("clearance-cache"),
		hits:    hits,
		misses:  misses,
	}
}

// Get возвращает допуск из кэша либо из хранилища. Отсутствие допуска тоже
// кэшируется — иначе каждый запрос принципала без допуска бил бы в БД.
func (c *ClearanceCache) Get(ctx context.Context, principalID, orgID string) (*domain.Clearance, error) {
	key := domain.ClearanceKey{PrincipalID: principalID, OrgID: orgID}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && c.now().Before(entry.expiresAt) {
		if c.hits != nil {
			c.hits.Inc()
		}
		return entry.clearance, nil
	}
	if c.misses != nil {
		c.misses.Inc()
	}

	clearance, err := c.store.GetClearance(ctx, principalID, orgID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{clearance: clearance, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return clearance, nil
}

// Evict синхронно убирает запись — вызывается из Grant/Revoke до ответа клиенту.
func (c *ClearanceCache) Evict(key domain.ClearanceKey) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// FlushAll сбрасывает кэш целиком, минуя окно staleness.
func (c *ClearanceCache) FlushAll() {
	c.mu.Lock()
	c.entries = make(map[domain.ClearanceKey]cacheEntry)
	c.mu.Unlock()
	c.logger.Warn("clearance cache flushed entirely")
}

// StartListener принимает широковещательные эвикции от других инстансов.
// Формат payload: "principal_id:org_id" либо "*".
func (c *ClearanceCache) StartListener(ctx context.Context, rdb *redis.Client) {
	infra.ListenResilient(ctx, rdb, c.logger, infra.RedisChanClearanceInvalidate,
		// При переподключении кэш сбрасывается: сигналы могли быть потеряны,
		// а держать потенциально отозванные допуски дольше TTL нельзя.
		func() error { c.FlushAll(); return nil },
		func(payload string) {
			if payload == "*" {
				c.FlushAll()
				return
			}
			parts := strings.SplitN(payload, ":", 2)
			if len(parts) != 2 {
				c.logger.Error("invalid invalidation signal", zap.String("payload", payload))
				return
			}
			c.Evict(domain.ClearanceKey{PrincipalID: parts[0], OrgID: parts[1]})
		},
	)
}

// RedisInvalidationBus — реализация InvalidationBus поверх Redis Pub/Sub.
type RedisInvalidationBus struct {
	rdb *redis.Client
}

func NewRedisInvalidationBus(rdb *redis.Client) *RedisInvalidationBus {
	return &RedisInvalidationBus{rdb: rdb}
}

func (b *RedisInvalidationBus) BroadcastEvict(ctx context.Context, key domain.ClearanceKey) error {
	return b.rdb.Publish(ctx, infra.RedisChanClearanceInvalidate, key.PrincipalID+":"+key.OrgID).Err()
}

func (b *RedisInvalidationBus) BroadcastFlushAll(ctx context.Context) error {
	return b.rdb.Publish(ctx, infra.RedisChanClearanceInvalidate, "*").Err()
}
