package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"github.com/xela07ax/knowledge-mesh/internal/infra"
	"go.uber.org/zap"
)

// Repository — требования сервиса подписок к хранилищу.
type Repository interface {
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	ListSubscriptionsBySubscriber(ctx context.Context, notebookID string) ([]*domain.Subscription, error)
	CreateSubscriptionValidated(ctx context.Context, sub *domain.Subscription, validate func(edges [][2]string) error) error
	DeleteSubscriptionCascade(ctx context.Context, id string) error
	SetSyncStatus(ctx context.Context, id string, status domain.SyncStatus, reason string) error
	UpdateTopicFilter(ctx context.Context, id, filter string) error
	GetMirrored(ctx context.Context, subscriptionID, sourceEntryID string) (*domain.MirroredContent, error)
}

// AccessGate — контракт к access.Resolver: проверка tier с сокрытием
// существования (ErrNotFound для невидимого, ErrForbidden для недостаточного).
type AccessGate interface {
	Require(ctx context.Context, principalID, notebookID string, required domain.AccessTier) (*domain.Notebook, error)
}

type auditor interface {
	LogSubscriptionCreated(actor, subscriptionID, subscriberID, sourceID string)
	LogSubscriptionRejected(actor, subscriberID, sourceID, reason string)
	LogSubscriptionDeleted(actor, subscriptionID string)
}

// Service — управление жизненным циклом подписок. Сами данные двигает Engine;
// здесь только create/delete/административные мутации с полной валидацией.
type Service struct {
	repo    Repository
	access  AccessGate
	auditor auditor
	rdb     *redis.Client
	cfg     infra.SyncConfig
	logger  *zap.Logger
}

func NewService(repo Repository, access AccessGate, auditor auditor, rdb *redis.Client, cfg infra.SyncConfig, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		access:  access,
		auditor: auditor,
		rdb:     rdb,
		cfg:     cfg,
		logger:  logger.Named("subscription-service"),
	}
}

// CreateParams — входные параметры создания подписки.
type CreateParams struct {
	SubscriberNotebookID string
	SourceNotebookID     string
	Scope                domain.SubscriptionScope
	TopicFilter          string
	DiscountFactor       float64
	PollInterval         time.Duration
}

// Create проводит подписку через полную цепочку проверок. Порядок важен:
// сначала самоподписка, затем видимость источника (чтобы отказ не выдал его
// существования), затем права на подписчика, затем доминирование меток,
// и только под транзакционной блокировкой — дубликат и цикл.
func (s *Service) Create(ctx context.Context, actor string, p CreateParams) (*domain.Subscription, error) {
	if p.SubscriberNotebookID == p.SourceNotebookID {
		return nil, s.reject(actor, p, "self-subscription")
	}
	if !p.Scope.Valid() {
		return nil, domain.PolicyViolationf("unknown scope %q", p.Scope)
	}
	if p.DiscountFactor <= 0 || p.DiscountFactor > 1 {
		return nil, domain.PolicyViolationf("discount factor must be in (0,1], got %v", p.DiscountFactor)
	}

	// Видимость источника проверяется ПЕРВОЙ из access-проверок: если вызывающему
	// источник не положен, он получает тот же 404, что и на несуществующий id.
	sourceNB, err := s.access.Require(ctx, actor, p.SourceNotebookID, domain.TierRead)
	if err != nil {
		return nil, err
	}

	subscriberNB, err := s.access.Require(ctx, actor, p.SubscriberNotebookID, domain.TierAdmin)
	if err != nil {
		return nil, err
	}

	// Инвариант no-read-up: метка подписчика доминирует над меткой источника.
	// Уровень И компартменты — частичный порядок, не только уровень.
	if !subscriberNB.Label.Dominates(sourceNB.Label) {
		return nil, s.reject(actor, p, fmt.Sprintf(
			"subscriber label %s does not dominate source label %s",
			subscriberNB.Label, sourceNB.Label))
	}

	sub := &domain.Subscription{
		ID:                   uuid.NewString(),
		SubscriberNotebookID: p.SubscriberNotebookID,
		SourceNotebookID:     p.SourceNotebookID,
		Scope:                p.Scope,
		TopicFilter:          p.TopicFilter,
		DiscountFactor:       p.DiscountFactor,
		PollInterval:         clamp(p.PollInterval, s.cfg.MinPollInterval, s.cfg.MaxPollInterval),
		SyncStatus:           domain.SyncIdle,
		CreatedBy:            actor,
		CreatedAt:            time.Now(),
	}

	// Дубликат и цикл проверяются по ребрам, прочитанным под advisory-блокировкой
	// в той же транзакции, что и вставка: конкурентное создание не может
	// протащить цикл мимо проверки.
	err = s.repo.CreateSubscriptionValidated(ctx, sub, func(edges [][2]string) error {
		for _, e := range edges {
			if e[0] == p.SubscriberNotebookID && e[1] == p.SourceNotebookID {
				return domain.PolicyViolationf("duplicate subscription edge")
			}
		}
		if reachesViaSubscriptions(edges, p.SourceNotebookID, p.SubscriberNotebookID) {
			return domain.PolicyViolationf("subscription would create a cycle")
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrPolicyViolation) {
			s.auditor.LogSubscriptionRejected(actor, p.SubscriberNotebookID, p.SourceNotebookID, err.Error())
		}
		return nil, err
	}

	s.auditor.LogSubscriptionCreated(actor, sub.ID, sub.SubscriberNotebookID, sub.SourceNotebookID)
	s.logger.Info("subscription created",
		zap.String("id", sub.ID),
		zap.String("subscriber", sub.SubscriberNotebookID),
		zap.String("source", sub.SourceNotebookID),
		zap.String("scope", string(sub.Scope)))
	return sub, nil
}

// Delete каскадно убирает подписку: зеркальный контент, незавершенные джобы.
// Исторические результаты сравнений остаются (они уже легли в агрегаты).
func (s *Service) Delete(ctx context.Context, actor, subscriptionID string) error {
	sub, err := s.authorize(ctx, actor, subscriptionID, domain.TierAdmin)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteSubscriptionCascade(ctx, sub.ID); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	s.auditor.LogSubscriptionDeleted(actor, sub.ID)
	s.logger.Info("subscription deleted", zap.String("id", sub.ID))
	return nil
}

// Get — подписка со статусом, под правом чтения подписчика.
func (s *Service) Get(ctx context.Context, actor, subscriptionID string) (*domain.Subscription, error) {
	return s.authorize(ctx, actor, subscriptionID, domain.TierRead)
}

// List — подписки ноутбука, под правом чтения.
func (s *Service) List(ctx context.Context, actor, notebookID string) ([]*domain.Subscription, error) {
	if _, err := s.access.Require(ctx, actor, notebookID, domain.TierRead); err != nil {
		return nil, err
	}
	return s.repo.ListSubscriptionsBySubscriber(ctx, notebookID)
}

// MirrorEntry — одна зеркальная строка, включая tombstone: админ видит,
// что именно пришло из источника и дошло ли удаление.
func (s *Service) MirrorEntry(ctx context.Context, actor, subscriptionID, sourceEntryID string) (*domain.MirroredContent, error) {
	sub, err := s.authorize(ctx, actor, subscriptionID, domain.TierRead)
	if err != nil {
		return nil, err
	}
	m, err := s.repo.GetMirrored(ctx, sub.ID, sourceEntryID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

// UpdateTopicFilter — админ-мутация. Фильтр применится со следующего цикла;
// уже отзеркаленные записи не трогаем.
func (s *Service) UpdateTopicFilter(ctx context.Context, actor, subscriptionID, filter string) error {
	sub, err := s.authorize(ctx, actor, subscriptionID, domain.TierAdmin)
	if err != nil {
		return err
	}
	return s.repo.UpdateTopicFilter(ctx, sub.ID, filter)
}

// Resume возвращает suspended-подписку в планирование. Вызывается админом
// после устранения причины (поднятый допуск, пониженная метка источника);
// если причина не устранена, ближайший цикл снова заморозит подписку.
func (s *Service) Resume(ctx context.Context, actor, subscriptionID string) error {
	sub, err := s.authorize(ctx, actor, subscriptionID, domain.TierAdmin)
	if err != nil {
		return err
	}
	if sub.SyncStatus != domain.SyncSuspended {
		return domain.PolicyViolationf("subscription %s is not suspended", sub.ID)
	}
	if err := s.repo.SetSyncStatus(ctx, sub.ID, domain.SyncIdle, ""); err != nil {
		return err
	}
	s.logger.Info("subscription resumed", zap.String("id", sub.ID), zap.String("actor", actor))
	return nil
}

// ForceSync будит движок немедленно, не дожидаясь интервала опроса.
func (s *Service) ForceSync(ctx context.Context, actor, subscriptionID string) error {
	sub, err := s.authorize(ctx, actor, subscriptionID, domain.TierReadWrite)
	if err != nil {
		return err
	}
	if !sub.Syncable() {
		return domain.ErrSubscriptionSuspended
	}
	if err := s.rdb.Publish(ctx, infra.RedisChanSyncWakeup, sub.ID).Err(); err != nil {
		return fmt.Errorf("force sync signal: %w", err)
	}
	s.logger.Info("force sync requested", zap.String("id", sub.ID), zap.String("actor", actor))
	return nil
}

// authorize загружает подписку и проверяет tier вызывающего на ноутбуке-подписчике.
// Несуществующая подписка и подписка невидимого ноутбука неразличимы (404).
func (s *Service) authorize(ctx context.Context, actor, subscriptionID string, required domain.AccessTier) (*domain.Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrNotFound
	}
	if _, err := s.access.Require(ctx, actor, sub.SubscriberNotebookID, required); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) reject(actor string, p CreateParams, reason string) error {
	s.auditor.LogSubscriptionRejected(actor, p.SubscriberNotebookID, p.SourceNotebookID, reason)
	return domain.PolicyViolationf("%s", reason)
}

// reachesViaSubscriptions — итеративный BFS по ребрам subscriber->source:
// true, если from дотягивается до target. Применяется к проверке цикла:
// новое ребро (subscriber -> source) замыкает цикл, когда source уже
// достигает subscriber.
func reachesViaSubscriptions(edges [][2]string, from, target string) bool {
	adj := make(map[string][]string, len(edges))
	for _, e := range edges {
		adj[e[0]] = append(adj[e[0]], e[1])
	}

	visited := map[string]struct{}{from: {}}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == target {
			return true
		}
		for _, next := range adj[cur] {
			if _, seen := visited[next]; !seen {
				visited[next] = struct{}{}
				queue = append(queue, next)
			}
		}
	}
	return false
}

func clamp(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
