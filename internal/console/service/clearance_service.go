package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/knowledge-mesh/internal/access"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"go.uber.org/zap"
)

// ClearanceRepo — мутации допусков в авторитетном хранилище.
type ClearanceRepo interface {
	UpsertClearance(ctx context.Context, c *domain.Clearance) error
	DeleteClearance(ctx context.Context, principalID, orgID string) error
}

// cacheControl — локальный кэш допусков этого процесса.
type cacheControl interface {
	Evict(key domain.ClearanceKey)
	FlushAll()
}

type clearanceAuditor interface {
	LogClearanceGrant(actor, principalID, orgID, label string)
	LogClearanceRevoke(actor, principalID, orgID string)
	LogClearanceFlushAll(actor string)
}

// ClearanceService — grant/revoke с гарантией немедленной локальной эвикции:
// сначала пишем в Postgres, затем синхронно чистим СВОЙ кэш (до ответа
// клиенту), затем рассылаем сигнал остальным инстансам. Чужие инстансы
// ограничены TTL кэша даже при потере сигнала.
type ClearanceService struct {
	repo    ClearanceRepo
	cache   cacheControl
	bus     access.InvalidationBus
	auditor clearanceAuditor
	logger  *zap.Logger
}

func NewClearanceService(repo ClearanceRepo, cache cacheControl, bus access.InvalidationBus, auditor clearanceAuditor, logger *zap.Logger) *ClearanceService {
	return &ClearanceService{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		auditor: auditor,
		logger:  logger.Named("clearance-service"),
	}
}

func (s *ClearanceService) Grant(ctx context.Context, actor, principalID, orgID string, label domain.SecurityLabel) error {
	c := &domain.Clearance{
		PrincipalID: principalID,
		OrgID:       orgID,
		MaxLabel:    label,
		GrantedBy:   actor,
		CreatedAt:   time.Now(),
	}
	if err := s.repo.UpsertClearance(ctx, c); err != nil {
		return fmt.Errorf("grant clearance: %w", err)
	}
	s.invalidate(ctx, c.Key())
	s.auditor.LogClearanceGrant(actor, principalID, orgID, label.String())
	s.logger.Info("clearance granted",
		zap.String("principal", principalID), zap.String("org", orgID), zap.String("label", label.String()))
	return nil
}

func (s *ClearanceService) Revoke(ctx context.Context, actor, principalID, orgID string) error {
	if err := s.repo.DeleteClearance(ctx, principalID, orgID); err != nil {
		return fmt.Errorf("revoke clearance: %w", err)
	}
	s.invalidate(ctx, domain.ClearanceKey{PrincipalID: principalID, OrgID: orgID})
	s.auditor.LogClearanceRevoke(actor, principalID, orgID)
	s.logger.Info("clearance revoked",
		zap.String("principal", principalID), zap.String("org", orgID))
	return nil
}

// FlushAll — аварийный сброс кэша допусков во всех инстансах (incident response).
func (s *ClearanceService) FlushAll(ctx context.Context, actor string) error {
	s.cache.FlushAll()
	if err := s.bus.BroadcastFlushAll(ctx); err != nil {
		// Локальный кэш уже чист, соседи дочистятся по TTL
		s.logger.Error("flush-all broadcast failed", zap.Error(err))
	}
	s.auditor.LogClearanceFlushAll(actor)
	return nil
}

func (s *ClearanceService) invalidate(ctx context.Context, key domain.ClearanceKey) {
	s.cache.Evict(key)
	if err := s.bus.BroadcastEvict(ctx, key); err != nil {
		s.logger.Error("evict broadcast failed",
			zap.String("principal", key.PrincipalID), zap.String("org", key.OrgID), zap.Error(err))
	}
}
