package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"github.com/xela07ax/knowledge-mesh/internal/infra"
	"github.com/xela07ax/knowledge-mesh/internal/source"
	"go.uber.org/zap"
)

// NotebookRepo — мутации классификации и чтение зеркального хранилища.
type NotebookRepo interface {
	UpdateNotebookLabel(ctx context.Context, id string, label domain.SecurityLabel) error
	ListLiveMirrored(ctx context.Context, subscriberNotebookID string) ([]domain.MirroredContent, error)
}

// AccessGate дублируется из пакета subscription намеренно: консоль зависит
// от контракта, а не от чужого пакета сервиса.
type AccessGate interface {
	Require(ctx context.Context, principalID, notebookID string, required domain.AccessTier) (*domain.Notebook, error)
}

type notebookAuditor interface {
	LogLabelChange(actor, notebookID, oldLabel, newLabel string)
}

// NotebookService — операции над контейнером: смена классификации и отдача
// фида записей (серверная сторона sync-протокола для удаленных подписчиков).
type NotebookService struct {
	repo    NotebookRepo
	access  AccessGate
	feed    *source.LocalSource
	auditor notebookAuditor
	rdb     *redis.Client
	logger  *zap.Logger
}

func NewNotebookService(repo NotebookRepo, access AccessGate, feed *source.LocalSource, auditor notebookAuditor, rdb *redis.Client, logger *zap.Logger) *NotebookService {
	return &NotebookService{
		repo:    repo,
		access:  access,
		feed:    feed,
		auditor: auditor,
		rdb:     rdb,
		logger:  logger.Named("notebook-service"),
	}
}

// ChangeLabel меняет классификацию ноутбука (админ-операция) и будит
// переоценку всех подписок на него. Повышение метки источника приводит
// к заморозке подписок, чьи подписчики перестали доминировать.
func (s *NotebookService) ChangeLabel(ctx context.Context, actor, notebookID string, label domain.SecurityLabel) error {
	nb, err := s.access.Require(ctx, actor, notebookID, domain.TierAdmin)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateNotebookLabel(ctx, notebookID, label); err != nil {
		return fmt.Errorf("change label: %w", err)
	}
	s.auditor.LogLabelChange(actor, notebookID, nb.Label.String(), label.String())
	if err := s.rdb.Publish(ctx, infra.RedisChanLabelChange, notebookID).Err(); err != nil {
		// Сигнал потерян — подписки переоценятся на своем ближайшем цикле
		s.logger.Error("label change signal failed", zap.String("notebook_id", notebookID), zap.Error(err))
	}
	s.logger.Info("notebook label changed",
		zap.String("notebook_id", notebookID),
		zap.String("old", nb.Label.String()), zap.String("new", label.String()))
	return nil
}

// GetLabel — текущая классификация. Достаточно existence-tier: метку видно
// тем, кому видно сам ноутбук.
func (s *NotebookService) GetLabel(ctx context.Context, actor, notebookID string) (domain.SecurityLabel, error) {
	nb, err := s.access.Require(ctx, actor, notebookID, domain.TierExistence)
	if err != nil {
		return domain.SecurityLabel{}, err
	}
	return nb.Label, nil
}

// Mirror — живой зеркальный контент всех подписок ноутбука. Tombstone-строки
// не отдаются; suspended-подписки остаются в выдаче (их данные заморожены,
// но читаемы).
func (s *NotebookService) Mirror(ctx context.Context, actor, notebookID string) ([]domain.MirroredContent, error) {
	if _, err := s.access.Require(ctx, actor, notebookID, domain.TierRead); err != nil {
		return nil, err
	}
	return s.repo.ListLiveMirrored(ctx, notebookID)
}

// Feed — порция изменений с sequence > since для удаленного подписчика.
func (s *NotebookService) Feed(ctx context.Context, actor, notebookID string, since int64, limit int) ([]domain.SourceItem, error) {
	if _, err := s.access.Require(ctx, actor, notebookID, domain.TierRead); err != nil {
		return nil, err
	}
	return s.feed.FetchSince(ctx, notebookID, since, limit)
}
