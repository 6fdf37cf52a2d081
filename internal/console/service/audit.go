package service

import (
	"context"

	"github.com/xela07ax/knowledge-mesh/internal/audit"
	"github.com/xela07ax/knowledge-mesh/internal/repository/postgres"
)

type AuditProvider interface {
	FetchEvents(ctx context.Context, q postgres.AuditQuery) ([]audit.Event, error)
}

// AuditService — read-only доступ к журналу для админского API.
// Запись идет только через audit.Recorder, сервис консоли в журнал не пишет.
type AuditService struct {
	repo AuditProvider
}

func NewAuditService(repo AuditProvider) *AuditService {
	return &AuditService{repo: repo}
}

func (s *AuditService) FetchEvents(ctx context.Context, q postgres.AuditQuery) ([]audit.Event, error) {
	return s.repo.FetchEvents(ctx, q)
}
