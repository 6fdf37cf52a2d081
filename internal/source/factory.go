package source

import (
	"sync"
	"time"

	"github.com/xela07ax/knowledge-mesh/internal/infra"
)

// Registry выбирает транспорт по ноутбуку-источнику: перечисленные в конфиге
// удаленные деплои идут через HTTPSource с обвязкой надежности, остальные —
// через локальный Postgres. Удаленные обертки кэшируются: у каждой свой
// circuit breaker и rate limiter, общие для всех подписок на этот источник.
type Registry struct {
	local   ContentSource
	remotes map[string]infra.RemoteSourceConfig
	timeout time.Duration

	mu    sync.Mutex
	cache map[string]ContentSource
}

func NewRegistry(local ContentSource, remotes map[string]infra.RemoteSourceConfig, fetchTimeout time.Duration) *Registry {
	return &Registry{
		local:   local,
		remotes: remotes,
		timeout: fetchTimeout,
		cache:   make(map[string]ContentSource),
	}
}

func (r *Registry) For(sourceNotebookID string) ContentSource {
	rc, ok := r.remotes[sourceNotebookID]
	if !ok {
		return r.local
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if src, ok := r.cache[sourceNotebookID]; ok {
		return src
	}
	src := NewReliableSource(sourceNotebookID,
		NewHTTPSource(rc.BaseURL, rc.Token, r.timeout), r.timeout)
	r.cache[sourceNotebookID] = src
	return src
}
