package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/knowledge-mesh/internal/console/handler"
	"github.com/xela07ax/knowledge-mesh/internal/infra"
	"github.com/xela07ax/knowledge-mesh/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Проверка токенов (RS256); реализуется AuthService через BaseValidator
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler      *handler.AuthHandler         // /auth/token
	subHandler       *handler.SubscriptionHandler // /v1/notebooks/{id}/subscriptions
	bundleHandler    *handler.BundleHandler       // export/import
	notebookHandler  *handler.NotebookHandler     // label, feed
	clearanceHandler *handler.ClearanceHandler    // /v1/clearances
	groupHandler     *handler.GroupHandler        // /v1/groups
	compareHandler   *handler.CompareHandler      // compare dispatch + результаты джоб
	auditHandler     *handler.AuditHandler        // /v1/audit (Logs)
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	subH *handler.SubscriptionHandler,
	bundleH *handler.BundleHandler,
	notebookH *handler.NotebookHandler,
	clearanceH *handler.ClearanceHandler,
	groupH *handler.GroupHandler,
	compareH *handler.CompareHandler,
	auditH *handler.AuditHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:           chi.NewRouter(),
		logger:           logger.Named("console-api"),
		cfg:              cfg,
		authValidator:    validator,
		authHandler:      authH,
		subHandler:       subH,
		bundleHandler:    bundleH,
		notebookHandler:  notebookH,
		clearanceHandler: clearanceH,
		groupHandler:     groupH,
		compareHandler:   compareH,
		auditHandler:     auditH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Ноутбуки: подписки, классификация, фид, air-gapped обмен
		r.Route("/v1/notebooks/{id}", func(r chi.Router) {
			r.Route("/subscriptions", func(r chi.Router) {
				r.Post("/", s.subHandler.Create)
				r.Get("/", s.subHandler.List)
				r.Route("/{subId}", func(r chi.Router) {
					r.Delete("/", s.subHandler.Delete)
					r.Get("/status", s.subHandler.Status)
					r.Post("/sync", s.subHandler.ForceSync)
					r.Post("/resume", s.subHandler.Resume)
					r.Put("/filter", s.subHandler.UpdateFilter)
					r.Get("/entries/{entryId}", s.subHandler.MirrorEntry)
				})
			})

			r.Get("/label", s.notebookHandler.GetLabel)
			r.Put("/label", s.notebookHandler.ChangeLabel)
			r.Get("/feed", s.notebookHandler.Feed)
			r.Get("/mirror", s.notebookHandler.Mirror)

			r.Get("/export", s.bundleHandler.Export)
			r.Post("/import", s.bundleHandler.Import)

			r.Post("/entries/{entryId}/compare", s.compareHandler.Dispatch)
			r.Get("/entries/{entryId}/results", s.compareHandler.Results)
		})

		// Допуски (grant/revoke + аварийный сброс кэша)
		r.Route("/v1/clearances", func(r chi.Router) {
			r.Post("/", s.clearanceHandler.Grant)
			r.Post("/flush", s.clearanceHandler.FlushAll)
			r.Delete("/{principal}/{org}", s.clearanceHandler.Revoke)
		})

		// Оргиерархия
		r.Route("/v1/groups/{id}", func(r chi.Router) {
			r.Post("/edges", s.groupHandler.AddEdge)
			r.Get("/label", s.groupHandler.EffectiveLabel)
		})

		// Пулл работы и callback агентов-исполнителей
		r.Get("/v1/jobs", s.compareHandler.PendingJobs)
		r.Post("/v1/jobs/{id}/result", s.compareHandler.RecordResult)

		// Аудит и Логи (Observability)
		r.Get("/v1/audit", s.auditHandler.GetLogs)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
