package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/handler"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/infra"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/infra/auth"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/service"
)

type Server struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс проверки токенов (RS256).
	// Реализуется через embedding BaseValidator в AuthService
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler  *handler.AuthHandler         // /auth/token
	reqHandler   *handler.RequestHandler      // /v1/requests
	denomHandler *handler.DenominationHandler // /v1/denominations
	dashHandler  *handler.DashboardHandler    // /api/v1/dashboard
}

// NewServer инициализирует API движка со всеми зависимостями
func NewServer(
	cfg *infra.Config,
	logger *zap.Logger,
	authService *service.AuthService,
	authH *handler.AuthHandler,
	reqH *handler.RequestHandler,
	denomH *handler.DenominationHandler,
	dashH *handler.DashboardHandler,
) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		logger:        logger.Named("workflow-api"),
		cfg:           cfg,
		authValidator: authService,
		authHandler:   authH,
		reqHandler:    reqH,
		denomHandler:  denomH,
		dashHandler:   dashH,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(service.TracingMiddleware)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
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

		// Dashboard & Stats
		r.Get("/api/v1/dashboard/stats", s.dashHandler.GetStats)

		// Жизненный цикл заявок
		r.Route("/v1/requests", func(r chi.Router) {
			r.Get("/", s.reqHandler.List)          // Очередь согласования (снапшот + SLA)
			r.Post("/", s.reqHandler.Create)       // Новый черновик
			r.Post("/bulk", s.reqHandler.ApplyBulk) // Массовые действия
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.reqHandler.Get)
				r.Post("/submit", s.reqHandler.Submit)     // Черновик -> pending
				r.Post("/decide", s.reqHandler.Decide)     // Approve/Reject/Delegate
				r.Post("/escalate", s.reqHandler.Escalate) // Расширение цепочки
				r.Post("/cancel", s.reqHandler.Cancel)
			})
		})

		// Сверка кассовых раскладок
		r.Route("/v1/denominations", func(r chi.Router) {
			r.Post("/validate", s.denomHandler.Validate)
			r.Post("/auto", s.denomHandler.AutoCalculate)
		})

		// Заморозка отделений (back-office, только override)
		r.Route("/v1/branches/{code}", func(r chi.Router) {
			r.Post("/freeze", s.reqHandler.Freeze)
			r.Post("/unfreeze", s.reqHandler.Unfreeze)
		})
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
