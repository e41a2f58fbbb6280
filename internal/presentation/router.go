package presentation

import (
	"github.com/RaikyD/shop-orders-service/internal/presentation/helpers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"net/http"
	"time"
)

type RouterConfig struct {
	Handler        *OrdersHandler
	Auth           Authenticator
	Limiter        *RateLimiter
	RequestTimeout time.Duration
	AccessLog      bool
	Log            *zap.SugaredLogger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if cfg.AccessLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		helpers.HttpError(w, r, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		helpers.HttpError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	r.Get("/health", cfg.Handler.Health)
	r.Get("/ready", cfg.Handler.Ready)

	r.Group(func(api chi.Router) {
		if cfg.Limiter != nil {
			api.Use(cfg.Limiter.Middleware)
		}
		api.Use(RequireIdentity(cfg.Auth, cfg.Log))
		cfg.Handler.Register(api)
	})
	return r
}
