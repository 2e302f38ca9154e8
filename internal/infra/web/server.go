package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"mobile-iap-subscription/internal/config"
	"mobile-iap-subscription/internal/domain/model"
	"mobile-iap-subscription/internal/domain/ports/adapter"
	"mobile-iap-subscription/internal/infra/logging"
	red "mobile-iap-subscription/internal/infra/redis"
	"mobile-iap-subscription/internal/usecase"
)

// Server exposes the client verify/restore API and the store webhook
// endpoints. Webhook routes bypass both auth and rate limiting: stores
// authenticate through payload signatures and retry on non-2xx.
type Server struct {
	subUC     usecase.SubscriptionUseCase
	webhookUC usecase.WebhookUseCase
	decoders  map[model.Platform]adapter.WebhookDecoder
	limiter   *red.RateLimiter
	rateCfg   config.RateLimitConfig
	apiKey    string
	dev       bool
	server    *http.Server
	log       *zerolog.Logger
}

func NewServer(
	cfg *config.Config,
	subUC usecase.SubscriptionUseCase,
	webhookUC usecase.WebhookUseCase,
	decoders []adapter.WebhookDecoder,
	limiter *red.RateLimiter,
	logger *zerolog.Logger,
) *Server {
	byPlatform := make(map[model.Platform]adapter.WebhookDecoder, len(decoders))
	for _, d := range decoders {
		byPlatform[d.Platform()] = d
	}
	l := logger.With().Str("component", "WebServer").Logger()
	s := &Server{
		subUC:     subUC,
		webhookUC: webhookUC,
		decoders:  byPlatform,
		limiter:   limiter,
		rateCfg:   cfg.RateLimit,
		apiKey:    cfg.HTTP.APIKey,
		dev:       cfg.Runtime.Dev,
		log:       &l,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestID)

	r.Route("/api/v1/subscriptions", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.rateLimit("verify")).Post("/verify", s.handleVerify)
		r.With(s.rateLimit("restore")).Post("/restore", s.handleRestore)
		r.Get("/status", s.handleStatus)
	})

	r.Post("/webhooks/apple", s.webhookHandler(model.PlatformIOS))
	r.Post("/webhooks/google", s.webhookHandler(model.PlatformAndroid))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithRequestID(r.Context(), uuid.NewString())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authMiddleware provides simple Bearer token authentication for the client API.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("http.api_key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || !strings.EqualFold(tokenParts[0], "bearer") {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}
		if tokenParts[1] != s.apiKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimit applies the fixed-window limiter keyed by user id (falling back
// to remote address for malformed requests). A redis outage fails open.
func (s *Server) rateLimit(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			caller := r.Header.Get("X-User-ID")
			if caller == "" {
				caller = r.RemoteAddr
			}
			ok, err := s.limiter.Allow(r.Context(), red.RequestKey(caller, route), s.rateCfg.Limit, s.rateCfg.Window.Std())
			if err != nil {
				s.log.Warn().Err(err).Msg("rate limiter unavailable; allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
