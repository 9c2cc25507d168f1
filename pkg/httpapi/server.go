// Package httpapi exposes the assistant over HTTP: blocking chat,
// SSE streaming chat, and session management.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/voyager-travel/voyager/pkg/observability"
	"github.com/voyager-travel/voyager/pkg/session"
)

// Conversationalist is the slice of the session coordinator the API
// needs.
type Conversationalist interface {
	FullResponse(ctx context.Context, userInput, sessionID string, opts ...session.TurnOption) (string, error)
	StreamResponse(ctx context.Context, userInput, sessionID string, opts ...session.TurnOption) (*session.ResponseStream, error)
	DeleteSession(ctx context.Context, sessionID, userID string) error
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr          string
	RatePerSecond float64
	RateBurst     int
	EnableMetrics bool
	Logger        logrus.FieldLogger
	Health        *observability.HealthChecker
}

// Server serves the chat API.
type Server struct {
	coord   Conversationalist
	log     logrus.FieldLogger
	health  *observability.HealthChecker
	limiter *rate.Limiter
	metrics bool
	server  *http.Server
}

// NewServer creates the HTTP server around a coordinator.
func NewServer(coord Conversationalist, cfg ServerConfig) *Server {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	health := cfg.Health
	if health == nil {
		health = observability.NewHealthChecker()
	}
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 20
	}

	s := &Server{
		coord:   coord,
		log:     log,
		health:  health,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		metrics: cfg.EnableMetrics,
	}
	s.server = &http.Server{
		Addr:        cfg.Addr,
		Handler:     s.Router(),
		ReadTimeout: 15 * time.Second,
		// Streaming responses are open-ended; rely on request contexts
		// instead of a server-wide write timeout.
		IdleTimeout: 120 * time.Second,
	}
	return s
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))
	r.Use(s.metricsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)
		r.Post("/chat", s.handleChat)
		r.Post("/chat/stream", s.handleChatStream)
		r.Delete("/sessions/{sessionID}", s.handleDeleteSession)
	})

	r.Get("/healthz", s.health.Handler())
	if s.metrics {
		r.Handle("/metrics", observability.MetricsHandler())
	}
	return r
}

// ListenAndServe blocks serving requests until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.server.Addr).Info("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.metrics {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = r.URL.Path
		}
		observability.RecordHTTPRequest(r.Method, pattern, fmt.Sprintf("%d", ww.Status()), time.Since(start))
	})
}
