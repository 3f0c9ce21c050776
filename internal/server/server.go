package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/meridianhr/assesscore/internal/auth"
	"github.com/meridianhr/assesscore/internal/passport"
	"github.com/meridianhr/assesscore/internal/ratelimit"
	"github.com/meridianhr/assesscore/internal/session"
	"github.com/meridianhr/assesscore/internal/storage"
)

// Server is the assessment-core HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	// Required dependencies.
	DB            *storage.DB
	JWTMgr        *auth.JWTManager
	SessionEngine *session.Engine
	PassportSvc   *passport.Service
	Logger        *slog.Logger

	// Optional dependencies (nil/empty = disabled).
	AnonStartLimiter    *ratelimit.Limiter
	AnonStartRule       ratelimit.Rule
	SubmitAnswerLimiter *ratelimit.Limiter
	SubmitAnswerRule    ratelimit.Rule
	AdminAPIKeyHash     string // Argon2id hash; empty disables template-authoring routes.

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	CORSAllowedOrigins  []string
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		SessionEngine:       cfg.SessionEngine,
		PassportSvc:         cfg.PassportSvc,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Session lifecycle (clerk JWT required; enforced per-handler against
	// the session's own clerk_user_id since anonymous sessions share the
	// same routes under a session access token instead).
	mux.Handle("POST /tests/sessions", http.HandlerFunc(h.HandleStartSession))
	mux.Handle("GET /tests/sessions/{id}/current", http.HandlerFunc(h.HandleGetCurrent))
	mux.Handle("POST /tests/sessions/{id}/answer", submitAnswerLimit(cfg, http.HandlerFunc(h.HandleSubmitAnswer)))
	mux.Handle("POST /tests/sessions/{id}/skip", submitAnswerLimit(cfg, http.HandlerFunc(h.HandleSkip)))
	mux.Handle("POST /tests/sessions/{id}/back", http.HandlerFunc(h.HandleNavigateBack))
	mux.Handle("POST /tests/sessions/{id}/forward", http.HandlerFunc(h.HandleNavigateForward))
	mux.Handle("POST /tests/sessions/{id}/complete", http.HandlerFunc(h.HandleComplete))
	mux.Handle("POST /tests/sessions/{id}/abandon", http.HandlerFunc(h.HandleAbandon))
	mux.Handle("POST /tests/sessions/{id}/taker-info", http.HandlerFunc(h.HandleAttachTakerInfo))

	// Results and passports.
	mux.Handle("GET /tests/results/{id}", http.HandlerFunc(h.HandleGetResult))
	mux.Handle("GET /passports/user/{clerkUserId}", http.HandlerFunc(h.HandleGetPassport))

	// Anonymous session start via share link (rate limited by client IP).
	mux.Handle("POST /share-links/{token}/sessions", anonStartLimit(cfg, http.HandlerFunc(h.HandleStartAnonymousSession)))

	// Template authoring (admin bootstrap key; thin CRUD, no wizard UI).
	admin := requireAdmin(cfg.AdminAPIKeyHash)
	mux.Handle("GET /templates/{id}", http.HandlerFunc(h.HandleGetTemplate))
	mux.Handle("POST /templates", admin(http.HandlerFunc(h.HandleCreateTemplate)))
	mux.Handle("POST /templates/{id}/publish", admin(http.HandlerFunc(h.HandlePublishTemplate)))

	// Middleware chain (outermost executes first):
	// tracing -> request ID -> security headers -> CORS -> logging -> auth -> recovery -> handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr)(handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = corsMiddleware(cfg.CORSAllowedOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	// otelhttp reads the globally configured tracer/meter providers
	// (telemetry.Init is a no-op when OTEL is disabled, so this is safe
	// to wrap unconditionally).
	handler = otelhttp.NewHandler(handler, "assesscore.http")

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  2 * cfg.ReadTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// anonStartLimit wraps the anonymous-session-start handler with the
// per-IP sliding window rate limit, if configured.
func anonStartLimit(cfg ServerConfig, next http.Handler) http.Handler {
	if cfg.AnonStartLimiter == nil {
		return next
	}
	mw := ratelimit.MiddlewareWithRequestID(cfg.AnonStartLimiter, cfg.AnonStartRule, ratelimit.IPKeyFunc, RequestIDFromContext)
	return mw(next)
}

// submitAnswerLimit wraps answer-submission routes with the per-session
// sliding window rate limit, if configured.
func submitAnswerLimit(cfg ServerConfig, next http.Handler) http.Handler {
	if cfg.SubmitAnswerLimiter == nil {
		return next
	}
	mw := ratelimit.MiddlewareWithRequestID(cfg.SubmitAnswerLimiter, cfg.SubmitAnswerRule, sessionIDKeyFunc, RequestIDFromContext)
	return mw(next)
}

func sessionIDKeyFunc(r *http.Request) string {
	return r.PathValue("id")
}

// Handlers returns the underlying Handlers, e.g. for cmd/assessd's
// admin-key bootstrap.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
