// Package server wires the HTTP surface: routing, middleware chain, and
// request handlers.
package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/quietline/quietline/internal/admission"
	"github.com/quietline/quietline/internal/auth"
	"github.com/quietline/quietline/internal/chat"
	"github.com/quietline/quietline/internal/config"
	"github.com/quietline/quietline/internal/database"
	"github.com/quietline/quietline/internal/httputil"
	"github.com/quietline/quietline/internal/invite"
	"github.com/quietline/quietline/internal/logging"
	"github.com/quietline/quietline/internal/metrics"
	"github.com/quietline/quietline/internal/provider"
)

// GatedPaths are the AI-assist endpoints subject to the free-tier budget
// when the caller is unauthenticated.
var GatedPaths = []string{"/api/chat", "/api/reflect", "/api/analyze", "/api/rephrase", "/api/suggest"}

// Server bundles the service dependencies behind the HTTP surface.
type Server struct {
	cfg      *config.Config
	logger   *logging.Logger
	metrics  *metrics.Metrics
	repo     database.Repository
	authSvc  *auth.Service
	issuer   *invite.Issuer
	gateway  *chat.Gateway
	provider provider.Client
	limiter  *admission.RateLimiter
	gate     *admission.FreeTierGate
}

// Deps are the constructed dependencies the server routes to.
type Deps struct {
	Config   *config.Config
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
	Repo     database.Repository
	Auth     *auth.Service
	Issuer   *invite.Issuer
	Gateway  *chat.Gateway
	Provider provider.Client
	Limiter  *admission.RateLimiter
	Gate     *admission.FreeTierGate
}

// New creates the server.
func New(d Deps) *Server {
	return &Server{
		cfg:      d.Config,
		logger:   d.Logger,
		metrics:  d.Metrics,
		repo:     d.Repo,
		authSvc:  d.Auth,
		issuer:   d.Issuer,
		gateway:  d.Gateway,
		provider: d.Provider,
		limiter:  d.Limiter,
		gate:     d.Gate,
	}
}

// Router builds the full route table with the middleware chain applied.
func (s *Server) Router() http.Handler {
	production := s.cfg.Server.Production

	r := mux.NewRouter()
	r.Use(corsMiddleware(s.cfg.Server.CORSOrigins, production))
	r.Use(loggingMiddleware(s.logger))
	r.Use(metricsMiddleware(s.metrics))
	r.Use(recoveryMiddleware(s.logger, production))

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(rateLimitMiddleware(s.limiter, s.metrics, s.logger))
	api.Use(freeTierMiddleware(s.gate, s.metrics))

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// AI routes
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	api.HandleFunc("/reflect", s.handleReflect).Methods(http.MethodPost)
	api.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	api.HandleFunc("/rephrase", s.handleRephrase).Methods(http.MethodPost)
	api.HandleFunc("/suggest", s.handleSuggest).Methods(http.MethodPost)
	api.HandleFunc("/perspective", s.handlePerspective).Methods(http.MethodPost)
	api.HandleFunc("/summary", s.handleSummary).Methods(http.MethodPost)

	// Auth routes
	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)

	// Identity-bearing routes
	authed := api.NewRoute().Subrouter()
	authed.Use(requireAuth(s.authSvc, production))
	authed.HandleFunc("/auth/me", s.handleMe).Methods(http.MethodGet)
	authed.HandleFunc("/invite/create", s.handleInviteCreate).Methods(http.MethodPost)
	authed.HandleFunc("/invite/accept", s.handleInviteAccept).Methods(http.MethodPost)
	authed.HandleFunc("/conversations", s.handleListConversations).Methods(http.MethodGet)
	authed.HandleFunc("/conversations", s.handleEnsureConversation).Methods(http.MethodPost)
	authed.HandleFunc("/conversations/{id}/messages", s.handleListMessages).Methods(http.MethodGet)
	authed.HandleFunc("/messages", s.handleSendMessage).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteJSON(w, http.StatusNotFound, map[string]string{
			"error": "Endpoint not found",
			"path":  req.URL.Path,
		})
	})

	return r
}
