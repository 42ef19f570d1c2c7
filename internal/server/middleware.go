package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/quietline/quietline/internal/admission"
	"github.com/quietline/quietline/internal/auth"
	"github.com/quietline/quietline/internal/errors"
	"github.com/quietline/quietline/internal/httputil"
	"github.com/quietline/quietline/internal/logging"
	"github.com/quietline/quietline/internal/metrics"
	"github.com/quietline/quietline/internal/tokens"
)

// =============================================================================
// Identity
// =============================================================================

// clientIdentity resolves the admission key: the authenticated user ID when
// present, otherwise the best-effort client network address. Resolution
// failure pools into the shared "unknown" bucket rather than being dropped.
func clientIdentity(r *http.Request) string {
	if userID := logging.GetUserID(r.Context()); userID != "" {
		return userID
	}

	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return admission.UnknownIdentity
	}
	return host
}

func hasBearer(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// =============================================================================
// CORS
// =============================================================================

// corsMiddleware reflects the origin in development and enforces the
// configured allow-list in production.
func corsMiddleware(allowedOrigins []string, production bool) mux.MiddlewareFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if !production || allowed[origin] {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				} else if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusForbidden)
					return
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// Tracing + Logging
// =============================================================================

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// loggingMiddleware assigns a trace ID and logs each completed request.
func loggingMiddleware(logger *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			traceID := r.Header.Get("X-Trace-ID")
			if traceID == "" {
				traceID = logging.NewTraceID()
			}
			ctx := logging.WithTraceID(r.Context(), traceID)
			r = r.WithContext(ctx)
			w.Header().Set("X-Trace-ID", traceID)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			logger.LogRequest(ctx, r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
		})
	}
}

// metricsMiddleware records request counts and latency by route pattern.
func metricsMiddleware(m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.IncrementInFlight()
			defer m.DecrementInFlight()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if pattern, err := current.GetPathTemplate(); err == nil {
					route = pattern
				}
			}
			m.RecordHTTPRequest(r.Method, route, strconv.Itoa(wrapped.statusCode), time.Since(start))
		})
	}
}

// recoveryMiddleware converts panics into opaque 500s, logging the stack
// server-side.
func recoveryMiddleware(logger *logging.Logger, production bool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithContext(r.Context()).WithFields(map[string]interface{}{
						"panic": rec,
						"stack": string(debug.Stack()),
						"path":  r.URL.Path,
					}).Error("panic in handler")
					httputil.WriteError(w, errors.Internal("", nil), production)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// Admission
// =============================================================================

// rateLimitMiddleware applies the sliding-window limiter to every request,
// keyed by client identity.
func rateLimitMiddleware(limiter *admission.RateLimiter, m *metrics.Metrics, logger *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := clientIdentity(r)
			result := limiter.Check(r.Context(), identity)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

			if !result.Allowed {
				m.RecordRejection("rate_limit")
				logger.LogSecurityEvent(r.Context(), "rate_limit_exceeded", map[string]interface{}{
					"identity": identity,
					"path":     r.URL.Path,
					"method":   r.Method,
				})
				httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
					"error":      "Too many requests. Please try again later.",
					"retryAfter": result.RetryAfterSeconds,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// gateBody is the subset of the request body the free-tier gate costs.
type gateBody struct {
	Messages    []tokens.Message `json:"messages"`
	UserMessage string           `json:"userMessage"`
}

// freeTierMiddleware estimates the request's token cost and runs it
// through the budget gate. The body is restored for downstream handlers.
func freeTierMiddleware(gate *admission.FreeTierGate, m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hasBearer(r) || !gate.Gated(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			cost := tokens.MinCost
			if r.Body != nil {
				raw, err := io.ReadAll(io.LimitReader(r.Body, httputil.MaxBodyBytes))
				_ = r.Body.Close()
				r.Body = io.NopCloser(bytes.NewReader(raw))
				if err == nil {
					cost = estimateCost(raw)
				}
			}

			result, err := gate.Admit(r.Context(), clientIdentity(r), false, r.URL.Path, cost)
			if err != nil {
				m.RecordRejection("free_tier")
				httputil.WriteJSON(w, http.StatusPaymentRequired, map[string]interface{}{
					"error": "Free tier limit reached. Please sign in to continue.",
					"code":  errors.CodeFreeTierExceeded,
					"limit": result.Limit,
				})
				return
			}

			if result.Remaining >= 0 {
				w.Header().Set("X-FreeTier-Remaining", strconv.Itoa(result.Remaining))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// estimateCost derives the token cost from whichever body field carries
// content. A malformed body floors at the minimum cost.
func estimateCost(raw []byte) int {
	var body gateBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return tokens.MinCost
	}

	msgs := body.Messages
	if len(msgs) == 0 && body.UserMessage != "" {
		msgs = []tokens.Message{{Role: "user", Content: body.UserMessage}}
	}
	return tokens.Estimate(msgs)
}

// =============================================================================
// Auth
// =============================================================================

// requireAuth verifies the bearer session and stores the subject in the
// request context. Missing or invalid sessions get a 401.
func requireAuth(authSvc *auth.Service, production bool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				httputil.WriteError(w, errors.Unauthorized(""), production)
				return
			}

			claims, err := authSvc.Verify(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				httputil.WriteError(w, err, production)
				return
			}

			ctx := logging.WithUserID(r.Context(), claims.Subject)
			ctx = withEmail(ctx, claims.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type emailKey struct{}

func withEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, emailKey{}, email)
}

func emailFrom(ctx context.Context) string {
	if v, ok := ctx.Value(emailKey{}).(string); ok {
		return v
	}
	return ""
}
