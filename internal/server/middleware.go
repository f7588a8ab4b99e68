package server

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/meridianhq/tenantgate/internal/authflow"
	"github.com/meridianhq/tenantgate/internal/cookie"
	"github.com/meridianhq/tenantgate/internal/jsonwriter"
	"github.com/meridianhq/tenantgate/internal/log"
	"github.com/meridianhq/tenantgate/internal/session"
)

// CSRFHeader is the request header clients echo the CSRF cookie into.
const CSRFHeader = "X-CSRF-TOKEN"

// MiddlewareFunc is a function that wraps an http.Handler
type MiddlewareFunc func(http.Handler) http.Handler

// ChainMiddleware chains multiple middleware functions
func ChainMiddleware(h http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	for _, mw := range middlewares {
		h = mw(h)
	}
	return h
}

type sessionContextKey struct{}

// SessionFromContext returns the authenticated session the request gate
// attached to the request.
func SessionFromContext(ctx context.Context) (session.Data, bool) {
	data, ok := ctx.Value(sessionContextKey{}).(session.Data)
	return data, ok
}

// GateConfig lists paths that bypass the request gate entirely.
type GateConfig struct {
	PublicPaths    []string
	PublicPrefixes []string
}

func (c GateConfig) isPublic(path string) bool {
	if slices.Contains(c.PublicPaths, path) {
		return true
	}
	for _, prefix := range c.PublicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// NewRequestGateMiddleware authorizes every request to a protected resource:
// it loads the session, verifies the CSRF double-submit token, refreshes the
// access token when expired, and touches the session and CSRF cookies on the
// way through. Unauthenticated requests get 401, CSRF failures 403, and a
// failed refresh 401 — a stale token is never passed downstream.
func NewRequestGateMiddleware(engine *authflow.Engine, sessions *session.Manager, gate GateConfig) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gate.isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			data := sessions.Get(ctx, r)
			if !data.IsAuthenticated {
				jsonwriter.WriteUnauthorized(w, "No session found")
				return
			}

			headerToken := r.Header.Get(CSRFHeader)
			cookieToken, _ := cookie.GetCSRF(r)
			if data.CSRFToken == "" || headerToken == "" || cookieToken == "" ||
				data.CSRFToken != headerToken || data.CSRFToken != cookieToken {
				log.LogWarnWithFields("gate", "CSRF token validation failed", map[string]any{
					"path": r.URL.Path,
				})
				jsonwriter.WriteForbidden(w, "Invalid CSRF token")
				return
			}

			tokenData, err := engine.RefreshTokenIfExpired(ctx, data.RefreshToken, data.ExpiresAt)
			if err != nil {
				log.LogErrorWithFields("gate", "Token refresh failed", map[string]any{
					"path":  r.URL.Path,
					"error": err.Error(),
				})
				jsonwriter.WriteUnauthorized(w, "Token refresh failed")
				return
			}
			if tokenData != nil {
				data.AccessToken = tokenData.AccessToken
				data.RefreshToken = tokenData.RefreshToken
				data.ExpiresAt = tokenData.ExpiresAt
				log.LogDebugWithFields("gate", "Access token refreshed", map[string]any{
					"user_id": data.UserID,
				})
			}

			// Touch the session and CSRF cookies. Cookies are headers, so
			// this happens before the downstream handler starts writing.
			if err := sessions.Update(ctx, w, r, data); err != nil {
				log.LogErrorWithFields("gate", "Session write failed", map[string]any{
					"error": err.Error(),
				})
				jsonwriter.WriteInternalServerError(w, "Internal Server Error")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionContextKey{}, data)))
		})
	}
}

// responseWriterDelegator captures status and bytes written for request
// logging while delegating optional interfaces through Unwrap.
type responseWriterDelegator struct {
	http.ResponseWriter
	status      int
	written     int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriterDelegator {
	return &responseWriterDelegator{
		ResponseWriter: w,
		status:         http.StatusOK,
	}
}

func (r *responseWriterDelegator) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseWriterDelegator) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.written += n
	return n, err
}

// Unwrap returns the underlying ResponseWriter for interface detection
func (r *responseWriterDelegator) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

var _ http.ResponseWriter = (*responseWriterDelegator)(nil)

// NewLoggerMiddleware adds request/response logging
func NewLoggerMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			fields := map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.status,
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes":       wrapped.written,
				"remote_addr": r.RemoteAddr,
			}
			log.LogInfoWithFields(prefix, "request", fields)
		})
	}
}

// NewRecoverMiddleware recovers from panics
func NewRecoverMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Logf("<%s> Recovered from panic: %v", prefix, err)
					jsonwriter.WriteInternalServerError(w, "Internal Server Error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
