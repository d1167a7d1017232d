package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/arkeep-io/sandboxagent/internal/apierr"
	"github.com/arkeep-io/sandboxagent/internal/metrics"
	"github.com/arkeep-io/sandboxagent/internal/traceid"
)

type contextKey int

const contextKeyTraceID contextKey = iota

// traceIDHeader is the header clients may set to propagate their own trace
// ID; when absent one is generated (spec §4.B, GLOSSARY "Trace ID").
const traceIDHeader = "X-Trace-ID"

// Authenticate requires `Authorization: Bearer <token>` on every route it
// wraps. Health and readiness are registered outside this middleware's
// scope in router.go so they never require it.
func Authenticate(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] != token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TraceID assigns or honors X-Trace-ID and stores it in the request
// context so handlers and the logger middleware can read it.
func TraceID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(traceIDHeader)
			if id == "" {
				id = traceid.New()
			}
			w.Header().Set(traceIDHeader, id)
			ctx := context.WithValue(r.Context(), contextKeyTraceID, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TraceIDFromContext retrieves the trace ID set by TraceID. Returns "" if
// absent (should not happen for requests that passed through the
// middleware chain).
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyTraceID).(string)
	return id
}

// RequestLogger logs every request with method, path, status, byte count,
// trace ID and latency. Severity is chosen by the final HTTP status:
// >=500 error, >=400 warn, else info (spec §4.B).
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("trace_id", TraceIDFromContext(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Duration("latency", time.Since(start)),
			}

			switch {
			case ww.Status() >= 500:
				logger.Error("http request", fields...)
			case ww.Status() >= 400:
				logger.Warn("http request", fields...)
			default:
				logger.Info("http request", fields...)
			}
		})
	}
}

// Metrics records every request's route, status, and latency on m
// (spec §9 DOMAIN STACK "ambient /metrics endpoint"). It labels by the
// matched chi route pattern rather than the raw path — the raw path
// embeds process/session IDs and would blow up label cardinality.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			pattern := chi.RouteContext(r.Context()).RoutePattern()
			if pattern == "" {
				pattern = r.URL.Path
			}
			m.RecordHTTPRequest(pattern, strconv.Itoa(ww.Status()), time.Since(start))
		})
	}
}

// Recover converts a panic in any downstream handler into the uniform
// internal-error envelope instead of crashing the connection. The stack
// trace is logged; it is never echoed to the client (spec §4.B, §7).
func Recover(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.String("trace_id", TraceIDFromContext(r.Context())),
						zap.Stack("stack"),
					)
					writeError(w, apierr.New(apierr.StatusPanic, "internal error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
