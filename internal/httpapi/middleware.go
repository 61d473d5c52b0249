package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"agentgw/internal/logging"

	"github.com/google/uuid"
)

// contextKey avoids collisions with other packages' context values.
type contextKey int

const (
	ctxKeyUserID contextKey = iota
	ctxKeyLogID
)

// UserIDFromContext returns the authenticated caller's X-User-ID.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyUserID).(string)
	return v
}

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, userID)
}

// AuthMiddleware rejects requests lacking a valid bearer token or, for
// user-scoped routes, a X-User-ID header (spec §7: auth:missing-token,
// auth:bad-token, auth:missing-user).
func AuthMiddleware(apiKey string, userScoped func(*http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/v1/health" {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "auth:missing-token", "missing bearer token")
				return
			}
			if token != apiKey {
				writeError(w, http.StatusUnauthorized, "auth:bad-token", "invalid bearer token")
				return
			}

			userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
			if userScoped(r) && userID == "" {
				writeError(w, http.StatusBadRequest, "auth:missing-user", "X-User-ID header required")
				return
			}

			next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}

// LoggingMiddleware stamps every request with a correlation id and logs
// method/path/remote-addr, grounded on
// cklxx-elephant.ai/internal/delivery/server/http/middleware_logging.go's
// X-Log-Id resolution order.
func LoggingMiddleware(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logID := resolveLogID(r)
			if logID == "" {
				logID = uuid.NewString()
			}
			w.Header().Set("X-Log-Id", logID)
			start := time.Now()
			logger.Info("%s %s from %s log_id=%s", r.Method, r.URL.Path, r.RemoteAddr, logID)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyLogID, logID)))
			logger.Debug("%s %s completed in %s log_id=%s", r.Method, r.URL.Path, time.Since(start), logID)
		})
	}
}

func resolveLogID(r *http.Request) string {
	for _, header := range []string{"X-Log-Id", "X-Request-Id", "X-Correlation-Id"} {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
	}
	return ""
}

// CORSMiddleware applies the explicit allow-list from spec §6: wildcard
// origins are never accepted in production; other environments answer any
// origin with the wildcard "*" for local development convenience (grounded on
// cklxx-elephant.ai's CORSMiddleware contract, pinned down by its
// middleware_test.go since the implementation itself isn't in the pack).
func CORSMiddleware(environment string, allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	production := strings.EqualFold(environment, "production")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				switch {
				case production && allowed[origin]:
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				case !production:
					w.Header().Set("Access-Control-Allow-Origin", "*")
				}
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// StreamGuardConfig bounds a streaming response's concurrency, size, and
// duration (spec §5: "budgets for concurrency, byte volume, and wall-clock
// duration per stream").
type StreamGuardConfig struct {
	MaxConcurrent int
	MaxBytes      int64
	MaxDuration   time.Duration
}

// StreamGuardMiddleware enforces StreamGuardConfig against requests that
// declare Accept: text/event-stream, matching the contract pinned down by
// cklxx-elephant.ai's middleware_test.go (TestStreamGuardMiddleware*).
func StreamGuardMiddleware(cfg StreamGuardConfig) func(http.Handler) http.Handler {
	var inFlight int64
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
				next.ServeHTTP(w, r)
				return
			}

			if cfg.MaxConcurrent > 0 {
				if atomic.AddInt64(&inFlight, 1) > int64(cfg.MaxConcurrent) {
					atomic.AddInt64(&inFlight, -1)
					writeError(w, http.StatusTooManyRequests, "stream:too-many-concurrent", "too many concurrent streams")
					return
				}
				defer atomic.AddInt64(&inFlight, -1)
			}

			ctx := r.Context()
			var cancel context.CancelFunc
			switch {
			case cfg.MaxDuration > 0:
				ctx, cancel = context.WithTimeout(ctx, cfg.MaxDuration)
			case cfg.MaxBytes > 0:
				ctx, cancel = context.WithCancel(ctx)
			}
			if cancel != nil {
				defer cancel()
			}

			guarded := w
			if cfg.MaxBytes > 0 {
				guarded = &byteLimitedWriter{ResponseWriter: w, limit: cfg.MaxBytes, cancel: cancel}
			}

			next.ServeHTTP(guarded, r.WithContext(ctx))
		})
	}
}

type byteLimitedWriter struct {
	http.ResponseWriter
	mu      sync.Mutex
	written int64
	limit   int64
	cancel  func()
}

func (w *byteLimitedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.written += int64(len(p))
	over := w.written >= w.limit
	w.mu.Unlock()

	n, err := w.ResponseWriter.Write(p)
	if over {
		w.cancel()
	}
	return n, err
}

func (w *byteLimitedWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// RequestTimeoutMiddleware bounds non-streaming requests (spec §5: "Upstream
// model calls carry a separate, longer deadline" than the request as a
// whole).
func RequestTimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	if d <= 0 {
		d = 30 * time.Second
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BodyLimitMiddleware caps request body size (spec §4.A boundary: reject
// oversized bodies before they reach JSON decoding).
func BodyLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"kind":%q,"message":%q}}`, kind, message)
}
