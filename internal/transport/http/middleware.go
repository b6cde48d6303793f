package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/mohamaddakhiliuad/tenantorders/internal/logger"
	"github.com/mohamaddakhiliuad/tenantorders/internal/metrics"
)

const tenantHeader = "X-Tenant-ID"

type tenantKey struct{}

// RequireTenant resolves the tenant from X-Tenant-ID, falling back to
// defaultTenant. Requests with neither are rejected with 401.
func RequireTenant(defaultTenant string, next http.Handler) http.Handler {
	defaultTenant = strings.TrimSpace(defaultTenant)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(r.Header.Get(tenantHeader))
		if tenantID == "" {
			tenantID = defaultTenant
		}
		if tenantID == "" {
			writeError(w, http.StatusUnauthorized, "tenant_required", "tenant context is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantKey{}, tenantID)))
	})
}

func tenantFrom(ctx context.Context) string {
	tenantID, _ := ctx.Value(tenantKey{}).(string)
	return tenantID
}

// RequestLogger logs basic request details and latency and records them as
// metrics labelled by the matched route pattern.
func RequestLogger(next http.Handler, log *logger.Logger, m *metrics.Metrics) http.Handler {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.With("component", "http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.ObserveRequest(route, rec.status, elapsed)
		log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", elapsed,
			"tenant_id", r.Header.Get(tenantHeader),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
