package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/R3E-Network/issuance_ledger/pkg/logger"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

const ctxRequestIDKey ctxKey = ctxCallerKey + 1

// corsPolicy answers browser preflights for the configured origins. An entry
// of "*" allows any origin; other entries match exactly or as a host suffix.
type corsPolicy struct {
	origins  []string
	allowAll bool
}

func newCORSPolicy(origins []string) *corsPolicy {
	p := &corsPolicy{origins: origins}
	for _, origin := range origins {
		if origin == "*" {
			p.allowAll = true
		}
	}
	return p
}

func (p *corsPolicy) allowed(origin string) bool {
	if origin == "" {
		return false
	}
	if p.allowAll {
		return true
	}
	for _, allowed := range p.origins {
		if allowed == origin || strings.HasSuffix(origin, "."+strings.TrimPrefix(allowed, ".")) {
			return true
		}
	}
	return false
}

func (p *corsPolicy) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if p.allowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+requestIDHeader)
			h.Set("Access-Control-Expose-Headers", requestIDHeader)
			h.Set("Access-Control-Max-Age", "3600")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// wrapWithRequestID tags every request with an id, reusing the client's when
// one is supplied, and logs the request once it completes.
func wrapWithRequestID(next http.Handler, log *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		rec := &auditRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), ctxRequestIDKey, id)))

		log.WithField("request_id", id).
			WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("status", rec.status).
			WithField("duration", time.Since(start)).
			Debug("request served")
	})
}

// requestIDFrom returns the id assigned by wrapWithRequestID.
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequestIDKey).(string)
	return id
}
