package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	app "github.com/R3E-Network/issuance_ledger/internal/app"
	"github.com/R3E-Network/issuance_ledger/internal/app/metrics"
	"github.com/R3E-Network/issuance_ledger/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

type ctxKey int

const ctxCallerKey ctxKey = iota

// Claims identifies the caller. Address wins over the subject when both are
// present.
type Claims struct {
	Address string `json:"address,omitempty"`
	Role    string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Caller returns the account reference the token speaks for.
func (c *Claims) Caller() string {
	if c.Address != "" {
		return c.Address
	}
	return c.Subject
}

// Config configures the middleware chain assembled by Wrap.
type Config struct {
	JWTSecret []byte

	// RateLimit is requests per second per caller; zero disables limiting.
	RateLimit float64
	RateBurst int
	AuditSize int
	AuditPath string

	// AllowedOrigins enables CORS for browser clients; empty disables it.
	AllowedOrigins []string
}

// Wrap builds the full server handler around the issuance router. From the
// outside in: metrics, request ids, CORS, caller identity, rate limiting and
// audit.
func Wrap(application *app.Application, cfg Config, log *logger.Logger) (http.Handler, error) {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	sink, err := newFileAuditSink(cfg.AuditPath)
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}
	audit := newAuditLog(cfg.AuditSize, nil, log)
	if sink != nil {
		audit = newAuditLog(cfg.AuditSize, sink, log)
	}

	handler := NewHandler(application, audit, log)
	handler = wrapWithAudit(handler, audit)
	if cfg.RateLimit > 0 {
		handler = newRateLimiter(cfg.RateLimit, cfg.RateBurst, log).handler(handler)
	}
	handler = wrapWithAuth(handler, cfg.JWTSecret, log)
	if len(cfg.AllowedOrigins) > 0 {
		handler = newCORSPolicy(cfg.AllowedOrigins).handler(handler)
	}
	handler = wrapWithRequestID(handler, log)
	return metrics.InstrumentHandler(handler), nil
}

// wrapWithAuth resolves the caller from a bearer token. Reads are open to
// anonymous callers; every other method needs a valid token.
func wrapWithAuth(next http.Handler, secret []byte, log *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, http.StatusUnauthorized, errors.New("missing Authorization header"))
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, errors.New("invalid Authorization header format"))
			return
		}

		claims, err := validateToken(parts[1], secret)
		if err != nil {
			log.WithError(err).WithField("path", r.URL.Path).Warn("token validation failed")
			writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		}
		caller := claims.Caller()
		if caller == "" {
			writeError(w, http.StatusUnauthorized, errors.New("token names no caller"))
			return
		}
		log.WithField("caller", caller).Debug("authentication successful")
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxCallerKey, caller)))
	})
}

func validateToken(tokenString string, secret []byte) (*Claims, error) {
	if len(secret) == 0 {
		return nil, errors.New("token authentication is not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// callerFrom returns the authenticated caller, or "" for anonymous requests.
func callerFrom(ctx context.Context) string {
	caller, _ := ctx.Value(ctxCallerKey).(string)
	return caller
}

// rateLimiter keeps one token bucket per caller, falling back to the remote
// address for anonymous requests.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	log      *logger.Logger
}

const maxTrackedLimiters = 10000

func newRateLimiter(perSecond float64, burst int, log *logger.Logger) *rateLimiter {
	if burst <= 0 {
		burst = int(perSecond) + 1
	}
	return &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		log:      log,
	}
}

func (rl *rateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= maxTrackedLimiters {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

func (rl *rateLimiter) handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := callerFrom(r.Context())
		if key == "" {
			key = r.RemoteAddr
		}
		if !rl.limiter(key).Allow() {
			rl.log.WithField("key", key).
				WithField("path", r.URL.Path).
				WithField("method", r.Method).
				Warn("rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// wrapWithAudit records every mutating request with its outcome.
func wrapWithAudit(next http.Handler, audit *auditLog) http.Handler {
	if audit == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		rec := &auditRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		audit.add(auditEntry{
			Time:       time.Now().UTC(),
			Caller:     callerFrom(r.Context()),
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     rec.status,
			RequestID:  requestIDFrom(r.Context()),
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	})
}

type auditRecorder struct {
	http.ResponseWriter
	status int
}

func (r *auditRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
