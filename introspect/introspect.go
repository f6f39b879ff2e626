// Package introspect is a small read-only HTTP admin surface reporting
// this framework's own operational state — component health, per-consumer
// catch-up status — never read-model data (spec's Non-goals exclude
// querying projected state; this surface is strictly about the framework
// itself). Grounded on internal/rest/server.go + internal/rest/admin.go's
// route/handler shape, internal/auth/jwt.go's RSA JWT bearer validation,
// and internal/ratelimit/limiter.go's Redis rate limiter (here a
// fixed-window counter per caller), all from the
// teacher, re-scoped from the teacher's ingest/query/admin surface to
// framework introspection only.
package introspect

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goredis "github.com/redis/go-redis/v9"

	"github.com/emilniklas/sequent/health"
)

// JWTConfig mirrors the teacher's auth.JWTConfig.
type JWTConfig struct {
	PublicKeyPath string
	Issuer        string
	Audience      string
}

// Validator validates bearer tokens, mirroring the teacher's
// auth.JWTValidator, trimmed to the fields an admin surface needs (no
// role/permission claims, since this surface has only one capability:
// read).
type Validator struct {
	publicKey *rsa.PublicKey
	issuer    string
	audience  string
}

// NewValidator loads an RSA public key from cfg.PublicKeyPath, mirroring
// the teacher's NewJWTValidator. A zero PublicKeyPath disables auth (nil
// Validator, nil error) for local development, matching the teacher's own
// fallback.
func NewValidator(cfg JWTConfig) (*Validator, error) {
	if cfg.PublicKeyPath == "" {
		return nil, nil
	}
	keyData, err := os.ReadFile(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read JWT public key: %w", err)
	}
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("parse JWT public key: %w", err)
	}
	return &Validator{publicKey: pubKey, issuer: cfg.Issuer, audience: cfg.Audience}, nil
}

// Authenticate validates tokenString, mirroring the teacher's
// JWTValidator.Validate minus its role/permission extraction.
func (v *Validator) Authenticate(tokenString string) error {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.publicKey, nil
	})
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("token validation failed")
	}
	if v.issuer != "" {
		if iss, _ := claims.GetIssuer(); iss != v.issuer {
			return fmt.Errorf("invalid issuer: %s", iss)
		}
	}
	if v.audience != "" {
		aud, _ := claims.GetAudience()
		found := false
		for _, a := range aud {
			if a == v.audience {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("invalid audience")
		}
	}
	return nil
}

// RateLimitConfig mirrors one entry of the teacher's ratelimit.Config.
type RateLimitConfig struct {
	Burst  int
	Window time.Duration
}

// Limiter is a Redis-backed fixed-window limiter scoped to the admin
// surface: each caller gets one counter per Window-aligned time slot, and
// requests beyond Burst in that slot are refused. It mirrors the teacher's
// ratelimit.Limiter trimmed to the single "admin" category this surface
// needs.
type Limiter struct {
	rdb    *goredis.Client
	config RateLimitConfig
}

// NewLimiter builds a Limiter over rdb.
func NewLimiter(rdb *goredis.Client, cfg RateLimitConfig) *Limiter {
	if cfg.Burst == 0 {
		cfg.Burst = 200
	}
	if cfg.Window == 0 {
		cfg.Window = time.Second
	}
	return &Limiter{rdb: rdb, config: cfg}
}

// Allow reports whether callerID may make another request this window.
func (l *Limiter) Allow(ctx context.Context, callerID string) bool {
	if l.rdb == nil {
		return true
	}
	windowKey := time.Now().Truncate(l.config.Window)
	key := fmt.Sprintf("sequent:introspect:rate:%s:%d", callerID, windowKey.UnixMilli())

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return true // fail open: an admin surface must not go dark because Redis did
	}
	if count == 1 {
		l.rdb.Expire(ctx, key, l.config.Window+time.Second)
	}
	return int(count) <= l.config.Burst
}

// MigratorStatus is one migrator's reported run state.
type MigratorStatus struct {
	DestinationEventType string `json:"destination_event_type"`
	CaughtUp              bool   `json:"caught_up"`
}

// ReadModelStatus is one read model's reported catch-up state.
type ReadModelStatus struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	CaughtUp  bool   `json:"caught_up"`
}

// Registry is the live state the admin surface reports, updated by the
// application as migrators/read models start and catch up.
type Registry struct {
	mu         sync.RWMutex
	migrators  map[string]MigratorStatus
	readModels map[string]ReadModelStatus
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{migrators: map[string]MigratorStatus{}, readModels: map[string]ReadModelStatus{}}
}

func (r *Registry) SetMigrator(name string, s MigratorStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.migrators[name] = s
}

func (r *Registry) SetReadModel(name string, s ReadModelStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readModels[name] = s
}

// Server is the read-only admin HTTP surface, mirroring the route shape
// of the teacher's rest.Server/admin handlers.
type Server struct {
	tracker   *health.Tracker
	registry  *Registry
	validator *Validator
	limiter   *Limiter
}

// NewServer builds a Server. validator/limiter may be nil to disable auth
// and rate limiting respectively (e.g. for local development).
func NewServer(tracker *health.Tracker, registry *Registry, validator *Validator, limiter *Limiter) *Server {
	return &Server{tracker: tracker, registry: registry, validator: validator, limiter: limiter}
}

// Handler builds the net/http.Handler serving /healthz, /migrators, and
// /readmodels, mirroring the teacher's server.go route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.wrap(s.handleHealth))
	mux.HandleFunc("/migrators", s.wrap(s.handleMigrators))
	mux.HandleFunc("/readmodels", s.wrap(s.handleReadModels))
	return mux
}

func (s *Server) wrap(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callerID := r.RemoteAddr
		if s.validator != nil {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || s.validator.Authenticate(token) != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			callerID = token
		}
		if s.limiter != nil && !s.limiter.Allow(r.Context(), callerID) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.tracker.CheckAll(r.Context())
	writeJSON(w, map[string]interface{}{
		"status":     s.tracker.AggregateStatus(),
		"components": statuses,
	})
}

func (s *Server) handleMigrators(w http.ResponseWriter, r *http.Request) {
	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()
	writeJSON(w, s.registry.migrators)
}

func (s *Server) handleReadModels(w http.ResponseWriter, r *http.Request) {
	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()
	writeJSON(w, s.registry.readModels)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
