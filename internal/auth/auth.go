package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrKeyNotFound = errors.New("client key not found")
	ErrKeyExists   = errors.New("client key already exists")
)

// AnonymousClientID identifies callers when no key store is configured.
const AnonymousClientID = "anonymous"

const cacheTTL = 5 * time.Minute

// ClientKey is a credential issued to one orchestrator client, such as the
// mobile app or a serverless function.
type ClientKey struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	KeyHash   string    `json:"key_hash"`
	RateLimit int64     `json:"rate_limit"` // max tokens per minute
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (k *ClientKey) MarshalBinary() ([]byte, error) {
	return json.Marshal(k)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (k *ClientKey) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, k)
}

type Store interface {
	GetByKey(ctx context.Context, key string) (*ClientKey, error)
	Create(ctx context.Context, key *ClientKey) error
	Revoke(ctx context.Context, keyID string) error
}

type Middleware func(next http.Handler) http.Handler

type contextKey string

const (
	clientIDKey  contextKey = "client_id"
	keyIDKey     contextKey = "key_id"
	requestIDKey contextKey = "request_id"
	rateLimitKey contextKey = "rate_limit"
)

// HashKey is the stored form of a raw client key.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// NewMiddleware authenticates bearer client keys against store, caching
// hits in Redis when cache is non-nil.
func NewMiddleware(store Store, cache *redis.Client, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
				return
			}
			key := strings.TrimPrefix(authHeader, "Bearer ")
			cacheKey := fmt.Sprintf("auth:%s", HashKey(key))

			if cache != nil {
				var cached ClientKey
				err := cache.Get(ctx, cacheKey).Scan(&cached)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(withKey(ctx, &cached)))
					return
				}
				if !errors.Is(err, redis.Nil) {
					logger.Warn("auth cache lookup failed", zap.Error(err))
				}
			}

			ck, err := store.GetByKey(ctx, key)
			if err != nil {
				if errors.Is(err, ErrKeyNotFound) {
					writeError(w, http.StatusUnauthorized, "invalid client key")
					return
				}
				logger.Error("client key lookup failed", zap.Error(err), zap.String("request_id", GetRequestID(ctx)))
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			if cache != nil {
				if err := cache.Set(ctx, cacheKey, ck, cacheTTL).Err(); err != nil {
					logger.Warn("auth cache write failed", zap.Error(err))
				}
			}

			next.ServeHTTP(w, r.WithContext(withKey(ctx, ck)))
		})
	}
}

// Anonymous attributes every request to AnonymousClientID.
func Anonymous() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithClientID(r.Context(), AnonymousClientID)))
		})
	}
}

func withKey(ctx context.Context, k *ClientKey) context.Context {
	ctx = context.WithValue(ctx, clientIDKey, k.ClientID)
	ctx = WithRateLimit(ctx, k.RateLimit)
	return context.WithValue(ctx, keyIDKey, k.ID)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Helpers to extract from context
func GetClientID(ctx context.Context) string {
	if id, ok := ctx.Value(clientIDKey).(string); ok {
		return id
	}
	return ""
}

func GetKeyID(ctx context.Context) string {
	if id, ok := ctx.Value(keyIDKey).(string); ok {
		return id
	}
	return ""
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetRateLimit returns the authenticated key's tokens-per-minute limit, or
// 0 when the request carries none.
func GetRateLimit(ctx context.Context) int64 {
	if n, ok := ctx.Value(rateLimitKey).(int64); ok {
		return n
	}
	return 0
}

func WithRateLimit(ctx context.Context, tpm int64) context.Context {
	return context.WithValue(ctx, rateLimitKey, tpm)
}

func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func WithKeyID(ctx context.Context, keyID string) context.Context {
	return context.WithValue(ctx, keyIDKey, keyID)
}
