package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/text2sql/text2sql/internal/observability"
)

type contextKey string

const identityKey contextKey = "auth_identity"

const (
	reasonMissingKey = "missing_key"
	reasonInvalidKey = "invalid_key"
)

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

type gate struct {
	logger    *slog.Logger
	validator APIKeyValidator
	next      http.Handler
}

// Middleware admits requests carrying a key known to validator, sent as
// X-API-Key or as a bearer token, and stores the caller's Identity in the
// request context.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &gate{logger: logger, validator: validator, next: next}
	}
}

func (g *gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := presentedKey(r.Header)
	if key == "" {
		g.reject(w, r, reasonMissingKey, "missing API key")
		return
	}
	identity, ok := g.validator.Validate(r.Context(), key)
	if !ok {
		g.reject(w, r, reasonInvalidKey, "invalid API key")
		return
	}
	g.next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
}

func (g *gate) reject(w http.ResponseWriter, r *http.Request, reason, message string) {
	observability.ObserveAuthRejection(reason)
	if g.logger != nil {
		g.logger.WarnContext(r.Context(), "request rejected",
			slog.String("reason", reason),
			slog.String("route", r.Method+" "+r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="text2sql"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": "UNAUTHORIZED",
		"message":    message,
		"retryable":  false,
		"context":    map[string]any{"reason": reason},
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}

// presentedKey returns the X-API-Key header, or the token of a bearer
// Authorization header when X-API-Key is absent.
func presentedKey(header http.Header) string {
	if key := strings.TrimSpace(header.Get("X-API-Key")); key != "" {
		return key
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
