package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	dErrors "conformo/pkg/domain-errors"
	"conformo/pkg/platform/httputil"
	"conformo/pkg/requestcontext"
)

// TokenValidator validates a bearer token and yields the actor behind it.
type TokenValidator interface {
	ValidateToken(tokenString string) (*TokenClaims, error)
}

// TokenClaims is what the middleware needs from a validated token.
type TokenClaims struct {
	ActorID   string
	CompanyID string
}

// RequireAuth validates the Authorization header and stores the actor in the
// request context. Every status change is attributed to this actor in the
// obligation history.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "missing bearer token",
					slog.String("request_id", requestcontext.RequestID(ctx)))
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "invalid token",
					slog.String("request_id", requestcontext.RequestID(ctx)),
					slog.String("error", err.Error()))
				httputil.WriteError(w, err)
				return
			}

			ctx = requestcontext.WithActorID(ctx, claims.ActorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdminKey guards catalog writes with a pre-shared admin key. The
// configured value is a bcrypt hash so the plaintext never sits in the
// environment. An empty hash disables the guarded routes entirely.
func RequireAdminKey(keyHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if keyHash == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "catalog administration is disabled"))
				return
			}

			key := r.Header.Get("X-Admin-Key")
			if key == "" || bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)) != nil {
				logger.WarnContext(ctx, "rejected admin key",
					slog.String("request_id", requestcontext.RequestID(ctx)),
					slog.String("path", r.URL.Path))
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid admin key"))
				return
			}

			ctx = requestcontext.WithActorID(ctx, "admin")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
