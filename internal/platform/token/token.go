// Package token validates the access tokens the dashboard gateway issues.
// The engine only consumes tokens; issuing stays with the gateway.
package token

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"conformo/internal/platform/middleware"
	dErrors "conformo/pkg/domain-errors"
)

// Claims are the token claims the engine cares about.
type Claims struct {
	ActorID   string `json:"actor_id"`
	CompanyID string `json:"company_id"`
	jwt.RegisteredClaims
}

// Service validates HMAC-signed access tokens.
type Service struct {
	signingKey []byte
}

func New(signingKey string) *Service {
	return &Service{signingKey: []byte(signingKey)}
}

func (s *Service) ValidateToken(tokenString string) (*middleware.TokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	actor := claims.ActorID
	if actor == "" {
		actor = claims.Subject
	}
	if actor == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token carries no actor")
	}

	return &middleware.TokenClaims{ActorID: actor, CompanyID: claims.CompanyID}, nil
}
