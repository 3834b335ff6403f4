// Package mw contains HTTP middleware for the pipeline's Submission API and
// Realtime Gateway.
package mw

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserClaimsKey is the context key for the authenticated caller's claims.
	UserClaimsKey ContextKey = "user_claims"
)

// UserClaims is the caller identity extracted from a verified bearer token.
// Auth is treated as an external collaborator (spec.md §1 Out-of-scope):
// this package only verifies a bearer token's signature and expiry and
// extracts the tenant id used for row-level isolation; it does not model
// roles, plans, or feature entitlements.
type UserClaims struct {
	TenantID string
	Subject  string
}

var (
	// ErrMissingToken is returned when no Authorization header is present.
	ErrMissingToken = errors.New("missing authorization header")
	// ErrInvalidToken is returned when the bearer token fails verification.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Verifier validates a bearer token string and returns the caller's claims.
type Verifier interface {
	Verify(ctx context.Context, token string) (*UserClaims, error)
}

// tenantClaims is the JWT claim set this pipeline expects: a tenant id
// carried either as "tenant_id" or, failing that, the standard "sub" claim.
type tenantClaims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id,omitempty"`
}

// JWTVerifier verifies HS256 bearer tokens signed with a shared secret
// (spec.md treats session/token issuance as an external collaborator; this
// pipeline only verifies what it's handed).
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a JWTVerifier keyed on secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify implements Verifier.
func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (*UserClaims, error) {
	claims := &tenantClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	tenantID := claims.TenantID
	if tenantID == "" {
		tenantID = claims.Subject
	}
	if tenantID == "" {
		return nil, ErrInvalidToken
	}

	return &UserClaims{TenantID: tenantID, Subject: claims.Subject}, nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return header
}

// Auth returns middleware that requires a valid bearer token, rejecting the
// request with 401 otherwise.
func Auth(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			claims, err := verifier.Verify(r.Context(), token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth returns middleware that validates auth if present but allows
// unauthenticated requests through with no claims in context.
func OptionalAuth(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := verifier.Verify(r.Context(), token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), UserClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserClaims retrieves the authenticated caller's claims from context.
func GetUserClaims(ctx context.Context) *UserClaims {
	claims, ok := ctx.Value(UserClaimsKey).(*UserClaims)
	if !ok {
		return nil
	}
	return claims
}
