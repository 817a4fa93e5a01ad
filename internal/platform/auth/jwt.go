package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

type ctxKeyUserID struct{}
type ctxKeyRole struct{}
type ctxKeySessionID struct{}
type ctxKeyAccountCreatedAt struct{}

func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyUserID{}).(string)
	return v, ok
}

// WithUserID injects user_id into context. Useful for testing.
func WithUserID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID{}, uid)
}

func RoleFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyRole{}).(string)
	return v, ok
}

// WithRole injects a role into context. Useful for testing.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, ctxKeyRole{}, role)
}

// SessionIDFromContext returns the token's sid claim, falling back to the user id.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeySessionID{}).(string); ok && v != "" {
		return v
	}
	uid, _ := UserIDFromContext(ctx)
	return uid
}

// WithSessionID injects a session id into context.
func WithSessionID(ctx context.Context, sid string) context.Context {
	return context.WithValue(ctx, ctxKeySessionID{}, sid)
}

// AccountCreatedAtFromContext reports when the authenticated account was created,
// if the identity provider put it in the token.
func AccountCreatedAtFromContext(ctx context.Context) (time.Time, bool) {
	v, ok := ctx.Value(ctxKeyAccountCreatedAt{}).(time.Time)
	return v, ok && !v.IsZero()
}

// WithAccountCreatedAt injects the account creation time into context.
func WithAccountCreatedAt(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ctxKeyAccountCreatedAt{}, t)
}

type Claims struct {
	jwt.RegisteredClaims
	Role          string           `json:"role"`
	SessionID     string           `json:"sid,omitempty"`
	UserCreatedAt *jwt.NumericDate `json:"user_created_at,omitempty"`
}

type JWTVerifier struct {
	Secret []byte
}

func (v JWTVerifier) Parse(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return v.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// RequireUser middleware validates Bearer token and injects user_id into context.
func RequireUser(verifier JWTVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := bearerClaims(verifier, r)
			if !ok {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

// OptionalUser injects the identity when a valid bearer token is present and
// passes anonymous requests through untouched.
func OptionalUser(verifier JWTVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, ok := bearerClaims(verifier, r); ok {
				r = r.WithContext(withClaims(r.Context(), claims))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerClaims(verifier JWTVerifier, r *http.Request) (*Claims, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return nil, false
	}
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return nil, false
	}
	claims, err := verifier.Parse(strings.TrimSpace(parts[1]))
	if err != nil || strings.TrimSpace(claims.Subject) == "" {
		return nil, false
	}
	return claims, true
}

func withClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = WithUserID(ctx, claims.Subject)
	if strings.TrimSpace(claims.Role) != "" {
		ctx = WithRole(ctx, claims.Role)
	}
	if sid := strings.TrimSpace(claims.SessionID); sid != "" {
		ctx = WithSessionID(ctx, sid)
	}
	if claims.UserCreatedAt != nil {
		ctx = WithAccountCreatedAt(ctx, claims.UserCreatedAt.Time)
	}
	return ctx
}
