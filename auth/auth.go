/*
Package auth turns bearer tokens into core.Caller values.

PURPOSE:
  Identity lives outside this service. The engine only needs the caller's
  id, role, email and company label, which arrive as claims of an HS256
  JWT. Tokens signed with any other algorithm are rejected.

CLAIMS:
  sub           caller id
  role          "admin" | "user"
  email         recipient address for notifications (optional)
  company_name  label shown on dashboards (optional)
  iss, exp, iat standard

SEE ALSO:
  - api/server.go:  Where the middleware is mounted
  - cmd/token:      Development token minting
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/roombook/core"
)

// Claims is the token payload.
type Claims struct {
	Role    core.Role `json:"role"`
	Email   string    `json:"email,omitempty"`
	Company string    `json:"company_name,omitempty"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func New(secret, issuer string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs a token for caller.
func (a *Authenticator) Issue(caller core.Caller) (string, time.Time, error) {
	now := a.now().UTC()
	exp := now.Add(a.ttl)
	claims := Claims{
		Role:    caller.Role,
		Email:   caller.Email,
		Company: caller.Company,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(caller.ID),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse validates raw and returns the caller it names. Every failure
// unwraps to core.ErrUnauthenticated.
func (a *Authenticator) Parse(raw string) (core.Caller, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return core.Caller{}, fmt.Errorf("%w: %w", core.ErrUnauthenticated, err)
	}

	if claims.Subject == "" {
		return core.Caller{}, fmt.Errorf("%w: missing subject", core.ErrUnauthenticated)
	}
	if claims.Role != core.RoleAdmin && claims.Role != core.RoleUser {
		return core.Caller{}, fmt.Errorf("%w: unknown role %q", core.ErrUnauthenticated, claims.Role)
	}
	return core.Caller{
		ID:      core.UserID(claims.Subject),
		Role:    claims.Role,
		Email:   claims.Email,
		Company: claims.Company,
	}, nil
}

// =============================================================================
// HTTP
// =============================================================================

// ErrorWriter renders an authentication failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Middleware requires a valid bearer token and stores the caller in the
// request context.
func (a *Authenticator) Middleware(fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				fail(w, r, fmt.Errorf("%w: missing bearer token", core.ErrUnauthenticated))
				return
			}
			caller, err := a.Parse(strings.TrimSpace(raw))
			if err != nil {
				fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// RequireAdmin rejects non-admin callers with core.ErrForbidden. Mount it
// after Middleware.
func RequireAdmin(fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerFrom(r.Context())
			if !ok {
				fail(w, r, core.ErrUnauthenticated)
				return
			}
			if !caller.IsAdmin() {
				fail(w, r, fmt.Errorf("%w: Admin only", core.ErrForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type ctxKey struct{}

func WithCaller(ctx context.Context, caller core.Caller) context.Context {
	return context.WithValue(ctx, ctxKey{}, caller)
}

func CallerFrom(ctx context.Context) (core.Caller, bool) {
	c, ok := ctx.Value(ctxKey{}).(core.Caller)
	return c, ok
}

// IsExpired reports whether err came from an expired token.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}
