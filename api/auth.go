/*
auth.go - Bearer token verification and role checks

PURPOSE:
  Every /api route except customer registration runs behind a signed
  HS256 token. The token names who is calling (sub), what they are
  (role) and, for partners, which tenant they act for (tenant_id).

ROLES:
  customer  Redeems, cancels and lists own vouchers
  partner   Records purchases and manages one tenant's catalog
  admin     Everything, including approvals and maintenance

FLOW:
  Authenticate  parses the header, verifies the token and stores a
                Principal in the request context (401 on failure)
  RequireRole   rejects principals without one of the listed roles (403)

Sessions are issued elsewhere. IssueToken exists for development tooling
and tests.

SEE ALSO:
  - server.go: Which routes need which roles
  - config/config.go: Secret, issuer and token lifetime
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/warp/loyalty-engine/logging"
)

// Role is what a caller is allowed to do.
type Role string

const (
	RoleCustomer Role = "customer"
	RolePartner  Role = "partner"
	RoleAdmin    Role = "admin"
)

func (r Role) valid() bool {
	return r == RoleCustomer || r == RolePartner || r == RoleAdmin
}

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims is the token payload.
type Claims struct {
	Role     Role   `json:"role"`
	TenantID string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller.
type Principal struct {
	Subject  string
	Role     Role
	TenantID string
}

// Is reports whether the principal has any of the roles.
func (p Principal) Is(roles ...Role) bool {
	return slices.Contains(roles, p.Role)
}

// =============================================================================
// TOKENS
// =============================================================================

// Tokens signs and verifies bearer tokens with one shared secret.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens creates a verifier. ttl only applies to IssueToken.
func NewTokens(secret, issuer string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// IssueToken signs a token for p.
func (t *Tokens) IssueToken(p Principal) (string, error) {
	now := t.now()
	claims := Claims{
		Role:     p.Role,
		TenantID: p.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify parses and checks a token, returning the caller it names.
func (t *Tokens) Verify(tokenString string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer), jwt.WithTimeFunc(t.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || !claims.Role.valid() {
		return nil, fmt.Errorf("%w: missing subject or unknown role", ErrInvalidToken)
	}
	if claims.Role == RolePartner && claims.TenantID == "" {
		return nil, fmt.Errorf("%w: partner token without tenant", ErrInvalidToken)
	}

	return &Principal{Subject: claims.Subject, Role: claims.Role, TenantID: claims.TenantID}, nil
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the authenticated caller, or nil.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// Authenticate requires a valid bearer token.
func (t *Tokens) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeError(w, http.StatusUnauthorized, "Authentication required", ErrMissingToken)
			return
		}

		p, err := t.Verify(strings.TrimSpace(raw))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Authentication required", err)
			return
		}

		ctx := WithPrincipal(r.Context(), p)
		ctx = logging.WithContext(ctx, logging.FromContext(ctx).With(
			zap.String("subject", p.Subject),
			zap.String("role", string(p.Role)),
		))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects principals without one of roles.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFrom(r.Context())
			if p == nil {
				writeError(w, http.StatusUnauthorized, "Authentication required", ErrMissingToken)
				return
			}
			if !p.Is(roles...) {
				writeError(w, http.StatusForbidden, "Forbidden", fmt.Errorf("role %s not allowed", p.Role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
