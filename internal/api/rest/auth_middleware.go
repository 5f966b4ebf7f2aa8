package rest

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/davidleathers/performance-control-loop/internal/domain/errors"
)

// Permissions carried in operator tokens.
const (
	PermissionRead  = "control:read"
	PermissionWrite = "control:write"
	PermissionAll   = "*"
)

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret   []byte
	Issuer      string
	TokenExpiry time.Duration
}

// Claims represents JWT claims
type Claims struct {
	jwt.RegisteredClaims
	Permissions []string `json:"permissions"`
}

// Has reports whether the claims grant permission.
func (c *Claims) Has(permission string) bool {
	return slices.Contains(c.Permissions, permission) || slices.Contains(c.Permissions, PermissionAll)
}

// AuthMiddleware provides JWT-based authentication
type AuthMiddleware struct {
	config AuthConfig
}

func NewAuthMiddleware(config AuthConfig) *AuthMiddleware {
	if config.TokenExpiry <= 0 {
		config.TokenExpiry = time.Hour
	}
	return &AuthMiddleware{config: config}
}

// Enabled is false when no signing secret is configured; every request is
// then let through.
func (a *AuthMiddleware) Enabled() bool {
	return len(a.config.JWTSecret) > 0
}

// Require returns a middleware that rejects requests without a valid bearer
// token granting permission.
func (a *AuthMiddleware) Require(permission string) Middleware {
	return func(next http.Handler) http.Handler {
		if !a.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				writeAuthError(w, r, errors.NewUnauthorizedError(err.Error()))
				return
			}
			claims, err := a.ValidateToken(token)
			if err != nil {
				writeAuthError(w, r, errors.NewUnauthorizedError("invalid or expired token"))
				return
			}
			if !claims.Has(permission) {
				writeAuthError(w, r, errors.NewForbiddenError("insufficient permissions"))
				return
			}
			ctx := context.WithValue(r.Context(), contextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GenerateToken signs an HS256 token for subject.
func (a *AuthMiddleware) GenerateToken(subject string, permissions ...string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.config.Issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.TokenExpiry)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Permissions: permissions,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.config.JWTSecret)
}

// ValidateToken parses and verifies an HS256 token.
func (a *AuthMiddleware) ValidateToken(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.config.Issuer))
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.config.JWTSecret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// ClaimsFromContext returns the authenticated claims, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(contextKeyClaims).(*Claims)
	return c, ok
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", fmt.Errorf("invalid authorization header format")
	}
	return token, nil
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err *errors.AppError) {
	if err.Type == errors.ErrorTypeUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="control"`)
	}
	writeJSON(w, errors.GetStatusCode(err), ResponseEnvelope{
		Error: &ErrorResponse{Code: err.Code, Message: err.Message},
		Meta:  ResponseMeta{RequestID: requestID(r.Context()), Timestamp: time.Now().UTC()},
	})
}
