package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/modelware/agentgate/utils"
)

// Claims represents the JWT claims carried by API tokens
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware provides authentication middleware functionality.
// Requests authenticate with either a bearer JWT signed with the shared
// secret, or the operator API key checked against its bcrypt hash.
type AuthMiddleware struct {
	secret     []byte
	apiKeyHash string
	logger     *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(jwtSecret, apiKeyHash string, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		secret:     []byte(jwtSecret),
		apiKeyHash: apiKeyHash,
		logger:     logger,
	}
}

// RequireAuth is a middleware that requires a valid JWT token or API key
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if key := r.Header.Get("X-API-Key"); key != "" && m.apiKeyHash != "" {
			if err := bcrypt.CompareHashAndPassword([]byte(m.apiKeyHash), []byte(key)); err != nil {
				m.logger.Warn("api key rejected", zap.Error(err))
				_ = utils.WriteUnauthorized(w, "Invalid API key")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSubject(ctx, "api-key")))
			return
		}

		token := extractBearerToken(r)
		if token == "" {
			m.logger.Warn("missing credentials", zap.String("path", r.URL.Path))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		claims, err := m.validateToken(token)
		if err != nil {
			m.logger.Warn("token validation failed", zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx = WithClaims(ctx, claims)
		ctx = WithSubject(ctx, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole is a middleware that requires the authenticated token to carry
// a specific role. API-key requests always pass: the key is the operator
// credential.
func (m *AuthMiddleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if GetSubjectFromContext(ctx) == "api-key" {
				next.ServeHTTP(w, r)
				return
			}

			claims := GetClaimsFromContext(ctx)
			if claims == nil || claims.Role != role {
				m.logger.Warn("role check failed",
					zap.String("required", role),
					zap.String("path", r.URL.Path))
				_ = utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse{
					Error:   "forbidden",
					Message: fmt.Sprintf("Requires %s role", role),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IssueToken signs a JWT for the subject, valid for ttl.
func (m *AuthMiddleware) IssueToken(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	return claims, nil
}

// extractBearerToken pulls the token from the Authorization header
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
