package middleware

import "context"

// Context key type to avoid collisions
type contextKey string

const (
	// ClaimsKey is the context key for JWT claims
	ClaimsKey contextKey = "claims"

	// SubjectKey is the context key for the authenticated subject
	SubjectKey contextKey = "subject"
)

// GetClaimsFromContext retrieves JWT claims from context
func GetClaimsFromContext(ctx context.Context) *Claims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*Claims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds JWT claims to the context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetSubjectFromContext retrieves the authenticated subject from context.
// API-key requests carry the fixed subject "api-key".
func GetSubjectFromContext(ctx context.Context) string {
	if val := ctx.Value(SubjectKey); val != nil {
		if subject, ok := val.(string); ok {
			return subject
		}
	}
	return ""
}

// WithSubject adds the authenticated subject to the context
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, SubjectKey, subject)
}
