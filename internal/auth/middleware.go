package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/dennisdiepolder/monti/handoff/internal/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Claims is the authenticated caller extracted from a token
type Claims struct {
	Email   string   `json:"email"`
	Name    string   `json:"name"`
	Picture string   `json:"picture"`
	Role    string   `json:"role"`  // highest ranked role, for display
	Roles   []string `json:"roles"` // every role or group the token carries
	jwt.RegisteredClaims
}

// HasAnyRole reports whether the caller holds one of roles
func (c *Claims) HasAnyRole(roles []string) bool {
	for _, r := range c.Roles {
		if slices.Contains(roles, r) {
			return true
		}
	}
	return false
}

type contextKey string

const UserContextKey contextKey = "user"

// Options configures the Authenticator
type Options struct {
	SkipAuth   bool
	JWTSecret  string // HS256 shared secret
	OIDCIssuer string // JWKS is fetched from the issuer when set
	AgentRoles []string
	AdminRoles []string
}

// Authenticator validates bearer tokens and maps them to agent identities
type Authenticator struct {
	opts   Options
	jwks   keyfunc.Keyfunc
	logger zerolog.Logger
}

// NewAuthenticator creates an authenticator. With an issuer configured the
// JWKS is fetched now and refreshed in the background.
func NewAuthenticator(opts Options, logger zerolog.Logger) (*Authenticator, error) {
	a := &Authenticator{
		opts:   opts,
		logger: logger.With().Str("component", "auth").Logger(),
	}

	switch {
	case opts.SkipAuth:
		a.logger.Warn().Msg("SKIP_AUTH enabled - bypassing authentication")
	case opts.OIDCIssuer != "":
		// Keycloak certs endpoint
		jwksURL := strings.TrimSuffix(opts.OIDCIssuer, "/") + "/protocol/openid-connect/certs"
		k, err := keyfunc.NewDefault([]string{jwksURL})
		if err != nil {
			return nil, fmt.Errorf("failed to create keyfunc: %w", err)
		}
		a.jwks = k
		a.logger.Info().Str("jwks_url", jwksURL).Msg("JWKS loaded")
	case opts.JWTSecret == "":
		return nil, errors.New("no token verification configured: set OIDC_ISSUER or JWT_SECRET")
	}
	return a, nil
}

// devClaims is the caller used when authentication is skipped
func devClaims() *Claims {
	return &Claims{
		Email: "dev@monti.local",
		Name:  "Dev Agent",
		Role:  "admin",
		Roles: []string{"admin", "supervisor", "agent"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "dev-agent",
		},
	}
}

// Middleware rejects requests without a valid token and stores the claims in the context
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.opts.SkipAuth {
			ctx := context.WithValue(r.Context(), UserContextKey, devClaims())
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		tokenString := extractToken(r)
		if tokenString == "" {
			http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
			return
		}

		claims, err := a.ValidateToken(tokenString)
		if err != nil {
			a.logger.Debug().Err(err).Msg("token validation failed")
			http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin lets through callers holding one of the admin roles
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := GetUserFromContext(r.Context())
		if !a.IsAdmin(claims) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IsAdmin reports whether claims carry one of the admin roles
func (a *Authenticator) IsAdmin(claims *Claims) bool {
	return claims != nil && claims.HasAnyRole(a.opts.AdminRoles)
}

// Identity maps claims to the agent identity the handoff core works with.
// Authorized is set when the caller holds one of the agent roles.
func (a *Authenticator) Identity(claims *Claims) types.AgentIdentity {
	if claims == nil {
		return types.AgentIdentity{}
	}
	name := claims.Name
	if name == "" {
		name = claims.Email
	}
	return types.AgentIdentity{
		AgentID:    claims.Subject,
		Name:       name,
		AvatarURL:  claims.Picture,
		Authorized: claims.Subject != "" && claims.HasAnyRole(a.opts.AgentRoles),
	}
}

// IdentityFromRequest returns the identity of the authenticated caller
func (a *Authenticator) IdentityFromRequest(r *http.Request) types.AgentIdentity {
	claims, _ := GetUserFromContext(r.Context())
	return a.Identity(claims)
}

// extractToken gets the token from Authorization header or query parameter
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if tokenString, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		return tokenString
	}
	// Browsers cannot set headers on WebSocket upgrades
	return r.URL.Query().Get("token")
}

// ValidateToken verifies the token signature and expiry and extracts the claims
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, a.keyfunc, jwt.WithValidMethods(a.validMethods()), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	claims := &Claims{}
	claims.Subject, _ = mapClaims["sub"].(string)
	claims.Email, _ = mapClaims["email"].(string)
	claims.Picture, _ = mapClaims["picture"].(string)
	if name, ok := mapClaims["name"].(string); ok {
		claims.Name = name
	} else if preferred, ok := mapClaims["preferred_username"].(string); ok {
		claims.Name = preferred
	}
	claims.Roles = extractRoles(mapClaims)
	claims.Role = primaryRole(claims.Roles)

	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func (a *Authenticator) keyfunc(token *jwt.Token) (interface{}, error) {
	if strings.HasPrefix(token.Method.Alg(), "HS") {
		if a.opts.JWTSecret == "" {
			return nil, errors.New("shared secret not configured")
		}
		return []byte(a.opts.JWTSecret), nil
	}
	if a.jwks == nil {
		return nil, errors.New("JWKS not available")
	}
	return a.jwks.Keyfunc(token)
}

func (a *Authenticator) validMethods() []string {
	var methods []string
	if a.opts.JWTSecret != "" {
		methods = append(methods, "HS256")
	}
	if a.jwks != nil {
		methods = append(methods, "RS256", "RS384", "RS512", "ES256", "ES384", "ES512")
	}
	return methods
}

// extractRoles collects roles from the claim locations used by Keycloak and Cognito
func extractRoles(mapClaims jwt.MapClaims) []string {
	var roles []string
	add := func(v interface{}) {
		list, ok := v.([]interface{})
		if !ok {
			return
		}
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" && !slices.Contains(roles, s) {
				roles = append(roles, s)
			}
		}
	}

	if role, ok := mapClaims["role"].(string); ok && role != "" {
		roles = append(roles, role)
	}
	add(mapClaims["roles"])
	if realmAccess, ok := mapClaims["realm_access"].(map[string]interface{}); ok {
		add(realmAccess["roles"])
	}
	add(mapClaims["cognito:groups"])
	return roles
}

// primaryRole picks the highest ranked known role
func primaryRole(roles []string) string {
	for _, priority := range []string{"admin", "supervisor", "agent"} {
		if slices.Contains(roles, priority) {
			return priority
		}
	}
	return "viewer"
}

// GetUserFromContext retrieves user claims from request context
func GetUserFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*Claims)
	return claims, ok
}
