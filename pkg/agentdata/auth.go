package agentdata

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the role claim required by /sync and /admin endpoints.
const RoleAdmin = "admin"

// Claims are the bearer token claims understood by the API.
//
// Subject is the user the token acts for. A token with a subject may only
// submit and query records for that user.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type claimsKey struct{}

var (
	errMissingToken = errors.New("missing bearer token")
	errForbidden    = errors.New("token does not grant access to this resource")
)

// authenticator verifies HMAC signed bearer tokens. A nil or empty-secret
// authenticator lets every request through.
type authenticator struct {
	secret []byte
}

func newAuthenticator(secret string) *authenticator {
	return &authenticator{secret: []byte(secret)}
}

func (a *authenticator) enabled() bool {
	return a != nil && len(a.secret) > 0
}

// IssueToken signs claims with the configured secret. Used by operators and tests.
func IssueToken(secret string, claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func (a *authenticator) parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// bearerToken reads the Authorization header, or the access_token query
// parameter for websocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// middleware rejects requests without a valid token.
func (a *authenticator) middleware(next http.Handler) http.Handler {
	if !a.enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			respondError(w, http.StatusUnauthorized, errMissingToken.Error())
			return
		}
		claims, err := a.parse(raw)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin wraps middleware and additionally demands the admin role.
func (a *authenticator) requireAdmin(next http.Handler) http.Handler {
	if !a.enabled() {
		return next
	}
	return a.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := claimsFrom(r.Context()); claims == nil || claims.Role != RoleAdmin {
			respondError(w, http.StatusForbidden, errForbidden.Error())
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func claimsFrom(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims
}

// authorizeUser checks that the caller may act for userID.
func authorizeUser(ctx context.Context, userID string) error {
	claims := claimsFrom(ctx)
	if claims == nil || claims.Subject == "" || claims.Role == RoleAdmin {
		return nil
	}
	if claims.Subject != userID {
		return errForbidden
	}
	return nil
}
