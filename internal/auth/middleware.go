package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"facescan/internal/session"
)

const (
	claimsKey  = "claims"
	sessionKey = "session"
)

// Sessions resolves the bearer access token, when present, into a
// session.Session stored on the gin context. Requests without a token are
// logged out; malformed, expired or revoked tokens are rejected.
func Sessions(signingKey, issuer string, revoker Revoker) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" {
			c.Set(sessionKey, session.Session{})
			c.Next()
			return
		}
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil || claims.Kind != KindAccess {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "redirect": "/login"})
			return
		}
		revoked, err := revoker.Revoked(c.Request.Context(), claims.Subject)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
			return
		}
		if revoked {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session ended", "redirect": "/login"})
			return
		}
		c.Set(claimsKey, claims)
		c.Set(sessionKey, claims.Session())
		c.Next()
	}
}

// SessionFrom returns the session set by Sessions, logged out if none.
func SessionFrom(c *gin.Context) session.Session {
	v, _ := c.Get(sessionKey)
	s, _ := v.(session.Session)
	return s
}

// ClaimsFrom returns the access token claims set by Sessions.
func ClaimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}
