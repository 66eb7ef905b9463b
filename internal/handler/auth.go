package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"facescan/internal/auth"
	"facescan/internal/metrics"
	"facescan/internal/navigation"
	"facescan/internal/session"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Login accepts any non-empty email/password pair and issues tokens for a
// fresh session with the chosen role.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "notice": noticeLoginFailed})
		return
	}

	role, err := session.ParseRole(req.Role)
	if err != nil {
		metrics.Logins.WithLabelValues("unknown", "rejected").Inc()
		abortWithError(c, err)
		return
	}

	if n := h.registry.Sweep(); n > 0 {
		h.log.Debug("expired detection sessions closed", zap.Int("count", n))
	}

	s := session.Session{ID: uuid.NewString()}
	if err := s.Login(session.Credentials{Email: req.Email, Password: req.Password, Role: role}); err != nil {
		metrics.Logins.WithLabelValues(string(role), "rejected").Inc()
		abortWithError(c, err)
		return
	}

	tokens, err := auth.Issue(s, h.opts.Issuer, h.opts.SigningKey, h.opts.AccessTTL, h.opts.RefreshTTL)
	if err != nil {
		h.log.Error("token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed", "notice": noticeInternal})
		return
	}
	metrics.Logins.WithLabelValues(string(role), "ok").Inc()
	h.log.Info("login", zap.String("session", s.ID), zap.String("role", string(role)))

	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
		"role":          role,
		"menu":          navigation.Menu(role),
		"redirect":      navigation.PathHome,
		"notice":        noticeLoginOK,
	})
}

// Refresh issues a new token pair for the session of a refresh token.
func (h *Handler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, err := auth.Parse(req.RefreshToken, h.opts.SigningKey, h.opts.Issuer)
	if err != nil || claims.Kind != auth.KindRefresh {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token", "redirect": navigation.PathLogin})
		return
	}
	revoked, err := h.revoker.Revoked(c.Request.Context(), claims.Subject)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
		return
	}
	if revoked {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session ended", "redirect": navigation.PathLogin})
		return
	}

	tokens, err := auth.Issue(claims.Session(), h.opts.Issuer, h.opts.SigningKey, h.opts.AccessTTL, h.opts.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// Logout ends the session: both flags are cleared, its tokens stop working
// and its detection machine is closed. Logging out twice is harmless.
func (h *Handler) Logout(c *gin.Context) {
	s := auth.SessionFrom(c)
	if s.LoggedIn {
		until := h.now().Add(h.opts.RefreshTTL)
		if err := h.revoker.Revoke(c.Request.Context(), s.ID, until); err != nil {
			h.log.Error("revoke session failed", zap.String("session", s.ID), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
			return
		}
		h.registry.Close(s.ID, until)
		h.log.Info("logout", zap.String("session", s.ID))
	}
	s.Logout()
	c.JSON(http.StatusOK, gin.H{"logged_in": s.LoggedIn, "admin": s.Admin, "redirect": navigation.PathLogin})
}

// Session reports the login flags of the caller.
func (h *Handler) Session(c *gin.Context) {
	s := auth.SessionFrom(c)
	resp := gin.H{"logged_in": s.LoggedIn, "admin": s.Admin}
	if s.LoggedIn {
		resp["email"] = s.Email
		resp["role"] = s.Role()
	}
	if claims, ok := auth.ClaimsFrom(c); ok && claims.ExpiresAt != nil {
		resp["expires_at"] = claims.ExpiresAt.Unix()
	}
	c.JSON(http.StatusOK, resp)
}

// Navigate returns the gate decision for ?path=.
func (h *Handler) Navigate(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}
	d := navigation.Gate(auth.SessionFrom(c), path)
	if d.Outcome == navigation.Redirect {
		metrics.GateRedirects.WithLabelValues(path, d.Path).Inc()
	}
	c.JSON(http.StatusOK, d)
}
