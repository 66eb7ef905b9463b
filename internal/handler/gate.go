package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"facescan/internal/auth"
	"facescan/internal/metrics"
	"facescan/internal/navigation"
)

// RequirePage runs the navigation gate for page before the route. A
// redirect to the login page answers 401, any other redirect 403.
func RequirePage(page string) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := navigation.Gate(auth.SessionFrom(c), page)
		switch d.Outcome {
		case navigation.Render:
			c.Next()
			return
		case navigation.Redirect:
			metrics.GateRedirects.WithLabelValues(page, d.Path).Inc()
			status := http.StatusForbidden
			if d.Path == navigation.PathLogin {
				status = http.StatusUnauthorized
			}
			c.AbortWithStatusJSON(status, gin.H{"redirect": d.Path})
		default:
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "page not found"})
		}
	}
}
