package middlewares

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/restaurant_backend/utils"
)

const (
	OpsTokenHeader = "x-ops-token"
	OperatorHeader = "x-operator"
)

// OpsTokenMiddleware guards internal ops routes with a shared token and tags
// the request with the operator named in x-operator. An empty token disables
// the routes entirely.
func OpsTokenMiddleware(token string) gin.HandlerFunc {
	token = strings.TrimSpace(token)
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "route not found"})
			return
		}
		got := strings.TrimSpace(c.GetHeader(OpsTokenHeader))
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		operator := strings.TrimSpace(c.GetHeader(OperatorHeader))
		if operator == "" {
			operator = "ops"
		}
		c.Request = c.Request.WithContext(utils.SetOperatorInContext(c.Request.Context(), operator))
		c.Next()
	}
}
