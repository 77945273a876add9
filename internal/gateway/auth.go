package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// APIKeyMiddleware enforces the optional API_KEY config value (§6,
// reserved until an operator sets it) against the Authorization bearer
// token or x-api-key header, in the error shape the matched dialect
// expects. keyFunc is read on every request so a hot-reloaded config
// change takes effect without a restart.
func APIKeyMiddleware(keyFunc func() string, errorBody func(string) gin.H) gin.HandlerFunc {
	return func(c *gin.Context) {
		want := keyFunc()
		if want == "" {
			c.Next()
			return
		}

		got := c.GetHeader("x-api-key")
		if got == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				got = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("invalid api key"))
			return
		}
		c.Next()
	}
}

// AdminAuthMiddleware gates the admin callables behind WEBUI_PASSWORD, the
// same credential the (out-of-scope) admin UI authenticates with. An empty
// password leaves the admin surface open, matching an operator who never
// set one.
func AdminAuthMiddleware(passwordFunc func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		want := passwordFunc()
		if want == "" {
			c.Next()
			return
		}

		got := c.GetHeader("x-admin-password")
		if got == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				got = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin password"})
			return
		}
		c.Next()
	}
}
