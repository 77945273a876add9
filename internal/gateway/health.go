package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health handles GET /health.
func (g *Gateway) Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
