package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ConnectionCounter reports the number of live connections.
type ConnectionCounter interface {
	Len() int
}

// Health serves GET /healthz.
func Health(conns ConnectionCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": conns.Len()})
	}
}
