package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore forbids clients and proxies from caching responses, which carry
// per-student attempt state.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}
