package security

import (
	"net/http"
	"strings"

	"github.com/aiforum/rag-service/internal/config"
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyClientID is the gin context key for the resolved API client name.
	ContextKeyClientID = "clientID"
)

// GetClientID returns the resolved API client name from the gin context.
func GetClientID(c *gin.Context) string {
	return c.GetString(ContextKeyClientID)
}

// AuthMiddleware returns a gin middleware that authenticates requests with an
// API key, taken from the X-API-Key header or an Authorization Bearer token.
// When no API keys are configured the endpoints are open; in testing mode an
// X-Client-ID header is accepted directly.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	testingMode := cfg.Mode == config.ModeTesting
	apiKeys := cfg.APIKeys
	return func(c *gin.Context) {
		if testingMode {
			if hdr := strings.TrimSpace(c.GetHeader("X-Client-ID")); hdr != "" {
				c.Set(ContextKeyClientID, hdr)
			}
			c.Next()
			return
		}
		if len(apiKeys) == 0 {
			c.Next()
			return
		}

		key := strings.TrimSpace(c.GetHeader("X-API-Key"))
		if key == "" {
			auth := c.GetHeader("Authorization")
			if token := strings.TrimPrefix(auth, "Bearer "); token != auth {
				key = strings.TrimSpace(token)
			}
		}
		if key == "" {
			log.Info("Auth rejected: missing API key", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}
		clientID, ok := apiKeys[key]
		if !ok {
			log.Info("Auth rejected: invalid API key", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}
		c.Set(ContextKeyClientID, clientID)
		c.Next()
	}
}
