package knowledge

import (
	"errors"
	"net/http"

	registrystore "github.com/aiforum/rag-service/internal/registry/store"
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// MountRoutes mounts the character knowledge endpoints.
func MountRoutes(r *gin.Engine, store registrystore.Store, auth gin.HandlerFunc) {
	g := r.Group("/", auth)

	g.GET("/users", func(c *gin.Context) { listUsers(c, store) })
	g.GET("/users/:id/knowledge", func(c *gin.Context) { getUserKnowledge(c, store) })
}

func listUsers(c *gin.Context, store registrystore.Store) {
	names, err := store.ListCharacterNames(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, names)
}

func getUserKnowledge(c *gin.Context, store registrystore.Store) {
	profile, err := store.GetCharacterProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
		return
	}
	var unavailable *registrystore.UnavailableError
	if errors.As(err, &unavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": unavailable.Error()})
		return
	}
	log.Error("Knowledge route error", "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
