package rag

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aiforum/rag-service/internal/model"
	ragcore "github.com/aiforum/rag-service/internal/rag"
	registrycache "github.com/aiforum/rag-service/internal/registry/cache"
	registryembed "github.com/aiforum/rag-service/internal/registry/embed"
	registrystore "github.com/aiforum/rag-service/internal/registry/store"
	registryvector "github.com/aiforum/rag-service/internal/registry/vector"
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

var startupTime = time.Now()

// ragRequest is the processing request from the forum app. Topic arrives as a
// string and must parse to a numeric id.
type ragRequest struct {
	Topic               string  `json:"topic"`
	UserID              string  `json:"user_id"`
	Question            string  `json:"question"`
	ReplyTo             *string `json:"reply_to"`
	ContextLimit        int     `json:"context_limit"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
}

type contextItem struct {
	Content         string         `json:"content"`
	Source          string         `json:"source"`
	SimilarityScore float64        `json:"similarity_score"`
	Metadata        map[string]any `json:"metadata"`
}

type ragResponse struct {
	EnhancedPrompt string                  `json:"enhanced_prompt"`
	ContextItems   []contextItem           `json:"context_items"`
	UserPersona    *model.CharacterProfile `json:"user_persona"`
	ProcessingTime float64                 `json:"processing_time"`
	Timestamp      time.Time               `json:"timestamp"`
}

// MountRoutes mounts the RAG processing endpoints.
func MountRoutes(r *gin.Engine, pipeline *ragcore.Pipeline, store registrystore.Store, vectors registryvector.VectorStore, cache registrycache.KnowledgeCache, embedder registryembed.Embedder, auth gin.HandlerFunc) {
	g := r.Group("/api/v1/rag", auth)

	g.POST("/process", func(c *gin.Context) { process(c, pipeline) })
	g.GET("/health", func(c *gin.Context) { health(c, store, vectors, cache, embedder) })
	g.POST("/cache/clear", func(c *gin.Context) { clearCache(c, cache) })
	g.GET("/stats", func(c *gin.Context) { stats(c, store, vectors) })
}

func process(c *gin.Context, pipeline *ragcore.Pipeline) {
	var req ragRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Topic) != "" {
		if _, err := strconv.ParseInt(req.Topic, 10, 64); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "topic must be a numeric id"})
			return
		}
	}

	result, err := pipeline.Process(c.Request.Context(), ragcore.ProcessRequest{
		Character:           req.UserID,
		Question:            req.Question,
		ReplyTo:             req.ReplyTo,
		ContextLimit:        req.ContextLimit,
		SimilarityThreshold: req.SimilarityThreshold,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	items := make([]contextItem, len(result.ContextItems))
	for i, doc := range result.ContextItems {
		items[i] = contextItem{
			Content:         doc.Document.Content,
			Source:          doc.Document.Owner,
			SimilarityScore: doc.Similarity,
			Metadata:        doc.Document.Metadata,
		}
	}
	c.JSON(http.StatusOK, ragResponse{
		EnhancedPrompt: result.EnhancedPrompt,
		ContextItems:   items,
		UserPersona:    result.Persona,
		ProcessingTime: result.ProcessingTime.Seconds(),
		Timestamp:      time.Now(),
	})
}

type healthStatus struct {
	Status              string  `json:"status"`
	DatabaseStatus      string  `json:"database_status"`
	VectorDBStatus      string  `json:"vector_db_status"`
	KnowledgeBaseStatus string  `json:"knowledge_base_status"`
	EmbeddingStatus     string  `json:"embedding_status"`
	CacheStatus         string  `json:"cache_status"`
	Uptime              float64 `json:"uptime"`
}

// health aggregates backend availability. Reachable-but-empty backends are
// reported as a distinct degradation, not a failure.
func health(c *gin.Context, store registrystore.Store, vectors registryvector.VectorStore, cache registrycache.KnowledgeCache, embedder registryembed.Embedder) {
	status := healthStatus{
		DatabaseStatus:      "healthy",
		VectorDBStatus:      "healthy",
		KnowledgeBaseStatus: "healthy",
		EmbeddingStatus:     "disabled",
		CacheStatus:         "disabled",
		Uptime:              time.Since(startupTime).Seconds(),
	}
	if embedder != nil {
		status.EmbeddingStatus = "healthy (" + embedder.ModelName() + ")"
	}

	if err := store.Ping(c.Request.Context()); err != nil {
		status.DatabaseStatus = "unhealthy: " + err.Error()
	}

	if vectors == nil || !vectors.IsEnabled() {
		status.VectorDBStatus = "disabled"
	} else if count, err := vectors.CountDocuments(c.Request.Context()); err != nil {
		status.VectorDBStatus = "unhealthy: " + err.Error()
	} else if count == 0 {
		status.VectorDBStatus = "healthy (no embeddings)"
	}

	if names, err := store.ListCharacterNames(c.Request.Context()); err != nil {
		status.KnowledgeBaseStatus = "unhealthy: " + err.Error()
	} else if len(names) == 0 {
		status.KnowledgeBaseStatus = "healthy (no users)"
	}

	if cache != nil && cache.Available() {
		status.CacheStatus = "healthy"
	}

	status.Status = "healthy"
	for _, s := range []string{status.DatabaseStatus, status.VectorDBStatus, status.KnowledgeBaseStatus} {
		if strings.HasPrefix(s, "unhealthy") {
			status.Status = "unhealthy"
			break
		}
	}
	c.JSON(http.StatusOK, status)
}

func clearCache(c *gin.Context, cache registrycache.KnowledgeCache) {
	if cache == nil || !cache.Available() {
		c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Cache disabled"})
		return
	}
	if err := cache.InvalidateAll(c.Request.Context()); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Cache cleared"})
}

func stats(c *gin.Context, store registrystore.Store, vectors registryvector.VectorStore) {
	names, err := store.ListCharacterNames(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	jobCounts, err := store.CountJobsByStatus(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}

	var documents int64
	if vectors != nil && vectors.IsEnabled() {
		if documents, err = vectors.CountDocuments(c.Request.Context()); err != nil {
			handleError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds":  time.Since(startupTime).Seconds(),
		"total_documents": documents,
		"available_users": len(names),
		"user_list":       names,
		"jobs":            jobCounts,
		"startup_time":    startupTime.Format(time.RFC3339),
	})
}

func handleError(c *gin.Context, err error) {
	var validation *registrystore.ValidationError
	if errors.As(err, &validation) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
		return
	}
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
	log.Error("RAG route error", "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
