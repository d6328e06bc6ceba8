package jobs

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aiforum/rag-service/internal/model"
	registrystore "github.com/aiforum/rag-service/internal/registry/store"
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// submitRequest enqueues a reply-generation job. Topic arrives as a string
// from the forum app and must parse to a numeric id.
type submitRequest struct {
	Topic    string  `json:"topic"`
	UserID   string  `json:"user_id"`
	Question string  `json:"question"`
	ReplyTo  *string `json:"reply_to"`
}

// MountRoutes mounts the asynchronous job endpoints.
func MountRoutes(r *gin.Engine, store registrystore.Store, auth gin.HandlerFunc) {
	g := r.Group("/api/v1/jobs", auth)

	g.POST("", func(c *gin.Context) { submitJob(c, store) })
	g.GET("/:id", func(c *gin.Context) { getJob(c, store) })
}

// submitJob validates the request, persists a pending job, and returns
// immediately. The caller observes the outcome via job status lookup or the
// persisted message side effect.
func submitJob(c *gin.Context, store registrystore.Store) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}
	character := model.NormalizeCharacter(req.UserID)
	if character == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	topicID, err := strconv.ParseInt(strings.TrimSpace(req.Topic), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "topic must be a numeric id"})
		return
	}

	job := &model.Job{
		ID:            uuid.New(),
		Status:        model.JobStatusPending,
		Character:     character,
		TopicID:       topicID,
		Question:      req.Question,
		ReplyTo:       req.ReplyTo,
		NextAttemptAt: time.Now(),
	}
	if err := store.CreateJob(c.Request.Context(), job); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}

func getJob(c *gin.Context, store registrystore.Store) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	job, err := store.GetJob(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
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
	var conflict *registrystore.ConflictError
	if errors.As(err, &conflict) {
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error()})
		return
	}
	var unavailable *registrystore.UnavailableError
	if errors.As(err, &unavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": unavailable.Error()})
		return
	}
	log.Error("Jobs route error", "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
