package jobs_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aiforum/rag-service/internal/model"
	"github.com/aiforum/rag-service/internal/plugin/route/jobs"
	registrystore "github.com/aiforum/rag-service/internal/registry/store"
	"github.com/aiforum/rag-service/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*gin.Engine, registrystore.Store) {
	t.Helper()
	store := testutil.OpenSQLiteStore(t)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	auth := func(c *gin.Context) { c.Next() }
	jobs.MountRoutes(router, store, auth)
	return router, store
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSubmitJob(t *testing.T) {
	router, store := setup(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/jobs", gin.H{
		"topic":    "42",
		"user_id":  "Alaev",
		"question": "What is sharding?",
		"reply_to": "Sly32",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		JobID  uuid.UUID `json:"job_id"`
		Status string    `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp.Status)

	job, err := store.GetJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, "alaev", job.Character)
	assert.Equal(t, int64(42), job.TopicID)
	require.NotNil(t, job.ReplyTo)
	assert.Equal(t, "Sly32", *job.ReplyTo)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.WithinDuration(t, time.Now(), job.NextAttemptAt, 5*time.Second)
}

func TestSubmitJobValidation(t *testing.T) {
	router, _ := setup(t)

	cases := []struct {
		name string
		body gin.H
		want string
	}{
		{"missing question", gin.H{"topic": "1", "user_id": "alaev"}, "question is required"},
		{"missing user", gin.H{"topic": "1", "question": "q"}, "user_id is required"},
		{"non-numeric topic", gin.H{"topic": "abc", "user_id": "alaev", "question": "q"}, "topic must be a numeric id"},
		{"missing topic", gin.H{"user_id": "alaev", "question": "q"}, "topic must be a numeric id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/api/v1/jobs", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tc.want)
		})
	}
}

func TestGetJob(t *testing.T) {
	router, store := setup(t)

	job := &model.Job{Character: "alaev", TopicID: 7, Question: "q", NextAttemptAt: time.Now()}
	require.NoError(t, store.CreateJob(context.Background(), job))

	w := doJSON(t, router, http.MethodGet, "/api/v1/jobs/"+job.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got model.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, model.JobStatusPending, got.Status)
}

func TestGetJobInvalidID(t *testing.T) {
	router, _ := setup(t)
	w := doJSON(t, router, http.MethodGet, "/api/v1/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetJobNotFound(t *testing.T) {
	router, _ := setup(t)
	w := doJSON(t, router, http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
