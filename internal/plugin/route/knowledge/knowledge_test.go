package knowledge_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aiforum/rag-service/internal/model"
	"github.com/aiforum/rag-service/internal/plugin/route/knowledge"
	registrystore "github.com/aiforum/rag-service/internal/registry/store"
	"github.com/aiforum/rag-service/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*gin.Engine, registrystore.Store) {
	t.Helper()
	store := testutil.OpenSQLiteStore(t)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	auth := func(c *gin.Context) { c.Next() }
	knowledge.MountRoutes(router, store, auth)
	return router, store
}

func get(t *testing.T, router *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestListUsersEmpty(t *testing.T) {
	router, _ := setup(t)

	w := get(t, router, "/users")
	require.Equal(t, http.StatusOK, w.Code)
	// An empty list, not null.
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestListUsers(t *testing.T) {
	router, store := setup(t)
	ctx := context.Background()
	require.NoError(t, store.SaveCharacterProfile(ctx, &model.CharacterProfile{Name: "sly32"}))
	require.NoError(t, store.SaveCharacterProfile(ctx, &model.CharacterProfile{Name: "alaev"}))

	w := get(t, router, "/users")
	require.Equal(t, http.StatusOK, w.Code)

	var names []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &names))
	assert.Equal(t, []string{"alaev", "sly32"}, names)
}

func TestGetUserKnowledge(t *testing.T) {
	router, store := setup(t)
	require.NoError(t, store.SaveCharacterProfile(context.Background(), &model.CharacterProfile{
		Name:        "alaev",
		DisplayName: "Alaev",
		Expertise:   []string{"databases"},
	}))

	w := get(t, router, "/users/Alaev/knowledge")
	require.Equal(t, http.StatusOK, w.Code)

	var profile model.CharacterProfile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &profile))
	assert.Equal(t, "alaev", profile.Name)
	assert.Equal(t, "Alaev", profile.DisplayName)
	assert.Equal(t, []string{"databases"}, profile.Expertise)
}

func TestGetUserKnowledgeNotFound(t *testing.T) {
	router, _ := setup(t)
	w := get(t, router, "/users/ghost/knowledge")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
