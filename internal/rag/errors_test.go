package rag_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aiforum/rag-service/internal/rag"
	registrygenerate "github.com/aiforum/rag-service/internal/registry/generate"
	registrystore "github.com/aiforum/rag-service/internal/registry/store"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	assert.False(t, rag.IsTransient(nil))
	assert.True(t, rag.IsTransient(&registrystore.UnavailableError{Backend: "qdrant", Err: errors.New("dial")}))
	assert.True(t, rag.IsTransient(&registrygenerate.FailedError{Backend: "http", Reason: "status 500"}))
	assert.True(t, rag.IsTransient(context.DeadlineExceeded))
	assert.True(t, rag.IsTransient(fmt.Errorf("wrapped: %w", &registrystore.UnavailableError{Backend: "pg"})))
	assert.False(t, rag.IsTransient(errors.New("something else")))
	assert.False(t, rag.IsTransient(&registrystore.ValidationError{Field: "q", Message: "required"}))
}

func TestIsValidation(t *testing.T) {
	assert.False(t, rag.IsValidation(nil))
	assert.True(t, rag.IsValidation(&registrystore.ValidationError{Field: "q", Message: "required"}))
	assert.True(t, rag.IsValidation(&registrystore.NotFoundError{Resource: "character", ID: "ghost"}))
	assert.True(t, rag.IsValidation(fmt.Errorf("wrapped: %w", &registrystore.NotFoundError{Resource: "character", ID: "x"})))
	assert.False(t, rag.IsValidation(errors.New("boom")))
	assert.False(t, rag.IsValidation(&registrystore.UnavailableError{Backend: "pg"}))
}
