package rag

import (
	"context"
	"errors"

	registrygenerate "github.com/aiforum/rag-service/internal/registry/generate"
	registrystore "github.com/aiforum/rag-service/internal/registry/store"
)

// IsTransient reports whether an error class may succeed on a later attempt:
// unreachable backends, generation failures, and deadline expiry. The
// orchestrator retries these with backoff up to its ceiling.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var unavailable *registrystore.UnavailableError
	if errors.As(err, &unavailable) {
		return true
	}
	var genFailed *registrygenerate.FailedError
	if errors.As(err, &genFailed) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsValidation reports whether an error reflects bad caller input or a
// missing referenced resource. Retrying cannot change the outcome, so the
// orchestrator fails these jobs immediately.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	var validation *registrystore.ValidationError
	if errors.As(err, &validation) {
		return true
	}
	var notFound *registrystore.NotFoundError
	return errors.As(err, &notFound)
}
