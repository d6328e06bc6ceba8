package echo

import (
	"context"
	"fmt"

	registrygenerate "github.com/aiforum/rag-service/internal/registry/generate"
)

func init() {
	registrygenerate.Register(registrygenerate.Plugin{
		Name: "echo",
		Loader: func(ctx context.Context) (registrygenerate.Generator, error) {
			return &EchoGenerator{}, nil
		},
	})
}

// EchoGenerator returns a deterministic rendering of the request. Useful
// for local development and tests where no generation backend is running.
type EchoGenerator struct{}

func (g *EchoGenerator) Name() string { return "echo" }

func (g *EchoGenerator) Generate(ctx context.Context, req registrygenerate.Request) (registrygenerate.Result, error) {
	if err := ctx.Err(); err != nil {
		return registrygenerate.Result{}, err
	}
	return registrygenerate.Result{
		Content: fmt.Sprintf("[echo:%s] %s", req.Model, req.Prompt),
		Metadata: map[string]any{
			"model": req.Model,
		},
	}, nil
}

var _ registrygenerate.Generator = (*EchoGenerator)(nil)
