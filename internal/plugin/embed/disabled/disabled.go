package disabled

import (
	"context"

	"github.com/aiforum/rag-service/internal/registry/embed"
)

func init() {
	embed.Register(embed.Plugin{
		Name: "none",
		// A nil embedder means the service runs without embeddings: retrieval
		// returns nothing and health reports the degradation.
		Loader: func(ctx context.Context) (embed.Embedder, error) {
			return nil, nil
		},
	})
}
