package embed

import "context"

// Embedder generates vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension this embedder produces.
	Dimensions() int

	// ModelName returns the model identifier, recorded in the companion
	// record so a dimension/model mismatch can be detected on load.
	ModelName() string

	// Available reports whether the embedder is currently reachable.
	Available(ctx context.Context) bool

	Close() error
}
