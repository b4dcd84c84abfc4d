package index

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultEmbedConcurrency caps in-flight embedding requests per batch.
const DefaultEmbedConcurrency = 4

// EmbedClient is the backend call an Embedder needs. *ollama.Client satisfies it.
type EmbedClient interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// Embedder turns chunk texts into vectors with one embedding model.
type Embedder struct {
	client EmbedClient
	model  string
	limit  int
}

// NewEmbedder returns an Embedder for model with DefaultEmbedConcurrency.
func NewEmbedder(c EmbedClient, model string) *Embedder {
	return &Embedder{client: c, model: model, limit: DefaultEmbedConcurrency}
}

// WithConcurrency returns a copy of e that keeps at most n requests in flight.
func (e *Embedder) WithConcurrency(n int) *Embedder {
	cp := *e
	if n > 0 {
		cp.limit = n
	}
	return &cp
}

// Model is the embedding model name.
func (e *Embedder) Model() string { return e.model }

// EmbedBatch embeds texts concurrently and returns the vectors in input
// order. The first failure cancels the rest. Empty input yields nil, nil.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors := make([][]float32, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)

	for i := range texts {
		g.Go(func() error {
			vec, err := e.client.Embed(ctx, e.model, texts[i])
			if err != nil {
				return fmt.Errorf("embedding chunk %d with %s: %w", i, e.model, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
