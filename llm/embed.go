package llm

import (
	"context"
	"fmt"
	"math"

	"github.com/c360studio/semgraph/model"
)

// defaultEmbedBatchSize bounds how many texts go into one provider call.
const defaultEmbedBatchSize = 64

// Embedder generates unit-normalized embedding vectors through the
// embedding capability, with the same fallback and health behavior as
// chat completion.
type Embedder struct {
	client    *Client
	batchSize int
	dimension int
}

// EmbedderOption configures an Embedder.
type EmbedderOption func(*Embedder)

// WithBatchSize sets the maximum inputs per provider call.
func WithBatchSize(n int) EmbedderOption {
	return func(e *Embedder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithDimension enforces an expected vector dimension. Zero disables the
// check unless the endpoint config declares one.
func WithDimension(d int) EmbedderOption {
	return func(e *Embedder) {
		e.dimension = d
	}
}

// NewEmbedder creates an embedder over an LLM client.
func NewEmbedder(client *Client, opts ...EmbedderOption) *Embedder {
	e := &Embedder{
		client:    client,
		batchSize: defaultEmbedBatchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed returns one unit-normalized vector per input text, in input
// order, plus the model identifier that produced them. All batches of a
// single call go through the same endpoint so the vectors are comparable.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, string, error) {
	if len(texts) == 0 {
		return nil, "", nil
	}

	chain := e.client.registry.GetAvailableFallbackChain(model.CapabilityEmbedding)
	if len(chain) == 0 {
		return nil, "", fmt.Errorf("no endpoints configured for capability embedding")
	}

	var lastErr error

	for _, name := range chain {
		ep := e.client.registry.GetEndpoint(name)
		if ep == nil {
			continue
		}

		provider := GetProvider(ep.Provider)
		if provider == nil {
			continue
		}
		embedProvider, ok := provider.(EmbeddingProvider)
		if !ok {
			e.client.logger.Debug("Provider has no embeddings endpoint, skipping",
				"endpoint", name, "provider", ep.Provider)
			continue
		}

		vectors, err := e.embedAll(ctx, provider, embedProvider, ep, texts)
		if err == nil {
			e.client.registry.MarkEndpointSuccess(name)
			return vectors, ep.Model, nil
		}
		lastErr = err

		if IsFatal(err) {
			return nil, "", err
		}

		e.client.registry.MarkEndpointFailure(name)
		e.client.logger.Warn("Embedding endpoint failed, trying fallback",
			"endpoint", name, "error", err)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no embedding-capable providers in chain")
	}
	return nil, "", NewTransientError(fmt.Errorf("all embedding endpoints failed: %w", lastErr))
}

// embedAll runs every batch against one endpoint and validates the output.
func (e *Embedder) embedAll(ctx context.Context, provider Provider, ep EmbeddingProvider, cfg *model.EndpointConfig, texts []string) ([][]float32, error) {
	url := ep.BuildEmbeddingURL(cfg.URL)
	vectors := make([][]float32, 0, len(texts))

	wantDim := e.dimension
	if cfg.Dimension > 0 {
		wantDim = cfg.Dimension
	}

	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		body, err := ep.BuildEmbeddingBody(cfg.Model, batch)
		if err != nil {
			return nil, NewFatalError(fmt.Errorf("build embedding body: %w", err))
		}

		respBody, err := e.client.post(ctx, provider, url, body)
		if err != nil {
			return nil, err
		}

		batchVectors, err := ep.ParseEmbeddingResponse(respBody)
		if err != nil {
			return nil, NewTransientError(err)
		}
		if len(batchVectors) != len(batch) {
			return nil, NewTransientError(fmt.Errorf("got %d embeddings for %d inputs", len(batchVectors), len(batch)))
		}

		for i, vec := range batchVectors {
			if len(vec) == 0 {
				return nil, NewTransientError(fmt.Errorf("empty embedding at index %d", start+i))
			}
			if wantDim > 0 && len(vec) != wantDim {
				return nil, NewFatalError(fmt.Errorf("embedding dimension %d, expected %d", len(vec), wantDim))
			}
			vectors = append(vectors, unitNormalize(vec))
		}
	}

	return vectors, nil
}

// unitNormalize scales a vector to unit length so cosine similarity
// reduces to a dot product. Zero vectors are returned unchanged.
func unitNormalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)

	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
