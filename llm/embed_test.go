package llm_test

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/c360studio/semgraph/llm"
	_ "github.com/c360studio/semgraph/llm/providers" // Register providers
	"github.com/c360studio/semgraph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddingRegistry(url string, dimension int) *model.Registry {
	return model.NewRegistry(
		map[model.Capability]*model.CapabilityConfig{
			model.CapabilityEmbedding: {
				Preferred: []string{"test-embed"},
			},
		},
		map[string]*model.EndpointConfig{
			"test-embed": {
				Provider:  "ollama",
				URL:       url,
				Model:     "test-embed-model",
				Dimension: dimension,
			},
		},
	)
}

func TestEmbedder_Embed_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-embed-model", req.Model)

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{3, 4, 0},
			}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  "test-embed-model",
		})
	}))
	defer server.Close()

	client := llm.NewClient(embeddingRegistry(server.URL, 3))
	embedder := llm.NewEmbedder(client)

	vectors, modelID, err := embedder.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, "test-embed-model", modelID)
	require.Len(t, vectors, 2)

	// Vectors come back unit-normalized: (3,4,0) -> (0.6,0.8,0)
	assert.InDelta(t, 0.6, float64(vectors[0][0]), 1e-6)
	assert.InDelta(t, 0.8, float64(vectors[0][1]), 1e-6)

	var norm float64
	for _, v := range vectors[0] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
}

func TestEmbedder_Embed_Batching(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.LessOrEqual(t, len(req.Input), 2)

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"index": i, "embedding": []float32{1, 0}}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer server.Close()

	client := llm.NewClient(embeddingRegistry(server.URL, 2))
	embedder := llm.NewEmbedder(client, llm.WithBatchSize(2))

	vectors, _, err := embedder.Embed(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, vectors, 5)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedder_Embed_DimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": []float32{1, 0, 0}},
			},
		})
	}))
	defer server.Close()

	client := llm.NewClient(embeddingRegistry(server.URL, 768))
	embedder := llm.NewEmbedder(client)

	_, _, err := embedder.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	assert.Contains(t, err.Error(), "dimension")
}

func TestEmbedder_Embed_EmptyInput(t *testing.T) {
	client := llm.NewClient(model.NewDefaultRegistry())
	embedder := llm.NewEmbedder(client)

	vectors, modelID, err := embedder.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
	assert.Empty(t, modelID)
}

func TestVision_Describe_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// The image travels as an inline data URL inside the message content.
		msgs := req["messages"].([]any)
		require.Len(t, msgs, 1)

		json.NewEncoder(w).Encode(map[string]any{
			"model": "test-vision-model",
			"choices": []map[string]any{
				{
					"message":       map[string]string{"role": "assistant", "content": "A white square on black background."},
					"finish_reason": "stop",
				},
			},
		})
	}))
	defer server.Close()

	registry := model.NewRegistry(
		map[model.Capability]*model.CapabilityConfig{
			model.CapabilityVision: {
				Preferred: []string{"test-vision"},
			},
		},
		map[string]*model.EndpointConfig{
			"test-vision": {
				Provider: "ollama",
				URL:      server.URL,
				Model:    "test-vision-model",
			},
		},
	)

	client := llm.NewClient(registry)
	vision := llm.NewVision(client)

	png := append([]byte("\x89PNG\r\n\x1a\n"), []byte("fakepixels")...)
	desc, modelID, err := vision.Describe(context.Background(), png)
	require.NoError(t, err)
	assert.Equal(t, "A white square on black background.", desc)
	assert.Equal(t, "test-vision-model", modelID)
}

func TestSniffImageType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"png", []byte("\x89PNG\r\n\x1a\nrest"), "image/png"},
		{"gif", []byte("GIF89a..."), "image/gif"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "image/webp"},
		{"bmp", []byte("BM\x00\x00"), "image/bmp"},
		{"jpeg fallback", []byte("\xff\xd8\xff\xe0"), "image/jpeg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, llm.SniffImageType(tt.data))
		})
	}
}
