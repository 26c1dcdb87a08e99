package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semgraph/model"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, int64(25<<20), cfg.HTTP.MaxUploadBytes)
	assert.Equal(t, 2, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, 24*time.Hour, cfg.Jobs.ApprovalTimeout)
	assert.Equal(t, 168*time.Hour, cfg.Jobs.FailedRetention)
	assert.Equal(t, 900, cfg.Chunking.TargetTokens)
	assert.Equal(t, 150, cfg.Chunking.OverlapTokens)
	assert.Equal(t, 1536, cfg.Graph.EmbeddingDimension)
	assert.Equal(t, 0.85, cfg.Graph.MergeThreshold)
	assert.True(t, cfg.VocabExpansionEnabled())
	assert.Empty(t, cfg.NATS.URL, "embedded NATS by default")
	assert.Empty(t, cfg.Mongo.URI, "in-memory store by default")

	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name:    "missing http addr",
			modify:  func(c *Config) { c.HTTP.Addr = "" },
			wantErr: true,
		},
		{
			name:    "zero workers",
			modify:  func(c *Config) { c.Jobs.MaxConcurrent = 0 },
			wantErr: true,
		},
		{
			name:    "merge threshold above one",
			modify:  func(c *Config) { c.Graph.MergeThreshold = 1.5 },
			wantErr: true,
		},
		{
			name:    "overlap at target",
			modify:  func(c *Config) { c.Chunking.OverlapTokens = c.Chunking.TargetTokens },
			wantErr: true,
		},
		{
			name:    "mongo uri without database",
			modify:  func(c *Config) { c.Mongo.URI = "mongodb://localhost:27017" },
			wantErr: true,
		},
		{
			name: "mongo uri with database",
			modify: func(c *Config) {
				c.Mongo.URI = "mongodb://localhost:27017"
				c.Mongo.Database = "semgraph"
			},
		},
		{
			name:    "watch dir without ontology",
			modify:  func(c *Config) { c.Watch.Dir = "/docs" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "semgraph.yaml")

	content := `
http:
  addr: ":9090"
  require_principal: true
jobs:
  max_concurrent: 4
  approval_timeout: 1h
  vocab_expansion: false
chunking:
  target_tokens: 500
  overlap_tokens: 50
graph:
  merge_threshold: 0.9
llm:
  ollama_url: "http://models:11434/v1"
  embedding_model: "nomic-embed-text"
watch:
  dir: "/docs"
  ontology: "research"
  include:
    - "**/*.md"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.True(t, cfg.HTTP.RequirePrincipal)
	assert.Equal(t, 4, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, time.Hour, cfg.Jobs.ApprovalTimeout)
	require.NotNil(t, cfg.Jobs.VocabExpansion)
	assert.False(t, *cfg.Jobs.VocabExpansion)
	assert.Equal(t, 500, cfg.Chunking.TargetTokens)
	assert.Equal(t, 0.9, cfg.Graph.MergeThreshold)
	assert.Equal(t, "http://models:11434/v1", cfg.LLM.OllamaURL)
	assert.Equal(t, "research", cfg.Watch.Ontology)
	assert.Equal(t, []string{"**/*.md"}, cfg.Watch.Include)
}

func TestConfigMerge(t *testing.T) {
	vocabOff := false
	base := DefaultConfig()
	base.Merge(&Config{
		HTTP: HTTPConfig{Addr: ":9999"},
		Jobs: JobsConfig{
			MaxConcurrent:  8,
			VocabExpansion: &vocabOff,
		},
	})

	assert.Equal(t, ":9999", base.HTTP.Addr)
	assert.Equal(t, 8, base.Jobs.MaxConcurrent)
	assert.False(t, base.VocabExpansionEnabled(), "explicit false survives merge")
	// Untouched fields keep their defaults.
	assert.Equal(t, 24*time.Hour, base.Jobs.ApprovalTimeout)
	assert.Equal(t, int64(25<<20), base.HTTP.MaxUploadBytes)
}

func TestLoaderEnvOverrides(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "semgraph.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("jobs:\n  max_concurrent: 4\n"), 0o644))

	t.Setenv("MAX_CONCURRENT_JOBS", "6")
	t.Setenv("HTTP_ADDR", ":7070")
	t.Setenv("CHUNK_TIMEOUT", "5m")
	t.Setenv("CONCEPT_MERGE_THRESHOLD", "0.92")
	t.Setenv("VOCAB_EXPANSION", "false")
	t.Setenv("WATCH_INCLUDE", "**/*.md, **/*.txt")

	cfg, err := NewLoader(nil).Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Jobs.MaxConcurrent, "env wins over file")
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Jobs.ChunkTimeout)
	assert.Equal(t, 0.92, cfg.Graph.MergeThreshold)
	assert.False(t, cfg.VocabExpansionEnabled())
	assert.Equal(t, []string{"**/*.md", "**/*.txt"}, cfg.Watch.Include)
}

func TestLoaderMissingExplicitFile(t *testing.T) {
	_, err := NewLoader(nil).Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRegistryOverrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.ExtractionModel = "llama3.1:70b"
	cfg.LLM.OllamaURL = "http://models:11434/v1"

	reg, err := cfg.Registry()
	require.NoError(t, err)

	extraction := reg.GetEndpoint(reg.Resolve(model.CapabilityExtraction))
	require.NotNil(t, extraction)
	assert.Equal(t, "llama3.1:70b", extraction.Model)

	for _, name := range reg.ListEndpoints() {
		ep := reg.GetEndpoint(name)
		if ep.Provider == "ollama" {
			assert.Equal(t, "http://models:11434/v1", ep.URL)
		}
	}
}

func TestComponentConfigs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Jobs.MaxConcurrent = 3
	cfg.Graph.MergeThreshold = 0.9
	cfg.Chunking.TargetTokens = 600
	cfg.HTTP.RequirePrincipal = true

	sched := cfg.Scheduler()
	assert.Equal(t, 3, sched.MaxConcurrentJobs)
	assert.Equal(t, 0.9, sched.MergeThreshold)
	assert.Equal(t, 600, sched.TargetTokens)

	pipe := cfg.Pipeline()
	assert.Equal(t, 0.9, pipe.MergeThreshold)
	assert.Equal(t, 600, pipe.TargetTokens)

	apiCfg := cfg.API()
	assert.True(t, apiCfg.RequirePrincipal)
	assert.Equal(t, int64(25<<20), apiCfg.MaxUploadBytes)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	q := cfg.Query(reg)
	assert.Equal(t, "text-embedding-3-small", q.EmbeddingModel)
}

func TestConfigSaveToFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "subdir", "semgraph.yaml")

	cfg := DefaultConfig()
	cfg.HTTP.Addr = ":6060"
	require.NoError(t, cfg.SaveToFile(configPath))

	loaded, err := LoadFromFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, ":6060", loaded.HTTP.Addr)
}
