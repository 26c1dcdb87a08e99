// Package config provides configuration loading and management for semgraph.
// Configuration layers defaults, an optional YAML file, and environment
// variables, then hands each component its own config type.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/semgraph/api"
	"github.com/c360studio/semgraph/ingest"
	"github.com/c360studio/semgraph/model"
	"github.com/c360studio/semgraph/pipeline"
	"github.com/c360studio/semgraph/query"
	"github.com/c360studio/semgraph/scheduler"
)

// Config represents the complete semgraph configuration.
type Config struct {
	HTTP     HTTPConfig            `yaml:"http"`
	NATS     NATSConfig            `yaml:"nats"`
	Mongo    MongoConfig           `yaml:"mongo"`
	Jobs     JobsConfig            `yaml:"jobs"`
	Chunking ChunkingConfig        `yaml:"chunking"`
	Graph    GraphConfig           `yaml:"graph"`
	LLM      LLMConfig             `yaml:"llm"`
	Watch    WatchConfig           `yaml:"watch"`
	Models   *model.RegistryConfig `yaml:"models"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	// Addr is the listen address (default :8080).
	Addr string `yaml:"addr"`
	// MaxUploadBytes caps request bodies (default 25 MB).
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	// RequirePrincipal rejects requests without an X-User-ID header.
	RequirePrincipal bool `yaml:"require_principal"`
	// StreamHeartbeat is the SSE keepalive interval.
	StreamHeartbeat time.Duration `yaml:"stream_heartbeat"`
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server).
	URL string `yaml:"url"`
}

// MongoConfig configures the graph store backend.
type MongoConfig struct {
	// URI is the MongoDB connection string (empty = in-memory store).
	URI string `yaml:"uri"`
	// Database is the database name.
	Database string `yaml:"database"`
}

// JobsConfig configures the scheduler and worker pool.
type JobsConfig struct {
	MaxConcurrent       int           `yaml:"max_concurrent"`
	ApprovalTimeout     time.Duration `yaml:"approval_timeout"`
	CompletedRetention  time.Duration `yaml:"completed_retention"`
	FailedRetention     time.Duration `yaml:"failed_retention"`
	CleanupInterval     time.Duration `yaml:"cleanup_interval"`
	CheckpointMaxAge    time.Duration `yaml:"checkpoint_max_age"`
	ChunkTimeout        time.Duration `yaml:"chunk_timeout"`
	ReconcileInterval   time.Duration `yaml:"reconcile_interval"`
	TokenCostExtraction float64       `yaml:"token_cost_extraction"`
	TokenCostEmbedding  float64       `yaml:"token_cost_embedding"`
	// VocabExpansion auto-adds unknown relationship types. A pointer so
	// an explicit false in a config file survives the merge.
	VocabExpansion *bool `yaml:"vocab_expansion"`
}

// ChunkingConfig sets the default chunk geometry, overridable per job.
type ChunkingConfig struct {
	TargetTokens  int `yaml:"target_tokens"`
	OverlapTokens int `yaml:"overlap_tokens"`
}

// GraphConfig configures concept identity and vectors.
type GraphConfig struct {
	// EmbeddingDimension is the expected vector width.
	EmbeddingDimension int `yaml:"embedding_dimension"`
	// MergeThreshold is the cosine similarity above which an extracted
	// concept folds into an existing one.
	MergeThreshold float64 `yaml:"merge_threshold"`
}

// LLMConfig configures the provider adapters. API keys are read by the
// providers themselves from ANTHROPIC_API_KEY and OPENAI_API_KEY.
type LLMConfig struct {
	// OllamaURL overrides the URL of every ollama endpoint.
	OllamaURL string `yaml:"ollama_url"`
	// ExtractionModel, EmbeddingModel and VisionModel override the model
	// identifier of the preferred endpoint for each capability.
	ExtractionModel string `yaml:"extraction_model"`
	EmbeddingModel  string `yaml:"embedding_model"`
	VisionModel     string `yaml:"vision_model"`
	// ModelsFile points at a full registry config (JSON). When set it
	// replaces the built-in registry before overrides apply.
	ModelsFile string `yaml:"models_file"`
	// EmbedBatchSize bounds texts per embedding call.
	EmbedBatchSize int `yaml:"embed_batch_size"`
	// RPS caps outgoing provider requests per second (0 = unlimited).
	RPS float64 `yaml:"rps"`
}

// WatchConfig configures directory-watch auto submission.
type WatchConfig struct {
	// Dir is the directory to watch (empty disables watching).
	Dir string `yaml:"dir"`
	// Include and Exclude are doublestar globs relative to Dir.
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
	// AutoApprove skips the approval gate for watched submissions.
	AutoApprove bool `yaml:"auto_approve"`
	// Ontology is the ontology watched documents land in.
	Ontology string `yaml:"ontology"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() *Config {
	vocab := true
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			MaxUploadBytes:  25 << 20,
			StreamHeartbeat: 30 * time.Second,
		},
		Jobs: JobsConfig{
			MaxConcurrent:       2,
			ApprovalTimeout:     24 * time.Hour,
			CompletedRetention:  48 * time.Hour,
			FailedRetention:     168 * time.Hour,
			CleanupInterval:     time.Hour,
			CheckpointMaxAge:    30 * time.Minute,
			ChunkTimeout:        10 * time.Minute,
			TokenCostExtraction: 6.25,
			TokenCostEmbedding:  0.02,
			VocabExpansion:      &vocab,
		},
		Chunking: ChunkingConfig{
			TargetTokens:  900,
			OverlapTokens: 150,
		},
		Graph: GraphConfig{
			EmbeddingDimension: 1536,
			MergeThreshold:     0.85,
		},
		LLM: LLMConfig{
			EmbedBatchSize: 64,
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		return fmt.Errorf("http.max_upload_bytes must be positive")
	}
	if c.Jobs.MaxConcurrent < 1 {
		return fmt.Errorf("jobs.max_concurrent must be at least 1")
	}
	if c.Graph.MergeThreshold <= 0 || c.Graph.MergeThreshold > 1 {
		return fmt.Errorf("graph.merge_threshold must be in (0, 1]")
	}
	if c.Graph.EmbeddingDimension <= 0 {
		return fmt.Errorf("graph.embedding_dimension must be positive")
	}
	if c.Chunking.TargetTokens <= 0 {
		return fmt.Errorf("chunking.target_tokens must be positive")
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.TargetTokens {
		return fmt.Errorf("chunking.overlap_tokens must be in [0, target_tokens)")
	}
	if c.Mongo.URI != "" && c.Mongo.Database == "" {
		return fmt.Errorf("mongo.database is required when mongo.uri is set")
	}
	if c.Watch.Dir != "" && c.Watch.Ontology == "" {
		return fmt.Errorf("watch.ontology is required when watch.dir is set")
	}
	return nil
}

// Merge applies non-zero fields from other on top of c.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.HTTP.Addr != "" {
		c.HTTP.Addr = other.HTTP.Addr
	}
	if other.HTTP.MaxUploadBytes > 0 {
		c.HTTP.MaxUploadBytes = other.HTTP.MaxUploadBytes
	}
	if other.HTTP.RequirePrincipal {
		c.HTTP.RequirePrincipal = true
	}
	if other.HTTP.StreamHeartbeat > 0 {
		c.HTTP.StreamHeartbeat = other.HTTP.StreamHeartbeat
	}
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.Mongo.URI != "" {
		c.Mongo.URI = other.Mongo.URI
	}
	if other.Mongo.Database != "" {
		c.Mongo.Database = other.Mongo.Database
	}
	if other.Jobs.MaxConcurrent > 0 {
		c.Jobs.MaxConcurrent = other.Jobs.MaxConcurrent
	}
	if other.Jobs.ApprovalTimeout > 0 {
		c.Jobs.ApprovalTimeout = other.Jobs.ApprovalTimeout
	}
	if other.Jobs.CompletedRetention > 0 {
		c.Jobs.CompletedRetention = other.Jobs.CompletedRetention
	}
	if other.Jobs.FailedRetention > 0 {
		c.Jobs.FailedRetention = other.Jobs.FailedRetention
	}
	if other.Jobs.CleanupInterval > 0 {
		c.Jobs.CleanupInterval = other.Jobs.CleanupInterval
	}
	if other.Jobs.CheckpointMaxAge > 0 {
		c.Jobs.CheckpointMaxAge = other.Jobs.CheckpointMaxAge
	}
	if other.Jobs.ChunkTimeout > 0 {
		c.Jobs.ChunkTimeout = other.Jobs.ChunkTimeout
	}
	if other.Jobs.ReconcileInterval > 0 {
		c.Jobs.ReconcileInterval = other.Jobs.ReconcileInterval
	}
	if other.Jobs.TokenCostExtraction > 0 {
		c.Jobs.TokenCostExtraction = other.Jobs.TokenCostExtraction
	}
	if other.Jobs.TokenCostEmbedding > 0 {
		c.Jobs.TokenCostEmbedding = other.Jobs.TokenCostEmbedding
	}
	if other.Jobs.VocabExpansion != nil {
		c.Jobs.VocabExpansion = other.Jobs.VocabExpansion
	}
	if other.Chunking.TargetTokens > 0 {
		c.Chunking.TargetTokens = other.Chunking.TargetTokens
	}
	if other.Chunking.OverlapTokens > 0 {
		c.Chunking.OverlapTokens = other.Chunking.OverlapTokens
	}
	if other.Graph.EmbeddingDimension > 0 {
		c.Graph.EmbeddingDimension = other.Graph.EmbeddingDimension
	}
	if other.Graph.MergeThreshold > 0 {
		c.Graph.MergeThreshold = other.Graph.MergeThreshold
	}
	if other.LLM.OllamaURL != "" {
		c.LLM.OllamaURL = other.LLM.OllamaURL
	}
	if other.LLM.ExtractionModel != "" {
		c.LLM.ExtractionModel = other.LLM.ExtractionModel
	}
	if other.LLM.EmbeddingModel != "" {
		c.LLM.EmbeddingModel = other.LLM.EmbeddingModel
	}
	if other.LLM.VisionModel != "" {
		c.LLM.VisionModel = other.LLM.VisionModel
	}
	if other.LLM.ModelsFile != "" {
		c.LLM.ModelsFile = other.LLM.ModelsFile
	}
	if other.LLM.EmbedBatchSize > 0 {
		c.LLM.EmbedBatchSize = other.LLM.EmbedBatchSize
	}
	if other.LLM.RPS > 0 {
		c.LLM.RPS = other.LLM.RPS
	}
	if other.Watch.Dir != "" {
		c.Watch.Dir = other.Watch.Dir
	}
	if len(other.Watch.Include) > 0 {
		c.Watch.Include = other.Watch.Include
	}
	if len(other.Watch.Exclude) > 0 {
		c.Watch.Exclude = other.Watch.Exclude
	}
	if other.Watch.AutoApprove {
		c.Watch.AutoApprove = true
	}
	if other.Watch.Ontology != "" {
		c.Watch.Ontology = other.Watch.Ontology
	}
	if other.Models != nil {
		c.Models = other.Models
	}
}

// VocabExpansionEnabled resolves the vocab expansion flag.
func (c *Config) VocabExpansionEnabled() bool {
	return c.Jobs.VocabExpansion == nil || *c.Jobs.VocabExpansion
}

// Scheduler produces the scheduler configuration.
func (c *Config) Scheduler() scheduler.Config {
	return scheduler.Config{
		MaxConcurrentJobs:   c.Jobs.MaxConcurrent,
		ApprovalTimeout:     c.Jobs.ApprovalTimeout,
		CompletedRetention:  c.Jobs.CompletedRetention,
		FailedRetention:     c.Jobs.FailedRetention,
		CleanupInterval:     c.Jobs.CleanupInterval,
		CheckpointMaxAge:    c.Jobs.CheckpointMaxAge,
		ChunkTimeout:        c.Jobs.ChunkTimeout,
		MergeThreshold:      c.Graph.MergeThreshold,
		ReconcileInterval:   c.Jobs.ReconcileInterval,
		TokenCostExtraction: c.Jobs.TokenCostExtraction,
		TokenCostEmbedding:  c.Jobs.TokenCostEmbedding,
		TargetTokens:        c.Chunking.TargetTokens,
		OverlapTokens:       c.Chunking.OverlapTokens,
		VocabExpansion:      c.VocabExpansionEnabled(),
	}
}

// Pipeline produces the pipeline configuration.
func (c *Config) Pipeline() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.ChunkTimeout = c.Jobs.ChunkTimeout
	cfg.MergeThreshold = c.Graph.MergeThreshold
	cfg.VocabExpansion = c.VocabExpansionEnabled()
	cfg.TargetTokens = c.Chunking.TargetTokens
	cfg.OverlapTokens = c.Chunking.OverlapTokens
	return cfg
}

// Query produces the query engine configuration. The embedding model id
// comes from the registry so stale-vector detection tracks the endpoint
// actually in use.
func (c *Config) Query(reg *model.Registry) query.Config {
	cfg := query.DefaultConfig()
	if reg != nil {
		if ep := reg.GetEndpoint(reg.Resolve(model.CapabilityEmbedding)); ep != nil {
			cfg.EmbeddingModel = ep.Model
		}
	}
	return cfg
}

// API produces the HTTP server configuration.
func (c *Config) API() api.Config {
	return api.Config{
		MaxUploadBytes:   c.HTTP.MaxUploadBytes,
		RequirePrincipal: c.HTTP.RequirePrincipal,
		StreamHeartbeat:  c.HTTP.StreamHeartbeat,
	}
}

// WatcherConfig produces the directory watcher configuration.
func (c *Config) WatcherConfig() ingest.WatchConfig {
	cfg := ingest.DefaultWatchConfig()
	if len(c.Watch.Include) > 0 {
		cfg.Include = c.Watch.Include
	}
	if len(c.Watch.Exclude) > 0 {
		cfg.Exclude = c.Watch.Exclude
	}
	return cfg
}

// Registry builds the model registry: the built-in defaults, replaced by
// a models file or the yaml models block when present, with the simple
// per-capability overrides applied on top.
func (c *Config) Registry() (*model.Registry, error) {
	var reg *model.Registry
	switch {
	case c.LLM.ModelsFile != "":
		loaded, err := model.LoadFromFile(c.LLM.ModelsFile)
		if err != nil {
			return nil, fmt.Errorf("load models file: %w", err)
		}
		reg = loaded
	case c.Models != nil:
		reg = model.RegistryFromConfig(c.Models)
	default:
		reg = model.NewDefaultRegistry()
	}

	if c.LLM.OllamaURL != "" {
		for _, name := range reg.ListEndpoints() {
			ep := reg.GetEndpoint(name)
			if ep != nil && ep.Provider == "ollama" {
				cp := *ep
				cp.URL = c.LLM.OllamaURL
				reg.SetEndpoint(name, &cp)
			}
		}
	}

	overrideModel(reg, model.CapabilityExtraction, c.LLM.ExtractionModel)
	overrideModel(reg, model.CapabilityEmbedding, c.LLM.EmbeddingModel)
	overrideModel(reg, model.CapabilityVision, c.LLM.VisionModel)

	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

// overrideModel rewrites the model identifier of the preferred endpoint
// for a capability.
func overrideModel(reg *model.Registry, cap model.Capability, modelID string) {
	if modelID == "" {
		return
	}
	name := reg.Resolve(cap)
	if name == "" {
		return
	}
	ep := reg.GetEndpoint(name)
	if ep == nil {
		return
	}
	cp := *ep
	cp.Model = modelID
	reg.SetEndpoint(name, &cp)
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &config, nil
}

// SaveToFile writes the configuration to a YAML file, creating parent
// directories as needed.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
