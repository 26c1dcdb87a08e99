package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ProjectConfigFile is the name of the project-level config file.
const ProjectConfigFile = "semgraph.yaml"

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. YAML file (explicit path, or semgraph.yaml in current and parent dirs)
// 3. Environment variables
// An explicit path that does not exist is an error; the searched file is
// optional.
func (l *Loader) Load(path string) (*Config, error) {
	config := DefaultConfig()

	if path == "" {
		path = l.findProjectConfig()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}

	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded config file", slog.String("path", path))
		config.Merge(fileConfig)
	}

	applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// findProjectConfig searches for semgraph.yaml in current and parent
// directories.
func (l *Loader) findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// applyEnv overrides configuration from environment variables.
func applyEnv(c *Config) {
	envString("HTTP_ADDR", &c.HTTP.Addr)
	envInt64("MAX_UPLOAD_BYTES", &c.HTTP.MaxUploadBytes)
	envBool("REQUIRE_PRINCIPAL", &c.HTTP.RequirePrincipal)

	envString("NATS_URL", &c.NATS.URL)
	envString("MONGO_URI", &c.Mongo.URI)
	envString("MONGO_DB", &c.Mongo.Database)

	envInt("MAX_CONCURRENT_JOBS", &c.Jobs.MaxConcurrent)
	envDuration("JOB_APPROVAL_TIMEOUT", &c.Jobs.ApprovalTimeout)
	envDuration("JOB_COMPLETED_RETENTION", &c.Jobs.CompletedRetention)
	envDuration("JOB_FAILED_RETENTION", &c.Jobs.FailedRetention)
	envDuration("JOB_CLEANUP_INTERVAL", &c.Jobs.CleanupInterval)
	envDuration("CHECKPOINT_MAX_AGE", &c.Jobs.CheckpointMaxAge)
	envDuration("CHUNK_TIMEOUT", &c.Jobs.ChunkTimeout)
	envDuration("RECONCILE_INTERVAL", &c.Jobs.ReconcileInterval)
	envFloat("TOKEN_COST_EXTRACTION", &c.Jobs.TokenCostExtraction)
	envFloat("TOKEN_COST_EMBEDDING", &c.Jobs.TokenCostEmbedding)
	if raw, ok := os.LookupEnv("VOCAB_EXPANSION"); ok {
		if v, err := strconv.ParseBool(raw); err == nil {
			c.Jobs.VocabExpansion = &v
		}
	}

	envInt("CHUNK_TARGET_TOKENS", &c.Chunking.TargetTokens)
	envInt("CHUNK_OVERLAP_TOKENS", &c.Chunking.OverlapTokens)

	envInt("EMBEDDING_DIMENSION", &c.Graph.EmbeddingDimension)
	envFloat("CONCEPT_MERGE_THRESHOLD", &c.Graph.MergeThreshold)

	envString("OLLAMA_URL", &c.LLM.OllamaURL)
	envString("EXTRACTION_MODEL", &c.LLM.ExtractionModel)
	envString("EMBEDDING_MODEL", &c.LLM.EmbeddingModel)
	envString("VISION_MODEL", &c.LLM.VisionModel)
	envString("MODELS_FILE", &c.LLM.ModelsFile)
	envInt("EMBED_BATCH_SIZE", &c.LLM.EmbedBatchSize)
	envFloat("LLM_RPS", &c.LLM.RPS)

	envString("WATCH_DIR", &c.Watch.Dir)
	if raw := os.Getenv("WATCH_INCLUDE"); raw != "" {
		c.Watch.Include = splitList(raw)
	}
	if raw := os.Getenv("WATCH_EXCLUDE"); raw != "" {
		c.Watch.Exclude = splitList(raw)
	}
	envBool("WATCH_AUTO_APPROVE", &c.Watch.AutoApprove)
	envString("WATCH_ONTOLOGY", &c.Watch.Ontology)
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if raw := os.Getenv(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			*dst = v
		}
	}
}

func envInt64(name string, dst *int64) {
	if raw := os.Getenv(name); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			*dst = v
		}
	}
}

func envFloat(name string, dst *float64) {
	if raw := os.Getenv(name); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			*dst = v
		}
	}
}

func envBool(name string, dst *bool) {
	if raw := os.Getenv(name); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			*dst = v
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if raw := os.Getenv(name); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil {
			*dst = v
		}
	}
}

// splitList parses a comma-separated list, trimming whitespace.
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
