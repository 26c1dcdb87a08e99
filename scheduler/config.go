package scheduler

import "time"

// Config holds scheduler and worker tuning. Zero values are filled from
// DefaultConfig by New.
type Config struct {
	// MaxConcurrentJobs is the worker pool size.
	MaxConcurrentJobs int

	// ApprovalTimeout is how long a job waits for approval before the
	// expiry sweep cancels it.
	ApprovalTimeout time.Duration

	// CompletedRetention is how long completed (and cancelled/rejected)
	// jobs are kept before the retention sweep purges them.
	CompletedRetention time.Duration

	// FailedRetention is how long failed jobs are kept.
	FailedRetention time.Duration

	// CleanupInterval is the sweep cadence.
	CleanupInterval time.Duration

	// CheckpointMaxAge bounds how stale a checkpoint may be for an
	// orphaned processing job to resume instead of failing.
	CheckpointMaxAge time.Duration

	// ChunkTimeout caps a single chunk's pipeline time.
	ChunkTimeout time.Duration

	// MergeThreshold is the cosine similarity above which concepts merge.
	MergeThreshold float64

	// ReconcileInterval is the periodic concept-merge cadence. Zero
	// disables the chore; POST /admin/reconcile still triggers it.
	ReconcileInterval time.Duration

	// TokenCostExtraction and TokenCostEmbedding are USD per 1M tokens.
	TokenCostExtraction float64
	TokenCostEmbedding  float64

	// TargetTokens and OverlapTokens are chunking defaults, overridable
	// per job.
	TargetTokens  int
	OverlapTokens int

	// VocabExpansion auto-adds unknown relationship types when true.
	VocabExpansion bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs:   2,
		ApprovalTimeout:     24 * time.Hour,
		CompletedRetention:  48 * time.Hour,
		FailedRetention:     168 * time.Hour,
		CleanupInterval:     time.Hour,
		CheckpointMaxAge:    30 * time.Minute,
		ChunkTimeout:        10 * time.Minute,
		MergeThreshold:      0.85,
		ReconcileInterval:   0,
		TokenCostExtraction: 6.25,
		TokenCostEmbedding:  0.02,
		TargetTokens:        900,
		OverlapTokens:       150,
		VocabExpansion:      true,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxConcurrentJobs < 1 {
		c.MaxConcurrentJobs = def.MaxConcurrentJobs
	}
	if c.ApprovalTimeout <= 0 {
		c.ApprovalTimeout = def.ApprovalTimeout
	}
	if c.CompletedRetention <= 0 {
		c.CompletedRetention = def.CompletedRetention
	}
	if c.FailedRetention <= 0 {
		c.FailedRetention = def.FailedRetention
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.CheckpointMaxAge <= 0 {
		c.CheckpointMaxAge = def.CheckpointMaxAge
	}
	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = def.ChunkTimeout
	}
	if c.MergeThreshold <= 0 {
		c.MergeThreshold = def.MergeThreshold
	}
	if c.TokenCostExtraction <= 0 {
		c.TokenCostExtraction = def.TokenCostExtraction
	}
	if c.TokenCostEmbedding <= 0 {
		c.TokenCostEmbedding = def.TokenCostEmbedding
	}
	if c.TargetTokens <= 0 {
		c.TargetTokens = def.TargetTokens
	}
	if c.OverlapTokens <= 0 {
		c.OverlapTokens = def.OverlapTokens
	}
	return c
}
