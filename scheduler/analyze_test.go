package scheduler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semgraph/jobs"
)

func newAnalyzer(t *testing.T) *Scheduler {
	t.Helper()
	// Analysis is pure: no stores needed.
	return &Scheduler{cfg: DefaultConfig()}
}

func TestAnalyzeText_ChunkEstimate(t *testing.T) {
	s := newAnalyzer(t)

	// 900 target tokens -> 675 target words -> 607.5 effective words/chunk.
	text := strings.Repeat("word ", 1200)
	analysis := s.AnalyzeText(text, "hash1", "markdown", jobs.Options{})

	assert.Equal(t, 2, analysis.ChunkCount)
	assert.Equal(t, 1200, analysis.FileStats.Words)
	assert.Equal(t, "hash1", analysis.DocumentHash)
}

func TestAnalyzeText_SingleChunkMinimum(t *testing.T) {
	s := newAnalyzer(t)

	analysis := s.AnalyzeText("a handful of words only", "h", "text", jobs.Options{})
	assert.Equal(t, 1, analysis.ChunkCount)

	// Short documents carry a quality warning.
	require.NotEmpty(t, analysis.Warnings)
	assert.Contains(t, analysis.Warnings[0], "short")
}

func TestAnalyzeText_CostBands(t *testing.T) {
	s := newAnalyzer(t)

	text := strings.Repeat("word ", 1000)
	analysis := s.AnalyzeText(text, "h", "text", jobs.Options{})

	ce := analysis.CostEstimate
	require.Equal(t, 2, analysis.ChunkCount)

	// low = 1000*0.5 + 2*500 = 1500 tokens at 6.25/1M.
	assert.InDelta(t, 1500*6.25/1e6, ce.Extraction.CostLow, 1e-9)
	assert.InDelta(t, 1500*1.6*6.25/1e6, ce.Extraction.CostHigh, 1e-9)

	// embeddings: 2 chunks * (5..8 concepts) * 8 tokens at 0.02/1M.
	assert.InDelta(t, 80*0.02/1e6, ce.Embeddings.CostLow, 1e-9)
	assert.InDelta(t, 128*0.02/1e6, ce.Embeddings.CostHigh, 1e-9)

	assert.Equal(t, "USD", ce.Total.Currency)
	assert.InDelta(t, ce.Extraction.CostLow+ce.Embeddings.CostLow, ce.Total.CostLow, 1e-9)
	assert.GreaterOrEqual(t, ce.Total.CostHigh, ce.Total.CostLow)
}

func TestAnalyzeText_TargetTokenOverride(t *testing.T) {
	s := newAnalyzer(t)

	text := strings.Repeat("word ", 1200)
	base := s.AnalyzeText(text, "h", "text", jobs.Options{})
	halved := s.AnalyzeText(text, "h", "text", jobs.Options{TargetTokens: 450})

	assert.Greater(t, halved.ChunkCount, base.ChunkCount)
}

func TestAnalyzeText_LargeDocumentWarning(t *testing.T) {
	s := newAnalyzer(t)

	text := strings.Repeat("word ", 70000)
	analysis := s.AnalyzeText(text, "h", "text", jobs.Options{})

	require.Greater(t, analysis.ChunkCount, largeJobChunkWarning)
	found := false
	for _, w := range analysis.Warnings {
		if strings.Contains(w, "large document") {
			found = true
		}
	}
	assert.True(t, found, "expected a large-document warning")
}

func TestAnalyzeImage(t *testing.T) {
	s := newAnalyzer(t)

	analysis := s.AnalyzeImage(4096, "imghash", "image/png")

	assert.Equal(t, 1, analysis.ChunkCount)
	assert.Equal(t, int64(4096), analysis.FileStats.Bytes)
	assert.Equal(t, "image/png", analysis.FileStats.Format)

	// Flat 2000-token vision estimate at the extraction rate.
	assert.InDelta(t, 2000*6.25/1e6, analysis.CostEstimate.Extraction.CostLow, 1e-9)
	assert.NotEmpty(t, analysis.Warnings)
}
