package scheduler

import (
	"fmt"
	"math"
	"strings"

	"github.com/c360studio/semgraph/jobs"
)

// Cost model constants. Token counts are rough by design: the estimate
// exists to gate approval, not to bill.
const (
	// wordsPerToken converts a token budget into a word budget.
	wordsPerToken = 0.75

	// chunkFillRatio discounts the target size for headings and overlap.
	chunkFillRatio = 0.9

	// extractionPromptOverhead is the fixed per-chunk prompt cost in tokens.
	extractionPromptOverhead = 500

	// extractionHighFactor widens the low estimate into the high band.
	extractionHighFactor = 1.6

	// conceptsPerChunkLow/High bound expected extraction yield per chunk.
	conceptsPerChunkLow  = 5
	conceptsPerChunkHigh = 8

	// tokensPerConcept is the embedding input cost of one concept.
	tokensPerConcept = 8

	// imageAnalysisTokens is the flat vision-call estimate for image jobs.
	imageAnalysisTokens = 2000

	// largeJobChunkWarning triggers a cost warning on big documents.
	largeJobChunkWarning = 100

	// shortDocumentWords triggers a low-signal warning.
	shortDocumentWords = 50
)

// AnalyzeText computes the pre-approval analysis for canonical text.
// It never calls the LLM.
func (s *Scheduler) AnalyzeText(text, documentHash, format string, opts jobs.Options) *jobs.Analysis {
	words := len(strings.Fields(text))
	lines := strings.Count(text, "\n") + 1
	if text == "" {
		lines = 0
	}

	targetTokens := s.cfg.TargetTokens
	if opts.TargetTokens > 0 {
		targetTokens = opts.TargetTokens
	}
	targetWords := float64(targetTokens) * wordsPerToken

	chunks := int(math.Ceil(float64(words) / (targetWords * chunkFillRatio)))
	if chunks < 1 {
		chunks = 1
	}

	extractLow := float64(words)*0.5 + float64(chunks)*extractionPromptOverhead
	extractHigh := extractLow * extractionHighFactor

	embedLow := float64(chunks * conceptsPerChunkLow * tokensPerConcept)
	embedHigh := float64(chunks * conceptsPerChunkHigh * tokensPerConcept)

	analysis := &jobs.Analysis{
		CostEstimate: s.costEstimate(extractLow, extractHigh, embedLow, embedHigh),
		ChunkCount:   chunks,
		DocumentHash: documentHash,
		FileStats: jobs.FileStats{
			Bytes:  int64(len(text)),
			Words:  words,
			Lines:  lines,
			Format: format,
		},
	}

	if words < shortDocumentWords {
		analysis.Warnings = append(analysis.Warnings,
			fmt.Sprintf("document is very short (%d words); extraction quality may be poor", words))
	}
	if chunks > largeJobChunkWarning {
		analysis.Warnings = append(analysis.Warnings,
			fmt.Sprintf("large document (%d chunks); review the cost estimate before approving", chunks))
	}

	return analysis
}

// AnalyzeImage computes the flat pre-approval estimate for an image job.
// The vision call is priced as one extraction-grade chunk.
func (s *Scheduler) AnalyzeImage(imageBytes int64, documentHash, mediaType string) *jobs.Analysis {
	extractLow := float64(imageAnalysisTokens)
	extractHigh := extractLow * extractionHighFactor

	embedLow := float64(conceptsPerChunkLow * tokensPerConcept)
	embedHigh := float64(conceptsPerChunkHigh * tokensPerConcept)

	return &jobs.Analysis{
		CostEstimate: s.costEstimate(extractLow, extractHigh, embedLow, embedHigh),
		ChunkCount:   1,
		DocumentHash: documentHash,
		FileStats: jobs.FileStats{
			Bytes:  imageBytes,
			Format: mediaType,
		},
		Warnings: []string{"image cost is a flat estimate; actual vision output length varies"},
	}
}

func (s *Scheduler) costEstimate(extractLow, extractHigh, embedLow, embedHigh float64) jobs.CostEstimate {
	perExtractToken := s.cfg.TokenCostExtraction / 1e6
	perEmbedToken := s.cfg.TokenCostEmbedding / 1e6

	extraction := jobs.CostBand{
		CostLow:  round6(extractLow * perExtractToken),
		CostHigh: round6(extractHigh * perExtractToken),
	}
	embeddings := jobs.CostBand{
		CostLow:  round6(embedLow * perEmbedToken),
		CostHigh: round6(embedHigh * perEmbedToken),
	}
	total := jobs.CostBand{
		CostLow:  round6(extraction.CostLow + embeddings.CostLow),
		CostHigh: round6(extraction.CostHigh + embeddings.CostHigh),
		Currency: "USD",
	}

	return jobs.CostEstimate{
		Extraction: extraction,
		Embeddings: embeddings,
		Total:      total,
	}
}

// round6 trims float noise to micro-dollar precision.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
