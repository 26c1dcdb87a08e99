package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"default is valid", DefaultConfig(), ""},
		{"zero min", Config{TargetTokens: 900, MaxTokens: 1350, MinTokens: 0, OverlapTokens: 0}, "MinTokens"},
		{"min above target", Config{TargetTokens: 100, MaxTokens: 200, MinTokens: 150}, "less than TargetTokens"},
		{"target above max", Config{TargetTokens: 500, MaxTokens: 400, MinTokens: 50}, "must not exceed MaxTokens"},
		{"negative overlap", Config{TargetTokens: 900, MaxTokens: 1350, MinTokens: 150, OverlapTokens: -1}, "OverlapTokens"},
		{"overlap above target", Config{TargetTokens: 900, MaxTokens: 1350, MinTokens: 150, OverlapTokens: 900}, "OverlapTokens"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestNew_FillsDefaults(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c.Config())

	c, err = New(Config{TargetTokens: 600})
	require.NoError(t, err)
	assert.Equal(t, 900, c.Config().MaxTokens)
	assert.Equal(t, 100, c.Config().MinTokens)
}

func TestChunk_SmallDocumentSingleChunk(t *testing.T) {
	c := NewDefault()

	content := "# Intro\n\nThis is a short document. It fits in one chunk."
	chunks := c.Chunk(content)

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "Intro", chunks[0].Section)
	assert.Contains(t, chunks[0].Text, "short document")
}

func TestChunk_EmptyInput(t *testing.T) {
	c := NewDefault()
	assert.Empty(t, c.Chunk(""))
	assert.Empty(t, c.Chunk("   \n\n  "))
}

func TestChunk_Deterministic(t *testing.T) {
	c := NewDefault()

	content := strings.Repeat("Determinism matters for derived identifiers. ", 300)
	first := c.Chunk(content)
	second := c.Chunk(content)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i], second[i])
	}
}

func TestChunk_SplitsAtParagraphs(t *testing.T) {
	// Small limits so the test document forces multiple chunks.
	c := MustNew(Config{TargetTokens: 30, MaxTokens: 45, MinTokens: 5, OverlapTokens: 0})

	para := strings.Repeat("word ", 25) // ~31 tokens
	content := para + "\n\n" + para + "\n\n" + para

	chunks := c.Chunk(content)
	require.Greater(t, len(chunks), 1)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.LessOrEqual(t, chunk.TokenCount, 45)
	}
}

func TestChunk_SectionHeadingsTracked(t *testing.T) {
	c := MustNew(Config{TargetTokens: 40, MaxTokens: 60, MinTokens: 5, OverlapTokens: 0})

	content := "# First\n\n" + strings.Repeat("alpha ", 30) +
		"\n\n# Second\n\n" + strings.Repeat("beta ", 30)

	chunks := c.Chunk(content)
	require.GreaterOrEqual(t, len(chunks), 2)

	assert.Equal(t, "First", chunks[0].Section)
	assert.Equal(t, "Second", chunks[len(chunks)-1].Section)
}

func TestChunk_HardSplitWithoutSentenceBreaks(t *testing.T) {
	c := MustNew(Config{TargetTokens: 20, MaxTokens: 30, MinTokens: 5, OverlapTokens: 0})

	// One unbroken token far above max
	content := strings.Repeat("x", 1000)

	chunks := c.Chunk(content)
	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, chunk.TokenCount, 30)
	}
}

func TestChunk_MergesSmallChunks(t *testing.T) {
	c := MustNew(Config{TargetTokens: 100, MaxTokens: 150, MinTokens: 50, OverlapTokens: 0})

	// Two tiny sections end up merged rather than emitted separately.
	content := "# A\n\ntiny one.\n\n# B\n\ntiny two."

	chunks := c.Chunk(content)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "tiny one")
	assert.Contains(t, chunks[0].Text, "tiny two")
}

func TestChunk_OverlapPrefixesNextChunk(t *testing.T) {
	c := MustNew(Config{TargetTokens: 30, MaxTokens: 45, MinTokens: 5, OverlapTokens: 10})

	sentences := make([]string, 20)
	for i := range sentences {
		sentences[i] = "Sentence number " + string(rune('a'+i)) + " carries some content."
	}
	content := strings.Join(sentences, " ")

	chunks := c.Chunk(content)
	require.Greater(t, len(chunks), 1)

	// Each later chunk starts with text that also appears near the end of
	// its predecessor.
	for i := 1; i < len(chunks); i++ {
		head := chunks[i].Text
		if idx := strings.Index(head, "\n\n"); idx > 0 {
			head = head[:idx]
		}
		assert.Contains(t, chunks[i-1].Text, head,
			"chunk %d should begin with the tail of chunk %d", i, i-1)
	}
}

func TestChunk_SpanCoversSingleChunk(t *testing.T) {
	c := NewDefault()

	content := "# Intro\n\nThis is a short document. It fits in one chunk."
	chunks := c.Chunk(content)

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, len(content), chunks[0].EndOffset)
	assert.Equal(t, content[chunks[0].StartOffset:chunks[0].EndOffset], chunks[0].Text)
}

// spanContent builds a single paragraph of sentences separated by one
// space, so chunk spans can be checked against the original text.
func spanContent() string {
	sentences := make([]string, 20)
	for i := range sentences {
		sentences[i] = "Sentence number " + string(rune('a'+i)) + " carries some content."
	}
	return strings.Join(sentences, " ")
}

func TestChunk_SpansSliceOriginalText(t *testing.T) {
	c := MustNew(Config{TargetTokens: 30, MaxTokens: 45, MinTokens: 5, OverlapTokens: 0})

	content := spanContent()
	chunks := c.Chunk(content)
	require.Greater(t, len(chunks), 1)

	assert.Equal(t, 0, chunks[0].StartOffset)
	for i, chunk := range chunks {
		assert.Equal(t, content[chunk.StartOffset:chunk.EndOffset], chunk.Text, "chunk %d", i)
		if i > 0 {
			// Chunks break at sentence boundaries, one space apart.
			assert.Equal(t, chunks[i-1].EndOffset+1, chunk.StartOffset, "chunk %d", i)
		}
	}
	assert.Equal(t, len(content), chunks[len(chunks)-1].EndOffset)
}

func TestChunk_SpansExcludeOverlapPrefix(t *testing.T) {
	c := MustNew(Config{TargetTokens: 30, MaxTokens: 45, MinTokens: 5, OverlapTokens: 10})

	content := spanContent()
	chunks := c.Chunk(content)
	require.Greater(t, len(chunks), 1)

	assert.Equal(t, content[chunks[0].StartOffset:chunks[0].EndOffset], chunks[0].Text)
	for i := 1; i < len(chunks); i++ {
		span := content[chunks[i].StartOffset:chunks[i].EndOffset]
		assert.True(t, strings.HasSuffix(chunks[i].Text, span),
			"chunk %d text should end with its own span", i)
		assert.Greater(t, len(chunks[i].Text), len(span),
			"chunk %d text should carry an overlap prefix before its span", i)
		assert.Equal(t, chunks[i-1].EndOffset+1, chunks[i].StartOffset,
			"chunk %d span should not overlap its predecessor", i)
	}
}

func TestChunk_SpansAtParagraphSplits(t *testing.T) {
	c := MustNew(Config{TargetTokens: 30, MaxTokens: 45, MinTokens: 5, OverlapTokens: 0})

	para := strings.Repeat("word ", 25)
	content := para + "\n\n" + para + "\n\n" + para

	chunks := c.Chunk(content)
	require.Greater(t, len(chunks), 1)

	for i, chunk := range chunks {
		assert.Equal(t, content[chunk.StartOffset:chunk.EndOffset], chunk.Text, "chunk %d", i)
		if i > 0 {
			assert.Greater(t, chunk.StartOffset, chunks[i-1].EndOffset, "chunk %d", i)
		}
	}
}

func TestChunk_SpansPartitionHardSplit(t *testing.T) {
	c := MustNew(Config{TargetTokens: 20, MaxTokens: 30, MinTokens: 5, OverlapTokens: 0})

	content := strings.Repeat("x", 1000)
	chunks := c.Chunk(content)
	require.Greater(t, len(chunks), 1)

	next := 0
	for i, chunk := range chunks {
		assert.Equal(t, next, chunk.StartOffset, "chunk %d", i)
		assert.Equal(t, content[chunk.StartOffset:chunk.EndOffset], chunk.Text, "chunk %d", i)
		next = chunk.EndOffset
	}
	assert.Equal(t, len(content), next)
}

func TestChunk_SpansSurviveMerge(t *testing.T) {
	c := MustNew(Config{TargetTokens: 30, MaxTokens: 100, MinTokens: 20, OverlapTokens: 0})

	// The first section is below MinTokens and gets folded into the next.
	content := "# A\n\nshort text.\n\n# B\n\n" + strings.Repeat("beta ", 24)

	chunks := c.Chunk(content)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "short text")
	assert.Contains(t, chunks[0].Text, "beta")
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, len(content), chunks[0].EndOffset)
}

func TestChunk_CodeBlocksNotSplitByHeadingMarkers(t *testing.T) {
	c := NewDefault()

	content := "# Docs\n\nBefore.\n\n```\n# not a heading\ncode line\n```\n\nAfter."
	chunks := c.Chunk(content)

	require.Len(t, chunks, 1)
	assert.Equal(t, "Docs", chunks[0].Section)
	assert.Contains(t, chunks[0].Text, "# not a heading")
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}
