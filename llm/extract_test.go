package llm_test

import (
	"context"
	"testing"

	"github.com/c360studio/semgraph/llm"
	"github.com/c360studio/semgraph/llm/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testVocab = []llm.VocabEntry{
	{Name: "SUPPORTS", Description: "Evidence for"},
	{Name: "CONTRADICTS", Description: "Evidence against"},
}

func TestExtractor_Extract_Success(t *testing.T) {
	chunk := "The mitochondria is the powerhouse of the cell. ATP fuels cellular work."

	mock := &testutil.MockLLMClient{
		Responses: []*llm.Response{
			{Content: `{
				"concepts": [
					{
						"label": "Mitochondria",
						"description": "Organelle that produces energy.",
						"search_terms": ["mitochondrion"],
						"instances": [{"quote": "The mitochondria is the powerhouse of the cell.", "start": 0, "end": 47}]
					},
					{
						"label": "ATP",
						"description": "Energy currency of the cell.",
						"search_terms": [],
						"instances": [{"quote": "ATP fuels cellular work.", "start": 48, "end": 72}]
					}
				],
				"relationships": [
					{"from_label": "Mitochondria", "to_label": "ATP", "rel_type": "SUPPORTS", "confidence": 0.9}
				]
			}`, Model: "test-model"},
		},
	}

	extractor := llm.NewExtractor(mock, nil)
	result, err := extractor.Extract(context.Background(), chunk, testVocab, "")
	require.NoError(t, err)

	require.Len(t, result.Concepts, 2)
	assert.Equal(t, "Mitochondria", result.Concepts[0].Label)
	require.Len(t, result.Concepts[0].Instances, 1)
	assert.Equal(t, 0, result.Concepts[0].Instances[0].Start)
	assert.Equal(t, 47, result.Concepts[0].Instances[0].End)

	require.Len(t, result.Relationships, 1)
	assert.Equal(t, "SUPPORTS", result.Relationships[0].RelType)
	assert.Equal(t, 1, mock.GetCallCount())
}

func TestExtractor_Extract_MarkdownFencedResponse(t *testing.T) {
	chunk := "Water boils at 100 degrees Celsius."

	mock := &testutil.MockLLMClient{
		Responses: []*llm.Response{
			{Content: "```json\n" + `{
				"concepts": [{
					"label": "Boiling point",
					"description": "Temperature at which water boils.",
					"search_terms": [],
					"instances": [{"quote": "Water boils at 100 degrees Celsius.", "start": 0, "end": 35}]
				}],
				"relationships": []
			}` + "\n```", Model: "test-model"},
		},
	}

	extractor := llm.NewExtractor(mock, nil)
	result, err := extractor.Extract(context.Background(), chunk, testVocab, "")
	require.NoError(t, err)
	require.Len(t, result.Concepts, 1)
}

func TestExtractor_Extract_RepairOnInvalidOutput(t *testing.T) {
	chunk := "Gravity bends light."

	mock := &testutil.MockLLMClient{
		Responses: []*llm.Response{
			{Content: "Sure! Here are the concepts I found: gravity and light.", Model: "test-model"},
			{Content: `{
				"concepts": [{
					"label": "Gravity",
					"description": "Force that bends light.",
					"search_terms": [],
					"instances": [{"quote": "Gravity bends light.", "start": 0, "end": 20}]
				}],
				"relationships": []
			}`, Model: "test-model"},
		},
	}

	extractor := llm.NewExtractor(mock, nil)
	result, err := extractor.Extract(context.Background(), chunk, testVocab, "")
	require.NoError(t, err)
	require.Len(t, result.Concepts, 1)
	assert.Equal(t, 2, mock.GetCallCount())
}

func TestExtractor_Extract_FatalAfterFailedRepair(t *testing.T) {
	mock := &testutil.MockLLMClient{
		Responses: []*llm.Response{
			{Content: "not json", Model: "test-model"},
			{Content: "still not json", Model: "test-model"},
		},
	}

	extractor := llm.NewExtractor(mock, nil)
	_, err := extractor.Extract(context.Background(), "some text", testVocab, "")
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	assert.Equal(t, 2, mock.GetCallCount())
}

func TestExtractor_Extract_FixesWrongOffsets(t *testing.T) {
	chunk := "Alpha comes before beta in the Greek alphabet."

	mock := &testutil.MockLLMClient{
		Responses: []*llm.Response{
			{Content: `{
				"concepts": [{
					"label": "Greek alphabet",
					"description": "Ordered set of Greek letters.",
					"search_terms": [],
					"instances": [{"quote": "Greek alphabet", "start": 0, "end": 14}]
				}],
				"relationships": []
			}`, Model: "test-model"},
		},
	}

	extractor := llm.NewExtractor(mock, nil)
	result, err := extractor.Extract(context.Background(), chunk, testVocab, "")
	require.NoError(t, err)

	require.Len(t, result.Concepts, 1)
	inst := result.Concepts[0].Instances[0]
	assert.Equal(t, "Greek alphabet", chunk[inst.Start:inst.End])
	assert.Equal(t, 31, inst.Start)
}

func TestExtractor_Extract_DropsUnlocatableQuotes(t *testing.T) {
	chunk := "Only this sentence exists."

	mock := &testutil.MockLLMClient{
		Responses: []*llm.Response{
			{Content: `{
				"concepts": [
					{
						"label": "Real concept",
						"description": "Grounded.",
						"search_terms": [],
						"instances": [{"quote": "Only this sentence exists.", "start": 0, "end": 26}]
					},
					{
						"label": "Hallucinated concept",
						"description": "Not in the text.",
						"search_terms": [],
						"instances": [{"quote": "This quote was invented.", "start": 0, "end": 24}]
					}
				],
				"relationships": [
					{"from_label": "Real concept", "to_label": "Hallucinated concept", "rel_type": "SUPPORTS", "confidence": 0.8}
				]
			}`, Model: "test-model"},
		},
	}

	extractor := llm.NewExtractor(mock, nil)
	result, err := extractor.Extract(context.Background(), chunk, testVocab, "")
	require.NoError(t, err)

	// Hallucinated concept and its relationship are dropped, not the extraction.
	require.Len(t, result.Concepts, 1)
	assert.Equal(t, "Real concept", result.Concepts[0].Label)
	assert.Empty(t, result.Relationships)
}
