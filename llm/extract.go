package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// VocabEntry is one relationship type offered to the extraction model.
type VocabEntry struct {
	Name        string
	Description string
}

// ExtractedInstance is one grounded mention of a concept within a chunk.
// Start and End are byte offsets into the chunk text.
type ExtractedInstance struct {
	Quote string `json:"quote"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// ExtractedConcept is one concept proposed by the extraction model.
type ExtractedConcept struct {
	Label       string              `json:"label"`
	Description string              `json:"description"`
	SearchTerms []string            `json:"search_terms"`
	Instances   []ExtractedInstance `json:"instances"`
}

// ExtractedRelationship links two extracted concepts by label.
type ExtractedRelationship struct {
	FromLabel  string  `json:"from_label"`
	ToLabel    string  `json:"to_label"`
	RelType    string  `json:"rel_type"`
	Confidence float64 `json:"confidence"`
}

// ExtractionResult is the validated output of one extraction call.
type ExtractionResult struct {
	Concepts      []ExtractedConcept      `json:"concepts"`
	Relationships []ExtractedRelationship `json:"relationships"`
}

// Extractor turns chunk text into structured concepts and relationships
// using the extraction capability. Schema-invalid output gets one repair
// attempt before the error becomes fatal.
type Extractor struct {
	completer Completer
	logger    *slog.Logger
}

// NewExtractor creates an extractor over a completion client.
func NewExtractor(completer Completer, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{completer: completer, logger: logger}
}

const extractionSystemPrompt = `You are a knowledge extraction engine. Given a passage of text, identify the distinct concepts it discusses and the relationships between them.

Respond with ONLY a JSON object, no prose, matching this schema:

{
  "concepts": [
    {
      "label": "short canonical name",
      "description": "one or two sentences describing the concept",
      "search_terms": ["synonym", "alternate phrasing"],
      "instances": [
        {"quote": "verbatim text from the passage", "start": 0, "end": 42}
      ]
    }
  ],
  "relationships": [
    {"from_label": "concept A", "to_label": "concept B", "rel_type": "SUPPORTS", "confidence": 0.9}
  ]
}

Rules:
- Every instance quote must appear verbatim in the passage. start and end are byte offsets of the quote within the passage.
- Every concept needs at least one instance.
- rel_type must be one of the allowed relationship types listed in the user message.
- confidence is between 0 and 1.
- Prefer fewer, well-grounded concepts over many speculative ones.`

// Extract runs one extraction call over chunk text. vocabulary lists the
// allowed relationship types; contextHint is optional surrounding context
// (section title, document summary) and may be empty.
func (e *Extractor) Extract(ctx context.Context, chunkText string, vocabulary []VocabEntry, contextHint string) (*ExtractionResult, error) {
	userPrompt := e.buildUserPrompt(chunkText, vocabulary, contextHint)

	temp := 0.0
	req := Request{
		Capability: "extraction",
		Messages: []Message{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: &temp,
	}

	resp, err := e.completer.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	result, parseErr := parseExtraction(resp.Content)
	if parseErr == nil {
		e.groundInstances(result, chunkText)
		return result, nil
	}

	// One repair attempt: show the model its own invalid output.
	e.logger.Debug("Extraction output invalid, attempting repair", "error", parseErr)

	repairReq := Request{
		Capability: "extraction",
		Messages: []Message{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: userPrompt},
			{Role: "assistant", Content: resp.Content},
			{Role: "user", Content: fmt.Sprintf("That response was not valid against the schema: %v. Respond again with ONLY the corrected JSON object.", parseErr)},
		},
		Temperature: &temp,
	}

	repairResp, err := e.completer.Complete(ctx, repairReq)
	if err != nil {
		return nil, err
	}

	result, parseErr = parseExtraction(repairResp.Content)
	if parseErr != nil {
		return nil, NewFatalError(fmt.Errorf("extraction output invalid after repair: %w", parseErr))
	}

	e.groundInstances(result, chunkText)
	return result, nil
}

// buildUserPrompt assembles the passage, vocabulary, and optional context.
func (e *Extractor) buildUserPrompt(chunkText string, vocabulary []VocabEntry, contextHint string) string {
	var sb strings.Builder

	sb.WriteString("Allowed relationship types:\n")
	for _, v := range vocabulary {
		sb.WriteString("- ")
		sb.WriteString(v.Name)
		if v.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(v.Description)
		}
		sb.WriteString("\n")
	}

	if contextHint != "" {
		sb.WriteString("\nContext: ")
		sb.WriteString(contextHint)
		sb.WriteString("\n")
	}

	sb.WriteString("\nPassage:\n")
	sb.WriteString(chunkText)

	return sb.String()
}

// parseExtraction extracts and validates the JSON payload from a model
// response.
func parseExtraction(content string) (*ExtractionResult, error) {
	jsonStr := ExtractJSON(content)
	if jsonStr == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var result ExtractionResult
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("parse extraction JSON: %w", err)
	}

	for i, c := range result.Concepts {
		if strings.TrimSpace(c.Label) == "" {
			return nil, fmt.Errorf("concept %d has empty label", i)
		}
	}

	for i, r := range result.Relationships {
		if r.FromLabel == "" || r.ToLabel == "" {
			return nil, fmt.Errorf("relationship %d missing endpoint label", i)
		}
		if r.RelType == "" {
			return nil, fmt.Errorf("relationship %d missing rel_type", i)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return nil, fmt.Errorf("relationship %d confidence %v out of range", i, r.Confidence)
		}
	}

	return &result, nil
}

// groundInstances verifies every quote against the chunk text. Offsets
// that don't match a locatable quote are fixed to the first occurrence;
// quotes not present in the text are dropped. Concepts left with no
// instances are dropped, along with relationships that referenced them.
func (e *Extractor) groundInstances(result *ExtractionResult, chunkText string) {
	kept := result.Concepts[:0]
	removed := make(map[string]bool)

	for _, c := range result.Concepts {
		instances := c.Instances[:0]
		for _, inst := range c.Instances {
			if inst.Quote == "" {
				continue
			}
			if inst.Start >= 0 && inst.End <= len(chunkText) && inst.Start < inst.End &&
				chunkText[inst.Start:inst.End] == inst.Quote {
				instances = append(instances, inst)
				continue
			}
			// Offsets wrong; locate the quote by first occurrence.
			idx := strings.Index(chunkText, inst.Quote)
			if idx < 0 {
				e.logger.Debug("Dropping unlocatable quote",
					"concept", c.Label,
					"quote_prefix", truncate(inst.Quote, 40))
				continue
			}
			inst.Start = idx
			inst.End = idx + len(inst.Quote)
			instances = append(instances, inst)
		}

		if len(instances) == 0 {
			removed[strings.ToLower(strings.TrimSpace(c.Label))] = true
			continue
		}
		c.Instances = instances
		kept = append(kept, c)
	}
	result.Concepts = kept

	if len(removed) == 0 {
		return
	}

	rels := result.Relationships[:0]
	for _, r := range result.Relationships {
		if removed[strings.ToLower(strings.TrimSpace(r.FromLabel))] ||
			removed[strings.ToLower(strings.TrimSpace(r.ToLabel))] {
			continue
		}
		rels = append(rels, r)
	}
	result.Relationships = rels
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
