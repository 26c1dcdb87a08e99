// Package chunker splits canonical document text into extraction-sized
// chunks. Chunking is a pure function of (text, config): identical input
// always produces identical chunks, which keeps derived source ids stable
// across re-runs.
package chunker

import (
	"fmt"
	"strings"
)

// charsPerToken is the approximate average characters per token for GPT tokenizers.
const charsPerToken = 4

// Config holds chunking configuration.
type Config struct {
	// TargetTokens is the ideal chunk size in tokens.
	TargetTokens int

	// MaxTokens is the maximum chunk size.
	MaxTokens int

	// MinTokens is the minimum chunk size (smaller chunks are merged).
	MinTokens int

	// OverlapTokens is how much of a chunk's tail is repeated at the
	// start of the next chunk so concepts spanning a boundary are seen
	// in full at least once.
	OverlapTokens int
}

// DefaultConfig returns the standard chunking parameters.
func DefaultConfig() Config {
	return Config{
		TargetTokens:  900,
		MaxTokens:     1350,
		MinTokens:     150,
		OverlapTokens: 150,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.MinTokens <= 0 {
		return fmt.Errorf("MinTokens must be positive, got %d", c.MinTokens)
	}
	if c.TargetTokens <= 0 {
		return fmt.Errorf("TargetTokens must be positive, got %d", c.TargetTokens)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("MaxTokens must be positive, got %d", c.MaxTokens)
	}
	if c.MinTokens >= c.TargetTokens {
		return fmt.Errorf("MinTokens (%d) must be less than TargetTokens (%d)", c.MinTokens, c.TargetTokens)
	}
	if c.TargetTokens > c.MaxTokens {
		return fmt.Errorf("TargetTokens (%d) must not exceed MaxTokens (%d)", c.TargetTokens, c.MaxTokens)
	}
	if c.OverlapTokens < 0 {
		return fmt.Errorf("OverlapTokens must not be negative, got %d", c.OverlapTokens)
	}
	if c.OverlapTokens >= c.TargetTokens {
		return fmt.Errorf("OverlapTokens (%d) must be less than TargetTokens (%d)", c.OverlapTokens, c.TargetTokens)
	}
	return nil
}

// Chunk is one extraction unit. Text includes any overlap prefix; evidence
// offsets produced downstream index into Text exactly as stored.
type Chunk struct {
	// Index is the zero-based chunk sequence number.
	Index int `json:"index"`

	// Section is the heading the chunk content falls under, if any.
	Section string `json:"section,omitempty"`

	// Text is the chunk content sent to extraction and persisted as the
	// source full_text.
	Text string `json:"text"`

	// TokenCount is the estimated token count of Text.
	TokenCount int `json:"token_count"`

	// StartOffset and EndOffset are the byte span in the original
	// document this chunk was cut from. The span excludes the overlap
	// prefix, which belongs to the previous chunk's span.
	StartOffset int `json:"start_offset"`
	EndOffset   int `json:"end_offset"`
}

// Chunker splits documents into chunks.
type Chunker struct {
	config Config
}

// New creates a new Chunker with the given configuration.
// Returns an error if the configuration is invalid.
func New(cfg Config) (*Chunker, error) {
	if cfg.TargetTokens == 0 {
		cfg = DefaultConfig()
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = cfg.TargetTokens + cfg.TargetTokens/2
	}
	if cfg.MinTokens == 0 {
		cfg.MinTokens = cfg.TargetTokens / 6
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{config: cfg}, nil
}

// MustNew creates a new Chunker, panicking on invalid config.
// Use for known-good configurations.
func MustNew(cfg Config) *Chunker {
	c, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

// NewDefault creates a Chunker with default configuration.
func NewDefault() *Chunker {
	return MustNew(DefaultConfig())
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config {
	return c.config
}

// Chunk splits canonical text into chunks, preferring paragraph breaks,
// then sentence breaks, then hard character cuts.
func (c *Chunker) Chunk(content string) []Chunk {
	sections := c.parseSections(content)

	var chunks []Chunk
	var current Chunk

	for _, sec := range sections {
		sectionTokens := c.estimateTokens(sec.Content)

		// If section alone exceeds max, split it
		if sectionTokens > c.config.MaxTokens {
			if c.estimateTokens(current.Text) >= c.config.MinTokens {
				chunks = append(chunks, c.finalizeChunk(current, len(chunks)))
				current = Chunk{}
			}
			chunks = append(chunks, c.splitLargeSection(sec, len(chunks))...)
			continue
		}

		currentTokens := c.estimateTokens(current.Text)

		// If adding this section would exceed target, finalize current chunk
		if currentTokens > 0 && currentTokens+sectionTokens > c.config.TargetTokens {
			chunks = append(chunks, c.finalizeChunk(current, len(chunks)))
			current = Chunk{}
		}

		if current.Section == "" {
			current.Section = sec.Heading
		}
		if current.Text == "" {
			current.StartOffset = sec.Start
		} else {
			current.Text += "\n\n"
		}
		current.Text += sec.Content
		current.EndOffset = sec.end()
	}

	if c.estimateTokens(current.Text) > 0 {
		chunks = append(chunks, c.finalizeChunk(current, len(chunks)))
	}

	chunks = c.mergeSmallChunks(chunks)
	chunks = c.applyOverlap(chunks)

	return chunks
}

// section represents a document section (heading + content). Content is a
// verbatim slice of the document beginning at byte offset Start.
type section struct {
	Heading string
	Content string
	Level   int // Heading level (1-6, 0 for no heading)
	Start   int
}

func (s section) end() int {
	return s.Start + len(s.Content)
}

// parseSections extracts sections from markdown content.
func (c *Chunker) parseSections(content string) []section {
	lines := strings.Split(content, "\n")
	var sections []section
	var current section
	inCodeBlock := false
	pos := 0

	for _, line := range lines {
		lineStart := pos
		pos += len(line) + 1

		// Track code blocks to avoid splitting inside them
		if isCodeFence(line) {
			inCodeBlock = !inCodeBlock
		}

		if !inCodeBlock && isHeading(line) {
			if strings.TrimSpace(current.Content) != "" {
				sections = append(sections, current)
			}
			level, heading := parseHeading(line)
			current = section{
				Heading: heading,
				Level:   level,
				Content: line,
				Start:   lineStart,
			}
		} else {
			if current.Content == "" {
				current.Start = lineStart
			} else {
				current.Content += "\n"
			}
			current.Content += line
		}
	}

	if strings.TrimSpace(current.Content) != "" {
		sections = append(sections, current)
	}

	return sections
}

// textSpan is a piece of the document together with the byte span it
// occupies in the original text.
type textSpan struct {
	Text  string
	Start int
	End   int
}

// trimmedSpan trims raw and adjusts the span to the trimmed bounds.
func trimmedSpan(raw string, start int) textSpan {
	lead := len(raw) - len(strings.TrimLeft(raw, " \t\r\n"))
	trimmed := strings.TrimSpace(raw)
	return textSpan{
		Text:  trimmed,
		Start: start + lead,
		End:   start + lead + len(trimmed),
	}
}

// splitLargeSection splits a section that exceeds max tokens.
func (c *Chunker) splitLargeSection(sec section, startIndex int) []Chunk {
	var chunks []Chunk
	paragraphs := c.splitIntoParagraphs(sec.Content, sec.Start)

	current := Chunk{Section: sec.Heading}

	for _, para := range paragraphs {
		paraTokens := c.estimateTokens(para.Text)

		// If single paragraph exceeds max, split by sentences
		if paraTokens > c.config.MaxTokens {
			if c.estimateTokens(current.Text) >= c.config.MinTokens {
				chunks = append(chunks, c.finalizeChunk(current, startIndex+len(chunks)))
				current = Chunk{Section: sec.Heading}
			}
			chunks = append(chunks, c.splitBySentences(sec.Heading, para, startIndex+len(chunks))...)
			continue
		}

		currentTokens := c.estimateTokens(current.Text)
		if currentTokens > 0 && currentTokens+paraTokens > c.config.TargetTokens {
			chunks = append(chunks, c.finalizeChunk(current, startIndex+len(chunks)))
			current = Chunk{Section: sec.Heading}
		}

		if current.Text == "" {
			current.StartOffset = para.Start
		} else {
			current.Text += "\n\n"
		}
		current.Text += para.Text
		current.EndOffset = para.End
	}

	if c.estimateTokens(current.Text) > 0 {
		chunks = append(chunks, c.finalizeChunk(current, startIndex+len(chunks)))
	}

	return chunks
}

// splitIntoParagraphs splits content by blank lines, preserving code
// blocks. base is the byte offset of content in the original document.
func (c *Chunker) splitIntoParagraphs(content string, base int) []textSpan {
	var paragraphs []textSpan
	var current strings.Builder
	lines := strings.Split(content, "\n")
	inCodeBlock := false
	lastWasEmpty := false
	pos := 0
	paraStart := 0

	for _, line := range lines {
		lineStart := pos
		pos += len(line) + 1
		trimmed := strings.TrimSpace(line)

		// Track code blocks (using trimmed to handle indented fences)
		if isCodeFence(trimmed) {
			inCodeBlock = !inCodeBlock
		}

		if !inCodeBlock && trimmed == "" {
			if !lastWasEmpty && current.Len() > 0 {
				paragraphs = append(paragraphs, trimmedSpan(current.String(), base+paraStart))
				current.Reset()
			}
			lastWasEmpty = true
		} else {
			if current.Len() == 0 {
				paraStart = lineStart
			} else {
				current.WriteString("\n")
			}
			current.WriteString(line)
			lastWasEmpty = false
		}
	}

	if current.Len() > 0 {
		paragraphs = append(paragraphs, trimmedSpan(current.String(), base+paraStart))
	}

	return paragraphs
}

// splitBySentences splits a paragraph by sentences as a last resort.
func (c *Chunker) splitBySentences(sectionName string, para textSpan, startIndex int) []Chunk {
	var chunks []Chunk
	current := Chunk{Section: sectionName}

	// For very long content without sentence breaks, use hard split
	sentences := splitSentences(para.Text)
	if len(sentences) <= 1 && c.estimateTokens(para.Text) > c.config.MaxTokens {
		return c.hardSplit(sectionName, para, startIndex)
	}

	if len(sentences) <= 1 {
		current.Text = para.Text
		current.TokenCount = c.estimateTokens(para.Text)
		current.Index = startIndex
		current.StartOffset = para.Start
		current.EndOffset = para.End
		return []Chunk{current}
	}

	for _, sentence := range sentences {
		sentenceTokens := c.estimateTokens(sentence.Text)
		currentTokens := c.estimateTokens(current.Text)

		if currentTokens > 0 && currentTokens+sentenceTokens > c.config.TargetTokens {
			chunks = append(chunks, c.finalizeChunk(current, startIndex+len(chunks)))
			current = Chunk{Section: sectionName}
		}

		if current.Text == "" {
			current.StartOffset = para.Start + sentence.Start
		} else {
			current.Text += " "
		}
		current.Text += sentence.Text
		current.EndOffset = para.Start + sentence.End
	}

	if c.estimateTokens(current.Text) > 0 {
		chunks = append(chunks, c.finalizeChunk(current, startIndex+len(chunks)))
	}

	return chunks
}

// hardSplit splits content at character boundaries when no natural breaks
// exist. This is a last resort so MaxTokens is never exceeded.
func (c *Chunker) hardSplit(sectionName string, para textSpan, startIndex int) []Chunk {
	var chunks []Chunk
	maxChars := c.config.MaxTokens * charsPerToken

	runes := []rune(para.Text)
	bytePos := para.Start
	for i := 0; i < len(runes); i += maxChars {
		end := i + maxChars
		if end > len(runes) {
			end = len(runes)
		}

		text := string(runes[i:end])
		chunks = append(chunks, Chunk{
			Section:     sectionName,
			Index:       startIndex + len(chunks),
			Text:        text,
			TokenCount:  c.estimateTokens(text),
			StartOffset: bytePos,
			EndOffset:   bytePos + len(text),
		})
		bytePos += len(text)
	}

	return chunks
}

// mergeSmallChunks combines chunks that are below minimum size.
func (c *Chunker) mergeSmallChunks(chunks []Chunk) []Chunk {
	if len(chunks) <= 1 {
		return chunks
	}

	var result []Chunk
	for i := 0; i < len(chunks); i++ {
		chunk := chunks[i]

		if chunk.TokenCount < c.config.MinTokens && i < len(chunks)-1 {
			next := chunks[i+1]
			combined := chunk.Text + "\n\n" + next.Text
			combinedTokens := c.estimateTokens(combined)

			// Only merge if combined doesn't exceed max
			if combinedTokens <= c.config.MaxTokens {
				chunks[i+1] = Chunk{
					Section:     chunk.Section,
					Text:        combined,
					TokenCount:  combinedTokens,
					StartOffset: chunk.StartOffset,
					EndOffset:   next.EndOffset,
				}
				continue
			}
		}

		result = append(result, chunk)
	}

	// Re-index after merge
	for i := range result {
		result[i].Index = i
	}

	return result
}

// applyOverlap prefixes each chunk after the first with the tail of its
// predecessor, aligned to a sentence start when one falls in the window.
func (c *Chunker) applyOverlap(chunks []Chunk) []Chunk {
	if c.config.OverlapTokens <= 0 || len(chunks) <= 1 {
		return chunks
	}

	// Tails come from the pre-overlap text so overlap never compounds.
	tails := make([]string, len(chunks))
	for i := range chunks {
		tails[i] = overlapTail(chunks[i].Text, c.config.OverlapTokens*charsPerToken)
	}

	for i := 1; i < len(chunks); i++ {
		if tails[i-1] == "" {
			continue
		}
		chunks[i].Text = tails[i-1] + "\n\n" + chunks[i].Text
		chunks[i].TokenCount = c.estimateTokens(chunks[i].Text)
	}
	return chunks
}

// overlapTail returns the last maxChars of text, moved forward to the
// nearest sentence start, or a word boundary when no sentence break falls
// inside the window.
func overlapTail(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return strings.TrimSpace(text)
	}
	window := string(runes[len(runes)-maxChars:])

	for _, sep := range []string{". ", ".\n", "? ", "! ", "\n\n"} {
		if idx := strings.Index(window, sep); idx >= 0 {
			return strings.TrimSpace(window[idx+len(sep):])
		}
	}
	if idx := strings.IndexAny(window, " \n"); idx >= 0 {
		return strings.TrimSpace(window[idx+1:])
	}
	return strings.TrimSpace(window)
}

// finalizeChunk sets the index and token count for a chunk.
func (c *Chunker) finalizeChunk(chunk Chunk, index int) Chunk {
	chunk.Index = index
	chunk.TokenCount = c.estimateTokens(chunk.Text)
	return chunk
}

// estimateTokens estimates token count using the chars/token heuristic.
func (c *Chunker) estimateTokens(content string) int {
	if content == "" {
		return 0
	}
	return (len(content) + charsPerToken - 1) / charsPerToken
}

// EstimateTokens estimates the token count of arbitrary text using the
// same heuristic chunking uses.
func EstimateTokens(content string) int {
	if content == "" {
		return 0
	}
	return (len(content) + charsPerToken - 1) / charsPerToken
}

// isCodeFence checks if a line is a code fence (``` or ~~~).
func isCodeFence(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
}

// isHeading checks if a line is a markdown heading.
func isHeading(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "#")
}

// parseHeading extracts the level and text from a heading line.
func parseHeading(line string) (int, string) {
	trimmed := strings.TrimSpace(line)
	level := 0
	for _, ch := range trimmed {
		if ch == '#' {
			level++
		} else {
			break
		}
	}
	if level > 6 {
		level = 6
	}

	text := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
	return level, text
}

// splitSentences splits text into sentences on terminal punctuation,
// reporting each sentence's byte span within text.
func splitSentences(text string) []textSpan {
	var sentences []textSpan
	start := 0

	for i := 0; i < len(text); i++ {
		ch := text[i]
		if ch != '.' && ch != '?' && ch != '!' {
			continue
		}
		if i+1 < len(text) && text[i+1] != ' ' && text[i+1] != '\n' {
			continue
		}

		if span := trimmedSpan(text[start:i+1], start); span.Text != "" {
			sentences = append(sentences, span)
		}
		start = i + 1
		if start < len(text) && text[start] == ' ' {
			start++
		}
	}

	if start < len(text) {
		if span := trimmedSpan(text[start:], start); span.Text != "" {
			sentences = append(sentences, span)
		}
	}

	return sentences
}
