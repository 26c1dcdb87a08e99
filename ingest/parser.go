// Package ingest turns raw inputs (files, URLs, images) into canonical
// document text ready for chunking. Canonical text is UTF-8 with LF line
// endings and no BOM, so document hashes are stable regardless of where
// the bytes came from.
package ingest

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/c360studio/semgraph/graph"
)

// Format identifies a supported input format.
type Format string

// Supported input formats.
const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatImage    Format = "image"
)

// Document is the canonical parse result.
type Document struct {
	// Title is the document title when the format carries one.
	Title string

	// Text is the canonical UTF-8 text.
	Text string

	// Format is the detected input format.
	Format Format

	// Hash is the sha256 of the canonical text, hex encoded.
	Hash string
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// textExtensions maps file extensions to non-image formats.
var textExtensions = map[string]Format{
	".txt":      FormatText,
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
	".html":     FormatHTML,
	".htm":      FormatHTML,
}

// imageExtensions lists the accepted image file extensions.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// DetectFormat maps a filename to its input format.
// Unknown extensions are treated as plain text.
func DetectFormat(filename string) Format {
	ext := strings.ToLower(filepath.Ext(filename))
	if f, ok := textExtensions[ext]; ok {
		return f
	}
	if imageExtensions[ext] {
		return FormatImage
	}
	return FormatText
}

// IsImageFilename reports whether the filename has an image extension.
func IsImageFilename(filename string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Parser converts raw input bytes into canonical documents.
type Parser struct {
	converter *Converter
}

// NewParser creates a parser with an HTML converter.
func NewParser() *Parser {
	return &Parser{converter: NewConverter()}
}

// Converter exposes the underlying HTML converter for callers that fetch
// pages themselves.
func (p *Parser) Converter() *Converter {
	return p.converter
}

// Parse converts raw bytes to a canonical document based on the filename
// extension. Image inputs are rejected here; they go through the vision
// adapter instead.
func (p *Parser) Parse(filename string, data []byte) (*Document, error) {
	format := DetectFormat(filename)

	switch format {
	case FormatText, FormatMarkdown:
		text, err := NormalizeText(data)
		if err != nil {
			return nil, err
		}
		doc := &Document{
			Text:   text,
			Format: format,
			Hash:   graph.HashContent([]byte(text)),
		}
		if format == FormatMarkdown {
			doc.Title = firstHeading(text)
		}
		return doc, nil

	case FormatHTML:
		result, err := p.converter.Convert(data)
		if err != nil {
			return nil, fmt.Errorf("convert HTML: %w", err)
		}
		text, err := NormalizeText([]byte(result.Markdown))
		if err != nil {
			return nil, err
		}
		return &Document{
			Title:  result.Title,
			Text:   text,
			Format: format,
			Hash:   graph.HashContent([]byte(text)),
		}, nil

	case FormatImage:
		return nil, fmt.Errorf("image input %q requires the vision pipeline", filename)

	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// NormalizeText canonicalizes raw text bytes: BOM stripped, CRLF and
// bare CR folded to LF, trailing whitespace trimmed. Returns an error
// for invalid UTF-8.
func NormalizeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	if !utf8.Valid(data) {
		return "", fmt.Errorf("input is not valid UTF-8")
	}

	text := string(data)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimRight(text, " \t\n")

	return text, nil
}

// firstHeading returns the first markdown H1 text, if any.
func firstHeading(text string) string {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
