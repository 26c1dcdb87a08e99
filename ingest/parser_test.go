package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		filename string
		expected Format
	}{
		{"notes.txt", FormatText},
		{"README.md", FormatMarkdown},
		{"doc.markdown", FormatMarkdown},
		{"page.html", FormatHTML},
		{"page.HTM", FormatHTML},
		{"photo.png", FormatImage},
		{"photo.JPEG", FormatImage},
		{"no-extension", FormatText},
		{"weird.xyz", FormatText},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectFormat(tt.filename))
		})
	}
}

func TestNormalizeText(t *testing.T) {
	t.Run("strips BOM", func(t *testing.T) {
		got, err := NormalizeText([]byte("\xEF\xBB\xBFhello"))
		require.NoError(t, err)
		assert.Equal(t, "hello", got)
	})

	t.Run("folds CRLF to LF", func(t *testing.T) {
		got, err := NormalizeText([]byte("line one\r\nline two\rline three\n"))
		require.NoError(t, err)
		assert.Equal(t, "line one\nline two\nline three", got)
	})

	t.Run("rejects invalid UTF-8", func(t *testing.T) {
		_, err := NormalizeText([]byte{0xFF, 0xFE, 0x00})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "UTF-8")
	})
}

func TestParse_TextAndMarkdown(t *testing.T) {
	p := NewParser()

	doc, err := p.Parse("plain.txt", []byte("just some text\r\n"))
	require.NoError(t, err)
	assert.Equal(t, FormatText, doc.Format)
	assert.Equal(t, "just some text", doc.Text)
	assert.Empty(t, doc.Title)
	assert.NotEmpty(t, doc.Hash)

	doc, err = p.Parse("notes.md", []byte("# My Notes\n\nBody."))
	require.NoError(t, err)
	assert.Equal(t, FormatMarkdown, doc.Format)
	assert.Equal(t, "My Notes", doc.Title)
}

func TestParse_IdenticalTextIdenticalHash(t *testing.T) {
	p := NewParser()

	// Same canonical text via different line endings hashes the same.
	a, err := p.Parse("a.txt", []byte("one\r\ntwo"))
	require.NoError(t, err)
	b, err := p.Parse("b.txt", []byte("one\ntwo"))
	require.NoError(t, err)

	assert.Equal(t, a.Hash, b.Hash)
}

func TestParse_HTML(t *testing.T) {
	p := NewParser()

	html := []byte(`<!DOCTYPE html>
<html>
<head><title>Test Page</title><style>body { color: red; }</style></head>
<body>
<nav>Navigation</nav>
<main>
<h1>Main Heading</h1>
<p>This is a paragraph with <strong>bold</strong> text.</p>
<ul>
<li>Item 1</li>
<li>Item 2</li>
</ul>
</main>
<footer>Footer</footer>
</body>
</html>`)

	doc, err := p.Parse("page.html", html)
	require.NoError(t, err)

	assert.Equal(t, FormatHTML, doc.Format)
	assert.Equal(t, "Test Page", doc.Title)
	assert.Contains(t, doc.Text, "Main Heading")
	assert.Contains(t, doc.Text, "Item 1")
	assert.NotContains(t, doc.Text, "color: red")
}

func TestParse_ImageRejected(t *testing.T) {
	p := NewParser()

	_, err := p.Parse("photo.png", []byte("fake"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vision")
}

func TestCleanMarkdown(t *testing.T) {
	got := cleanMarkdown("Line 1\n\n\n\n\n\nLine 2   \n")
	assert.False(t, strings.Contains(got, "\n\n\n\n"))
	for _, line := range strings.Split(got, "\n") {
		assert.False(t, strings.HasSuffix(line, " "))
	}
}
