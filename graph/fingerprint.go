package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// NormalizeLabel lowercases a label and collapses runs of whitespace so
// that trivially different spellings fingerprint identically.
func NormalizeLabel(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}

// ConceptID derives a stable concept identifier from the normalized label
// and the first evidence quote. Re-processing the same chunk therefore
// regenerates the same id, which is what makes concept upserts idempotent.
func ConceptID(label, firstQuote string) string {
	sum := sha256.Sum256([]byte(NormalizeLabel(label) + "\x00" + firstQuote))
	return "c_" + hex.EncodeToString(sum[:])[:24]
}

// ConceptIDWithChunk derives an alternate concept id when ConceptID
// collides with a different concept inside the same chunk.
func ConceptIDWithChunk(label, firstQuote string, chunkIndex int) string {
	sum := sha256.Sum256([]byte(NormalizeLabel(label) + "\x00" + firstQuote + "\x00" + fmt.Sprintf("%d", chunkIndex)))
	return "c_" + hex.EncodeToString(sum[:])[:24]
}

// SourceID derives the source identifier for one chunk of a document.
// It is a pure function of the document hash and chunk index, so chunking
// identical text always yields identical source ids.
func SourceID(documentHash string, chunkIndex int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", documentHash, chunkIndex)))
	return "s_" + hex.EncodeToString(sum[:])[:24]
}

// HashContent returns the hex sha256 of canonical content bytes.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
