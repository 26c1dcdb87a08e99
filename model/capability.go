// Package model provides capability-based model selection for the
// ingestion adapters. Instead of hardcoding model names, callers specify
// capabilities (extraction, embedding, vision) and the registry resolves
// them to available endpoints with fallback chains.
package model

// Capability represents a semantic capability for model selection.
type Capability string

const (
	// CapabilityExtraction is for structured concept/relationship extraction.
	CapabilityExtraction Capability = "extraction"

	// CapabilityEmbedding is for text embedding generation.
	CapabilityEmbedding Capability = "embedding"

	// CapabilityVision is for image-to-text description.
	CapabilityVision Capability = "vision"
)

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityExtraction, CapabilityEmbedding, CapabilityVision:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty for
// invalid values.
func ParseCapability(s string) Capability {
	c := Capability(s)
	if c.IsValid() {
		return c
	}
	return ""
}
