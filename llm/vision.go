package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"

	"github.com/c360studio/semgraph/model"
)

// visionPrompt asks for a literal description so the downstream text
// pipeline extracts what the image shows, not what the model speculates.
const visionPrompt = `Describe this image in detail as literal prose. Cover every piece of text visible in the image verbatim, the objects and people shown, their arrangement, and any diagrams, charts, or tables (describe their structure and values). Do not interpret, speculate, or summarize. Write plain paragraphs.`

// Vision converts images to literal prose descriptions through the
// vision capability.
type Vision struct {
	client *Client
}

// NewVision creates a vision adapter over an LLM client.
func NewVision(client *Client) *Vision {
	return &Vision{client: client}
}

// Describe returns a literal prose description of the image, plus the
// model that produced it.
func (v *Vision) Describe(ctx context.Context, imageBytes []byte) (string, string, error) {
	if len(imageBytes) == 0 {
		return "", "", NewFatalError(fmt.Errorf("empty image"))
	}

	mediaType := SniffImageType(imageBytes)
	imageB64 := base64.StdEncoding.EncodeToString(imageBytes)

	chain := v.client.registry.GetAvailableFallbackChain(model.CapabilityVision)
	if len(chain) == 0 {
		return "", "", fmt.Errorf("no endpoints configured for capability vision")
	}

	var lastErr error

	for _, name := range chain {
		ep := v.client.registry.GetEndpoint(name)
		if ep == nil {
			continue
		}

		provider := GetProvider(ep.Provider)
		if provider == nil {
			continue
		}
		visionProvider, ok := provider.(VisionProvider)
		if !ok {
			v.client.logger.Debug("Provider has no vision support, skipping",
				"endpoint", name, "provider", ep.Provider)
			continue
		}

		body, err := visionProvider.BuildVisionBody(ep.Model, visionPrompt, imageB64, mediaType, 4096)
		if err != nil {
			return "", "", NewFatalError(fmt.Errorf("build vision body: %w", err))
		}

		respBody, err := v.client.post(ctx, provider, provider.BuildURL(ep.URL), body)
		if err != nil {
			lastErr = err
			if IsFatal(err) {
				return "", "", err
			}
			v.client.registry.MarkEndpointFailure(name)
			v.client.logger.Warn("Vision endpoint failed, trying fallback",
				"endpoint", name, "error", err)
			continue
		}

		resp, err := provider.ParseResponse(respBody, ep.Model)
		if err != nil {
			lastErr = NewTransientError(err)
			v.client.registry.MarkEndpointFailure(name)
			continue
		}

		v.client.registry.MarkEndpointSuccess(name)
		return resp.Content, resp.Model, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no vision-capable providers in chain")
	}
	return "", "", NewTransientError(fmt.Errorf("all vision endpoints failed: %w", lastErr))
}

// SniffImageType returns the image media type from magic bytes, falling
// back to JPEG when the header is unrecognized.
func SniffImageType(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return "image/png"
	case bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	case bytes.HasPrefix(data, []byte("BM")):
		return "image/bmp"
	default:
		return "image/jpeg"
	}
}
