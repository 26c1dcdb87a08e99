package ingest

import (
	"bytes"
	"fmt"
)

// Image size bounds enforced at submit time.
const (
	MinImageSize = 100
	MaxImageSize = 10 * 1024 * 1024 // 10MB
)

// imageMagic maps known magic-byte prefixes to media types. JPEG and
// WEBP need positional checks and are handled separately.
var imageMagic = map[string][]byte{
	"image/png": []byte("\x89PNG\r\n\x1a\n"),
	"image/gif": []byte("GIF8"),
	"image/bmp": []byte("BM"),
}

// ValidateImage checks an image payload before it is accepted into a
// job: size bounds and a recognizable image header.
func ValidateImage(data []byte) (string, error) {
	if len(data) < MinImageSize {
		return "", fmt.Errorf("image too small (%d bytes, minimum %d)", len(data), MinImageSize)
	}
	if len(data) > MaxImageSize {
		return "", fmt.Errorf("image too large (%d bytes, maximum %d)", len(data), MaxImageSize)
	}

	mediaType := DetectImageType(data)
	if mediaType == "" {
		return "", fmt.Errorf("unrecognized image format")
	}
	return mediaType, nil
}

// DetectImageType returns the media type from magic bytes, or "" when
// the payload is not a recognized image.
func DetectImageType(data []byte) string {
	for mediaType, magic := range imageMagic {
		if bytes.HasPrefix(data, magic) {
			return mediaType
		}
	}
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return "image/jpeg"
	}
	if len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		return "image/webp"
	}
	return ""
}
