package extraction

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
)

// allowedMediaTypes is the fixed set of raster image types accepted for
// conversion. Anything else is rejected before any network call happens.
var allowedMediaTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
}

// ValidationError indicates the uploaded file is not an accepted image type
type ValidationError struct {
	MediaType string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("unsupported file type %q: only JPEG and PNG images are accepted", e.MediaType)
}

// AcquiredImage is a validated in-memory image ready for encoding. It is
// ephemeral: held for one conversion cycle and replaced wholesale on each
// new selection. Camera captures and file uploads both arrive here.
type AcquiredImage struct {
	Filename  string
	Data      []byte
	MediaType string
}

// EncodedPayload is the transport-safe representation of an acquired image:
// base64 text plus the original media type tag.
type EncodedPayload struct {
	Base64    string
	MediaType string
}

// Bytes decodes the payload back to raw image bytes for SDKs that take
// binary data instead of a base64 string.
func (p EncodedPayload) Bytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(p.Base64)
	if err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return data, nil
}

// Format returns the bare format suffix ("jpeg" or "png") expected by the
// Gemini SDK's ImageData helper.
func (p EncodedPayload) Format() string {
	if p.MediaType == "image/png" {
		return "png"
	}
	return "jpeg"
}

// Acquire validates an uploaded or captured file and wraps it as an
// AcquiredImage. The media type is normalized (lowercase, trimmed) and, when
// the browser sends none, sniffed from the filename extension. A type
// outside the allow-list fails with a *ValidationError.
func Acquire(filename string, data []byte, contentType string) (*AcquiredImage, error) {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if mediaType == "" {
		mediaType = mediaTypeFromExtension(filename)
	}

	if !allowedMediaTypes[mediaType] {
		return nil, &ValidationError{MediaType: mediaType}
	}
	if len(data) == 0 {
		return nil, &ValidationError{MediaType: mediaType}
	}

	return &AcquiredImage{
		Filename:  filename,
		Data:      data,
		MediaType: mediaType,
	}, nil
}

// Encode converts the image to its transport representation. Deterministic,
// no failure modes.
func (a *AcquiredImage) Encode() EncodedPayload {
	return EncodedPayload{
		Base64:    base64.StdEncoding.EncodeToString(a.Data),
		MediaType: a.MediaType,
	}
}

// mediaTypeFromExtension maps a filename extension to a media type for
// uploads that arrive without a Content-Type header
func mediaTypeFromExtension(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
