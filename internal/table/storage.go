package table

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Storage defines the interface for source-image persistence
type Storage interface {
	// SaveImage stores the source image for a conversion and returns its
	// storage path
	SaveImage(id, filename, mediaType string, data []byte) (string, error)

	// Get retrieves an image by path
	Get(path string) ([]byte, error)

	// Delete removes an image
	Delete(path string) error
}

// LocalStorage implements the Storage interface using the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// SaveImage writes the image under "<id>_<name>". Phone captures arrive
// with long generated filenames, sometimes without an extension, so the
// name is sanitized and an extension derived from the media type is
// appended when missing.
func (l *LocalStorage) SaveImage(id, filename, mediaType string, data []byte) (string, error) {
	name := fmt.Sprintf("%s_%s", id, sanitizeFilename(filename, mediaType))
	path := filepath.Join(l.basePath, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing image: %w", err)
	}
	return name, nil
}

// Get retrieves an image from local storage
func (l *LocalStorage) Get(path string) ([]byte, error) {
	fullPath := filepath.Join(l.basePath, path)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes an image from local storage
func (l *LocalStorage) Delete(path string) error {
	fullPath := filepath.Join(l.basePath, path)
	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// sanitizeFilename cleans up a filename by removing special characters and
// truncating length. The media type supplies the extension when the
// original name carries none.
func sanitizeFilename(filename, mediaType string) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		ext = extensionForMediaType(mediaType)
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	// Remove special characters, keep only alphanumeric, spaces, hyphens, and underscores
	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	// Replace multiple spaces with single space
	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")

	base = strings.TrimSpace(base)

	// Truncate to reasonable length (50 chars for base, plus extension)
	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "scan"
	}

	return base + ext
}

// extensionForMediaType maps the accepted upload media types to a file
// extension
func extensionForMediaType(mediaType string) string {
	if mediaType == "image/png" {
		return ".png"
	}
	return ".jpg"
}
