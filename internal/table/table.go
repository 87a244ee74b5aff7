package table

import (
	"time"

	"github.com/elgizali/Covertor/internal/extraction"
)

// Conversion is a completed image-to-table extraction kept in history so the
// user can re-preview and re-export it later
type Conversion struct {
	ID             string           `json:"id"`
	SourceFilename string           `json:"source_filename"`
	SourcePath     string           `json:"source_path"`
	ContentType    string           `json:"content_type"`
	Table          extraction.Table `json:"table"`
	CreatedAt      time.Time        `json:"created_at"`
}
