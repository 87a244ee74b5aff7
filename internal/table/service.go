package table

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/elgizali/Covertor/internal/extraction"
)

// State is the controller's operation state
type State string

const (
	StateNoCredential     State = "no_credential"
	StateAwaitingImage    State = "awaiting_image"
	StateImageReady       State = "image_ready"
	StateConverting       State = "converting"
	StateConverted        State = "converted"
	StateConversionFailed State = "conversion_failed"
	StateExporting        State = "exporting"
	StateExportDone       State = "export_done"
	StateExportFailed     State = "export_failed"
)

// invalidKeyMessage is the user-facing text surfaced when the remote service
// rejects the stored API key
const invalidKeyMessage = "API key not valid. Please enter a new key."

var (
	// ErrBusy is returned when a conversion or export is already in flight.
	// The UI disables triggers while loading, so hitting this means a
	// second client or a stale page.
	ErrBusy = errors.New("another operation is in progress")

	// ErrNoImage is returned when conversion is requested without an image
	ErrNoImage = errors.New("no image selected")

	// ErrNoTable is returned when export is requested without a table
	ErrNoTable = errors.New("no table to export")
)

// IDGenerator generates unique IDs for conversions
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates IDs using UnixNano timestamp
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Snapshot is the controller state handed to the UI for rendering
type Snapshot struct {
	State     State            `json:"state"`
	Error     string           `json:"error,omitempty"`
	ImageName string           `json:"image_name,omitempty"`
	Table     extraction.Table `json:"table,omitempty"`
}

// Service is the application controller. It owns the operation state
// machine and all mutable state: the stored credential gate, the acquired
// image of the current cycle, the extracted table, and the last error. At
// most one conversion or export is in flight at a time; the busy flag
// rejects a second trigger without touching state.
type Service struct {
	db          DB
	credentials CredentialStore
	storage     Storage
	extractor   extraction.Extractor
	idGenerator IDGenerator
	timeSource  TimeSource

	mu        sync.Mutex
	state     State
	image     *extraction.AcquiredImage
	table     extraction.Table
	lastError string
	busy      bool
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, credentials CredentialStore, storage Storage, extractor extraction.Extractor) *Service {
	return NewServiceWithDeps(db, credentials, storage, extractor, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, credentials CredentialStore, storage Storage, extractor extraction.Extractor, idGen IDGenerator, timeSrc TimeSource) *Service {
	s := &Service{
		db:          db,
		credentials: credentials,
		storage:     storage,
		extractor:   extractor,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}

	// The stored credential decides the starting state
	if _, err := s.credentials.Load(); err != nil {
		s.state = StateNoCredential
	} else {
		s.state = StateAwaitingImage
	}
	return s
}

// Snapshot returns the current controller state for rendering
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State: s.state,
		Error: s.lastError,
		Table: s.table,
	}
	if s.image != nil {
		snap.ImageName = s.image.Filename
	}
	return snap
}

// SubmitCredential stores a new API key and unlocks the rest of the
// application
func (s *Service) SubmitCredential(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("api key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}

	if err := s.credentials.Save(key); err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}

	s.lastError = ""
	if s.state == StateNoCredential {
		if s.image != nil {
			s.state = StateImageReady
		} else {
			s.state = StateAwaitingImage
		}
	}
	return nil
}

// ClearCredential removes the stored API key and locks the application
// behind key entry again
func (s *Service) ClearCredential() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}

	if err := s.credentials.Clear(); err != nil {
		return fmt.Errorf("clearing credential: %w", err)
	}

	s.table = nil
	s.lastError = ""
	s.state = StateNoCredential
	return nil
}

// SelectImage validates and adopts a new image, replacing the previous one
// wholesale. Any prior table and error are cleared whether validation
// succeeds or fails.
func (s *Service) SelectImage(filename string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}

	s.table = nil

	image, err := extraction.Acquire(filename, data, contentType)
	if err != nil {
		s.image = nil
		s.lastError = err.Error()
		if s.state != StateNoCredential {
			s.state = StateAwaitingImage
		}
		return err
	}

	s.image = image
	s.lastError = ""
	if s.state != StateNoCredential {
		s.state = StateImageReady
	}
	return nil
}

// Convert runs one extraction call for the current image. Requires both an
// acquired image and a stored credential. On success the conversion is
// persisted to history along with its source image.
func (s *Service) Convert() (extraction.Table, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	if s.image == nil {
		s.mu.Unlock()
		return nil, ErrNoImage
	}
	apiKey, err := s.credentials.Load()
	if err != nil {
		s.state = StateNoCredential
		s.mu.Unlock()
		return nil, err
	}

	image := s.image
	s.busy = true
	s.state = StateConverting
	s.lastError = ""
	s.mu.Unlock()

	extracted, extractErr := s.extractor.ExtractTable(image.Encode(), apiKey)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false

	if extractErr != nil {
		return nil, s.failConversion(image, extractErr)
	}

	if err := s.recordConversion(image, extracted); err != nil {
		s.state = StateConversionFailed
		s.lastError = err.Error()
		return nil, err
	}

	s.table = extracted
	s.state = StateConverted
	return extracted, nil
}

// failConversion applies the error taxonomy to a failed extraction. An auth
// rejection purges the stored credential and forces re-entry; everything
// else lands in ConversionFailed with the message surfaced.
func (s *Service) failConversion(image *extraction.AcquiredImage, err error) error {
	slog.Error("Failed to extract table",
		"filename", image.Filename,
		"content_type", image.MediaType,
		"file_size", len(image.Data),
		"error", err,
	)

	if errors.Is(err, extraction.ErrInvalidAPIKey) {
		if clearErr := s.credentials.Clear(); clearErr != nil {
			slog.Error("Failed to clear rejected credential", "error", clearErr)
		}
		s.state = StateNoCredential
		s.lastError = invalidKeyMessage
		return err
	}

	s.state = StateConversionFailed
	s.lastError = err.Error()
	return err
}

// recordConversion persists a successful extraction to history. Callers
// hold the lock.
func (s *Service) recordConversion(image *extraction.AcquiredImage, extracted extraction.Table) error {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.SaveImage(id, image.Filename, image.MediaType, image.Data)
	if err != nil {
		return fmt.Errorf("saving source image: %w", err)
	}

	conversion := &Conversion{
		ID:             id,
		SourceFilename: image.Filename,
		SourcePath:     savedPath,
		ContentType:    image.MediaType,
		Table:          extracted,
		CreatedAt:      now,
	}

	if err := s.db.SaveConversion(conversion); err != nil {
		// Clean up file if database save fails
		s.storage.Delete(savedPath)
		return fmt.Errorf("saving conversion to database: %w", err)
	}
	return nil
}

// Export serializes the current table as an xlsx download
func (s *Service) Export() ([]byte, string, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, "", ErrBusy
	}
	if s.table == nil {
		s.mu.Unlock()
		return nil, "", ErrNoTable
	}

	current := s.table
	s.busy = true
	s.state = StateExporting
	s.lastError = ""
	s.mu.Unlock()

	data, err := ExportXLSX(current)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false

	if err != nil {
		s.state = StateExportFailed
		s.lastError = err.Error()
		return nil, "", err
	}

	s.state = StateExportDone
	return data, ExportFilename, nil
}

// GetConversion retrieves a conversion from history
func (s *Service) GetConversion(id string) (*Conversion, error) {
	conversion, err := s.db.GetConversion(id)
	if err != nil {
		return nil, fmt.Errorf("getting conversion: %w", err)
	}
	return conversion, nil
}

// ListConversions returns all conversions in history
func (s *Service) ListConversions() ([]*Conversion, error) {
	conversions, err := s.db.ListConversions()
	if err != nil {
		return nil, fmt.Errorf("listing conversions: %w", err)
	}
	return conversions, nil
}

// GetConversionImage retrieves the stored source image for a conversion
func (s *Service) GetConversionImage(id string) ([]byte, string, error) {
	conversion, err := s.db.GetConversion(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting conversion: %w", err)
	}

	data, err := s.storage.Get(conversion.SourcePath)
	if err != nil {
		return nil, "", fmt.Errorf("getting source image: %w", err)
	}

	return data, conversion.ContentType, nil
}

// ExportConversion serializes a stored conversion's table as an xlsx
// download without touching the live operation state
func (s *Service) ExportConversion(id string) ([]byte, string, error) {
	conversion, err := s.db.GetConversion(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting conversion: %w", err)
	}

	data, err := ExportXLSX(conversion.Table)
	if err != nil {
		return nil, "", err
	}
	return data, ExportFilename, nil
}

// DeleteConversion removes a conversion and its stored source image
func (s *Service) DeleteConversion(id string) error {
	conversion, err := s.db.GetConversion(id)
	if err != nil {
		return fmt.Errorf("getting conversion for deletion: %w", err)
	}

	if err := s.storage.Delete(conversion.SourcePath); err != nil {
		// Log error but continue with database deletion
		slog.Warn("Failed to delete source image", "path", conversion.SourcePath, "error", err)
	}

	if err := s.db.DeleteConversion(id); err != nil {
		return fmt.Errorf("deleting conversion from database: %w", err)
	}
	return nil
}
