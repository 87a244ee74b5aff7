package table

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/elgizali/Covertor/internal/extraction"
)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// jsonError writes a JSON error body with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// statusForOperationError maps controller errors to HTTP statuses
func statusForOperationError(err error) int {
	var vErr *extraction.ValidationError
	switch {
	case errors.Is(err, ErrBusy):
		return http.StatusConflict
	case errors.Is(err, extraction.ErrInvalidAPIKey), errors.Is(err, ErrNoCredential):
		return http.StatusUnauthorized
	case errors.As(err, &vErr), errors.Is(err, ErrNoImage), errors.Is(err, ErrNoTable):
		return http.StatusBadRequest
	case errors.Is(err, extraction.ErrEmptyResult):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

// writeSnapshot returns the controller state so the UI can re-render after
// any operation
func (s *Server) writeSnapshot(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(s.service.Snapshot()); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleState returns the controller snapshot
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	s.writeSnapshot(w, http.StatusOK)
}

// handleSubmitCredential stores a new API key
func (s *Server) handleSubmitCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.service.SubmitCredential(req.APIKey); err != nil {
		jsonError(w, err.Error(), statusForOperationError(err))
		return
	}

	setCORSHeaders(w)
	s.writeSnapshot(w, http.StatusOK)
}

// handleClearCredential removes the stored API key
func (s *Server) handleClearCredential(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearCredential(); err != nil {
		jsonError(w, err.Error(), statusForOperationError(err))
		return
	}

	setCORSHeaders(w)
	s.writeSnapshot(w, http.StatusOK)
}

// uploadParseErrorMessage picks the user-facing message for a failed
// multipart parse. The oversized case surfaces as a MaxBytesError from
// the capped request body, sometimes wrapped by the multipart reader.
func uploadParseErrorMessage(err error) string {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
		return "File is too large. Maximum size is 50MB. Please compress or resize your image."
	}
	return "Error parsing form"
}

// handleSelectImage handles image upload and camera captures
func (s *Server) handleSelectImage(w http.ResponseWriter, r *http.Request) {
	// Parse multipart form (max 50MB to handle high-resolution phone photos)
	maxFormSize := int64(50 << 20) // 50MB
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		jsonError(w, uploadParseErrorMessage(err), http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if err.Error() == "http: no such file" {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}
	defer f.Close()

	if header.Size > maxFormSize {
		jsonError(w, "File is too large. Maximum size is 50MB. Please compress or resize your image.", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := header.Header.Get("Content-Type")

	if err := s.service.SelectImage(header.Filename, data, contentType); err != nil {
		slog.Error("Error selecting image", "filename", header.Filename, "error", err)
		jsonError(w, err.Error(), statusForOperationError(err))
		return
	}

	setCORSHeaders(w)
	s.writeSnapshot(w, http.StatusOK)
}

// handleConvert runs one extraction call for the selected image
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if _, err := s.service.Convert(); err != nil {
		slog.Error("Error converting image", "error", err)
		setCORSHeaders(w)
		// The snapshot carries the classified error message and the state
		// the UI should land in (including the forced key re-entry)
		s.writeSnapshot(w, statusForOperationError(err))
		return
	}

	setCORSHeaders(w)
	s.writeSnapshot(w, http.StatusOK)
}

// handleExport serves the current table as an xlsx download
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, filename, err := s.service.Export()
	if err != nil {
		jsonError(w, err.Error(), statusForOperationError(err))
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(data)
}

// handleListConversions returns a list of all conversions
func (s *Server) handleListConversions(w http.ResponseWriter, r *http.Request) {
	conversions, err := s.service.ListConversions()
	if err != nil {
		slog.Error("Error listing conversions", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Ensure we always return an array, not nil
	if conversions == nil {
		conversions = []*Conversion{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(conversions); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleGetConversion returns a single conversion
func (s *Server) handleGetConversion(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Conversion ID required", http.StatusBadRequest)
		return
	}
	conversion, err := s.service.GetConversion(id)
	if err != nil {
		corsError(w, "Conversion not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(conversion); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleGetConversionImage returns the stored source image for a conversion
func (s *Server) handleGetConversionImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Conversion ID required", http.StatusBadRequest)
		return
	}
	data, contentType, err := s.service.GetConversionImage(id)
	if err != nil {
		corsError(w, "Image not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleExportConversion serves a stored conversion's table as an xlsx
// download
func (s *Server) handleExportConversion(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Conversion ID required", http.StatusBadRequest)
		return
	}
	data, filename, err := s.service.ExportConversion(id)
	if err != nil {
		corsError(w, "Conversion not found", http.StatusNotFound)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(data)
}

// handleDeleteConversion deletes a conversion and its source image
func (s *Server) handleDeleteConversion(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Conversion ID required", http.StatusBadRequest)
		return
	}
	if err := s.service.DeleteConversion(id); err != nil {
		corsError(w, "Error deleting conversion", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleStaticCSS serves the CSS file
func (s *Server) handleStaticCSS(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/css")
	w.Write(appCSS)
}

// handleStaticJS serves the JavaScript file
func (s *Server) handleStaticJS(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Write(appJS)
}
