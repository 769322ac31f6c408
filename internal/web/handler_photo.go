package web

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
)

const maxPhotoSize = 50 * 1024 * 1024 // 50 MB

// allowedImageTypes is the set of MIME types accepted for uploaded photos.
// These are exactly the formats the image decoder has registered.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// allowedImageMIME returns the sniffed MIME type and true if data is an
// accepted image format, or ("", false) otherwise.
func allowedImageMIME(data []byte) (string, bool) {
	mime := http.DetectContentType(data)
	if allowedImageTypes[mime] {
		return mime, true
	}
	return "", false
}

func (s *Server) handleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	boxID := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoSize)
	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		s.badRequest(w, "failed to parse form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		s.badRequest(w, "image file required")
		return
	}
	defer closeWithLog(file, "upload file", s.logger)

	imageData, err := io.ReadAll(file)
	if err != nil {
		s.logger.Error("read upload failed", "box_id", boxID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "failed to read file"}, s.logger)
		return
	}

	if _, ok := allowedImageMIME(imageData); !ok {
		writeJSON(w, http.StatusUnsupportedMediaType, errorBody{Error: "unsupported image format"}, s.logger)
		return
	}

	photo, err := s.service.AddPhoto(r.Context(), boxID, bytes.NewReader(imageData))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPhotoView(photo), s.logger)
}

func (s *Server) handleGetPhoto(w http.ResponseWriter, r *http.Request) {
	photoID := r.PathValue("id")

	reader, mimeType, err := s.service.OpenPhoto(r.Context(), photoID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer closeWithLog(reader, "photo reader", s.logger)

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Error("write photo failed", "photo_id", photoID, "error", err)
	}
}

func (s *Server) handleDeletePhoto(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeletePhoto(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
