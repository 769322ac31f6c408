package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vbonduro/storagesync/internal/domain"
)

const maxJSONBody = 1 << 20

type boxView struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Barcode     string    `json:"barcode,omitempty"`
	ShareHandle string    `json:"shareHandle,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type itemView struct {
	ID        string    `json:"id"`
	BoxID     string    `json:"boxId"`
	Name      string    `json:"name"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type photoView struct {
	ID        string    `json:"id"`
	BoxID     string    `json:"boxId"`
	MimeType  string    `json:"mimeType"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

type boxContentsView struct {
	boxView
	Items  []itemView  `json:"items"`
	Photos []photoView `json:"photos"`
}

func newBoxView(b *domain.Box) boxView {
	return boxView{ID: b.ID, Title: b.Title, Barcode: b.Barcode, ShareHandle: b.ShareHandle, CreatedAt: b.CreatedAt}
}

func newItemView(i *domain.Item) itemView {
	return itemView{ID: i.ID, BoxID: i.BoxID, Name: i.Name, Note: i.Note, CreatedAt: i.CreatedAt}
}

func newPhotoView(p *domain.Photo) photoView {
	return photoView{ID: p.ID, BoxID: p.BoxID, MimeType: p.MimeType, URL: "/photos/" + p.ID, CreatedAt: p.CreatedAt}
}

func newItemViews(items []*domain.Item) []itemView {
	out := make([]itemView, 0, len(items))
	for _, item := range items {
		out = append(out, newItemView(item))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to write response", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps service errors onto HTTP status codes. Unexpected errors are
// logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr    *domain.ValidationError
		convErr *domain.ConversionError
		netErr  *domain.NetworkError
	)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"}, s.logger)
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: verr.Error()}, s.logger)
	case errors.As(err, &convErr):
		s.logger.Warn("image conversion failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "unable to process image"}, s.logger)
	case errors.As(err, &netErr):
		s.logger.Error("record store failure", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "record store unavailable"}, s.logger)
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"}, s.logger)
	}
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg}, s.logger)
}

// decodeJSON reads a single JSON object from the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
