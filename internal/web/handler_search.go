package web

import (
	"io"
	"net/http"

	"github.com/vbonduro/storagesync/internal/push"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.SearchItems(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newItemViews(items), s.logger)
}

// handlePush accepts a remote change notification. Unknown subscription ids
// are accepted and ignored so the sender does not retry them.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		s.badRequest(w, "failed to read body")
		return
	}
	payload, err := push.DecodePayload(body)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}

	s.service.HandleRemoteNotification(payload)
	w.WriteHeader(http.StatusAccepted)
}
