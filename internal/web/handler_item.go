package web

import (
	"net/http"
	"unicode/utf8"
)

const (
	maxItemNameLen = 200
	maxItemNoteLen = 2000
)

type itemRequest struct {
	Name string `json:"name"`
	Note string `json:"note"`
}

func (s *Server) validItem(w http.ResponseWriter, req itemRequest) bool {
	if utf8.RuneCountInString(req.Name) > maxItemNameLen {
		s.badRequest(w, "name too long")
		return false
	}
	if utf8.RuneCountInString(req.Note) > maxItemNoteLen {
		s.badRequest(w, "note too long")
		return false
	}
	return true
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListItems(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newItemViews(items), s.logger)
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if !s.validItem(w, req) {
		return
	}

	item, err := s.service.AddItem(r.Context(), r.PathValue("id"), req.Name, req.Note)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newItemView(item), s.logger)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if !s.validItem(w, req) {
		return
	}

	item, err := s.service.UpdateItem(r.Context(), r.PathValue("id"), req.Name, req.Note)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newItemView(item), s.logger)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteItem(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
