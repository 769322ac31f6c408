package web

import (
	"net/http"
	"unicode/utf8"
)

const maxTitleLen = 200

type createBoxRequest struct {
	Title   string `json:"title"`
	Barcode string `json:"barcode"`
}

func (s *Server) handleListBoxes(w http.ResponseWriter, r *http.Request) {
	boxes, err := s.service.ListBoxes(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	views := make([]boxView, 0, len(boxes))
	for _, box := range boxes {
		views = append(views, newBoxView(box))
	}
	writeJSON(w, http.StatusOK, views, s.logger)
}

func (s *Server) handleCreateBox(w http.ResponseWriter, r *http.Request) {
	var req createBoxRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if utf8.RuneCountInString(req.Title) > maxTitleLen {
		s.badRequest(w, "title too long")
		return
	}

	box, err := s.service.CreateBox(r.Context(), req.Title, req.Barcode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newBoxView(box), s.logger)
}

func (s *Server) handleGetBox(w http.ResponseWriter, r *http.Request) {
	contents, err := s.service.GetBoxContents(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	view := boxContentsView{
		boxView: newBoxView(contents.Box),
		Items:   newItemViews(contents.Items),
		Photos:  make([]photoView, 0, len(contents.Photos)),
	}
	for _, photo := range contents.Photos {
		view.Photos = append(view.Photos, newPhotoView(photo))
	}
	writeJSON(w, http.StatusOK, view, s.logger)
}

func (s *Server) handleDeleteBox(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteBox(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleShareBox(w http.ResponseWriter, r *http.Request) {
	box, err := s.service.ShareBox(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBoxView(box), s.logger)
}

func (s *Server) handleFindByBarcode(w http.ResponseWriter, r *http.Request) {
	box, err := s.service.FindBoxByBarcode(r.Context(), r.PathValue("code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBoxView(box), s.logger)
}
