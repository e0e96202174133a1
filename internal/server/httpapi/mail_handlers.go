package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrijs2005/mailvault/internal/server/outlook"
)

func (s *Server) handleMailFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.mail.Folders(r.Context(), currentUser(r).ID, chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, folders)
}

func (s *Server) handleMailMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := outlook.ListOptions{
		Top:    queryInt(q.Get("limit"), 50),
		Skip:   queryInt(q.Get("skip"), 0),
		Search: q.Get("search"),
	}

	page, err := s.mail.Messages(r.Context(), currentUser(r).ID,
		chi.URLParam(r, "accountID"), chi.URLParam(r, "folderID"), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleMailUnread(w http.ResponseWriter, r *http.Request) {
	n, err := s.mail.UnreadCount(r.Context(), currentUser(r).ID,
		chi.URLParam(r, "accountID"), chi.URLParam(r, "folderID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": n})
}

func (s *Server) handleMailMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.mail.Message(r.Context(), currentUser(r).ID,
		chi.URLParam(r, "accountID"), chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleMailDelete(w http.ResponseWriter, r *http.Request) {
	err := s.mail.DeleteMessage(r.Context(), currentUser(r).ID,
		chi.URLParam(r, "accountID"), chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
