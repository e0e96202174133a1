package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrijs2005/mailvault/internal/server/models"
	"github.com/dmitrijs2005/mailvault/internal/server/services"
)

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := services.AccountFilter{
		Search:  q.Get("search"),
		GroupID: q.Get("group_id"),
		Status:  models.AccountStatus(q.Get("status")),
	}

	accounts, err := s.accounts.List(r.Context(), currentUser(r).ID, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req services.AccountInput
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := s.accounts.Create(r.Context(), currentUser(r).ID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.accounts.Get(r.Context(), currentUser(r).ID, chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req services.AccountInput
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	account, err := s.accounts.Update(r.Context(), currentUser(r).ID, chi.URLParam(r, "accountID"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.Delete(r.Context(), currentUser(r).ID, chi.URLParam(r, "accountID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	removed, err := s.accounts.BatchDelete(r.Context(), currentUser(r).ID, req.IDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": removed})
}

func (s *Server) handleBatchGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs     []string `json:"ids"`
		GroupID *string  `json:"group_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	moved, err := s.accounts.BatchSetGroup(r.Context(), currentUser(r).ID, req.IDs, req.GroupID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"moved": moved})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text    string  `json:"text"`
		GroupID *string `json:"group_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := s.accounts.Import(r.Context(), currentUser(r).ID, req.Text, req.GroupID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	text, err := s.accounts.Export(r.Context(), currentUser(r).ID, req.IDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handleVerifyOne(w http.ResponseWriter, r *http.Request) {
	res, err := s.verify.VerifyOne(r.Context(), currentUser(r).ID, chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVerifyAll(w http.ResponseWriter, r *http.Request) {
	results, err := s.verify.VerifyAll(r.Context(), currentUser(r).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}
