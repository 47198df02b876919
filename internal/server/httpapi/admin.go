package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/passgate/internal/common"
)

type forceLinkRequest struct {
	LocalID  string `json:"local_id"`
	Username string `json:"username"`
}

type unlinkRequest struct {
	LocalID string `json:"local_id"`
}

func (s *Server) handleAdminLinks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"links": s.accounts.Links()})
}

func (s *Server) handleAdminForceLink(w http.ResponseWriter, r *http.Request) {
	var req forceLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LocalID == "" || req.Username == "" {
		writeError(w, http.StatusBadRequest, "local_id and username are required")
		return
	}

	externalID, err := s.accounts.ForceLink(r.Context(), req.LocalID, req.Username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			writeError(w, http.StatusNotFound, "unknown username")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"external_id": externalID})
}

func (s *Server) handleAdminUnlink(w http.ResponseWriter, r *http.Request) {
	var req unlinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LocalID == "" {
		writeError(w, http.StatusBadRequest, "local_id is required")
		return
	}

	if err := s.accounts.AdminUnlink(r.Context(), req.LocalID); err != nil {
		if errors.Is(err, common.ErrorNotLinked) {
			writeError(w, http.StatusNotFound, "account is not linked")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "unlinked"})
}
