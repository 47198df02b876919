package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrijs2005/passgate/internal/common"
)

type codeRequest struct {
	OwnerID string `json:"owner_id"`
}

type codeResponse struct {
	Code      string `json:"code"`
	ExpiresIn int64  `json:"expires_in"`
}

type redeemRequest struct {
	Code    string `json:"code"`
	OwnerID string `json:"owner_id"`
}

type redeemResponse struct {
	Message     string `json:"message"`
	DownloadURL string `json:"download_url"`
}

func (s *Server) handleIssueCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	code, expiresAt, err := s.exchange.IssuePending(r.Context(), req.OwnerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, codeResponse{
		Code:      code,
		ExpiresIn: int64(time.Until(expiresAt).Seconds()),
	})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" || req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "code and owner_id are required")
		return
	}

	token, err := s.exchange.Verify(r.Context(), req.Code, req.OwnerID)
	if err != nil {
		// Unknown, foreign and expired codes are indistinguishable to the
		// caller.
		if errors.Is(err, common.ErrorNotFound) || errors.Is(err, common.ErrorExpired) {
			writeError(w, http.StatusUnauthorized, "invalid or expired code")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, redeemResponse{
		Message:     "verification successful",
		DownloadURL: "/download?token=" + token,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	if len(s.downloadKeyHash) > 0 {
		key := r.URL.Query().Get("key")
		if bcrypt.CompareHashAndPassword(s.downloadKeyHash, []byte(key)) != nil {
			writeError(w, http.StatusUnauthorized, "invalid key")
			return
		}
	}

	// Open the artifact before consuming the grant so a missing file does
	// not burn the caller's single use.
	rc, err := s.artifact.Open(r.Context())
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Error(r.Context(), "artifact unavailable", "error", err.Error())
			writeError(w, http.StatusNotFound, "artifact unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer rc.Close()

	ownerID, err := s.store.TakeGrant(r.Context(), token)
	if err != nil {
		// Unknown and expired tokens are indistinguishable to the caller.
		if errors.Is(err, common.ErrorNotFound) || errors.Is(err, common.ErrorExpired) {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", s.artifactName))
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Error(r.Context(), "artifact stream interrupted", "owner_id", ownerID, "error", err.Error())
		return
	}

	s.logger.Info(r.Context(), "artifact delivered", "owner_id", ownerID)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
