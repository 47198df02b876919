// Package httpapi exposes the public HTTP surface: code issuance, code
// redemption, token-gated artifact delivery and the administrative link
// endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/passgate/internal/logging"
	"github.com/dmitrijs2005/passgate/internal/server/accounts"
	"github.com/dmitrijs2005/passgate/internal/server/artifact"
	"github.com/dmitrijs2005/passgate/internal/server/exchange"
	"github.com/dmitrijs2005/passgate/internal/server/store"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	address         string
	exchange        *exchange.Service
	accounts        *accounts.Service
	store           *store.Store
	artifact        artifact.Source
	artifactName    string
	downloadKeyHash []byte
	jwtSecret       []byte
	logger          logging.Logger
}

func NewServer(a string, l logging.Logger, ex *exchange.Service, ac *accounts.Service, st *store.Store,
	src artifact.Source, artifactName string, downloadKeyHash string, secretKey string) (*Server, error) {
	return &Server{
		address:         a,
		logger:          l.With("module", "http_server"),
		exchange:        ex,
		accounts:        ac,
		store:           st,
		artifact:        src,
		artifactName:    artifactName,
		downloadKeyHash: []byte(downloadKeyHash),
		jwtSecret:       []byte(secretKey),
	}, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/code", s.handleIssueCode)
	mux.HandleFunc("POST /redeem", s.handleRedeem)
	mux.HandleFunc("GET /download", s.handleDownload)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("GET /admin/links", s.requireAdmin(s.handleAdminLinks))
	mux.HandleFunc("POST /admin/force-link", s.requireAdmin(s.handleAdminForceLink))
	mux.HandleFunc("POST /admin/unlink", s.requireAdmin(s.handleAdminUnlink))

	return s.withRequestID(mux)
}

func (s *Server) Run(ctx context.Context) error {

	srv := &http.Server{
		Addr:    s.address,
		Handler: s.routes(),
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "shutdown error", "error", err.Error())
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
