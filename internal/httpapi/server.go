// Package httpapi is the service's HTTP surface: event ingress from the
// transport collaborator and a small operator API for pairing and
// sessions.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/larkpipe/internal/bus"
	"github.com/nextlevelbuilder/larkpipe/internal/config"
	"github.com/nextlevelbuilder/larkpipe/internal/pipeline"
	"github.com/nextlevelbuilder/larkpipe/internal/store"
)

// Server handles event ingress and the operator API.
type Server struct {
	cfg      *config.Config
	pipe     *pipeline.Pipeline
	stores   *store.Stores
	version  string
	httpServ *http.Server
	mux      *http.ServeMux
}

func NewServer(cfg *config.Config, pipe *pipeline.Pipeline, stores *store.Stores, version string) *Server {
	return &Server{cfg: cfg, pipe: pipe, stores: stores, version: version}
}

// BuildMux creates and caches the mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/events", s.auth(s.handleEvent))
	mux.HandleFunc("GET /v1/pairing", s.auth(s.handleListPairing))
	mux.HandleFunc("POST /v1/pairing/approve", s.auth(s.handleApprovePairing))
	mux.HandleFunc("DELETE /v1/pairing/{channel}/{external_id}", s.auth(s.handleRevokePairing))
	mux.HandleFunc("GET /v1/sessions", s.auth(s.handleListSessions))
	mux.HandleFunc("DELETE /v1/sessions/{key...}", s.auth(s.handleDeleteSession))

	s.mux = mux
	return mux
}

// Start begins serving on the configured listen address. Blocks until
// the server stops.
func (s *Server) Start() error {
	s.httpServ = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.BuildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("http server listening", "addr", s.cfg.Server.Listen)
	err := s.httpServ.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServ == nil {
		return nil
	}
	return s.httpServ.Shutdown(ctx)
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := s.cfg.Server.Token; token != "" {
			if extractBearerToken(r) != token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev bus.InboundEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event payload"})
		return
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	s.pipe.HandleInboundEvent(r.Context(), ev)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleListPairing(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.stores.Pairing.ListPending(r.Context(), r.URL.Query().Get("channel"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if reqs == nil {
		reqs = []store.PairingRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": reqs})
}

func (s *Server) handleApprovePairing(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Code) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "code is required"})
		return
	}
	req, err := s.stores.Pairing.Approve(r.Context(), strings.TrimSpace(body.Code))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	slog.Info("pairing approved", "channel", req.Channel, "external_id", req.ExternalID)
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleRevokePairing(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	externalID := r.PathValue("external_id")
	if err := s.stores.Pairing.Revoke(r.Context(), channel, externalID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := s.stores.Sessions.List(r.Context(), r.URL.Query().Get("account"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": infos})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session key is required"})
		return
	}
	if err := s.stores.Sessions.Delete(r.Context(), key); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
