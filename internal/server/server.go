// Package server exposes the signaling hub over HTTP: the websocket
// upgrade endpoint, a health check, and the chat-history API backed by
// the persistence collaborator.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/gramseva/consult-signal/internal/config"
	"github.com/gramseva/consult-signal/internal/history"
	"github.com/gramseva/consult-signal/internal/signaling"
)

// Server owns the HTTP listener and its routes.
type Server struct {
	cfg      *config.Config
	hub      *signaling.Hub
	store    *history.Store
	log      *logrus.Entry
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer wires the hub and the optional history store into an HTTP
// server listening on cfg.BindAddr. store may be nil when persistence
// is disabled.
func NewServer(cfg *config.Config, hub *signaling.Hub, store *history.Store, logger *logrus.Entry) *Server {
	s := &Server{
		cfg:   cfg,
		hub:   hub,
		store: store,
		log:   logger,
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     s.checkOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/history", s.handleHistory)

	s.httpSrv = &http.Server{
		Addr:    cfg.BindAddr,
		Handler: mux,
	}
	return s
}

// Handler returns the route mux, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Run starts serving and blocks until the listener stops.
func (s *Server) Run() error {
	s.log.WithField("addr", s.cfg.BindAddr).Info("signaling server listening")
	err := s.httpSrv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Signaling server is healthy."))
}

// handleWS upgrades the connection and starts the client pumps. The
// portal's auth layer has already verified the session; it forwards the
// user identity in the X-User-ID header (or ?user= for dev setups).
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	user := r.Header.Get("X-User-ID")
	if user == "" {
		user = r.URL.Query().Get("user")
	}
	if user == "" && s.cfg.RequireIdentity {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := signaling.NewClient(s.hub, ws, user, s.cfg.SendQueueSize, s.log)

	go client.WritePump()
	go client.ReadPump()
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}

	roomID := r.URL.Query().Get("roomId")
	if roomID == "" {
		http.Error(w, "missing roomId", http.StatusBadRequest)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	messages, err := s.store.RecentMessages(roomID, limit)
	if err != nil {
		s.log.WithError(err).Error("history read failed")
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(messages); err != nil {
		s.log.WithError(err).Warn("history write failed")
	}
}
