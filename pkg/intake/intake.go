// Package intake implements the local HTTP surface: client-header
// authorization, envelope/purge validation, and the three documented
// endpoints plus health.
//
// Grounded on pkg/webserver/webserver.go's http.ServeMux-based Server
// wrapper (mux, Logger field, request counting) adapted to route on
// method+path with the handlers this daemon's spec names.
package intake

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"vyasoai.dev/daemon/pkg/metadata"
)

// allowedClients is the X-Vyaso-Local-Client allowlist. Anything else
// is rejected with 403; a missing header is rejected with 401.
var allowedClients = map[string]bool{
	"browser-extension": true,
	"vscode":             true,
	"desktop-app":        true,
}

const clientHeader = "X-Vyaso-Local-Client"

// Server wraps an http.ServeMux with the daemon's handlers, mirroring
// the teacher's thin Server-over-ServeMux shape.
type Server struct {
	mux *http.ServeMux
	log *zap.SugaredLogger

	store   *metadata.Store
	enqueue func(metadata.Envelope) error
}

// New builds a Server. enqueue is the non-blocking submit to the
// bounded intake channel; it returns an error when the channel cannot
// accept the envelope (full or closed).
func New(store *metadata.Store, enqueue func(metadata.Envelope) error, log *zap.SugaredLogger) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		log:     log,
		store:   store,
		enqueue: enqueue,
	}
	s.mux.HandleFunc("/v1/health", s.handleHealth)
	s.mux.HandleFunc("/v1/events", s.withAuth(s.handleEvents))
	s.mux.HandleFunc("/v1/mem/", s.withAuth(s.handleGetMem))
	s.mux.HandleFunc("/v1/purge", s.withAuth(s.handlePurge))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// withAuth enforces the client-header allowlist ahead of fn. Every
// route except /v1/health requires it.
func (s *Server) withAuth(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(clientHeader)
		if header == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing client header"})
			return
		}
		if !allowedClients[header] {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "client not allowed"})
			return
		}
		fn(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
