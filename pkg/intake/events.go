package intake

import (
	"encoding/json"
	"net/http"

	"vyasoai.dev/daemon/pkg/metadata"
)

// handleEvents implements POST /v1/events: validate the envelope, then
// attempt a non-blocking enqueue. Ingest itself runs asynchronously —
// this handler never touches the blob store or metadata store.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var env metadata.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed json body"})
		return
	}
	if err := env.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := s.enqueue(env); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"queued": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
}
