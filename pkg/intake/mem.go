package intake

import (
	"errors"
	"net/http"
	"strings"

	"vyasoai.dev/daemon/pkg/metadata"
)

// handleGetMem implements GET /v1/mem/:id.
func (s *Server) handleGetMem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/mem/")
	if !metadata.IsUUIDv4(id) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id must be a valid uuid v4"})
		return
	}

	env, err := s.store.GetEvent(r.Context(), id)
	if errors.Is(err, metadata.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	if err != nil {
		s.log.Errorw("get event failed", "event_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	var blob any
	idx, err := s.store.GetBlobIndex(r.Context(), env.ContentHash)
	if err != nil {
		s.log.Errorw("get blob index failed", "content_hash", env.ContentHash, "error", err)
	} else if idx != nil {
		blob = map[string]any{"path": idx.BlobPath, "ref_count": idx.RefCount}
	}

	writeJSON(w, http.StatusOK, map[string]any{"event": env, "blob": blob})
}
