package intake

import (
	"encoding/json"
	"net/http"
	"time"

	"vyasoai.dev/daemon/pkg/metadata"
)

// purgeRequest mirrors metadata.PurgeCriteria's field set with JSON
// tags matching the documented wire shape.
type purgeRequest struct {
	EventIDs    []string            `json:"event_ids,omitempty"`
	Start       string              `json:"start,omitempty"`
	End         string              `json:"end,omitempty"`
	App         string              `json:"app,omitempty"`
	Source      string              `json:"source,omitempty"`
	PrivacyFlag metadata.PrivacyFlag `json:"privacy_flag,omitempty"`
}

// handlePurge implements POST /v1/purge.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed json body"})
		return
	}

	for _, id := range req.EventIDs {
		if !metadata.IsUUIDv4(id) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "event_ids must each be a valid uuid v4"})
			return
		}
	}
	if req.Start != "" {
		if _, err := time.Parse(time.RFC3339, req.Start); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "start must be RFC3339"})
			return
		}
	}
	if req.End != "" {
		if _, err := time.Parse(time.RFC3339, req.End); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "end must be RFC3339"})
			return
		}
	}

	criteria := metadata.PurgeCriteria{
		EventIDs:    req.EventIDs,
		Start:       req.Start,
		End:         req.End,
		App:         req.App,
		Source:      req.Source,
		PrivacyFlag: req.PrivacyFlag,
	}

	deletedEvents, deletedBlobs, err := s.store.PurgeEvents(r.Context(), criteria)
	if err != nil {
		s.log.Errorw("purge failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "purge failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{
		"deleted_events": deletedEvents,
		"deleted_blobs":  deletedBlobs,
	})
}
