package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/changejournal/syncrev"
	"github.com/rs/zerolog/log"
)

type cursorRequest struct {
	Revision *int64 `json:"revision"`
}

func cursorView(rev *syncrev.SyncRevision) map[string]interface{} {
	view := map[string]interface{}{
		"id":           rev.ID(),
		"qualified_id": rev.QualifiedID(),
		"exists":       rev.Exists(),
	}
	if rev.Exists() {
		view["revision"] = rev.GetOr(0)
	}
	return view
}

// resolveCursor writes an error response and returns nil when id cannot be served
func (h *AdminHandlers) resolveCursor(w http.ResponseWriter, id string) *syncrev.SyncRevision {
	rev, err := h.cursors.GetSyncRevision(id)
	switch {
	case errors.Is(err, syncrev.ErrInvalidID):
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return nil
	case err != nil:
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return nil
	case rev == nil:
		writeErrorResponse(w, http.StatusNotFound, "no sync revision store configured")
		return nil
	}
	return rev
}

// handleListCursors returns every cursor loaded so far, plus sink cursors
func (h *AdminHandlers) handleListCursors(w http.ResponseWriter, r *http.Request) {
	if h.sinks != nil {
		for _, name := range h.sinks.Workers() {
			if _, err := h.cursors.GetSyncRevision(name); err != nil {
				writeErrorResponse(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
	}

	keys := h.cursors.Keys()
	response := make([]map[string]interface{}, 0, len(keys))
	for _, id := range keys {
		rev, err := h.cursors.GetSyncRevision(id)
		if err != nil || rev == nil {
			continue
		}
		response = append(response, cursorView(rev))
	}

	writeJSONResponse(w, http.StatusOK, response)
}

// handleGetCursor returns one sync revision
func (h *AdminHandlers) handleGetCursor(w http.ResponseWriter, r *http.Request) {
	rev := h.resolveCursor(w, chi.URLParam(r, "id"))
	if rev == nil {
		return
	}
	writeJSONResponse(w, http.StatusOK, cursorView(rev))
}

// handleSetCursor persists a new revision for a sync revision
func (h *AdminHandlers) handleSetCursor(w http.ResponseWriter, r *http.Request) {
	var req cursorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Revision == nil {
		writeErrorResponse(w, http.StatusBadRequest, "revision is required")
		return
	}
	if *req.Revision < 0 {
		writeErrorResponse(w, http.StatusBadRequest, "revision must be >= 0")
		return
	}

	if floor := h.journal.Tail() - 1; *req.Revision < floor {
		writeErrorResponse(w, http.StatusConflict,
			fmt.Sprintf("revision %d is no longer retained, oldest accepted is %d", *req.Revision, floor))
		return
	}

	rev := h.resolveCursor(w, chi.URLParam(r, "id"))
	if rev == nil {
		return
	}

	if err := rev.Set(*req.Revision); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().
		Str("cursor", rev.ID()).
		Int64("revision", *req.Revision).
		Msg("Sync revision set through admin API")

	writeJSONResponse(w, http.StatusOK, cursorView(rev))
}
