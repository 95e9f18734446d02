package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/maxpert/changejournal/commitlog"
	"github.com/maxpert/changejournal/journal"
)

type changeRequest struct {
	Type   journal.EventType `json:"type"`
	Path   string            `json:"path"`
	NodeID uint64            `json:"node_id"`
}

type transactionRequest struct {
	Changes []changeRequest `json:"changes"`
}

// handleHead returns the retained revision range
func (h *AdminHandlers) handleHead(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"head": h.journal.Head(),
		"tail": h.journal.Tail(),
	})
}

// handleAppend commits one transaction to the journal
func (h *AdminHandlers) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	changes := make([]commitlog.Change, 0, len(req.Changes))
	for _, c := range req.Changes {
		changes = append(changes, commitlog.Change{Type: c.Type, Path: c.Path, NodeID: c.NodeID})
	}

	revision, err := h.journal.Append(changes)
	switch {
	case errors.Is(err, commitlog.ErrClosed):
		writeErrorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSONResponse(w, http.StatusCreated, map[string]interface{}{
		"revision": revision,
	})
}

// handleChanges previews the ChangeLogs a job would read after from
func (h *AdminHandlers) handleChanges(w http.ResponseWriter, r *http.Request) {
	from, err := parseFrom(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	def := h.defaults.SoftLimit
	if def <= 0 {
		def = defaultChangesLimit
	}
	limit, err := parseLimit(r, def)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	squash, err := parseBool(r, "squash", h.defaults.Squash)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	scopes := h.defaults.Scopes
	if s := r.URL.Query()["scope"]; len(s) > 0 {
		scopes = s
	}

	res, err := h.reader.Scan(h.connect(), journal.Request{
		FromRevision:        from,
		SoftLimit:           limit,
		Scopes:              scopes,
		IgnorePropertyNames: h.defaults.IgnoreProperties,
		Squash:              squash,
	})
	switch {
	case errors.Is(err, journal.ErrInvalidRequest):
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeErrorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"changelogs": res.ChangeLogs,
		"boundary":   res.Boundary,
		"events":     res.Events,
		"records":    res.Records,
	})
}
