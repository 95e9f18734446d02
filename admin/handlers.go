package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/maxpert/changejournal/cfg"
	"github.com/maxpert/changejournal/commitlog"
	"github.com/maxpert/changejournal/journal"
	"github.com/maxpert/changejournal/syncrev"
	"github.com/rs/zerolog/log"
)

const (
	defaultChangesLimit = 256
	maxChangesLimit     = 10000
)

// Journal is the commit journal as seen by the admin API
type Journal interface {
	Head() int64
	Tail() int64
	Append(changes []commitlog.Change) (int64, error)
}

// SinkLister lists configured sync jobs
type SinkLister interface {
	Workers() []string
}

// AdminHandlers serves cursor and journal inspection endpoints
type AdminHandlers struct {
	journal  Journal
	connect  func() journal.Connection
	reader   *journal.Reader
	cursors  *syncrev.Registry
	sinks    SinkLister
	defaults cfg.ReaderConfiguration
}

// NewAdminHandlers creates a new AdminHandlers instance. sinks may be nil.
func NewAdminHandlers(j Journal, connect func() journal.Connection, cursors *syncrev.Registry, sinks SinkLister, defaults cfg.ReaderConfiguration) *AdminHandlers {
	return &AdminHandlers{
		journal:  j,
		connect:  connect,
		reader:   journal.NewReader(),
		cursors:  cursors,
		sinks:    sinks,
		defaults: defaults,
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"data": data,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit parses the limit parameter with a default
func parseLimit(r *http.Request, def int) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return def, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}
	if limit < 0 {
		return 0, fmt.Errorf("limit must be >= 0")
	}
	if limit > maxChangesLimit {
		return 0, fmt.Errorf("limit cannot exceed %d", maxChangesLimit)
	}
	return limit, nil
}

// parseFrom parses the exclusive start revision
func parseFrom(r *http.Request) (int64, error) {
	fromStr := r.URL.Query().Get("from")
	if fromStr == "" {
		return 0, nil
	}

	from, err := strconv.ParseInt(fromStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid from parameter: %w", err)
	}
	if from < 0 {
		return 0, fmt.Errorf("from must be >= 0")
	}
	return from, nil
}

// parseBool parses an optional boolean query parameter
func parseBool(r *http.Request, name string, def bool) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s parameter: %w", name, err)
	}
	return b, nil
}
