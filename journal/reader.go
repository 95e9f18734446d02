package journal

import (
	"time"

	"github.com/maxpert/changejournal/telemetry"
	"github.com/rs/zerolog/log"
)

// Request describes one read of the commit journal
type Request struct {
	FromRevision        int64    // Last revision already consumed; reading starts after it
	SoftLimit           int      // Target cap on records, honored at transaction boundaries only
	Scopes              []string // Absolute path prefixes to record
	IgnorePropertyNames []string // Property names (glob patterns) that never produce records
	Squash              bool     // Fold repeated changes on the same path
}

func (req Request) validate() error {
	if req.FromRevision < 0 {
		return invalidRequest("from revision must be >= 0, got %d", req.FromRevision)
	}
	if req.SoftLimit < 0 {
		return invalidRequest("soft limit must be >= 0, got %d", req.SoftLimit)
	}
	return nil
}

// Result is the outcome of a successful read
type Result struct {
	ChangeLogs []ChangeLog
	// Boundary is the revision of the last transaction marker consumed, or the
	// request's FromRevision if none was seen. Every transaction up to it is
	// either part of ChangeLogs or produced no records, so a cursor may be
	// advanced to it once ChangeLogs are applied.
	Boundary int64
	Events   int // Journal events observed
	Records  int // Records appended (before squash cancellations)
}

// Reader reads ChangeLog batches from a Connection's commit journal
type Reader struct{}

// NewReader creates a new change journal reader
func NewReader() *Reader {
	return &Reader{}
}

// GetChangeLogs reads the journal after fromRevision and returns the ChangeLogs
// found. An empty slice with a nil error means there was no qualifying change.
// Repository failures are returned as *RepositoryError and never come with a
// partial result, so callers must not advance their cursor on error.
func (r *Reader) GetChangeLogs(conn Connection, fromRevision int64, softLimit int, scopes, ignorePropertyNames []string, squash bool) ([]ChangeLog, error) {
	res, err := r.Scan(conn, Request{
		FromRevision:        fromRevision,
		SoftLimit:           softLimit,
		Scopes:              scopes,
		IgnorePropertyNames: ignorePropertyNames,
		Squash:              squash,
	})
	if err != nil {
		return nil, err
	}
	return res.ChangeLogs, nil
}

// Scan is GetChangeLogs with the full read result
func (r *Reader) Scan(conn Connection, req Request) (Result, error) {
	if conn == nil {
		return Result{}, invalidRequest("connection is required")
	}
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	filter, err := NewPathFilter(req.Scopes, req.IgnorePropertyNames)
	if err != nil {
		return Result{}, err
	}

	started := time.Now()

	// Single reader per connection for the whole traversal
	conn.Lock()
	res, err := r.scan(conn, req, filter)
	conn.Unlock()

	telemetry.JournalReadSeconds.Observe(time.Since(started).Seconds())

	if err != nil {
		telemetry.JournalReadFailuresTotal.Inc()
		log.Error().
			Err(err).
			Int64("from_revision", req.FromRevision).
			Msg("Failed to read change journal")
		return Result{}, err
	}

	telemetry.JournalEventsTotal.Add(float64(res.Events))
	telemetry.ChangeLogsTotal.Add(float64(len(res.ChangeLogs)))
	telemetry.ChangeRecordsTotal.Add(float64(res.Records))

	log.Debug().
		Int64("from_revision", req.FromRevision).
		Int64("boundary", res.Boundary).
		Int("events", res.Events).
		Int("records", res.Records).
		Int("change_logs", len(res.ChangeLogs)).
		Msg("Read change journal")

	return res, nil
}

func (r *Reader) scan(conn Connection, req Request, filter *PathFilter) (Result, error) {
	if err := conn.Refresh(); err != nil {
		return Result{}, &RepositoryError{Op: "refresh", Revision: req.FromRevision, Err: err}
	}

	journal, err := conn.OpenJournal()
	if err != nil {
		return Result{}, &RepositoryError{Op: "open", Revision: req.FromRevision, Err: err}
	}
	defer func() {
		if err := journal.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close commit journal")
		}
	}()

	if err := journal.SkipToRevision(req.FromRevision); err != nil {
		return Result{}, &RepositoryError{Op: "skip", Revision: req.FromRevision, Err: err}
	}

	res := Result{
		ChangeLogs: make([]ChangeLog, 0),
		Boundary:   req.FromRevision,
	}
	lastEventRevision := req.FromRevision
	recorder := NewRecorder()

	for journal.HasNext() {
		ev, err := journal.NextEvent()
		if err != nil {
			return Result{}, &RepositoryError{Op: "read", Revision: lastEventRevision, Err: err}
		}

		lastEventRevision = ev.Revision
		res.Events++
		recorder.Observe(ev.Revision)

		if ev.Type.IsBoundary() {
			res.Boundary = ev.Revision
			if recorder.Len() > 0 {
				res.ChangeLogs = append(res.ChangeLogs, recorder.ChangeLog())
				recorder = newRecorderFrom(lastEventRevision + 1)
			}
			if res.Records < req.SoftLimit {
				continue
			}
			break
		}

		if ev.Path == "" {
			telemetry.JournalAnomaliesTotal.Inc()
			log.Warn().
				Int64("revision", ev.Revision).
				Str("type", ev.Type.String()).
				Msg("Skipping journal event without path")
			continue
		}

		if filter.Ignored(ev) || !filter.InScope(ev.Path) {
			continue
		}

		if recorder.RecordChange(ev, req.Squash) {
			res.Records++
		}
	}

	return res, nil
}
