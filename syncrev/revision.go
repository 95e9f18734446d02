package syncrev

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/maxpert/changejournal/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// QualifiedPrefix namespaces sync revision ids in the store
	QualifiedPrefix = "sync-revision:"

	// MaxQualifiedIDLength is the width of the store's id column
	MaxQualifiedIDLength = 255
)

// QualifyID trims id and returns it together with its store key
func QualifyID(id string) (string, string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", "", fmt.Errorf("%w: id is empty", ErrInvalidID)
	}

	qualified := QualifiedPrefix + trimmed
	if len(qualified) > MaxQualifiedIDLength {
		return "", "", fmt.Errorf("%w: %q exceeds %d bytes once qualified", ErrInvalidID, trimmed, MaxQualifiedIDLength)
	}
	return trimmed, qualified, nil
}

// SyncRevision is a named, durable cursor into the change journal.
// A cursor starts Unset when the store has no row for it and becomes Set on
// the first successful Set call. It never returns to Unset.
type SyncRevision struct {
	id          string
	qualifiedID string
	store       Store

	mu       sync.Mutex
	revision int64
	exists   bool
}

// newSyncRevision loads the persisted value with exactly one Store.Get
func newSyncRevision(id, qualifiedID string, store Store) (*SyncRevision, error) {
	s := &SyncRevision{
		id:          id,
		qualifiedID: qualifiedID,
		store:       store,
	}

	revision, err := store.Get(qualifiedID)
	switch {
	case err == nil:
		s.revision = revision
		s.exists = true
	case errors.Is(err, ErrNotFound):
	default:
		return nil, err
	}
	return s, nil
}

// ID returns the trimmed cursor id
func (s *SyncRevision) ID() string {
	return s.id
}

// QualifiedID returns the key used in the store
func (s *SyncRevision) QualifiedID() string {
	return s.qualifiedID
}

// Exists reports whether the cursor holds a value
func (s *SyncRevision) Exists() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists
}

// Get returns the stored revision. Calling Get on an Unset cursor is a
// programming error and panics; use Exists or GetOr first.
func (s *SyncRevision) Get() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists {
		panic(fmt.Sprintf("sync revision %s has no value", s.id))
	}
	return s.revision
}

// GetOr returns the stored revision, or def if the cursor is Unset
func (s *SyncRevision) GetOr(def int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists {
		return def
	}
	return s.revision
}

// Set persists revision, inserting the row on first use.
// On failure the cached value is left untouched.
func (s *SyncRevision) Set(revision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op := "update"
	var err error
	if s.exists {
		err = s.store.Update(s.qualifiedID, revision)
	} else {
		op = "initialize"
		err = s.store.Initialize(s.qualifiedID, revision)
	}

	if err != nil {
		telemetry.CursorWritesTotal.With(op, "failure").Inc()
		log.Error().
			Err(err).
			Str("cursor", s.id).
			Int64("revision", revision).
			Msg("Failed to persist sync revision")
		return err
	}

	telemetry.CursorWritesTotal.With(op, "success").Inc()
	s.revision = revision
	s.exists = true
	return nil
}
