package syncrev

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry hands out one SyncRevision per id, constructing each at most once.
// Registries are independent; nothing is shared between instances.
type Registry struct {
	store     Store
	mu        sync.Mutex
	revisions map[string]*SyncRevision
}

// NewRegistry creates a registry backed by store. A nil store means no
// server-side journal is available and every lookup yields (nil, nil).
func NewRegistry(store Store) *Registry {
	return &Registry{
		store:     store,
		revisions: make(map[string]*SyncRevision),
	}
}

// GetSyncRevision returns the cursor for id, loading it from the store on
// first access. Load failures are not cached so a later call retries.
func (r *Registry) GetSyncRevision(id string) (*SyncRevision, error) {
	if r == nil || r.store == nil {
		return nil, nil
	}

	trimmed, qualified, err := QualifyID(id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rev, ok := r.revisions[trimmed]; ok {
		return rev, nil
	}

	rev, err := newSyncRevision(trimmed, qualified, r.store)
	if err != nil {
		return nil, err
	}
	r.revisions[trimmed] = rev

	log.Debug().
		Str("cursor", trimmed).
		Bool("exists", rev.exists).
		Int64("revision", rev.revision).
		Msg("Loaded sync revision")

	return rev, nil
}

// Preload constructs a cursor for every revision the store holds, so cursors
// of consumers that have not run yet are part of CursorRevisions. Stores that
// cannot enumerate their rows are left alone. Returns the number of cursors added.
func (r *Registry) Preload() (int, error) {
	if r == nil || r.store == nil {
		return 0, nil
	}
	lister, ok := r.store.(Lister)
	if !ok {
		return 0, nil
	}

	stored, err := lister.List()
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for qualified, revision := range stored {
		trimmed, q, err := QualifyID(strings.TrimPrefix(qualified, QualifiedPrefix))
		if err != nil || q != qualified {
			log.Warn().Str("qualified_id", qualified).Msg("Skipping malformed sync revision row")
			continue
		}
		if _, ok := r.revisions[trimmed]; ok {
			continue
		}
		r.revisions[trimmed] = &SyncRevision{
			id:          trimmed,
			qualifiedID: qualified,
			store:       r.store,
			revision:    revision,
			exists:      true,
		}
		added++
	}
	return added, nil
}

// Keys lists ids of cursors constructed so far, sorted
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.revisions))
	for k := range r.revisions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CursorRevisions snapshots every Set cursor's revision by id
func (r *Registry) CursorRevisions() map[string]int64 {
	r.mu.Lock()
	revs := make([]*SyncRevision, 0, len(r.revisions))
	for _, rev := range r.revisions {
		revs = append(revs, rev)
	}
	r.mu.Unlock()

	out := make(map[string]int64, len(revs))
	for _, rev := range revs {
		rev.mu.Lock()
		if rev.exists {
			out[rev.id] = rev.revision
		}
		rev.mu.Unlock()
	}
	return out
}
