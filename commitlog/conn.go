package commitlog

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/changejournal/encoding"
	"github.com/maxpert/changejournal/journal"
)

// Conn is a session on the commit journal. Its view of the journal is
// frozen at the last Refresh; journals opened from it never see revisions
// committed afterwards.
type Conn struct {
	sync.Mutex
	log     *Log
	visible atomic.Int64
}

// Ensure Conn implements journal.Connection
var _ journal.Connection = (*Conn)(nil)

// Connect opens a session whose view starts empty until the first Refresh
func (l *Log) Connect() *Conn {
	return &Conn{log: l}
}

// Refresh advances the session's view to the current head
func (c *Conn) Refresh() error {
	if c.log.closed.Load() {
		return ErrClosed
	}
	c.visible.Store(c.log.Head())
	return nil
}

// Visible returns the newest revision this session can read
func (c *Conn) Visible() int64 {
	return c.visible.Load()
}

// OpenJournal opens a forward-only accessor bounded by the session's view
func (c *Conn) OpenJournal() (journal.CommitJournalAccessor, error) {
	if c.log.closed.Load() {
		return nil, ErrClosed
	}

	visible := c.visible.Load()
	iter, err := c.log.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixJournal),
		UpperBound: revisionKey(visible + 1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal iterator: %w", err)
	}

	return &accessor{
		iter:    iter,
		tail:    c.log.Tail(),
		visible: visible,
	}, nil
}

// accessor walks journal entries in revision order
type accessor struct {
	iter       *pebble.Iterator
	tail       int64
	visible    int64
	positioned bool
	closed     bool
}

// SkipToRevision positions the accessor after revision
func (a *accessor) SkipToRevision(revision int64) error {
	if a.closed {
		return fmt.Errorf("journal accessor is closed")
	}
	if revision < 0 {
		return fmt.Errorf("invalid revision %d", revision)
	}
	if revision+1 < a.tail {
		return fmt.Errorf("%w: requested %d, oldest retained %d", ErrRevisionTruncated, revision+1, a.tail)
	}

	a.iter.SeekGE(revisionKey(revision + 1))
	a.positioned = true
	return a.iter.Error()
}

// HasNext reports whether NextEvent has something to return. An iterator
// failure also reports true so NextEvent can surface it.
func (a *accessor) HasNext() bool {
	if a.closed {
		return false
	}
	if !a.positioned {
		a.iter.First()
		a.positioned = true
	}
	return a.iter.Valid() || a.iter.Error() != nil
}

// NextEvent decodes the current entry and advances
func (a *accessor) NextEvent() (journal.Event, error) {
	if !a.HasNext() {
		return journal.Event{}, fmt.Errorf("journal exhausted at revision %d", a.visible)
	}
	if err := a.iter.Error(); err != nil {
		return journal.Event{}, fmt.Errorf("failed to iterate journal: %w", err)
	}

	val, err := a.iter.ValueAndErr()
	if err != nil {
		return journal.Event{}, fmt.Errorf("failed to read journal entry %s: %w", a.iter.Key(), err)
	}

	var e entry
	if err := encoding.Unmarshal(val, &e); err != nil {
		return journal.Event{}, fmt.Errorf("failed to decode journal entry %s: %w", a.iter.Key(), err)
	}

	a.iter.Next()
	return e.event(), nil
}

// Close releases the underlying iterator
func (a *accessor) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	return a.iter.Close()
}
