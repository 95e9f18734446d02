package commitlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/changejournal/encoding"
	"github.com/maxpert/changejournal/journal"
	"github.com/maxpert/changejournal/notify"
	"github.com/maxpert/changejournal/telemetry"
	"github.com/rs/zerolog/log"
)

// Key layout in Pebble
const (
	prefixJournal = "/journal/"     // /journal/{16-digit-hex-revision}
	keyHead       = "/journal-head" // uint64, newest committed revision
	keyTail       = "/journal-tail" // uint64, oldest retained revision
)

// Pebble configuration constants
const (
	memTableSize                = 64 << 20 // 64MB
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
	lBaseMaxBytes               = 256 << 20 // 256MB
	maxConcurrentCompactions    = 3
)

var (
	// ErrClosed is returned by every operation after Close
	ErrClosed = errors.New("commit journal is closed")

	// ErrRevisionTruncated means the requested start lies below the retained range
	ErrRevisionTruncated = journal.ErrRevisionTruncated
)

// Change is one content change submitted to Append
type Change struct {
	Type   journal.EventType
	Path   string
	NodeID uint64
}

// entry is the stored form of one journal event
type entry struct {
	Revision  int64  `msgpack:"rev"`
	Type      uint8  `msgpack:"t"`
	Path      string `msgpack:"p"`
	NodeID    uint64 `msgpack:"n"`
	Timestamp int64  `msgpack:"ts"`
}

func (e entry) event() journal.Event {
	return journal.Event{
		Revision:  e.Revision,
		Type:      journal.EventType(e.Type),
		Path:      e.Path,
		NodeID:    e.NodeID,
		Timestamp: e.Timestamp,
	}
}

// Log is a Pebble-backed commit journal. Each Append is one transaction: its
// changes get consecutive revisions followed by a Persist marker.
type Log struct {
	db     *pebble.DB
	path   string
	nodeID uint64
	hub    *notify.Hub

	appendMu sync.Mutex
	head     atomic.Int64
	tail     atomic.Int64

	stopCh    chan struct{}
	compactWg sync.WaitGroup
	closed    atomic.Bool
}

// Open creates or opens the commit journal at {dataDir}/commit_journal.
// hub may be nil when nothing waits for append signals.
func Open(dataDir string, nodeID uint64, hub *notify.Hub) (*Log, error) {
	logPath := filepath.Join(dataDir, "commit_journal")

	opts := &pebble.Options{
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
		LBaseMaxBytes:               lBaseMaxBytes,
		MaxConcurrentCompactions:    func() int { return maxConcurrentCompactions },
		DisableWAL:                  false,
	}

	db, err := pebble.Open(logPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open commit journal at %s: %w", logPath, err)
	}

	l := &Log{
		db:     db,
		path:   logPath,
		nodeID: nodeID,
		hub:    hub,
		stopCh: make(chan struct{}),
	}

	head, err := l.loadCounter(keyHead)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load journal head: %w", err)
	}
	tail, err := l.loadCounter(keyTail)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load journal tail: %w", err)
	}
	if tail == 0 {
		tail = 1
	}
	l.head.Store(head)
	l.tail.Store(tail)
	telemetry.JournalHeadRevision.Set(float64(head))

	log.Info().
		Str("path", logPath).
		Int64("head", head).
		Int64("tail", tail).
		Msg("Opened commit journal")

	return l, nil
}

func (l *Log) loadCounter(key string) (int64, error) {
	val, closer, err := l.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, fmt.Errorf("invalid %s value length: %d", key, len(val))
	}
	return int64(binary.LittleEndian.Uint64(val)), nil
}

// Append commits changes as one transaction and returns the revision of its
// Persist marker. Revisions are assigned from Head()+1 upward.
func (l *Log) Append(changes []Change) (int64, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	if len(changes) == 0 {
		return 0, fmt.Errorf("transaction has no changes")
	}
	for i, c := range changes {
		if c.Type.IsBoundary() {
			return 0, fmt.Errorf("change %d: persist markers are added by the journal", i)
		}
		if _, err := journal.ParseEventType(c.Type.String()); err != nil {
			return 0, fmt.Errorf("change %d: %w", i, err)
		}
		if !strings.HasPrefix(c.Path, "/") {
			return 0, fmt.Errorf("change %d: path %q is not absolute", i, c.Path)
		}
	}

	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	batch := l.db.NewBatch()
	defer batch.Close()

	now := time.Now().UnixMilli()
	revision := l.head.Load()
	paths := make([]string, 0, len(changes))

	write := func(e entry) error {
		val, err := encoding.Marshal(&e)
		if err != nil {
			return fmt.Errorf("failed to marshal journal entry: %w", err)
		}
		if err := batch.Set(revisionKey(e.Revision), val, nil); err != nil {
			return fmt.Errorf("failed to write journal entry: %w", err)
		}
		return nil
	}

	for _, c := range changes {
		revision++
		if err := write(entry{
			Revision:  revision,
			Type:      uint8(c.Type),
			Path:      c.Path,
			NodeID:    c.NodeID,
			Timestamp: now,
		}); err != nil {
			return 0, err
		}
		paths = append(paths, c.Path)
	}

	revision++
	if err := write(entry{
		Revision:  revision,
		Type:      uint8(journal.Persist),
		NodeID:    l.nodeID,
		Timestamp: now,
	}); err != nil {
		return 0, err
	}

	if err := batch.Set([]byte(keyHead), encodeCounter(revision), nil); err != nil {
		return 0, fmt.Errorf("failed to update journal head: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to commit journal batch: %w", err)
	}

	// Only publish the new head after a successful commit
	l.head.Store(revision)
	telemetry.JournalAppendsTotal.Inc()
	telemetry.JournalHeadRevision.Set(float64(revision))

	if l.hub != nil {
		l.hub.Signal(revision, paths)
	}

	return revision, nil
}

// Head returns the newest committed revision, 0 when the journal is empty
func (l *Log) Head() int64 {
	return l.head.Load()
}

// Tail returns the oldest revision still retained
func (l *Log) Tail() int64 {
	return l.tail.Load()
}

// Truncate deletes every entry with a revision below before
func (l *Log) Truncate(before int64) (int, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}

	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	// Never drop past the head; later appends must stay readable
	if limit := l.head.Load() + 1; before > limit {
		before = limit
	}
	tail := l.tail.Load()
	if before <= tail {
		return 0, nil
	}

	batch := l.db.NewBatch()
	defer batch.Close()

	if err := batch.DeleteRange(revisionKey(tail), revisionKey(before), nil); err != nil {
		return 0, fmt.Errorf("failed to delete journal range: %w", err)
	}
	if err := batch.Set([]byte(keyTail), encodeCounter(before), nil); err != nil {
		return 0, fmt.Errorf("failed to update journal tail: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to commit journal truncation: %w", err)
	}

	l.tail.Store(before)
	telemetry.JournalTruncationsTotal.Inc()

	removed := int(before - tail)
	log.Debug().
		Int64("before", before).
		Int("removed", removed).
		Msg("Truncated commit journal")

	return removed, nil
}

// StartCompaction periodically truncates entries every consumer has passed.
// minRevision reports the lowest consumed revision; false skips the pass.
func (l *Log) StartCompaction(interval time.Duration, minRevision func() (int64, bool)) {
	if interval <= 0 || minRevision == nil {
		return
	}

	l.compactWg.Add(1)
	go func() {
		defer l.compactWg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-l.stopCh:
				return
			case <-ticker.C:
				consumed, ok := minRevision()
				if !ok {
					continue
				}
				if _, err := l.Truncate(consumed + 1); err != nil && !errors.Is(err, ErrClosed) {
					log.Warn().Err(err).Int64("consumed", consumed).Msg("Failed to compact commit journal")
				}
			}
		}
	}()
}

// Close stops compaction and closes the Pebble database
func (l *Log) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	close(l.stopCh)
	l.compactWg.Wait()

	// Wait for an in-flight append before closing the store
	l.appendMu.Lock()
	defer l.appendMu.Unlock()
	return l.db.Close()
}

func revisionKey(revision int64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixJournal, uint64(revision)))
}

func encodeCounter(v int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return buf
}
