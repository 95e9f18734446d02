package journal

import (
	"fmt"
	"sync"
)

// EventType identifies the kind of change carried by a journal event.
type EventType uint8

// Event types. Values are bit flags so callers can build masks.
const (
	NodeAdded       EventType = 1
	NodeRemoved     EventType = 2
	PropertyAdded   EventType = 4
	PropertyRemoved EventType = 8
	PropertyChanged EventType = 16
	NodeMoved       EventType = 32
	// Persist marks the end of one atomic commit
	Persist EventType = 64
)

var eventTypeNames = map[EventType]string{
	NodeAdded:       "node_added",
	NodeRemoved:     "node_removed",
	PropertyAdded:   "property_added",
	PropertyRemoved: "property_removed",
	PropertyChanged: "property_changed",
	NodeMoved:       "node_moved",
	Persist:         "persist",
}

// String returns the stable wire name of the event type
func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// ParseEventType is the inverse of EventType.String
func ParseEventType(name string) (EventType, error) {
	for t, n := range eventTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", name)
}

// IsProperty reports whether the event concerns a property rather than a node
func (t EventType) IsProperty() bool {
	return t == PropertyAdded || t == PropertyRemoved || t == PropertyChanged
}

// IsBoundary reports whether the event is a transaction-boundary marker
func (t EventType) IsBoundary() bool {
	return t == Persist
}

// MarshalText encodes the type by name so JSON payloads stay readable
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a type encoded by MarshalText
func (t *EventType) UnmarshalText(text []byte) error {
	parsed, err := ParseEventType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Event is a single entry read from the commit journal
type Event struct {
	Revision  int64     // Journal revision, strictly increasing
	Type      EventType // Kind of change
	Path      string    // Absolute content path; empty when the journal carries none
	NodeID    uint64    // Cluster node that committed the change
	Timestamp int64     // Commit time (unix ms)
}

// Record is one filtered, possibly squashed change inside a ChangeLog
type Record struct {
	Path     string    `json:"path" msgpack:"path"`
	Type     EventType `json:"type" msgpack:"type"`
	Revision int64     `json:"revision" msgpack:"rev"`
}

// ChangeLog is a contiguous batch of records bounded by transaction markers
type ChangeLog struct {
	StartRevision int64    `json:"start_revision" msgpack:"start"`
	EndRevision   int64    `json:"end_revision" msgpack:"end"`
	Records       []Record `json:"records" msgpack:"records"`
}

// Connection is a live session on the content store.
// Implementations must be safe to Lock from multiple goroutines.
type Connection interface {
	sync.Locker
	// Refresh makes changes committed by other cluster nodes visible
	Refresh() error
	// OpenJournal opens the commit journal as seen by this connection
	OpenJournal() (CommitJournalAccessor, error)
}

// CommitJournalAccessor iterates the commit journal in revision order
type CommitJournalAccessor interface {
	// SkipToRevision positions the journal right after the given revision
	SkipToRevision(revision int64) error
	HasNext() bool
	NextEvent() (Event, error)
	Close() error
}
