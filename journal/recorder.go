package journal

// recordKey separates node and property items that share a path
type recordKey struct {
	path     string
	property bool
}

type recordEntry struct {
	record  Record
	dropped bool
}

// Recorder accumulates filtered events into one ChangeLog.
//
// With squashing enabled, events on a path already recorded in the batch are
// folded into the earlier record so that replaying the batch produces the same
// end state as replaying every event. Records never move backwards in revision
// order: a merged record is re-appended at the tail with the newer revision.
type Recorder struct {
	startRevision int64
	startSet      bool
	endRevision   int64

	entries []recordEntry
	latest  map[recordKey]int // index of the latest live entry per item, at or above floor
	floor   int               // entries below floor are never squashed (set by moves)
	live    int
}

// NewRecorder creates a recorder whose start revision is taken from the first
// observed event
func NewRecorder() *Recorder {
	return &Recorder{latest: make(map[recordKey]int)}
}

// newRecorderFrom creates a recorder with a fixed start revision
func newRecorderFrom(start int64) *Recorder {
	r := NewRecorder()
	r.startRevision = start
	r.startSet = true
	r.endRevision = start - 1
	return r
}

// Observe advances the batch high-water mark to revision
func (r *Recorder) Observe(revision int64) {
	if !r.startSet {
		r.startRevision = revision
		r.startSet = true
	}
	r.endRevision = revision
}

// RecordChange folds ev into the batch and returns true iff it appended a new
// record. The end revision advances whether or not a record is produced.
func (r *Recorder) RecordChange(ev Event, squash bool) bool {
	r.Observe(ev.Revision)

	if !squash {
		r.append(ev.Path, ev.Type, ev.Revision)
		return true
	}

	switch {
	case ev.Type.IsProperty():
		return r.squashProperty(ev)
	case ev.Type == NodeRemoved:
		return r.squashNodeRemoval(ev)
	case ev.Type == NodeMoved:
		r.append(ev.Path, ev.Type, ev.Revision)
		r.floor = len(r.entries)
		r.latest = make(map[recordKey]int)
		return true
	default:
		r.append(ev.Path, ev.Type, ev.Revision)
		return true
	}
}

// Len returns the number of live records
func (r *Recorder) Len() int {
	return r.live
}

// StartRevision returns the first revision covered by the batch
func (r *Recorder) StartRevision() int64 {
	return r.startRevision
}

// EndRevision returns the last revision observed by the batch
func (r *Recorder) EndRevision() int64 {
	return r.endRevision
}

// ChangeLog materializes the batch
func (r *Recorder) ChangeLog() ChangeLog {
	records := make([]Record, 0, r.live)
	for _, e := range r.entries {
		if !e.dropped {
			records = append(records, e.record)
		}
	}
	return ChangeLog{
		StartRevision: r.startRevision,
		EndRevision:   r.endRevision,
		Records:       records,
	}
}

func (r *Recorder) append(path string, typ EventType, revision int64) {
	r.entries = append(r.entries, recordEntry{record: Record{Path: path, Type: typ, Revision: revision}})
	r.latest[recordKey{path: path, property: typ.IsProperty()}] = len(r.entries) - 1
	r.live++
}

func (r *Recorder) drop(i int) {
	e := &r.entries[i]
	if e.dropped {
		return
	}
	e.dropped = true
	r.live--

	key := recordKey{path: e.record.Path, property: e.record.Type.IsProperty()}
	if idx, ok := r.latest[key]; ok && idx == i {
		delete(r.latest, key)
	}
}

func (r *Recorder) squashProperty(ev Event) bool {
	idx, ok := r.latest[recordKey{path: ev.Path, property: true}]
	if !ok {
		r.append(ev.Path, ev.Type, ev.Revision)
		return true
	}

	merged, keep := mergeProperty(r.entries[idx].record.Type, ev.Type)
	r.drop(idx)
	if keep {
		r.append(ev.Path, merged, ev.Revision)
	}
	return false
}

func (r *Recorder) squashNodeRemoval(ev Event) bool {
	// The removal wipes out everything recorded below the node
	for i := r.floor; i < len(r.entries); i++ {
		if !r.entries[i].dropped && isDescendant(r.entries[i].record.Path, ev.Path) {
			r.drop(i)
		}
	}

	if idx, ok := r.latest[recordKey{path: ev.Path}]; ok && r.entries[idx].record.Type == NodeAdded {
		// Added and removed within the same batch: nothing to replay
		r.drop(idx)
		return false
	}

	r.append(ev.Path, ev.Type, ev.Revision)
	return true
}

// mergeProperty combines two consecutive property changes on the same path.
// keep is false when the pair cancels out.
func mergeProperty(prev, next EventType) (merged EventType, keep bool) {
	switch prev {
	case PropertyAdded:
		if next == PropertyRemoved {
			return 0, false
		}
		return PropertyAdded, true
	case PropertyRemoved:
		if next == PropertyRemoved {
			return PropertyRemoved, true
		}
		return PropertyChanged, true
	default:
		if next == PropertyRemoved {
			return PropertyRemoved, true
		}
		return PropertyChanged, true
	}
}
