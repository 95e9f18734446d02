package notify

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// defaultSignalBufferSize is the buffer size for append signal channels.
// Subscribers that can't keep up will have signals dropped (non-blocking send).
const defaultSignalBufferSize = 16

// Signal announces a committed journal transaction
type Signal struct {
	Revision int64    // revision of the transaction's Persist marker
	Paths    []string // paths touched by the transaction
}

// Filter selects the signals a subscriber receives.
// Empty Scopes receive every signal.
type Filter struct {
	Scopes []string
}

type subscription struct {
	id     uint64
	filter Filter
	ch     chan Signal
	mu     sync.RWMutex
	closed bool
}

func (s *subscription) matches(paths []string) bool {
	if len(s.filter.Scopes) == 0 || len(paths) == 0 {
		return true
	}

	for _, scope := range s.filter.Scopes {
		for _, p := range paths {
			if inScope(scope, p) {
				return true
			}
		}
	}
	return false
}

// send delivers without blocking and never races with close
func (s *subscription) send(signal Signal) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.ch <- signal:
	default:
		// Buffer full, the subscriber will catch up on its next read
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func inScope(scope, path string) bool {
	scope = strings.TrimSuffix(scope, "/")
	if scope == "" {
		return true
	}
	return path == scope || strings.HasPrefix(path, scope+"/")
}

// Hub fans out journal append signals to subscribers. Safe for concurrent use.
type Hub struct {
	subscriptions *xsync.MapOf[uint64, *subscription]
	nextID        atomic.Uint64
}

// NewHub creates a new notification hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: xsync.NewMapOf[uint64, *subscription](),
	}
}

// Signal notifies every matching subscriber without blocking.
func (h *Hub) Signal(revision int64, paths []string) {
	signal := Signal{
		Revision: revision,
		Paths:    paths,
	}

	h.subscriptions.Range(func(_ uint64, sub *subscription) bool {
		if sub.matches(paths) {
			sub.send(signal)
		}
		return true
	})
}

// Subscribe registers a subscriber and returns its buffered channel and an
// idempotent cancel function.
func (h *Hub) Subscribe(filter Filter) (<-chan Signal, func()) {
	sub := &subscription{
		id:     h.nextID.Add(1),
		filter: filter,
		ch:     make(chan Signal, defaultSignalBufferSize),
	}
	h.subscriptions.Store(sub.id, sub)

	cancel := func() {
		h.unsubscribe(sub.id)
	}
	return sub.ch, cancel
}

// Len returns the number of active subscriptions
func (h *Hub) Len() int {
	return h.subscriptions.Size()
}

func (h *Hub) unsubscribe(id uint64) {
	if sub, ok := h.subscriptions.LoadAndDelete(id); ok {
		sub.close()
	}
}
