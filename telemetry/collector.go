package telemetry

import (
	"sync"
	"time"
)

// HeadProvider reports the newest committed journal revision
type HeadProvider interface {
	Head() int64
}

// CursorSource reports the persisted revision of every known sync revision
type CursorSource interface {
	CursorRevisions() map[string]int64
}

// MetricsCollector periodically samples the journal head and cursor lag
type MetricsCollector struct {
	head     HeadProvider
	cursors  CursorSource
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector. cursors may be nil.
func NewMetricsCollector(head HeadProvider, cursors CursorSource, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		head:     head,
		cursors:  cursors,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.head == nil {
		return
	}

	head := mc.head.Head()
	JournalHeadRevision.Set(float64(head))

	if mc.cursors == nil {
		return
	}
	for id, revision := range mc.cursors.CursorRevisions() {
		lag := head - revision
		if lag < 0 {
			lag = 0
		}
		CursorLag.With(id).Set(float64(lag))
	}
}
