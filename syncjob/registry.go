package syncjob

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/changejournal/cfg"
	"github.com/maxpert/changejournal/journal"
	"github.com/maxpert/changejournal/notify"
	"github.com/maxpert/changejournal/syncrev"
	"github.com/rs/zerolog/log"
)

// TopicPrefix prefixes the default topic of a sink without one
const TopicPrefix = "changejournal"

// RegistryConfig configures the sync job registry
type RegistryConfig struct {
	Connect     func() journal.Connection // Opens a journal session per worker
	Reader      ChangeReader              // Shared journal reader
	Cursors     *syncrev.Registry         // Sync revisions keyed by sink name
	Hub         *notify.Hub               // Optional append signals
	Tail        func() int64              // Oldest retained journal revision; optional
	Defaults    cfg.ReaderConfiguration   // Read parameters sinks inherit
	SinkConfigs []cfg.SinkConfiguration
}

// Registry manages the lifecycle of all sync workers
type Registry struct {
	config   RegistryConfig
	workers  []*Worker
	cancels  []func()
	encoders []*Encoder
	running  atomic.Bool
	mu       sync.Mutex
}

// NewRegistry creates a worker for every configured sink
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.Connect == nil {
		return nil, fmt.Errorf("journal connector is required")
	}
	if config.Reader == nil {
		return nil, fmt.Errorf("journal reader is required")
	}
	if config.Cursors == nil {
		return nil, fmt.Errorf("sync revision registry is required")
	}

	registry := &Registry{
		config:  config,
		workers: make([]*Worker, 0, len(config.SinkConfigs)),
	}

	for _, sinkCfg := range config.SinkConfigs {
		if err := registry.AddSink(sinkCfg); err != nil {
			registry.close()
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().
		Int("workers", len(registry.workers)).
		Msg("Sync job registry initialized")

	return registry, nil
}

// AddSink creates and adds a new worker for the given sink configuration
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := strings.TrimSpace(config.Name)
	for _, w := range r.workers {
		if w.Name() == name {
			return fmt.Errorf("duplicate sink name %q", name)
		}
	}

	cursor, err := r.config.Cursors.GetSyncRevision(name)
	if err != nil {
		return fmt.Errorf("failed to load sync revision: %w", err)
	}
	if cursor == nil {
		return fmt.Errorf("no sync revision store configured")
	}

	startRevision := config.StartRevision
	if !cursor.Exists() && r.config.Tail != nil {
		if floor := r.config.Tail() - 1; startRevision < floor {
			log.Warn().
				Str("sink", name).
				Int64("start_revision", startRevision).
				Int64("journal_tail", floor+1).
				Msg("Start revision is no longer retained, starting at the journal tail")
			startRevision = floor
		}
	}

	enc, err := NewEncoder(config.Format, config.Compression)
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}

	snk, err := NewSink(config)
	if err != nil {
		enc.Close()
		return fmt.Errorf("failed to create sink: %w", err)
	}

	topic := config.Topic
	if topic == "" {
		topic = TopicPrefix + "." + name
	}

	softLimit := config.SoftLimit
	if softLimit == 0 {
		softLimit = r.config.Defaults.SoftLimit
	}

	var signals <-chan notify.Signal
	var cancel func()
	if r.config.Hub != nil {
		signals, cancel = r.config.Hub.Subscribe(notify.Filter{Scopes: r.config.Defaults.Scopes})
	}

	worker, err := NewWorker(WorkerConfig{
		Name:             name,
		Conn:             r.config.Connect(),
		Reader:           r.config.Reader,
		Cursor:           cursor,
		Sink:             snk,
		Encoder:          enc,
		Topic:            topic,
		Signals:          signals,
		StartRevision:    startRevision,
		SoftLimit:        softLimit,
		Scopes:           r.config.Defaults.Scopes,
		IgnoreProperties: r.config.Defaults.IgnoreProperties,
		Squash:           r.config.Defaults.Squash,
		PollInterval:     time.Duration(config.PollIntervalMS) * time.Millisecond,
		RetryInitial:     time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:         time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier:  config.RetryMultiplier,
		MaxRetries:       config.MaxRetries,
	})
	if err != nil {
		if cancel != nil {
			cancel()
		}
		snk.Close()
		enc.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	r.workers = append(r.workers, worker)
	r.encoders = append(r.encoders, enc)
	if cancel != nil {
		r.cancels = append(r.cancels, cancel)
	}

	log.Info().
		Str("sink", name).
		Str("type", config.Type).
		Str("format", enc.Format()).
		Str("compression", enc.Compression()).
		Str("topic", topic).
		Msg("Added sync sink")

	return nil
}

// Start starts all workers
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}

	log.Info().Int("workers", len(r.workers)).Msg("Starting sync job registry")

	for _, worker := range r.workers {
		worker.Start()
	}
	r.running.Store(true)

	return nil
}

// Stop stops all workers and releases their sinks
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Swap(false) {
		return
	}

	log.Info().Msg("Stopping sync job registry")

	for _, worker := range r.workers {
		worker.Stop()
	}
	r.close()

	log.Info().Msg("Sync job registry stopped")
}

// close releases subscriptions, sinks and encoders
func (r *Registry) close() {
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = nil

	for _, worker := range r.workers {
		if err := worker.config.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", worker.Name()).Msg("Failed to close sink")
		}
	}
	for _, enc := range r.encoders {
		enc.Close()
	}
	r.encoders = nil
}

// Workers returns the names of all configured workers
func (r *Registry) Workers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.workers))
	for _, w := range r.workers {
		names = append(names, w.Name())
	}
	return names
}

// MinRevision returns the lowest revision consumed by every known consumer:
// each worker's position and every Set cursor in the sync revision registry,
// including cursors no worker owns. Journal entries at or below it can be
// compacted. False when there is no consumer at all.
func (r *Registry) MinRevision() (int64, bool) {
	r.mu.Lock()
	positions := make([]int64, 0, len(r.workers))
	for _, w := range r.workers {
		positions = append(positions, w.Position())
	}
	r.mu.Unlock()

	for _, revision := range r.config.Cursors.CursorRevisions() {
		positions = append(positions, revision)
	}

	if len(positions) == 0 {
		return 0, false
	}
	lowest := positions[0]
	for _, p := range positions[1:] {
		if p < lowest {
			lowest = p
		}
	}
	return lowest, true
}

// NewSink creates a sink through the factory registered for config.Type
func NewSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}

	return factory(config)
}

// SinkFactory is a function that creates a Sink from a configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

var (
	sinkFactories = make(map[string]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}
