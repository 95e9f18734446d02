package syncjob

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/changejournal/journal"
	"github.com/maxpert/changejournal/notify"
	"github.com/maxpert/changejournal/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// Default record target per read
	DefaultSoftLimit = 1000
	// Default interval between poll cycles when no signal arrives
	DefaultPollInterval = time.Second
	// Default initial retry delay for failed publish operations
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 30 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Maximum number of publish attempts before the cycle is abandoned
	DefaultMaxRetries = 100
)

// WorkerConfig configures one synchronization job
type WorkerConfig struct {
	Name             string             // Sink name, also the sync revision id
	Conn             journal.Connection // Journal connection owned by this worker
	Reader           ChangeReader       // Journal reader
	Cursor           Cursor             // Durable position
	Sink             Sink               // Destination sink
	Encoder          *Encoder           // Payload encoder
	Topic            string             // Topic or subject to publish to
	Signals          <-chan notify.Signal
	StartRevision    int64 // Position used until the cursor is set
	SoftLimit        int   // Record target per read
	Scopes           []string
	IgnoreProperties []string
	Squash           bool
	PollInterval     time.Duration
	RetryInitial     time.Duration
	RetryMax         time.Duration
	RetryMultiplier  float64
	MaxRetries       int
}

// Worker reads ChangeLogs after its cursor and publishes them to a sink
type Worker struct {
	config      WorkerConfig
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex
}

// NewWorker validates config, applies defaults and creates a stopped worker
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if config.Conn == nil {
		return nil, fmt.Errorf("journal connection is required")
	}
	if config.Reader == nil {
		return nil, fmt.Errorf("journal reader is required")
	}
	if config.Cursor == nil {
		return nil, fmt.Errorf("cursor is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.Encoder == nil {
		return nil, fmt.Errorf("encoder is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if config.StartRevision < 0 {
		return nil, fmt.Errorf("start revision must be >= 0")
	}
	if len(config.Scopes) == 0 {
		config.Scopes = []string{"/"}
	}

	if config.SoftLimit <= 0 {
		config.SoftLimit = DefaultSoftLimit
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	return &Worker{
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Name returns the sink name
func (w *Worker) Name() string {
	return w.config.Name
}

// Position returns the last revision this worker has consumed
func (w *Worker) Position() int64 {
	return w.config.Cursor.GetOr(w.config.StartRevision)
}

// Start starts the worker goroutine
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return
	}

	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	log.Info().
		Str("worker", w.config.Name).
		Int64("cursor", w.Position()).
		Msg("Starting sync worker")

	go w.pollLoop()
}

// Stop stops the worker and waits for the current cycle to finish
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return
	}

	log.Info().Str("worker", w.config.Name).Msg("Stopping sync worker")

	close(w.stopCh)
	<-w.doneCh
	w.running.Store(false)

	log.Info().Str("worker", w.config.Name).Msg("Sync worker stopped")
}

// pollLoop is the main worker loop
func (w *Worker) pollLoop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		progressed, err := w.syncOnce()
		if journal.IsRevisionTruncated(err) {
			if !w.awaitCursorMove(err) {
				return
			}
			continue
		}
		if err != nil {
			log.Error().
				Err(err).
				Str("worker", w.config.Name).
				Int64("cursor", w.Position()).
				Msg("Sync cycle failed")
			if !w.sleep(w.config.PollInterval) {
				return
			}
			continue
		}

		if !progressed && !w.wait() {
			return
		}
	}
}

// syncOnce runs one read-publish-advance cycle and reports whether the
// cursor moved. The cursor only moves past ChangeLogs that were published.
func (w *Worker) syncOnce() (bool, error) {
	from := w.Position()

	res, err := w.config.Reader.Scan(w.config.Conn, journal.Request{
		FromRevision:        from,
		SoftLimit:           w.config.SoftLimit,
		Scopes:              w.config.Scopes,
		IgnorePropertyNames: w.config.IgnoreProperties,
		Squash:              w.config.Squash,
	})
	if err != nil {
		return false, fmt.Errorf("failed to read change journal: %w", err)
	}

	position := from
	for _, cl := range res.ChangeLogs {
		if err := w.publish(cl); err != nil {
			return position > from, err
		}
		if err := w.config.Cursor.Set(cl.EndRevision); err != nil {
			// Published but not recorded; the ChangeLog is redelivered next cycle
			return position > from, fmt.Errorf("failed to advance cursor to %d: %w", cl.EndRevision, err)
		}
		position = cl.EndRevision
	}

	if res.Boundary > position {
		if err := w.config.Cursor.Set(res.Boundary); err != nil {
			return position > from, fmt.Errorf("failed to advance cursor to boundary %d: %w", res.Boundary, err)
		}
		position = res.Boundary
	}

	if position > from {
		log.Debug().
			Str("worker", w.config.Name).
			Int64("from", from).
			Int64("to", position).
			Int("changelogs", len(res.ChangeLogs)).
			Msg("Advanced sync revision")
	}
	return position > from, nil
}

func (w *Worker) publish(cl journal.ChangeLog) error {
	data, err := w.config.Encoder.Encode(cl)
	if err != nil {
		return err
	}

	start := time.Now()
	err = w.publishWithRetry(w.config.Topic, w.config.Name, data)
	telemetry.PublishSeconds.With(w.config.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.PublishTotal.With(w.config.Name, "failure").Inc()
		return err
	}
	telemetry.PublishTotal.With(w.config.Name, "success").Inc()
	return nil
}

// publishWithRetry publishes data with exponential backoff retry
// Returns error if max retries exhausted or worker stopped
func (w *Worker) publishWithRetry(topic, key string, data []byte) error {
	delay := w.config.RetryInitial
	attempts := 0

	for {
		err := w.config.Sink.Publish(topic, key, data)
		if err == nil {
			return nil
		}

		attempts++
		if w.config.MaxRetries > 0 && attempts >= w.config.MaxRetries {
			return fmt.Errorf("exhausted max retries (%d) for topic %s: %w", w.config.MaxRetries, topic, err)
		}

		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Str("topic", topic).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to publish changelog, retrying")

		if !w.sleep(delay) {
			return fmt.Errorf("worker stopped during retry")
		}

		delay = time.Duration(float64(delay) * w.config.RetryMultiplier)
		if delay > w.config.RetryMax {
			delay = w.config.RetryMax
		}
	}
}

// awaitCursorMove parks a worker whose position fell below the retained
// journal. Reading from the same position cannot succeed, so the worker only
// resumes once the cursor is moved externally. Returns false if stopped.
func (w *Worker) awaitCursorMove(cause error) bool {
	stuck := w.Position()
	telemetry.WorkerStalledTotal.With(w.config.Name).Inc()
	log.Error().
		Err(cause).
		Str("worker", w.config.Name).
		Int64("cursor", stuck).
		Msg("Sync revision is behind the retained journal, waiting for the cursor to be reset")

	for w.Position() == stuck {
		if !w.sleep(w.config.PollInterval) {
			return false
		}
	}

	log.Info().
		Str("worker", w.config.Name).
		Int64("cursor", w.Position()).
		Msg("Sync revision moved, resuming")
	return true
}

// wait blocks until an append signal, the poll interval or stop.
// Returns false if stopped.
func (w *Worker) wait() bool {
	timer := time.NewTimer(w.config.PollInterval)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	case _, ok := <-w.config.Signals:
		if !ok {
			w.config.Signals = nil
		}
		w.drainSignals()
		return true
	}
}

// drainSignals drops queued signals; one read covers all of them
func (w *Worker) drainSignals() {
	for w.config.Signals != nil {
		select {
		case _, ok := <-w.config.Signals:
			if !ok {
				w.config.Signals = nil
			}
		default:
			return
		}
	}
}

// sleep sleeps for the given duration, checking stopCh
// Returns true if sleep completed, false if stopped
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
