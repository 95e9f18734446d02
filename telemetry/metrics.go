package telemetry

// Histogram bucket definitions
var (
	// ReadBuckets for one journal traversal (refresh + iteration)
	ReadBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

	// PublishBuckets for sink round trips
	PublishBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30}
)

// Journal reader metrics
var (
	// JournalEventsTotal counts journal events observed by readers
	JournalEventsTotal Counter = NoopStat{}

	// ChangeLogsTotal counts ChangeLog batches produced
	ChangeLogsTotal Counter = NoopStat{}

	// ChangeRecordsTotal counts records appended to batches
	ChangeRecordsTotal Counter = NoopStat{}

	// JournalReadFailuresTotal counts reads that ended with a repository error
	JournalReadFailuresTotal Counter = NoopStat{}

	// JournalAnomaliesTotal counts events skipped because they carried no path
	JournalAnomaliesTotal Counter = NoopStat{}

	// JournalReadSeconds measures one full read
	JournalReadSeconds Histogram = NoopStat{}
)

// Commit journal metrics
var (
	// JournalHeadRevision tracks the newest committed revision
	JournalHeadRevision Gauge = NoopStat{}

	// JournalAppendsTotal counts committed transactions
	JournalAppendsTotal Counter = NoopStat{}

	// JournalTruncationsTotal counts compaction passes that deleted entries
	JournalTruncationsTotal Counter = NoopStat{}
)

// Sync revision metrics
var (
	// CursorWritesTotal counts cursor persistence calls by op (initialize, update) and result
	CursorWritesTotal CounterVec = noopCounterVec{}

	// CursorLag tracks revisions between journal head and each cursor
	CursorLag GaugeVec = noopGaugeVec{}
)

// Sync job metrics
var (
	// PublishTotal counts published ChangeLogs by sink and result
	PublishTotal CounterVec = noopCounterVec{}

	// PublishSeconds measures publish latency by sink
	PublishSeconds HistogramVec = noopHistogramVec{}

	// WorkerStalledTotal counts workers parked behind the retained journal by sink
	WorkerStalledTotal CounterVec = noopCounterVec{}
)

// InitMetrics registers every metric with the Prometheus registry
func InitMetrics() {
	JournalEventsTotal = NewCounter(
		"journal_events_total",
		"Journal events observed by readers",
	)
	ChangeLogsTotal = NewCounter(
		"changelogs_total",
		"ChangeLog batches produced",
	)
	ChangeRecordsTotal = NewCounter(
		"change_records_total",
		"Records appended to ChangeLog batches",
	)
	JournalReadFailuresTotal = NewCounter(
		"journal_read_failures_total",
		"Journal reads that failed with a repository error",
	)
	JournalAnomaliesTotal = NewCounter(
		"journal_anomalies_total",
		"Journal events skipped because they carried no path",
	)
	JournalReadSeconds = NewHistogramWithBuckets(
		"journal_read_seconds",
		"Journal read duration in seconds",
		ReadBuckets,
	)

	JournalHeadRevision = NewGauge(
		"journal_head_revision",
		"Newest committed journal revision",
	)
	JournalAppendsTotal = NewCounter(
		"journal_appends_total",
		"Transactions committed to the journal",
	)
	JournalTruncationsTotal = NewCounter(
		"journal_truncations_total",
		"Journal compaction passes that deleted entries",
	)

	CursorWritesTotal = NewCounterVec(
		"cursor_writes_total",
		"Sync revision writes by operation and result",
		[]string{"op", "result"},
	)
	CursorLag = NewGaugeVec(
		"cursor_lag_revisions",
		"Revisions between the journal head and a sync revision",
		[]string{"cursor"},
	)

	PublishTotal = NewCounterVec(
		"publish_total",
		"Published ChangeLogs by sink and result",
		[]string{"sink", "result"},
	)
	PublishSeconds = NewHistogramVec(
		"publish_seconds",
		"ChangeLog publish duration in seconds",
		[]string{"sink"},
		PublishBuckets,
	)
	WorkerStalledTotal = NewCounterVec(
		"worker_stalled_total",
		"Sync workers parked because their cursor fell below the journal tail",
		[]string{"sink"},
	)
}
