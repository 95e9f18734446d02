package syncjob

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/maxpert/changejournal/cfg"
	"github.com/maxpert/changejournal/commitlog"
	"github.com/maxpert/changejournal/journal"
	"github.com/maxpert/changejournal/notify"
	"github.com/maxpert/changejournal/syncrev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var registrySinks = make(map[string]*mockSink)

func init() {
	// Registered here to avoid an import cycle with the sink package
	RegisterSink("test", func(config cfg.SinkConfiguration) (Sink, error) {
		s := &mockSink{}
		registrySinks[config.Name] = s
		return s, nil
	})
}

type registryFixture struct {
	log     *commitlog.Log
	hub     *notify.Hub
	cursors *syncrev.Registry
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	dir := t.TempDir()

	hub := notify.NewHub()
	l, err := commitlog.Open(dir, 1, hub)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	store, err := syncrev.OpenSQLStore("sqlite3", filepath.Join(dir, "cursors.db"), "", 1000)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &registryFixture{log: l, hub: hub, cursors: syncrev.NewRegistry(store)}
}

func (f *registryFixture) config(sinks ...cfg.SinkConfiguration) RegistryConfig {
	return RegistryConfig{
		Connect: func() journal.Connection { return f.log.Connect() },
		Reader:  journal.NewReader(),
		Cursors: f.cursors,
		Hub:     f.hub,
		Tail:    f.log.Tail,
		Defaults: cfg.ReaderConfiguration{
			SoftLimit: 10,
			Scopes:    []string{"/content"},
			Squash:    true,
		},
		SinkConfigs: sinks,
	}
}

func testSink(name string) cfg.SinkConfiguration {
	return cfg.SinkConfiguration{
		Name:           name,
		Type:           "test",
		Format:         "json",
		PollIntervalMS: 20,
		RetryInitialMS: 1,
	}
}

func TestNewRegistryValidation(t *testing.T) {
	f := newRegistryFixture(t)

	config := f.config()
	config.Connect = nil
	_, err := NewRegistry(config)
	assert.Error(t, err)

	config = f.config()
	config.Reader = nil
	_, err = NewRegistry(config)
	assert.Error(t, err)

	config = f.config()
	config.Cursors = nil
	_, err = NewRegistry(config)
	assert.Error(t, err)
}

func TestRegistryAddSinkErrors(t *testing.T) {
	f := newRegistryFixture(t)

	_, err := NewRegistry(f.config(cfg.SinkConfiguration{Name: "x", Type: "unknown"}))
	assert.Error(t, err)

	_, err = NewRegistry(f.config(testSink("dup"), testSink("dup")))
	assert.Error(t, err)

	bad := testSink("bad")
	bad.Format = "xml"
	_, err = NewRegistry(f.config(bad))
	assert.Error(t, err)

	// Registry without a cursor store cannot run jobs
	config := f.config(testSink("orphan"))
	config.Cursors = syncrev.NewRegistry(nil)
	_, err = NewRegistry(config)
	assert.Error(t, err)
}

func TestRegistryDefaultTopicAndMinRevision(t *testing.T) {
	f := newRegistryFixture(t)

	late := testSink("late")
	late.StartRevision = 4
	registry, err := NewRegistry(f.config(testSink("early"), late))
	require.NoError(t, err)

	assert.Equal(t, []string{"early", "late"}, registry.Workers())
	assert.Equal(t, "changejournal.early", registry.workers[0].config.Topic)
	assert.Equal(t, 10, registry.workers[0].config.SoftLimit)

	lowest, ok := registry.MinRevision()
	assert.True(t, ok)
	assert.Equal(t, int64(0), lowest)

	empty, err := NewRegistry(f.config())
	require.NoError(t, err)
	_, ok = empty.MinRevision()
	assert.False(t, ok)
}

func TestRegistryEndToEnd(t *testing.T) {
	f := newRegistryFixture(t)

	registry, err := NewRegistry(f.config(testSink("index")))
	require.NoError(t, err)
	require.NoError(t, registry.Start())
	assert.Error(t, registry.Start())

	rev, err := f.log.Append([]commitlog.Change{
		{Type: journal.NodeAdded, Path: "/content/page"},
		{Type: journal.PropertyAdded, Path: "/content/page/title"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		pos, _ := registry.MinRevision()
		return pos == rev
	}, 2*time.Second, 10*time.Millisecond)

	registry.Stop()
	registry.Stop()

	msgs := registrySinks["index"].getMessages()
	require.Len(t, msgs, 1)
	cl, err := registry.workers[0].config.Encoder.Decode(msgs[0].value)
	require.NoError(t, err)
	assert.Len(t, cl.Records, 2)

	// Cursor was persisted in the sync revision store
	cursor, err := f.cursors.GetSyncRevision("index")
	require.NoError(t, err)
	assert.Equal(t, rev, cursor.Get())
	assert.Equal(t, 0, f.hub.Len())
}

func TestRegistryMinRevisionIncludesExternalCursors(t *testing.T) {
	f := newRegistryFixture(t)

	// A consumer that reads through the journal API directly, not through a sink
	external, err := f.cursors.GetSyncRevision("backup")
	require.NoError(t, err)
	require.NoError(t, external.Set(0))

	registry, err := NewRegistry(f.config(testSink("caught-up")))
	require.NoError(t, err)

	var head int64
	for i := 0; i < 3; i++ {
		head, err = f.log.Append([]commitlog.Change{{Type: journal.NodeAdded, Path: "/content/n"}})
		require.NoError(t, err)
	}
	for {
		progressed, err := registry.workers[0].syncOnce()
		require.NoError(t, err)
		if !progressed {
			break
		}
	}
	require.Equal(t, head, registry.workers[0].Position())

	lowest, ok := registry.MinRevision()
	require.True(t, ok)
	assert.Equal(t, int64(0), lowest)

	removed, err := f.log.Truncate(lowest + 1)
	require.NoError(t, err)
	assert.Zero(t, removed)

	conn := f.log.Connect()
	changeLogs, err := journal.NewReader().GetChangeLogs(conn, external.Get(), 100, []string{"/content"}, nil, false)
	require.NoError(t, err)
	assert.Len(t, changeLogs, 3)

	// Once the external consumer catches up the journal can be compacted
	require.NoError(t, external.Set(head))
	lowest, ok = registry.MinRevision()
	require.True(t, ok)
	assert.Equal(t, head, lowest)
}

func TestRegistryMinRevisionWithoutWorkers(t *testing.T) {
	f := newRegistryFixture(t)

	registry, err := NewRegistry(f.config())
	require.NoError(t, err)
	_, ok := registry.MinRevision()
	assert.False(t, ok)

	cursor, err := f.cursors.GetSyncRevision("reader")
	require.NoError(t, err)
	require.NoError(t, cursor.Set(3))

	lowest, ok := registry.MinRevision()
	assert.True(t, ok)
	assert.Equal(t, int64(3), lowest)
}

func TestRegistryClampsStartToJournalTail(t *testing.T) {
	f := newRegistryFixture(t)
	for i := 0; i < 3; i++ {
		_, err := f.log.Append([]commitlog.Change{{Type: journal.NodeAdded, Path: "/content/n"}})
		require.NoError(t, err)
	}
	_, err := f.log.Truncate(5)
	require.NoError(t, err)

	// A cursor that was already set is left alone
	stale, err := f.cursors.GetSyncRevision("stale")
	require.NoError(t, err)
	require.NoError(t, stale.Set(1))

	registry, err := NewRegistry(f.config(testSink("late"), testSink("stale")))
	require.NoError(t, err)

	late := registry.workers[0]
	assert.Equal(t, int64(4), late.config.StartRevision)
	assert.Equal(t, int64(4), late.Position())

	progressed, err := late.syncOnce()
	require.NoError(t, err)
	assert.True(t, progressed)
	assert.Equal(t, int64(6), late.Position())

	msgs := registrySinks["late"].getMessages()
	require.Len(t, msgs, 1)

	_, err = registry.workers[1].syncOnce()
	assert.True(t, journal.IsRevisionTruncated(err))
	assert.Equal(t, int64(1), registry.workers[1].Position())
}
