package commitlog

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/maxpert/changejournal/journal"
	"github.com/maxpert/changejournal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T, hub *notify.Hub) *Log {
	t.Helper()
	l, err := Open(t.TempDir(), 7, hub)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func readAll(t *testing.T, conn *Conn, from int64) []journal.Event {
	t.Helper()
	acc, err := conn.OpenJournal()
	require.NoError(t, err)
	defer acc.Close()

	require.NoError(t, acc.SkipToRevision(from))
	var events []journal.Event
	for acc.HasNext() {
		ev, err := acc.NextEvent()
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func TestOpenEmpty(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, 1, nil)
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, filepath.Join(dir, "commit_journal"), l.path)
	assert.Equal(t, int64(0), l.Head())
	assert.Equal(t, int64(1), l.Tail())
}

func TestAppendAssignsRevisionsAndMarker(t *testing.T) {
	l := openTestLog(t, nil)

	rev, err := l.Append([]Change{
		{Type: journal.NodeAdded, Path: "/a", NodeID: 11},
		{Type: journal.PropertyAdded, Path: "/a/title"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), rev)
	assert.Equal(t, int64(3), l.Head())

	rev, err = l.Append([]Change{{Type: journal.NodeRemoved, Path: "/a"}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), rev)

	conn := l.Connect()
	require.NoError(t, conn.Refresh())
	events := readAll(t, conn, 0)
	require.Len(t, events, 5)

	expected := []struct {
		typ  journal.EventType
		path string
	}{
		{journal.NodeAdded, "/a"},
		{journal.PropertyAdded, "/a/title"},
		{journal.Persist, ""},
		{journal.NodeRemoved, "/a"},
		{journal.Persist, ""},
	}
	for i, want := range expected {
		assert.Equal(t, int64(i+1), events[i].Revision)
		assert.Equal(t, want.typ, events[i].Type)
		assert.Equal(t, want.path, events[i].Path)
		assert.NotZero(t, events[i].Timestamp)
	}
	assert.Equal(t, uint64(11), events[0].NodeID)
	assert.Equal(t, uint64(7), events[2].NodeID, "persist marker carries the writer node id")
}

func TestAppendRejectsInvalidTransactions(t *testing.T) {
	l := openTestLog(t, nil)

	tests := []struct {
		name    string
		changes []Change
	}{
		{"empty", nil},
		{"persist marker", []Change{{Type: journal.Persist, Path: "/a"}}},
		{"unknown type", []Change{{Type: journal.EventType(3), Path: "/a"}}},
		{"relative path", []Change{{Type: journal.NodeAdded, Path: "a"}}},
		{"empty path", []Change{{Type: journal.NodeAdded}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Append(tt.changes)
			assert.Error(t, err)
		})
	}
	assert.Equal(t, int64(0), l.Head())
}

func TestSkipIsExclusive(t *testing.T) {
	l := openTestLog(t, nil)
	for i := 0; i < 3; i++ {
		_, err := l.Append([]Change{{Type: journal.NodeAdded, Path: "/n"}})
		require.NoError(t, err)
	}

	conn := l.Connect()
	require.NoError(t, conn.Refresh())
	events := readAll(t, conn, 2)
	require.Len(t, events, 4)
	assert.Equal(t, int64(3), events[0].Revision)
}

func TestConnSnapshot(t *testing.T) {
	l := openTestLog(t, nil)
	_, err := l.Append([]Change{{Type: journal.NodeAdded, Path: "/a"}})
	require.NoError(t, err)

	conn := l.Connect()
	assert.Empty(t, readAll(t, conn, 0), "nothing visible before the first refresh")

	require.NoError(t, conn.Refresh())
	_, err = l.Append([]Change{{Type: journal.NodeAdded, Path: "/b"}})
	require.NoError(t, err)

	assert.Len(t, readAll(t, conn, 0), 2)
	assert.Equal(t, int64(2), conn.Visible())

	require.NoError(t, conn.Refresh())
	assert.Len(t, readAll(t, conn, 0), 4)
}

func TestReaderOverCommitLog(t *testing.T) {
	l := openTestLog(t, nil)
	_, err := l.Append([]Change{
		{Type: journal.NodeAdded, Path: "/site/a"},
		{Type: journal.PropertyAdded, Path: "/site/a/title"},
		{Type: journal.PropertyAdded, Path: "/other/x"},
	})
	require.NoError(t, err)
	_, err = l.Append([]Change{{Type: journal.PropertyChanged, Path: "/site/a/title"}})
	require.NoError(t, err)

	reader := journal.NewReader()
	logs, err := reader.GetChangeLogs(l.Connect(), 0, 10, []string{"/site"}, nil, false)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assert.Equal(t, int64(1), logs[0].StartRevision)
	assert.Equal(t, int64(4), logs[0].EndRevision)
	require.Len(t, logs[0].Records, 2)
	assert.Equal(t, "/site/a", logs[0].Records[0].Path)
	assert.Equal(t, "/site/a/title", logs[0].Records[1].Path)

	assert.Equal(t, int64(5), logs[1].StartRevision)
	assert.Equal(t, int64(6), logs[1].EndRevision)
	require.Len(t, logs[1].Records, 1)
	assert.Equal(t, journal.PropertyChanged, logs[1].Records[0].Type)

	// Resuming from the end yields nothing
	logs, err = reader.GetChangeLogs(l.Connect(), logs[1].EndRevision, 10, []string{"/site"}, nil, false)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestTruncate(t *testing.T) {
	l := openTestLog(t, nil)
	for i := 0; i < 4; i++ {
		_, err := l.Append([]Change{{Type: journal.NodeAdded, Path: "/n"}})
		require.NoError(t, err)
	}

	removed, err := l.Truncate(5)
	require.NoError(t, err)
	assert.Equal(t, 4, removed)
	assert.Equal(t, int64(5), l.Tail())

	// Already truncated
	removed, err = l.Truncate(3)
	require.NoError(t, err)
	assert.Zero(t, removed)

	conn := l.Connect()
	require.NoError(t, conn.Refresh())
	events := readAll(t, conn, 4)
	require.Len(t, events, 4)
	assert.Equal(t, int64(5), events[0].Revision)

	acc, err := conn.OpenJournal()
	require.NoError(t, err)
	defer acc.Close()
	err = acc.SkipToRevision(2)
	assert.True(t, errors.Is(err, ErrRevisionTruncated))

	// The reader reports truncation as a repository error callers can detect
	_, err = journal.NewReader().Scan(l.Connect(), journal.Request{FromRevision: 2, SoftLimit: 10, Scopes: []string{"/"}})
	require.Error(t, err)
	assert.True(t, journal.IsRepositoryError(err))
	assert.True(t, journal.IsRevisionTruncated(err))

	// Truncation is clamped to the head
	_, err = l.Truncate(100)
	require.NoError(t, err)
	assert.Equal(t, int64(9), l.Tail())
	rev, err := l.Append([]Change{{Type: journal.NodeAdded, Path: "/n"}})
	require.NoError(t, err)
	require.NoError(t, conn.Refresh())
	assert.Len(t, readAll(t, conn, 8), 2)
	assert.Equal(t, int64(10), rev)
}

func TestReopenKeepsHeadAndTail(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, 1, nil)
	require.NoError(t, err)
	_, err = l.Append([]Change{{Type: journal.NodeAdded, Path: "/a"}, {Type: journal.NodeAdded, Path: "/b"}})
	require.NoError(t, err)
	_, err = l.Truncate(2)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = Open(dir, 1, nil)
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, int64(3), l.Head())
	assert.Equal(t, int64(2), l.Tail())

	rev, err := l.Append([]Change{{Type: journal.NodeAdded, Path: "/c"}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), rev)
}

func TestAppendSignalsHub(t *testing.T) {
	hub := notify.NewHub()
	signals, cancel := hub.Subscribe(notify.Filter{Scopes: []string{"/site"}})
	defer cancel()

	l := openTestLog(t, hub)
	rev, err := l.Append([]Change{{Type: journal.NodeAdded, Path: "/site/page"}})
	require.NoError(t, err)

	select {
	case sig := <-signals:
		assert.Equal(t, rev, sig.Revision)
		assert.Equal(t, []string{"/site/page"}, sig.Paths)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for append signal")
	}
}

func TestCompaction(t *testing.T) {
	l := openTestLog(t, nil)
	for i := 0; i < 3; i++ {
		_, err := l.Append([]Change{{Type: journal.NodeAdded, Path: "/n"}})
		require.NoError(t, err)
	}

	l.StartCompaction(10*time.Millisecond, func() (int64, bool) { return 4, true })

	require.Eventually(t, func() bool {
		return l.Tail() == 5
	}, time.Second, 10*time.Millisecond)
}

func TestClosedLog(t *testing.T) {
	l, err := Open(t.TempDir(), 1, nil)
	require.NoError(t, err)
	conn := l.Connect()
	require.NoError(t, l.Close())

	_, err = l.Append([]Change{{Type: journal.NodeAdded, Path: "/a"}})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, conn.Refresh(), ErrClosed)
	assert.ErrorIs(t, l.Close(), ErrClosed)

	_, err = journal.NewReader().GetChangeLogs(conn, 0, 1, []string{"/"}, nil, false)
	assert.True(t, journal.IsRepositoryError(err))
}
