// Package journal turns a commit journal into bounded, resumable batches of
// change records.
//
// A Reader opens the journal of a Connection right after a caller-supplied
// revision and folds the events it finds into ChangeLog batches. Events are
// filtered by scope (path prefixes) and by ignored property names, and can
// optionally be squashed so that a batch holds the minimal set of records with
// the same end state as the raw event sequence.
//
// # Batching
//
// A batch is only ever closed on a transaction-boundary marker (Persist). An
// empty batch is reused for the next transaction instead of being emitted. The
// soft record limit is checked at boundaries only, so a batch is never cut in
// the middle of a transaction:
//
//	logs, err := reader.GetChangeLogs(conn, cursor.GetOr(0), 500,
//		[]string{"/content"}, []string{"lastModified"}, true)
//	if err != nil {
//		return err // do not advance the cursor
//	}
//	for _, cl := range logs {
//		apply(cl)
//		cursor.Set(cl.EndRevision)
//	}
//
// # Thread Safety
//
// Reader is stateless and safe for concurrent use. Each read holds the
// connection lock for its whole duration, so reads on the same Connection are
// serialized.
package journal
