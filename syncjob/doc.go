// Package syncjob runs the synchronization jobs that consume the change
// journal and forward ChangeLogs to external systems (Kafka, NATS).
//
// Each configured sink gets a Worker with its own journal connection and a
// durable sync revision named after the sink. A worker loop:
//
//  1. reads ChangeLogs after the sink's cursor with journal.Reader
//  2. encodes each ChangeLog (json or msgpack, optionally zstd compressed)
//  3. publishes it with exponential backoff retry
//  4. advances the cursor to the ChangeLog's EndRevision
//
// Delivery is at-least-once: a crash between publish and cursor update
// replays that ChangeLog. Read failures never move the cursor. When a read
// passes transactions that produced no records, the cursor moves to the last
// boundary consumed so idle sinks do not pin journal compaction.
//
// Sink implementations register themselves with RegisterSink from the
// syncjob/sink package:
//
//	import _ "github.com/maxpert/changejournal/syncjob/sink"
//
// Message layout (json):
//
//	{"start_revision":10,"end_revision":13,"records":[{"path":"/a","type":"node_added","revision":10}]}
package syncjob
