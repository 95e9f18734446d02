package syncjob

import (
	"github.com/maxpert/changejournal/journal"
)

// Sink publishes encoded ChangeLogs to an external system
type Sink interface {
	// Publish sends a message to topic, partitioned by key
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// ChangeReader reads ChangeLogs from a journal connection
type ChangeReader interface {
	Scan(conn journal.Connection, req journal.Request) (journal.Result, error)
}

// Cursor is the durable position of one worker
type Cursor interface {
	GetOr(def int64) int64
	Set(revision int64) error
}

// Ensure the journal reader satisfies ChangeReader
var _ ChangeReader = (*journal.Reader)(nil)
