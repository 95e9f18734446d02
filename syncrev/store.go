package syncrev

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog/log"

	// Query dialects and drivers for supported cursor stores
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Store persists sync revisions keyed by qualified id
type Store interface {
	// Get returns the stored revision or ErrNotFound
	Get(qualifiedID string) (int64, error)
	// Initialize inserts a new row; the row must not exist yet
	Initialize(qualifiedID string, revision int64) error
	// Update overwrites an existing row or returns ErrNotFound
	Update(qualifiedID string, revision int64) error
}

// Lister is implemented by stores that can enumerate their sync revisions
type Lister interface {
	// List returns every stored revision keyed by qualified id
	List() (map[string]int64, error)
}

const (
	// DefaultTable holds sync revisions unless configured otherwise
	DefaultTable = "sync_revisions"

	columnID       = "id"
	columnRevision = "revision"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStore implements Store on a relational database
type SQLStore struct {
	db      *sql.DB
	goqu    *goqu.Database
	table   string
	ownsDB  bool
	dialect string
}

// Ensure SQLStore implements Store and Lister
var (
	_ Store  = (*SQLStore)(nil)
	_ Lister = (*SQLStore)(nil)
)

// OpenSQLStore opens a database for the given driver ("sqlite3" or "mysql")
// and prepares the sync revision table
func OpenSQLStore(driver, dsn, table string, busyTimeoutMS int) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("cursor store dsn is required")
	}

	switch driver {
	case "sqlite3":
		if !strings.Contains(dsn, ":memory:") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += fmt.Sprintf("%s_journal_mode=WAL&_busy_timeout=%d", sep, busyTimeoutMS)
		}
	case "mysql":
	default:
		return nil, fmt.Errorf("unsupported cursor store driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cursor store: %w", err)
	}
	if driver == "sqlite3" {
		// Single writer keeps SQLite from returning SQLITE_BUSY under load
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	store, err := NewSQLStore(db, driver, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.ownsDB = true

	log.Info().
		Str("driver", driver).
		Str("table", store.table).
		Msg("Opened sync revision store")

	return store, nil
}

// NewSQLStore wraps an existing database handle. The caller keeps ownership of db.
func NewSQLStore(db *sql.DB, driver, table string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid cursor table name %q", table)
	}

	ddl := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s VARCHAR(255) NOT NULL PRIMARY KEY, %s BIGINT NOT NULL)",
		table, columnID, columnRevision,
	)
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("failed to create cursor table: %w", err)
	}

	return &SQLStore{
		db:      db,
		goqu:    goqu.New(driver, db),
		table:   table,
		dialect: driver,
	}, nil
}

// Get returns the revision stored for qualifiedID
func (s *SQLStore) Get(qualifiedID string) (int64, error) {
	var revision int64
	found, err := s.goqu.From(s.table).
		Prepared(true).
		Select(columnRevision).
		Where(goqu.C(columnID).Eq(qualifiedID)).
		ScanVal(&revision)
	if err != nil {
		return 0, &StorageError{Op: "get", QualifiedID: qualifiedID, Err: err}
	}
	if !found {
		return 0, ErrNotFound
	}
	return revision, nil
}

// Initialize inserts the first revision for qualifiedID
func (s *SQLStore) Initialize(qualifiedID string, revision int64) error {
	_, err := s.goqu.Insert(s.table).
		Prepared(true).
		Rows(goqu.Record{columnID: qualifiedID, columnRevision: revision}).
		Executor().
		Exec()
	if err != nil {
		return &StorageError{Op: "initialize", QualifiedID: qualifiedID, Err: err}
	}
	return nil
}

// Update overwrites the revision stored for qualifiedID
func (s *SQLStore) Update(qualifiedID string, revision int64) error {
	res, err := s.goqu.Update(s.table).
		Prepared(true).
		Set(goqu.Record{columnRevision: revision}).
		Where(goqu.C(columnID).Eq(qualifiedID)).
		Executor().
		Exec()
	if err != nil {
		return &StorageError{Op: "update", QualifiedID: qualifiedID, Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return &StorageError{Op: "update", QualifiedID: qualifiedID, Err: err}
	}
	if affected == 0 {
		// MySQL reports 0 for an unchanged value; tell that apart from a missing row
		if s.dialect == "mysql" {
			if _, getErr := s.Get(qualifiedID); getErr == nil {
				return nil
			}
		}
		return ErrNotFound
	}
	return nil
}

type revisionRow struct {
	ID       string `db:"id"`
	Revision int64  `db:"revision"`
}

// List returns every sync revision row in the table
func (s *SQLStore) List() (map[string]int64, error) {
	var rows []revisionRow
	err := s.goqu.From(s.table).
		Prepared(true).
		Select(columnID, columnRevision).
		Where(goqu.C(columnID).Like(QualifiedPrefix + "%")).
		ScanStructs(&rows)
	if err != nil {
		return nil, &StorageError{Op: "list", QualifiedID: QualifiedPrefix + "*", Err: err}
	}

	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.ID] = row.Revision
	}
	return out, nil
}

// Close releases the database if the store opened it
func (s *SQLStore) Close() error {
	if s.ownsDB && s.db != nil {
		return s.db.Close()
	}
	return nil
}
