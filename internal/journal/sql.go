package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultTableName = "notionsync_journal"
	operationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type dialect struct {
	driver     string
	idColumn   string
	createdAt  string
	bindvar    func(n int) string
	quoteIdent func(string) string
}

var postgresDialect = dialect{
	driver:     "postgres",
	idColumn:   "id BIGSERIAL PRIMARY KEY",
	createdAt:  "created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()",
	bindvar:    func(n int) string { return fmt.Sprintf("$%d", n) },
	quoteIdent: quoteIdentifier,
}

var sqliteDialect = dialect{
	driver:     "sqlite3",
	idColumn:   "id INTEGER PRIMARY KEY AUTOINCREMENT",
	createdAt:  "created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP",
	bindvar:    func(int) string { return "?" },
	quoteIdent: quoteIdentifier,
}

// SQLJournal keeps entries in a single table. The table is created on first
// use.
type SQLJournal struct {
	dsn       string
	dialect   dialect
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresJournal(dsn string) (*SQLJournal, error) {
	return newSQLJournal(postgresDialect, dsn)
}

func NewSQLiteJournal(path string) (*SQLJournal, error) {
	return newSQLJournal(sqliteDialect, path)
}

func newSQLJournal(d dialect, dsn string) (*SQLJournal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &SQLJournal{
		dsn:       dsn,
		dialect:   d,
		tableName: defaultTableName,
		openDB:    sql.Open,
	}, nil
}

func (j *SQLJournal) Append(entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := j.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	b := j.dialect.bindvar
	query := fmt.Sprintf(
		"INSERT INTO %s (ts, task, skill, status, message) VALUES (%s, %s, %s, %s, %s)",
		j.dialect.quoteIdent(j.tableName), b(1), b(2), b(3), b(4), b(5))
	for _, entry := range entries {
		if _, err := tx.ExecContext(ctx, query, entry.Timestamp, entry.Task, entry.Skill, entry.Status, entry.Message); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (j *SQLJournal) List() ([]Entry, error) {
	if err := j.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT ts, task, skill, status, message FROM %s ORDER BY id ASC", j.dialect.quoteIdent(j.tableName))
	rows, err := j.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.Timestamp, &entry.Task, &entry.Skill, &entry.Status, &entry.Message); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (j *SQLJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *SQLJournal) ensureReady() error {
	if j == nil {
		return ErrInvalidInput
	}
	j.initOnce.Do(func() {
		db, err := j.openDB(j.dialect.driver, j.dsn)
		if err != nil {
			j.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				%s,
				ts TEXT NOT NULL,
				task TEXT NOT NULL,
				skill TEXT NOT NULL,
				status TEXT NOT NULL,
				message TEXT NOT NULL,
				%s
			)`, j.dialect.quoteIdent(j.tableName), j.dialect.idColumn, j.dialect.createdAt)
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			j.initErr = err
			return
		}
		j.db = db
	})
	return j.initErr
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
