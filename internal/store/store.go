package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/evalboard/go-controller/internal/evaluation"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS records (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT NOT NULL UNIQUE,
	collection    TEXT NOT NULL,
	architecture  TEXT NOT NULL,
	dataset       TEXT NOT NULL,
	loss          TEXT NOT NULL,
	optimizer     TEXT NOT NULL,
	status        TEXT NOT NULL,
	result_json   TEXT,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_model
ON records(collection, architecture, dataset, loss, optimizer);
`
// #endregion schema

// #region store-struct

// Options tunes how Open reaches the database.
type Options struct {
	// ServerSelectionTimeout bounds the initial connectivity check. Zero means 5s.
	ServerSelectionTimeout time.Duration
}

// Store holds evaluation records in SQLite, grouped into named collections.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor

// Open opens the SQLite database at path, runs migrations and checks that it
// answers within the server selection timeout.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	timeout := opts.ServerSelectionTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrap("open db", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &ServerSelectionError{Op: "ping " + path, Err: err}
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, wrap("pragma", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, wrap("pragma busy_timeout", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, wrap("migrate", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. the run journal).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region collection

// Collection is one named set of evaluation records. It implements
// evaluation.Persister.
type Collection struct {
	db   *sql.DB
	name string
	now  func() time.Time
}

// Collection returns a handle on the named collection.
func (s *Store) Collection(name string) *Collection {
	return &Collection{
		db:   s.db,
		name: name,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

var _ evaluation.Persister = (*Collection)(nil)

// #endregion collection

// #region get-all

// GetAll returns every record in insertion order.
func (c *Collection) GetAll(ctx context.Context) ([]evaluation.Record, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, architecture, dataset, loss, optimizer, status, result_json, created_at, updated_at
		 FROM records WHERE collection = ? ORDER BY seq`, c.name,
	)
	if err != nil {
		return nil, wrap("get all "+c.name, err)
	}
	defer rows.Close()

	var records []evaluation.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, wrap("scan "+c.name, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("get all "+c.name, err)
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (evaluation.Record, error) {
	var rec evaluation.Record
	var status string
	var resultJSON sql.NullString
	var createdStr, updatedStr string

	err := rows.Scan(
		&rec.ID,
		&rec.Model.Architecture, &rec.Model.Dataset, &rec.Model.Loss, &rec.Model.Optimizer,
		&status, &resultJSON, &createdStr, &updatedStr,
	)
	if err != nil {
		return evaluation.Record{}, err
	}
	rec.Status = evaluation.Status(status)
	if resultJSON.Valid && resultJSON.String != "" {
		if err := json.Unmarshal([]byte(resultJSON.String), &rec.Result); err != nil {
			return evaluation.Record{}, fmt.Errorf("unmarshal result %s: %w", rec.ID, err)
		}
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
		return evaluation.Record{}, fmt.Errorf("parse created_at of %s: %w", rec.ID, err)
	}
	// dedup ranks rows by updated_at, so a bad value must not read as "oldest"
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedStr); err != nil {
		return evaluation.Record{}, fmt.Errorf("parse updated_at of %s: %w", rec.ID, err)
	}
	return rec, nil
}

// #endregion get-all

// #region insert-one

// InsertOne stores rec, assigning an id when it has none.
func (c *Collection) InsertOne(ctx context.Context, rec evaluation.Record) (evaluation.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := c.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	resultJSON, err := encodeResult(rec.Result)
	if err != nil {
		return evaluation.Record{}, err
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO records (id, collection, architecture, dataset, loss, optimizer, status, result_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, c.name,
		rec.Model.Architecture, rec.Model.Dataset, rec.Model.Loss, rec.Model.Optimizer,
		string(rec.Status), resultJSON,
		rec.CreatedAt.Format(time.RFC3339Nano), rec.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return evaluation.Record{}, wrap("insert "+c.name, err)
	}
	return rec, nil
}

// #endregion insert-one

// #region replace-one

// ReplaceOne overwrites the record with rec.ID. It returns evaluation.ErrNotFound
// when no such record exists in this collection.
func (c *Collection) ReplaceOne(ctx context.Context, rec evaluation.Record) (evaluation.Record, error) {
	if rec.ID == "" {
		return evaluation.Record{}, fmt.Errorf("replace %s: empty id: %w", c.name, evaluation.ErrNotFound)
	}
	rec.UpdatedAt = c.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}

	resultJSON, err := encodeResult(rec.Result)
	if err != nil {
		return evaluation.Record{}, err
	}

	res, err := c.db.ExecContext(ctx,
		`UPDATE records SET architecture = ?, dataset = ?, loss = ?, optimizer = ?,
		        status = ?, result_json = ?, created_at = ?, updated_at = ?
		 WHERE id = ? AND collection = ?`,
		rec.Model.Architecture, rec.Model.Dataset, rec.Model.Loss, rec.Model.Optimizer,
		string(rec.Status), resultJSON,
		rec.CreatedAt.Format(time.RFC3339Nano), rec.UpdatedAt.Format(time.RFC3339Nano),
		rec.ID, c.name,
	)
	if err != nil {
		return evaluation.Record{}, wrap("replace "+c.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return evaluation.Record{}, wrap("replace "+c.name, err)
	}
	if n == 0 {
		return evaluation.Record{}, fmt.Errorf("replace %s %s: %w", c.name, rec.ID, evaluation.ErrNotFound)
	}
	return rec, nil
}

// #endregion replace-one

// #region delete-many

// DeleteMany removes the records with the given ids in one transaction.
func (c *Collection) DeleteMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrap("begin tx", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, c.name)
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND id IN (`+placeholders+`)`, args...,
	)
	if err != nil {
		return 0, wrap("delete "+c.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("delete "+c.name, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, wrap("commit", err)
	}
	return int(n), nil
}

// #endregion delete-many

// #region stats

// Stats counts the records of this collection per status.
func (c *Collection) Stats(ctx context.Context) (map[evaluation.Status]int, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM records WHERE collection = ? GROUP BY status`, c.name,
	)
	if err != nil {
		return nil, wrap("stats "+c.name, err)
	}
	defer rows.Close()

	stats := make(map[evaluation.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, wrap("stats "+c.name, err)
		}
		stats[evaluation.Status(status)] = n
	}
	return stats, wrap("stats "+c.name, rows.Err())
}

// #endregion stats

// #region helpers
func encodeResult(m evaluation.Metrics) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return string(b), nil
}
// #endregion helpers
