package logging

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS run_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	mode        TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	total       INTEGER NOT NULL,
	current     INTEGER NOT NULL,
	evaluated   INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	transient   INTEGER NOT NULL,
	error       TEXT,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_log_run ON run_log(run_id);
`

// #region journal

// Journal records one row per orchestration run.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// NewJournal creates the run_log table on db if needed.
func NewJournal(ctx context.Context, db *sql.DB) (*Journal, error) {
	if _, err := db.ExecContext(ctx, journalSchema); err != nil {
		return nil, fmt.Errorf("migrate run_log: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// #endregion journal

// #region log-run
// LogRun writes a run entry. Missing run ids and timestamps are filled in.
func (j *Journal) LogRun(ctx context.Context, entry RunEntry) error {
	if entry.RunID == "" {
		entry.RunID = uuid.New().String()
	}
	if entry.FinishedAt.IsZero() {
		entry.FinishedAt = j.now().UTC()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = entry.FinishedAt
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO run_log (run_id, mode, outcome, total, current, evaluated, skipped, transient, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.Mode,
		entry.Outcome,
		entry.Total,
		entry.Current,
		entry.Evaluated,
		entry.Skipped,
		entry.Transient,
		nullIfEmpty(entry.Error),
		entry.StartedAt.UTC().Format(time.RFC3339Nano),
		entry.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log run: %w", err)
	}
	return nil
}

// #endregion log-run

// #region recent-runs
// RecentRuns returns up to limit runs, newest first.
func (j *Journal) RecentRuns(ctx context.Context, limit int) ([]RunEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, mode, outcome, total, current, evaluated, skipped, transient, error, started_at, finished_at
		 FROM run_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	defer rows.Close()

	var out []RunEntry
	for rows.Next() {
		var (
			e                 RunEntry
			errText           sql.NullString
			started, finished string
		)
		if err := rows.Scan(&e.RunID, &e.Mode, &e.Outcome, &e.Total, &e.Current,
			&e.Evaluated, &e.Skipped, &e.Transient, &errText, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		e.Error = errText.String
		if e.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if e.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion recent-runs

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
