// Package recorder persists finished batch results to a local SQLite
// database for audit and troubleshooting. Recording is best-effort: the
// orchestrator logs and ignores recorder failures.
package recorder

import (
	"context"
	"database/sql"
	"strings"
	"time"

	netagent "github.com/fleetops/netagent"
	"github.com/fleetops/netagent/internal/config"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// EnvAuditDBPath points at the audit database file. When unset, NewFromEnv
// returns a no-op recorder.
const EnvAuditDBPath = "NETAGENT_AUDIT_DB_PATH"

// Noop discards every record. Default when auditing is not configured.
type Noop struct{}

func (Noop) RecordBatch(ctx context.Context, result *netagent.BatchResult) error { return nil }
func (Noop) Close() error                                                        { return nil }

// Recorder writes batch summaries and per-device outcomes to SQLite.
type Recorder struct {
	db    *sql.DB
	path  string
	clock func() time.Time
}

// NewFromEnv builds a recorder from $NETAGENT_AUDIT_DB_PATH, falling back
// to Noop when unset.
func NewFromEnv() (netagent.BatchRecorder, error) {
	path := config.String(EnvAuditDBPath, "")
	if strings.TrimSpace(path) == "" {
		return Noop{}, nil
	}
	return Open(path)
}

// Open creates (or opens) the audit database at path.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "recorder: open sqlite database failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Recorder{db: db, path: path, clock: time.Now}, nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=60000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return pkgerrors.Wrapf(err, "recorder: execute %s failed", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS batch_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			command TEXT NOT NULL,
			total_devices INTEGER NOT NULL,
			successful_devices INTEGER NOT NULL,
			failed_devices INTEGER NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			cache_hits INTEGER NOT NULL,
			cache_misses INTEGER NOT NULL,
			batch_error TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS batch_outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL REFERENCES batch_runs(id),
			device TEXT NOT NULL,
			success INTEGER NOT NULL,
			output_bytes INTEGER NOT NULL,
			error_message TEXT,
			error_type TEXT,
			error_category TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_batch_outcomes_run ON batch_outcomes(run_id)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return pkgerrors.Wrap(err, "recorder: prepare schema failed")
		}
	}
	return nil
}

// RecordBatch writes one batch run plus its per-device outcomes in a single
// transaction.
func (r *Recorder) RecordBatch(ctx context.Context, result *netagent.BatchResult) error {
	if r == nil || r.db == nil || result == nil {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return pkgerrors.Wrap(err, "recorder: begin transaction failed")
	}
	defer tx.Rollback()

	var batchErr sql.NullString
	if result.BatchError != nil {
		batchErr = sql.NullString{String: result.BatchError.Message, Valid: true}
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO batch_runs
			(command, total_devices, successful_devices, failed_devices, elapsed_ms, cache_hits, cache_misses, batch_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.Command,
		result.TotalDevices,
		result.SuccessCount(),
		result.FailureCount(),
		result.Elapsed.Milliseconds(),
		result.CacheHits,
		result.CacheMisses,
		batchErr,
		r.clock().Unix(),
	)
	if err != nil {
		return pkgerrors.Wrap(err, "recorder: insert batch run failed")
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return pkgerrors.Wrap(err, "recorder: read run id failed")
	}

	for addr, output := range result.Outputs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO batch_outcomes (run_id, device, success, output_bytes) VALUES (?, ?, 1, ?)`,
			runID, addr, len(output),
		); err != nil {
			return pkgerrors.Wrapf(err, "recorder: insert outcome for %s failed", addr)
		}
	}
	for addr, failure := range result.Failures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO batch_outcomes (run_id, device, success, output_bytes, error_message, error_type, error_category)
			VALUES (?, ?, 0, 0, ?, ?, ?)`,
			runID, addr, failure.Message, failure.Detail.Type, failure.Detail.Category,
		); err != nil {
			return pkgerrors.Wrapf(err, "recorder: insert outcome for %s failed", addr)
		}
	}

	if err := tx.Commit(); err != nil {
		return pkgerrors.Wrap(err, "recorder: commit failed")
	}
	log.Debug().Str("command", result.Command).Int64("run_id", runID).Msg("recorded batch run")
	return nil
}

// Close releases the underlying database handle.
func (r *Recorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
