package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tinytelemetry/jitlens/internal/model"
)

// BeginRun records the start of a run. The summary's counters are written
// again by FinishRun.
func (s *Store) BeginRun(summary *model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, log_path, started_at, vm_command) VALUES (?, ?, ?, ?)`,
		summary.RunID, summary.LogPath, summary.StartedAt, summary.VMCommand)
	if err != nil {
		return fmt.Errorf("duckdb: begin run %s: %w", summary.RunID, err)
	}
	return nil
}

// FinishRun stores the final counters and outcome of a run.
func (s *Store) FinishRun(summary *model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			completed_at = ?, vm_command = ?, records_processed = ?,
			events = ?, code_cache_events = ?, diagnostics = ?, classes = ?,
			native_bytes = ?, fatal = ?, error_title = ?, error_body = ?, stopped = ?
		WHERE run_id = ?`,
		summary.CompletedAt, summary.VMCommand, summary.RecordsProcessed,
		summary.Events, summary.CodeCacheEvents, summary.Diagnostics, summary.Classes,
		summary.NativeBytes, summary.Fatal, summary.ErrorTitle, summary.ErrorBody, summary.Stopped,
		summary.RunID)
	if err != nil {
		return fmt.Errorf("duckdb: finish run %s: %w", summary.RunID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("duckdb: finish run %s: run was never begun", summary.RunID)
	}
	return nil
}

// SaveClassStats stores the per-class summary of a run.
func (s *Store) SaveClassStats(runID string, rows []model.ClassStatRow) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO class_stats (run_id, class_name, package_name, super_name, major_version, members, compiled_methods) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, runID, r.ClassName, r.PackageName, r.SuperName, int(r.MajorVersion), r.Members, r.CompiledMethods); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("duckdb: class stats for %s: %w", r.ClassName, err)
		}
	}
	return tx.Commit()
}

// DeleteRunsBefore removes runs started before cutoff together with all of
// their rows. It returns the number of runs removed.
func (s *Store) DeleteRunsBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"jit_events", "code_cache_events", "diagnostics", "class_stats"} {
		// Table names are constants.
		q := fmt.Sprintf(`DELETE FROM %s WHERE run_id IN (SELECT run_id FROM runs WHERE started_at < ?)`, table)
		if _, err := tx.ExecContext(ctx, q, cutoff); err != nil {
			return 0, fmt.Errorf("duckdb: purge %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("duckdb: purge runs: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

const runColumns = `run_id, log_path, started_at, completed_at, COALESCE(vm_command, ''),
	records_processed, events, code_cache_events, diagnostics, classes, native_bytes,
	fatal, COALESCE(error_title, ''), COALESCE(error_body, ''), stopped`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(sc rowScanner) (model.RunSummary, error) {
	var r model.RunSummary
	var completed sql.NullTime
	err := sc.Scan(&r.RunID, &r.LogPath, &r.StartedAt, &completed, &r.VMCommand,
		&r.RecordsProcessed, &r.Events, &r.CodeCacheEvents, &r.Diagnostics, &r.Classes, &r.NativeBytes,
		&r.Fatal, &r.ErrorTitle, &r.ErrorBody, &r.Stopped)
	if completed.Valid {
		r.CompletedAt = completed.Time
	}
	return r, err
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]model.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, run_id LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.RunSummary
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			scanError("ListRuns", err)
			continue
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// LatestRun returns the most recently started run, or nil when the store
// holds none.
func (s *Store) LatestRun() (*model.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	return s.runByQuery(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, run_id LIMIT 1`)
}

// Run returns the run with the given id, or nil when it does not exist.
func (s *Store) Run(runID string) (*model.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	return s.runByQuery(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
}

func (s *Store) runByQuery(ctx context.Context, query string, args ...any) (*model.RunSummary, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
