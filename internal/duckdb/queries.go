package duckdb

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tinytelemetry/jitlens/internal/model"
)

// dangerousKeywordPattern matches mutating SQL keywords at word boundaries,
// so "RESET" does not match "SET". Applied after comment stripping and
// semicolon rejection.
var dangerousKeywordPattern = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|COPY|ATTACH|LOAD|EXPORT|IMPORT|INSTALL|CALL|EXECUTE|PRAGMA|SET)\b`,
)

var blockCommentPattern = regexp.MustCompile(`/\*[\s\S]*?\*/`)

// maxQueryRows caps ad-hoc query results.
const maxQueryRows = 1000

// stripSQLComments removes -- line comments and /* */ block comments.
func stripSQLComments(query string) string {
	cleaned := blockCommentPattern.ReplaceAllString(query, " ")
	var result strings.Builder
	for _, line := range strings.Split(cleaned, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		result.WriteString(line)
		result.WriteByte('\n')
	}
	return result.String()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > model.DefaultQueryLimit {
		return model.DefaultQueryLimit
	}
	return limit
}

func scanError(query string, err error) {
	logrus.WithError(err).Warnf("duckdb: scan error (%s)", query)
}

// RunEvents returns the compilation events of a run in log order.
func (s *Store) RunEvents(runID string, opts model.EventQueryOpts) ([]model.EventRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	conditions := []string{"run_id = ?"}
	args := []any{runID}
	if opts.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, opts.Kind)
	}
	if opts.Class != "" {
		conditions = append(conditions, "class_name = ?")
		args = append(args, opts.Class)
	}
	args = append(args, clampLimit(opts.Limit))

	query := fmt.Sprintf(`
		SELECT seq, stamp_ms, kind, COALESCE(class_name, ''), COALESCE(member_name, ''), COALESCE(signature, '')
		FROM jit_events
		WHERE %s
		ORDER BY seq
		LIMIT ?`, strings.Join(conditions, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.EventRow
	for rows.Next() {
		var e model.EventRow
		if err := rows.Scan(&e.Seq, &e.Stamp, &e.Kind, &e.ClassName, &e.MemberName, &e.Signature); err != nil {
			scanError("RunEvents", err)
			continue
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// RunCodeCacheEvents returns the code cache events of a run in log order.
func (s *Store) RunCodeCacheEvents(runID string, limit int) ([]model.CodeCacheRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, stamp_ms, native_code_size, free_code_cache
		FROM code_cache_events
		WHERE run_id = ?
		ORDER BY seq
		LIMIT ?`, runID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.CodeCacheRow
	for rows.Next() {
		var c model.CodeCacheRow
		if err := rows.Scan(&c.Seq, &c.Kind, &c.Stamp, &c.NativeCodeSize, &c.FreeCodeCache); err != nil {
			scanError("RunCodeCacheEvents", err)
			continue
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// RunDiagnostics returns the diagnostics of a run in log order.
func (s *Store) RunDiagnostics(runID string, limit int) ([]model.DiagnosticRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, severity, category, COALESCE(class_name, ''), message, line
		FROM diagnostics
		WHERE run_id = ?
		ORDER BY seq
		LIMIT ?`, runID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.DiagnosticRow
	for rows.Next() {
		var d model.DiagnosticRow
		if err := rows.Scan(&d.Seq, &d.Severity, &d.Category, &d.ClassName, &d.Message, &d.Line); err != nil {
			scanError("RunDiagnostics", err)
			continue
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// RunClassStats returns the class summary of a run, most compiled first.
func (s *Store) RunClassStats(runID string, limit int) ([]model.ClassStatRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT class_name, COALESCE(package_name, ''), COALESCE(super_name, ''), major_version, members, compiled_methods
		FROM class_stats
		WHERE run_id = ?
		ORDER BY compiled_methods DESC, class_name ASC
		LIMIT ?`, runID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.ClassStatRow
	for rows.Next() {
		var c model.ClassStatRow
		if err := rows.Scan(&c.ClassName, &c.PackageName, &c.SuperName, &c.MajorVersion, &c.Members, &c.CompiledMethods); err != nil {
			scanError("RunClassStats", err)
			continue
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// EventCountsByKind returns the number of events per kind in a run.
func (s *Store) EventCountsByKind(runID string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM jit_events WHERE run_id = ? GROUP BY kind`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			scanError("EventCountsByKind", err)
			continue
		}
		result[kind] = count
	}
	return result, rows.Err()
}

// ExecuteQuery runs a read-only SQL query and returns results as maps.
// Only SELECT/WITH queries are allowed; DDL/DML is rejected.
func (s *Store) ExecuteQuery(query string) ([]map[string]interface{}, error) {
	trimmed := strings.TrimSpace(query)

	if strings.Contains(trimmed, ";") {
		return nil, fmt.Errorf("query must not contain semicolons")
	}

	stripped := strings.TrimSpace(stripSQLComments(trimmed))
	upper := strings.ToUpper(stripped)

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return nil, fmt.Errorf("only SELECT/WITH queries are allowed")
	}

	if match := dangerousKeywordPattern.FindString(stripped); match != "" {
		return nil, fmt.Errorf("query contains disallowed keyword: %s", strings.ToUpper(match))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	for rows.Next() && len(results) < maxQueryRows {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			scanError("ExecuteQuery", err)
			continue
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// GetSchemaDescription returns a human-readable description of the tables.
func (s *Store) GetSchemaDescription() string {
	return `Table 'runs': run_id (VARCHAR), log_path (VARCHAR), started_at (TIMESTAMP), ` +
		`completed_at (TIMESTAMP), vm_command (VARCHAR), records_processed (BIGINT), events (INTEGER), ` +
		`code_cache_events (INTEGER), diagnostics (INTEGER), classes (INTEGER), native_bytes (BIGINT), ` +
		`fatal (BOOLEAN), error_title (VARCHAR), error_body (VARCHAR), stopped (BOOLEAN). ` +
		`Table 'jit_events': run_id, seq (BIGINT), stamp_ms (BIGINT), ` +
		`kind (VARCHAR: queued/compiled_c1/compiled_c2/compiled_c2n/compiled_j9/task_started), class_name, member_name, signature (VARCHAR). ` +
		`Table 'code_cache_events': run_id, seq, kind (VARCHAR: compilation/sweeper/cache_full), stamp_ms, ` +
		`native_code_size (BIGINT), free_code_cache (BIGINT). ` +
		`Table 'diagnostics': run_id, seq, severity (VARCHAR: recoverable/structural/fatal), ` +
		`category, class_name, message (VARCHAR), line (BIGINT). ` +
		`Table 'class_stats': run_id, class_name, package_name, super_name (VARCHAR), major_version (INTEGER), members (INTEGER), compiled_methods (INTEGER).`
}

// TableRowCounts returns the row count for each known table.
func (s *Store) TableRowCounts() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	allowedTables := []string{"runs", "jit_events", "code_cache_events", "diagnostics", "class_stats"}
	counts := make(map[string]int64, len(allowedTables))

	for _, table := range allowedTables {
		var count int64
		// Table names are hardcoded constants, not user input.
		err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			continue
		}
		counts[table] = count
	}
	return counts, nil
}
