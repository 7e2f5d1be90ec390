package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// migrations define the tables for the analytics persistence layer.
// Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS metric_observations (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    metric_name TEXT NOT NULL,
    scope_id    TEXT NOT NULL,
    timestamp   DATETIME NOT NULL,
    value       REAL NOT NULL,
    UNIQUE(metric_name, scope_id, timestamp)
);
CREATE INDEX IF NOT EXISTS idx_observations_series ON metric_observations(metric_name, scope_id, timestamp);

CREATE TABLE IF NOT EXISTS alerts (
    id                  TEXT PRIMARY KEY,
    metric_name         TEXT NOT NULL,
    scope_id            TEXT NOT NULL,
    severity            TEXT NOT NULL DEFAULT 'low',
    description         TEXT NOT NULL DEFAULT '',
    detected_at         DATETIME NOT NULL,
    window_start        DATETIME NOT NULL,
    status              TEXT NOT NULL DEFAULT 'open',
    investigation_notes TEXT NOT NULL DEFAULT '',
    dismissed_by        TEXT NOT NULL DEFAULT '',
    resolved_at         DATETIME
);
CREATE INDEX IF NOT EXISTS idx_alerts_status      ON alerts(status);
CREATE INDEX IF NOT EXISTS idx_alerts_series      ON alerts(metric_name, scope_id, window_start);
CREATE INDEX IF NOT EXISTS idx_alerts_detected_at ON alerts(detected_at DESC);
`,
	},
	// Migration 2: health_scores + forecasts (scan outputs).
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS health_scores (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    scope_id    TEXT NOT NULL,
    score       REAL NOT NULL,
    scan_time   DATETIME NOT NULL,
    breakdown   TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_health_scope ON health_scores(scope_id, scan_time DESC);

CREATE TABLE IF NOT EXISTS forecasts (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    metric_name     TEXT NOT NULL,
    scope_id        TEXT NOT NULL,
    horizon         TEXT NOT NULL,
    predicted       REAL NOT NULL,
    confidence_low  REAL NOT NULL,
    confidence_high REAL NOT NULL,
    generated_at    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_forecasts_series ON forecasts(metric_name, scope_id, generated_at DESC);
`,
	},
	// Migration 3: scan_runs (scheduler execution history).
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS scan_runs (
    id              TEXT PRIMARY KEY,
    scan_type       TEXT NOT NULL,
    started_at      DATETIME NOT NULL,
    finished_at     DATETIME,
    result_summary  TEXT NOT NULL DEFAULT '',
    error           TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_scan_runs_type ON scan_runs(scan_type, started_at DESC);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// WAL gives concurrent readers while a scan writes.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) applyMigrations() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_versions`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_versions (version) VALUES (?)`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Observations ────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendObservation(ctx context.Context, obs *Observation) error {
	// Select the column directly: MAX() strips the DATETIME decltype and the
	// driver would hand back a string instead of a time.Time.
	var newest time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT timestamp FROM metric_observations WHERE metric_name = ? AND scope_id = ?
         ORDER BY timestamp DESC LIMIT 1`,
		obs.MetricName, obs.ScopeID).Scan(&newest)
	switch {
	case err == sql.ErrNoRows:
		// first observation for the series
	case err != nil:
		return fmt.Errorf("read newest timestamp: %w", err)
	case !obs.Timestamp.After(newest):
		return ErrNonMonotonicTimestamp
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO metric_observations (metric_name, scope_id, timestamp, value) VALUES (?, ?, ?, ?)`,
		obs.MetricName, obs.ScopeID, obs.Timestamp.UTC(), obs.Value)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		obs.ID = id
	}
	return nil
}

func (s *sqliteStore) QueryRange(ctx context.Context, metricName, scopeID string, from, to time.Time) ([]*Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, metric_name, scope_id, timestamp, value
         FROM metric_observations
         WHERE metric_name = ? AND scope_id = ? AND timestamp >= ? AND timestamp <= ?
         ORDER BY timestamp ASC`,
		metricName, scopeID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

func (s *sqliteStore) LatestObservations(ctx context.Context, metricName, scopeID string, limit int) ([]*Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, metric_name, scope_id, timestamp, value FROM (
            SELECT id, metric_name, scope_id, timestamp, value
            FROM metric_observations
            WHERE metric_name = ? AND scope_id = ?
            ORDER BY timestamp DESC LIMIT ?
         ) ORDER BY timestamp ASC`,
		metricName, scopeID, limit)
	if err != nil {
		return nil, fmt.Errorf("query latest observations: %w", err)
	}
	defer rows.Close()
	return scanObservations(rows)
}

func (s *sqliteStore) ListSeries(ctx context.Context) ([]SeriesKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT metric_name, scope_id FROM metric_observations ORDER BY metric_name, scope_id`)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	defer rows.Close()

	var keys []SeriesKey
	for rows.Next() {
		var k SeriesKey
		if err := rows.Scan(&k.MetricName, &k.ScopeID); err != nil {
			return nil, fmt.Errorf("scan series key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func scanObservations(rows *sql.Rows) ([]*Observation, error) {
	var out []*Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.ID, &o.MetricName, &o.ScopeID, &o.Timestamp, &o.Value); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

// ─── Alerts ──────────────────────────────────────────────────────────────────

func (s *sqliteStore) InsertAlert(ctx context.Context, rec *AlertRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, metric_name, scope_id, severity, description, detected_at, window_start,
                             status, investigation_notes, dismissed_by, resolved_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.MetricName, rec.ScopeID, rec.Severity, rec.Description,
		rec.DetectedAt.UTC(), rec.WindowStart.UTC(),
		rec.Status, rec.InvestigationNotes, rec.DismissedBy, nullTime(rec.ResolvedAt))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetAlert(ctx context.Context, id string) (*AlertRecord, error) {
	row := s.db.QueryRowContext(ctx, alertSelect+` WHERE id = ?`, id)
	rec, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *sqliteStore) FindOpenAlert(ctx context.Context, metricName, scopeID string, windowStart time.Time) (*AlertRecord, error) {
	row := s.db.QueryRowContext(ctx,
		alertSelect+` WHERE metric_name = ? AND scope_id = ? AND window_start = ? AND status IN ('open', 'investigating')
                      ORDER BY detected_at DESC LIMIT 1`,
		metricName, scopeID, windowStart.UTC())
	rec, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *sqliteStore) QueryAlerts(ctx context.Context, q AlertQuery) ([]*AlertRecord, error) {
	query := alertSelect + ` WHERE 1=1`
	args := []interface{}{}

	if q.MetricName != "" {
		query += ` AND metric_name = ?`
		args = append(args, q.MetricName)
	}
	if q.ScopeID != "" {
		query += ` AND scope_id = ?`
		args = append(args, q.ScopeID)
	}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, q.Status)
	}
	if q.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, q.Severity)
	}
	if !q.From.IsZero() {
		query += ` AND detected_at >= ?`
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		query += ` AND detected_at <= ?`
		args = append(args, q.To.UTC())
	}

	query += ` ORDER BY detected_at DESC`
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []*AlertRecord
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateAlert(ctx context.Context, rec *AlertRecord) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = ?, investigation_notes = ?, dismissed_by = ?, resolved_at = ?
         WHERE id = ?`,
		rec.Status, rec.InvestigationNotes, rec.DismissedBy, nullTime(rec.ResolvedAt), rec.ID)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("update alert: no alert with id %q", rec.ID)
	}
	return nil
}

func (s *sqliteStore) CountAlertsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM alerts GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count alerts: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan alert count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

const alertSelect = `SELECT id, metric_name, scope_id, severity, description, detected_at, window_start,
                            status, investigation_notes, dismissed_by, resolved_at FROM alerts`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*AlertRecord, error) {
	var rec AlertRecord
	var resolvedAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.MetricName, &rec.ScopeID, &rec.Severity, &rec.Description,
		&rec.DetectedAt, &rec.WindowStart, &rec.Status, &rec.InvestigationNotes,
		&rec.DismissedBy, &resolvedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		rec.ResolvedAt = &t
	}
	return &rec, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// ─── Health scores ───────────────────────────────────────────────────────────

func (s *sqliteStore) AppendHealthScore(ctx context.Context, rec *HealthScoreRecord) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO health_scores (scope_id, score, scan_time, breakdown) VALUES (?, ?, ?, ?)`,
		rec.ScopeID, rec.Score, rec.ScanTime.UTC(), rec.Breakdown)
	if err != nil {
		return fmt.Errorf("insert health score: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

func (s *sqliteStore) LatestHealthScore(ctx context.Context, scopeID string) (*HealthScoreRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, scope_id, score, scan_time, breakdown FROM health_scores
         WHERE scope_id = ? ORDER BY scan_time DESC LIMIT 1`, scopeID)
	var rec HealthScoreRecord
	err := row.Scan(&rec.ID, &rec.ScopeID, &rec.Score, &rec.ScanTime, &rec.Breakdown)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan health score: %w", err)
	}
	return &rec, nil
}

func (s *sqliteStore) QueryHealthScores(ctx context.Context, scopeID string, from, to time.Time, limit int) ([]*HealthScoreRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scope_id, score, scan_time, breakdown FROM health_scores
         WHERE scope_id = ? AND scan_time >= ? AND scan_time <= ?
         ORDER BY scan_time DESC LIMIT ?`,
		scopeID, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query health scores: %w", err)
	}
	defer rows.Close()

	var out []*HealthScoreRecord
	for rows.Next() {
		var rec HealthScoreRecord
		if err := rows.Scan(&rec.ID, &rec.ScopeID, &rec.Score, &rec.ScanTime, &rec.Breakdown); err != nil {
			return nil, fmt.Errorf("scan health score: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// ─── Forecasts ───────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendForecast(ctx context.Context, rec *ForecastRecord) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO forecasts (metric_name, scope_id, horizon, predicted, confidence_low, confidence_high, generated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.MetricName, rec.ScopeID, rec.Horizon, rec.Predicted,
		rec.ConfidenceLow, rec.ConfidenceHigh, rec.GeneratedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert forecast: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

func (s *sqliteStore) LatestForecast(ctx context.Context, metricName, scopeID string) (*ForecastRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, metric_name, scope_id, horizon, predicted, confidence_low, confidence_high, generated_at
         FROM forecasts WHERE metric_name = ? AND scope_id = ?
         ORDER BY generated_at DESC LIMIT 1`, metricName, scopeID)
	var rec ForecastRecord
	err := row.Scan(&rec.ID, &rec.MetricName, &rec.ScopeID, &rec.Horizon,
		&rec.Predicted, &rec.ConfidenceLow, &rec.ConfidenceHigh, &rec.GeneratedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan forecast: %w", err)
	}
	return &rec, nil
}

func (s *sqliteStore) QueryForecasts(ctx context.Context, metricName, scopeID string, limit int) ([]*ForecastRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, metric_name, scope_id, horizon, predicted, confidence_low, confidence_high, generated_at
         FROM forecasts WHERE metric_name = ? AND scope_id = ?
         ORDER BY generated_at DESC LIMIT ?`, metricName, scopeID, limit)
	if err != nil {
		return nil, fmt.Errorf("query forecasts: %w", err)
	}
	defer rows.Close()

	var out []*ForecastRecord
	for rows.Next() {
		var rec ForecastRecord
		if err := rows.Scan(&rec.ID, &rec.MetricName, &rec.ScopeID, &rec.Horizon,
			&rec.Predicted, &rec.ConfidenceLow, &rec.ConfidenceHigh, &rec.GeneratedAt); err != nil {
			return nil, fmt.Errorf("scan forecast: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// ─── Scan runs ───────────────────────────────────────────────────────────────

func (s *sqliteStore) InsertScanRun(ctx context.Context, rec *ScanRunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_runs (id, scan_type, started_at, finished_at, result_summary, error)
         VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ScanType, rec.StartedAt.UTC(), nullTime(rec.FinishedAt), rec.ResultSummary, rec.Error)
	if err != nil {
		return fmt.Errorf("insert scan run: %w", err)
	}
	return nil
}

func (s *sqliteStore) FinishScanRun(ctx context.Context, id string, finishedAt time.Time, summary, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scan_runs SET finished_at = ?, result_summary = ?, error = ? WHERE id = ?`,
		finishedAt.UTC(), summary, errMsg, id)
	if err != nil {
		return fmt.Errorf("finish scan run: %w", err)
	}
	return nil
}

func (s *sqliteStore) LastSuccessfulRun(ctx context.Context, scanType string) (*ScanRunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, scan_type, started_at, finished_at, result_summary, error FROM scan_runs
         WHERE scan_type = ? AND finished_at IS NOT NULL AND error = ''
         ORDER BY finished_at DESC LIMIT 1`, scanType)
	rec, err := scanScanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *sqliteStore) ListScanRuns(ctx context.Context, scanType string, limit int) ([]*ScanRunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, scan_type, started_at, finished_at, result_summary, error FROM scan_runs`
	args := []interface{}{}
	if scanType != "" {
		query += ` WHERE scan_type = ?`
		args = append(args, scanType)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scan runs: %w", err)
	}
	defer rows.Close()

	var out []*ScanRunRecord
	for rows.Next() {
		rec, err := scanScanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) RecoverInterruptedRuns(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scan_runs SET finished_at = ?, error = 'interrupted: process restarted mid-scan'
         WHERE finished_at IS NULL`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("recover interrupted runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count recovered runs: %w", err)
	}
	return int(n), nil
}

func scanScanRun(row rowScanner) (*ScanRunRecord, error) {
	var rec ScanRunRecord
	var finishedAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.ScanType, &rec.StartedAt, &finishedAt, &rec.ResultSummary, &rec.Error)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan scan run: %w", err)
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		rec.FinishedAt = &t
	}
	return &rec, nil
}
