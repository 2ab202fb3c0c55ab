package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"rtcdoctor/internal/storage"
	"rtcdoctor/internal/storage/models"
	pkgerrors "rtcdoctor/pkg/errors"
)

// dbHandle is the common interface between *sql.DB and *sql.Tx.
type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB implements the Storage interface using SQLite
type DB struct {
	db *sql.DB
}

var (
	_ storage.Storage     = (*DB)(nil)
	_ storage.Transaction = (*Tx)(nil)
)

// New creates a new SQLite storage instance
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	storage := &DB{db: db}

	// Run migrations
	if err := runMigrations(storage); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) handle() dbHandle { return d.db }

// BeginTx starts a new transaction
func (d *DB) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx implements the Transaction interface
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error    { return t.tx.Commit() }
func (t *Tx) Rollback() error  { return t.tx.Rollback() }
func (t *Tx) handle() dbHandle { return t.tx }

func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *Tx) Close() error { return nil }

// ─── Run operations ─────────────────────────────────────────────────────────

const runColumns = `id, trigger, status, error_kind, error_message, integration_test_mode,
		       plan, devices, progress, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*models.Run, error) {
	run := &models.Run{}
	err := s.Scan(
		&run.ID, &run.Trigger, &run.Status, &run.ErrorKind, &run.ErrorMessage,
		&run.IntegrationTestMode, &run.Plan, &run.Devices, &run.Progress,
		&run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (d *DB) CreateRun(ctx context.Context, run *models.Run) error {
	return createRun(ctx, d.handle(), run)
}
func (t *Tx) CreateRun(ctx context.Context, run *models.Run) error {
	return createRun(ctx, t.handle(), run)
}

func createRun(ctx context.Context, h dbHandle, run *models.Run) error {
	if run.Status == "" {
		run.Status = models.RunRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.StartedAt = run.StartedAt.UTC()
	query := `
		INSERT INTO runs (id, trigger, status, integration_test_mode, plan, devices, progress, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := h.ExecContext(ctx, query,
		run.ID, run.Trigger, run.Status, run.IntegrationTestMode,
		run.Plan, jsonOr(run.Devices, "[]"), jsonOr(run.Progress, "[]"), run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (d *DB) FinishRun(ctx context.Context, run *models.Run) error {
	return finishRun(ctx, d.handle(), run)
}
func (t *Tx) FinishRun(ctx context.Context, run *models.Run) error {
	return finishRun(ctx, t.handle(), run)
}

func finishRun(ctx context.Context, h dbHandle, run *models.Run) error {
	if run.FinishedAt == nil {
		now := time.Now()
		run.FinishedAt = &now
	}
	finished := run.FinishedAt.UTC()
	run.FinishedAt = &finished

	query := `
		UPDATE runs
		SET status = ?, error_kind = ?, error_message = ?, plan = ?, devices = ?, progress = ?, finished_at = ?
		WHERE id = ?
	`
	result, err := h.ExecContext(ctx, query,
		run.Status, run.ErrorKind, run.ErrorMessage, run.Plan,
		jsonOr(run.Devices, "[]"), jsonOr(run.Progress, "[]"), finished, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", pkgerrors.ErrRunNotFound, run.ID)
	}
	return nil
}

func (d *DB) GetRun(ctx context.Context, id string) (*models.Run, error) {
	return getRun(ctx, d.handle(), id)
}
func (t *Tx) GetRun(ctx context.Context, id string) (*models.Run, error) {
	return getRun(ctx, t.handle(), id)
}

func getRun(ctx context.Context, h dbHandle, id string) (*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`
	run, err := scanRun(h.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", pkgerrors.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (d *DB) ListRuns(ctx context.Context, filter storage.RunFilter) ([]*models.Run, error) {
	return listRuns(ctx, d.handle(), filter)
}
func (t *Tx) ListRuns(ctx context.Context, filter storage.RunFilter) ([]*models.Run, error) {
	return listRuns(ctx, t.handle(), filter)
}

func listRuns(ctx context.Context, h dbHandle, filter storage.RunFilter) ([]*models.Run, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Trigger != "" {
		where = append(where, "trigger = ?")
		args = append(args, filter.Trigger)
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := h.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (d *DB) DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error) {
	return deleteRunsBefore(ctx, d.handle(), before)
}
func (t *Tx) DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error) {
	return deleteRunsBefore(ctx, t.handle(), before)
}

// deleteRunsBefore removes finished runs older than before. Probe results
// go with them through the cascade.
func deleteRunsBefore(ctx context.Context, h dbHandle, before time.Time) (int64, error) {
	result, err := h.ExecContext(ctx,
		"DELETE FROM runs WHERE started_at < ? AND status != ?", before.UTC(), models.RunRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return result.RowsAffected()
}

// ─── Probe result operations ────────────────────────────────────────────────

func (d *DB) RecordProbeResult(ctx context.Context, result *models.ProbeResult) error {
	return recordProbeResult(ctx, d.handle(), result)
}
func (t *Tx) RecordProbeResult(ctx context.Context, result *models.ProbeResult) error {
	return recordProbeResult(ctx, t.handle(), result)
}

func recordProbeResult(ctx context.Context, h dbHandle, pr *models.ProbeResult) error {
	query := `
		INSERT INTO probe_results (run_id, position, name, status, kind, error_message, payload, detail, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := h.ExecContext(ctx, query,
		pr.RunID, pr.Position, pr.Name, pr.Status, pr.Kind, pr.ErrorMessage,
		pr.Payload, pr.Detail, pr.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to record probe result: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	pr.ID = id
	return nil
}

func (d *DB) GetProbeResults(ctx context.Context, runID string) ([]*models.ProbeResult, error) {
	return getProbeResults(ctx, d.handle(), runID)
}
func (t *Tx) GetProbeResults(ctx context.Context, runID string) ([]*models.ProbeResult, error) {
	return getProbeResults(ctx, t.handle(), runID)
}

func getProbeResults(ctx context.Context, h dbHandle, runID string) ([]*models.ProbeResult, error) {
	query := `
		SELECT id, run_id, position, name, status, kind, error_message, payload, detail, duration_ms
		FROM probe_results
		WHERE run_id = ?
		ORDER BY position ASC
	`
	rows, err := h.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*models.ProbeResult
	for rows.Next() {
		pr := &models.ProbeResult{}
		err := rows.Scan(
			&pr.ID, &pr.RunID, &pr.Position, &pr.Name, &pr.Status, &pr.Kind,
			&pr.ErrorMessage, &pr.Payload, &pr.Detail, &pr.DurationMS,
		)
		if err != nil {
			return nil, err
		}
		results = append(results, pr)
	}
	return results, rows.Err()
}

// ─── Settings operations ────────────────────────────────────────────────────

func (d *DB) GetSetting(ctx context.Context, key string) (string, error) {
	return getSetting(ctx, d.handle(), key)
}
func (t *Tx) GetSetting(ctx context.Context, key string) (string, error) {
	return getSetting(ctx, t.handle(), key)
}

func getSetting(ctx context.Context, h dbHandle, key string) (string, error) {
	var value string
	err := h.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", pkgerrors.ErrSettingNotFound, key)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (d *DB) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, d.handle(), key, value)
}
func (t *Tx) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, t.handle(), key, value)
}

func setSetting(ctx context.Context, h dbHandle, key, value string) error {
	query := `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := h.ExecContext(ctx, query, key, value)
	return err
}

func (d *DB) GetAllSettings(ctx context.Context) (map[string]string, error) {
	return getAllSettings(ctx, d.handle())
}
func (t *Tx) GetAllSettings(ctx context.Context) (map[string]string, error) {
	return getAllSettings(ctx, t.handle())
}

func getAllSettings(ctx context.Context, h dbHandle) (map[string]string, error) {
	rows, err := h.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

func jsonOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
