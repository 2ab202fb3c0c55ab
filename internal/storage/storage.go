package storage

import (
	"context"
	"time"

	"rtcdoctor/internal/storage/models"
)

// Storage defines the interface for data persistence
type Storage interface {
	// Run operations
	CreateRun(ctx context.Context, run *models.Run) error
	FinishRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*models.Run, error)
	DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error)

	// Probe result operations
	RecordProbeResult(ctx context.Context, result *models.ProbeResult) error
	GetProbeResults(ctx context.Context, runID string) ([]*models.ProbeResult, error)

	// Settings operations
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	GetAllSettings(ctx context.Context) (map[string]string, error)

	// Transactions
	BeginTx(ctx context.Context) (Transaction, error)

	// Close closes the storage connection
	Close() error
}

// RunFilter represents filters for querying runs
type RunFilter struct {
	Status  string
	Trigger string
	Since   *time.Time
	Limit   int // 0 means no limit
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Storage
}

// Setting keys
const (
	SettingRetentionDays = "retention_days"
	SettingLastRunID     = "last_run_id"

	// Run defaults. When set they take precedence over the config file.
	SettingMaxPortAttempts = "max_port_attempts"
	SettingProbeTimeout    = "probe_timeout"
)
