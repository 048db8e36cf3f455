package models

import (
	"time"

	"github.com/google/uuid"
)

// DataSource identifies how a workspace receives snapshots.
type DataSource string

const (
	// DataSourceCSV means snapshots arrive only via manual file upload.
	DataSourceCSV DataSource = "csv"
	// DataSourceAPI means snapshots are pulled from a read-only HTTP endpoint.
	DataSourceAPI DataSource = "api"
	// DataSourceDB means snapshots are pulled via a read-only SQL query
	// against a remote database.
	DataSourceDB DataSource = "db"
)

// PollingInterval is the fixed period between scheduled fetches.
type PollingInterval string

const (
	IntervalEveryMinute PollingInterval = "every_minute"
	IntervalHourly      PollingInterval = "hourly"
	IntervalDaily       PollingInterval = "daily"
)

// Duration returns the wall-clock period for the interval. Unknown values
// fall back to daily, the most conservative schedule.
func (p PollingInterval) Duration() time.Duration {
	switch p {
	case IntervalEveryMinute:
		return time.Minute
	case IntervalHourly:
		return time.Hour
	case IntervalDaily:
		return 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Valid reports whether the interval is one of the supported periods.
func (p PollingInterval) Valid() bool {
	switch p {
	case IntervalEveryMinute, IntervalHourly, IntervalDaily:
		return true
	}
	return false
}

// APISourceConfig holds the HTTP source configuration. At most one custom
// request header is supported, typically for authorization.
type APISourceConfig struct {
	URL             string `json:"url"`
	AuthHeaderName  string `json:"auth_header_name,omitempty"`
	AuthHeaderValue string `json:"auth_header_value,omitempty"`
}

// DBSourceConfig holds the remote-database source configuration. The query
// must be a single read-only SELECT; it is sandbox-validated before every
// connection attempt.
type DBSourceConfig struct {
	Engine   string `json:"engine"` // "postgres" or "mssql"
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	Query    string `json:"query"`
}

// Complete reports whether every field needed to open a connection is set.
func (c *DBSourceConfig) Complete() bool {
	if c == nil {
		return false
	}
	return c.Engine != "" && c.Host != "" && c.Port != 0 &&
		c.User != "" && c.Database != "" && c.Query != ""
}

// Workspace is a monitored dataset attached to at most one external source.
// The pipeline mutates only the polling metadata (LastPolledAt, FailureCount,
// LastFailureReason, AutoDisabledAt, IsPollingActive); everything else is
// owner configuration.
type Workspace struct {
	ID              uuid.UUID        `json:"id"`
	OwnerID         uuid.UUID        `json:"owner_id"`
	Name            string           `json:"name"`
	DataSource      DataSource       `json:"data_source"`
	APIConfig       *APISourceConfig `json:"api_config,omitempty"`
	DBConfig        *DBSourceConfig  `json:"db_config,omitempty"`
	PollingInterval PollingInterval  `json:"polling_interval"`

	IsPollingActive   bool       `json:"is_polling_active"`
	LastPolledAt      *time.Time `json:"last_polled_at,omitempty"`
	FailureCount      int        `json:"failure_count"`
	LastFailureReason *string    `json:"last_failure_reason,omitempty"`
	AutoDisabledAt    *time.Time `json:"auto_disabled_at,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// NormalizeSourceConfig clears configuration belonging to inactive source
// types. API and DB configuration are mutually exclusive; a CSV workspace
// carries neither.
func (w *Workspace) NormalizeSourceConfig() {
	switch w.DataSource {
	case DataSourceAPI:
		w.DBConfig = nil
	case DataSourceDB:
		w.APIConfig = nil
	default:
		w.APIConfig = nil
		w.DBConfig = nil
	}
}

// Pollable reports whether the workspace has a source the scheduler can fetch.
func (w *Workspace) Pollable() bool {
	switch w.DataSource {
	case DataSourceAPI:
		return w.APIConfig != nil && w.APIConfig.URL != ""
	case DataSourceDB:
		return w.DBConfig.Complete()
	}
	return false
}

// IsDue reports whether the workspace should be fetched now. A workspace
// that has never been polled is always due. The buffer absorbs scheduler
// tick jitter so a poll is not skipped when the tick fires slightly early.
func (w *Workspace) IsDue(now time.Time, buffer time.Duration) bool {
	if !w.IsPollingActive {
		return false
	}
	if w.LastPolledAt == nil {
		return true
	}
	return now.Sub(*w.LastPolledAt) >= w.PollingInterval.Duration()-buffer
}
