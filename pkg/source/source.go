// Package source provides short-lived, read-only query execution against
// remote databases attached to a workspace. Each fetch opens its own
// connection and disposes it when done; there is no cross-fetch pooling.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/datapulse-io/datapulse-engine/pkg/models"
)

// QueryResult holds a bounded tabular result with values rendered as text.
type QueryResult struct {
	Columns []string
	Rows    [][]string
}

// RowCount returns the number of data rows in the result.
func (r *QueryResult) RowCount() int {
	return len(r.Rows)
}

// Executor runs sandboxed queries against one remote database. Close must
// always be called, regardless of outcome.
type Executor interface {
	// Execute wraps the query with an enforced row limit and returns at most
	// limit rows. Callers pass max_rows+1 to detect oversized results
	// without reading them in full.
	Execute(ctx context.Context, query string, limit int) (*QueryResult, error)
	Close()
}

// Timeouts carries the connect and per-statement deadlines every remote
// call must honor.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
}

// NewExecutor opens a connection for the configured engine.
func NewExecutor(ctx context.Context, cfg *models.DBSourceConfig, timeouts Timeouts) (Executor, error) {
	switch cfg.Engine {
	case "postgres":
		return newPostgresExecutor(ctx, cfg, timeouts)
	case "mssql", "sqlserver":
		return newMSSQLExecutor(ctx, cfg, timeouts)
	default:
		return nil, fmt.Errorf("unsupported database engine: %s", cfg.Engine)
	}
}
