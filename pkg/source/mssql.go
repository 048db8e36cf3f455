package source

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/datapulse-io/datapulse-engine/pkg/models"
)

type mssqlExecutor struct {
	db          *sql.DB
	readTimeout time.Duration
}

func newMSSQLExecutor(ctx context.Context, cfg *models.DBSourceConfig, timeouts Timeouts) (Executor, error) {
	db, err := sql.Open("sqlserver", buildMSSQLURL(cfg, timeouts.Connect))
	if err != nil {
		return nil, fmt.Errorf("open sqlserver connection: %w", err)
	}

	// One fetch, one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(0)

	pingCtx, cancel := context.WithTimeout(ctx, timeouts.Connect)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to sqlserver: %w", err)
	}

	return &mssqlExecutor{db: db, readTimeout: timeouts.Read}, nil
}

func (e *mssqlExecutor) Execute(ctx context.Context, query string, limit int) (*QueryResult, error) {
	queryToRun := query
	if limit > 0 {
		queryToRun = fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _limited", limit, query)
	}

	queryCtx, cancel := context.WithTimeout(ctx, e.readTimeout)
	defer cancel()

	rows, err := e.db.QueryContext(queryCtx, queryToRun)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	var resultRows [][]string
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make([]string, len(values))
		for i, v := range values {
			row[i] = renderValue(v)
		}
		resultRows = append(resultRows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &QueryResult{Columns: columns, Rows: resultRows}, nil
}

func (e *mssqlExecutor) Close() {
	_ = e.db.Close()
}

func buildMSSQLURL(cfg *models.DBSourceConfig, connectTimeout time.Duration) string {
	query := url.Values{}
	query.Set("database", cfg.Database)
	query.Set("dial timeout", fmt.Sprintf("%d", int(connectTimeout.Seconds())))

	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		RawQuery: query.Encode(),
	}
	return u.String()
}
