package source

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/datapulse-io/datapulse-engine/pkg/models"
)

type postgresExecutor struct {
	conn        *pgx.Conn
	readTimeout time.Duration
}

func newPostgresExecutor(ctx context.Context, cfg *models.DBSourceConfig, timeouts Timeouts) (Executor, error) {
	connStr := buildPostgresURL(cfg, timeouts.Connect)

	connCtx, cancel := context.WithTimeout(ctx, timeouts.Connect)
	defer cancel()

	conn, err := pgx.Connect(connCtx, connStr)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return &postgresExecutor{conn: conn, readTimeout: timeouts.Read}, nil
}

func (e *postgresExecutor) Execute(ctx context.Context, query string, limit int) (*QueryResult, error) {
	queryToRun := query
	if limit > 0 {
		queryToRun = fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", query, limit)
	}

	queryCtx, cancel := context.WithTimeout(ctx, e.readTimeout)
	defer cancel()

	rows, err := e.conn.Query(queryCtx, queryToRun)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = string(fd.Name)
	}

	var resultRows [][]string
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
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

func (e *postgresExecutor) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = e.conn.Close(ctx)
}

func buildPostgresURL(cfg *models.DBSourceConfig, connectTimeout time.Duration) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + cfg.Database,
	}
	q := u.Query()
	q.Set("connect_timeout", fmt.Sprintf("%d", int(connectTimeout.Seconds())))
	q.Set("default_query_exec_mode", "simple_protocol")
	u.RawQuery = q.Encode()
	return u.String()
}
