package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WorkspaceScope wraps a connection with workspace context and ensures cleanup.
// The connection has app.current_workspace_id set for RLS policy evaluation.
// Each HTTP request and each dispatched poll job acquires its own scope, so a
// slow fetch can never hold state that leaks into another workspace's work.
type WorkspaceScope struct {
	Conn *pgxpool.Conn
}

// Close resets workspace context and releases connection to pool.
// This MUST be called to prevent workspace context from leaking to the next request.
func (s *WorkspaceScope) Close() {
	if s.Conn == nil {
		return
	}
	// Reset the workspace context before returning connection to pool
	_, _ = s.Conn.Exec(context.Background(), "RESET app.current_workspace_id")
	s.Conn.Release()
}

// WithWorkspace acquires a connection and sets the workspace context for RLS.
// The returned WorkspaceScope MUST be closed with defer scope.Close().
func (db *DB) WithWorkspace(ctx context.Context, workspaceID uuid.UUID) (*WorkspaceScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_workspace_id', $1, false)", workspaceID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &WorkspaceScope{Conn: conn}, nil
}

// WithoutWorkspace acquires a connection without workspace context.
// Use this for cross-workspace operations such as the scheduler's due scan
// and workspace creation. The returned WorkspaceScope MUST be closed with
// defer scope.Close().
func (db *DB) WithoutWorkspace(ctx context.Context) (*WorkspaceScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &WorkspaceScope{Conn: conn}, nil
}
