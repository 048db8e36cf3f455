package database

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	// WorkspaceScopeKey is the context key for storing the workspace-scoped database connection.
	WorkspaceScopeKey contextKey = "workspaceScope"
)

// GetWorkspaceScope retrieves the workspace-scoped database connection from context.
// Returns nil and false if not present.
func GetWorkspaceScope(ctx context.Context) (*WorkspaceScope, bool) {
	scope, ok := ctx.Value(WorkspaceScopeKey).(*WorkspaceScope)
	return scope, ok
}

// SetWorkspaceScope stores the workspace-scoped database connection in context.
func SetWorkspaceScope(ctx context.Context, scope *WorkspaceScope) context.Context {
	return context.WithValue(ctx, WorkspaceScopeKey, scope)
}

// ScopeProvider creates workspace-scoped contexts for database operations.
// The scheduler uses it to give each dispatched poll job its own short-lived
// data-access session.
type ScopeProvider struct {
	db *DB
}

// NewScopeProvider creates a ScopeProvider for the given database.
func NewScopeProvider(db *DB) *ScopeProvider {
	return &ScopeProvider{db: db}
}

// WithWorkspaceScope returns a context with workspace scope set for the given workspace.
// The cleanup function must be called when the scope is no longer needed.
func (p *ScopeProvider) WithWorkspaceScope(ctx context.Context, workspaceID uuid.UUID) (context.Context, func(), error) {
	scope, err := p.db.WithWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, nil, err
	}
	scopedCtx := SetWorkspaceScope(ctx, scope)
	return scopedCtx, func() { scope.Close() }, nil
}
