package repositories

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/datapulse-io/datapulse-engine/pkg/database"
	"github.com/datapulse-io/datapulse-engine/pkg/models"
	"github.com/datapulse-io/datapulse-engine/pkg/testhelpers"
)

// createTestUser inserts a user row directly; account creation belongs to
// the identity layer, so no repository method covers it.
func createTestUser(t *testing.T, ctx context.Context) *models.User {
	t.Helper()

	scope, ok := database.GetWorkspaceScope(ctx)
	require.True(t, ok)

	u := &models.User{Email: fmt.Sprintf("%s@example.com", uuid.NewString()[:8]), DisplayName: "Test User"}
	err := scope.Conn.QueryRow(ctx, `
		INSERT INTO engine_users (email, display_name)
		VALUES ($1, $2)
		RETURNING id, created_at`, u.Email, u.DisplayName).Scan(&u.ID, &u.CreatedAt)
	require.NoError(t, err)
	return u
}

// createTestWorkspace persists a workspace owned by a fresh user and returns
// both, along with a workspace-scoped context for follow-up queries.
func createTestWorkspace(t *testing.T, db *testhelpers.EngineDB, source models.DataSource) (context.Context, *models.Workspace, *models.User) {
	t.Helper()

	ctx := db.UnscopedContext(t, context.Background())
	owner := createTestUser(t, ctx)

	workspace := &models.Workspace{
		OwnerID:         owner.ID,
		Name:            "integration-" + uuid.NewString()[:8],
		DataSource:      source,
		PollingInterval: models.IntervalDaily,
	}
	if source == models.DataSourceAPI {
		workspace.APIConfig = &models.APISourceConfig{URL: "https://data.example.com/export.csv"}
		workspace.IsPollingActive = true
	}

	repo := NewWorkspaceRepository()
	require.NoError(t, repo.Create(ctx, workspace))

	scoped := db.ScopedContext(t, context.Background(), workspace.ID)
	return scoped, workspace, owner
}
