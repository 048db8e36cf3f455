package repositories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datapulse-io/datapulse-engine/pkg/models"
	"github.com/datapulse-io/datapulse-engine/pkg/testhelpers"
)

func TestNotificationRepository_CreateBatchIdempotency(t *testing.T) {
	db := testhelpers.GetEngineDB(t)
	ctx, workspace, owner := createTestWorkspace(t, db, models.DataSourceCSV)
	repo := NewNotificationRepository()

	member := createTestUser(t, db.UnscopedContext(t, context.Background()))
	key := models.AlertFingerprint(workspace.ID, workspace.ID)

	batch := []*models.Notification{
		{UserID: owner.ID, WorkspaceID: &workspace.ID, Message: `Alert in "revenue"`, IdempotencyKey: &key},
		{UserID: member.ID, WorkspaceID: &workspace.ID, Message: `Alert in "revenue"`, IdempotencyKey: &key},
	}

	inserted, err := repo.CreateBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Re-running the same evaluation inserts nothing.
	inserted, err = repo.CreateBatch(ctx, batch)
	require.NoError(t, err)
	assert.Zero(t, inserted)

	exists, err := repo.ExistsByIdempotencyKey(ctx, workspace.ID, key)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsByIdempotencyKey(ctx, workspace.ID, "alerts:other")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestNotificationRepository_ListAndMarkRead(t *testing.T) {
	db := testhelpers.GetEngineDB(t)
	ctx, workspace, owner := createTestWorkspace(t, db, models.DataSourceCSV)
	repo := NewNotificationRepository()

	first := &models.Notification{UserID: owner.ID, WorkspaceID: &workspace.ID, Message: "first"}
	second := &models.Notification{UserID: owner.ID, WorkspaceID: &workspace.ID, Message: "second"}
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	all, total, err := repo.ListByUser(ctx, owner.ID, false, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, all, 2)
	// Newest first.
	assert.Equal(t, "second", all[0].Message)

	require.NoError(t, repo.MarkRead(ctx, owner.ID, first.ID))

	unread, total, err := repo.ListByUser(ctx, owner.ID, true, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, unread, 1)
	assert.Equal(t, second.ID, unread[0].ID)

	require.NoError(t, repo.MarkAllRead(ctx, owner.ID))

	unread, total, err = repo.ListByUser(ctx, owner.ID, true, 50, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, unread)
}

func TestNotificationRepository_MarkReadWrongUser(t *testing.T) {
	db := testhelpers.GetEngineDB(t)
	ctx, workspace, owner := createTestWorkspace(t, db, models.DataSourceCSV)
	repo := NewNotificationRepository()

	n := &models.Notification{UserID: owner.ID, WorkspaceID: &workspace.ID, Message: "private"}
	require.NoError(t, repo.Create(ctx, n))

	stranger := createTestUser(t, db.UnscopedContext(t, context.Background()))
	err := repo.MarkRead(ctx, stranger.ID, n.ID)
	require.Error(t, err)
}
