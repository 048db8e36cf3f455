package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/models"
)

func setupGuard(t *testing.T) (PollerGuard, *mockWorkspaceRepository, *models.Workspace) {
	t.Helper()

	repo := newMockWorkspaceRepository()
	workspace := &models.Workspace{
		OwnerID:         uuid.New(),
		Name:            "sales feed",
		DataSource:      models.DataSourceAPI,
		APIConfig:       &models.APISourceConfig{URL: "https://example.com/data"},
		PollingInterval: models.IntervalHourly,
		IsPollingActive: true,
	}
	repo.add(workspace)

	guard := NewPollerGuard(repo, newTestHub(), zap.NewNop())
	return guard, repo, workspace
}

func TestPollerGuard_HardFailureDisablesImmediately(t *testing.T) {
	guard, repo, workspace := setupGuard(t)

	disabled, err := guard.ReportFailure(context.Background(), workspace.ID,
		HardFailure("authentication rejected", errors.New("401")))
	require.NoError(t, err)
	assert.True(t, disabled)

	assert.False(t, workspace.IsPollingActive)
	assert.Equal(t, "authentication rejected", repo.disabledReason[workspace.ID])
	assert.NotNil(t, workspace.AutoDisabledAt)
}

func TestPollerGuard_SoftFailuresBelowThreshold(t *testing.T) {
	guard, repo, workspace := setupGuard(t)

	for i := 0; i < MaxConsecutiveSoftFailures-1; i++ {
		disabled, err := guard.ReportFailure(context.Background(), workspace.ID,
			SoftFailure("upstream timed out", errors.New("timeout")))
		require.NoError(t, err)
		assert.False(t, disabled)
	}

	assert.True(t, workspace.IsPollingActive)
	assert.Equal(t, MaxConsecutiveSoftFailures-1, workspace.FailureCount)
	assert.Empty(t, repo.disabledReason[workspace.ID])
}

func TestPollerGuard_ThirdSoftFailureDisables(t *testing.T) {
	guard, repo, workspace := setupGuard(t)

	var disabled bool
	for i := 0; i < MaxConsecutiveSoftFailures; i++ {
		var err error
		disabled, err = guard.ReportFailure(context.Background(), workspace.ID,
			SoftFailure("upstream timed out", errors.New("timeout")))
		require.NoError(t, err)
	}

	assert.True(t, disabled)
	assert.False(t, workspace.IsPollingActive)
	assert.Equal(t, "upstream timed out", repo.disabledReason[workspace.ID])
}

func TestPollerGuard_SuccessResetsCounter(t *testing.T) {
	guard, repo, workspace := setupGuard(t)

	for i := 0; i < MaxConsecutiveSoftFailures-1; i++ {
		_, err := guard.ReportFailure(context.Background(), workspace.ID,
			SoftFailure("upstream timed out", errors.New("timeout")))
		require.NoError(t, err)
	}
	require.NoError(t, guard.ReportSuccess(context.Background(), workspace.ID))

	assert.Equal(t, 0, workspace.FailureCount)
	assert.Nil(t, workspace.LastFailureReason)
	assert.NotNil(t, workspace.LastPolledAt)
	assert.Equal(t, 1, repo.successRecorded[workspace.ID])

	// The streak is broken; two more soft failures stay tolerated.
	for i := 0; i < MaxConsecutiveSoftFailures-1; i++ {
		disabled, err := guard.ReportFailure(context.Background(), workspace.ID,
			SoftFailure("upstream timed out", errors.New("timeout")))
		require.NoError(t, err)
		assert.False(t, disabled)
	}
	assert.True(t, workspace.IsPollingActive)
}
