package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/apperrors"
	"github.com/datapulse-io/datapulse-engine/pkg/models"
)

type stubFetcher struct {
	upload  *models.Upload
	failure *PollFailure
	calls   int
}

func (s *stubFetcher) Fetch(ctx context.Context, workspace *models.Workspace) (*models.Upload, *PollFailure) {
	s.calls++
	if s.failure != nil {
		return nil, s.failure
	}
	upload := s.upload
	if upload == nil {
		upload = &models.Upload{ID: uuid.New(), WorkspaceID: workspace.ID, UploadType: models.UploadTypeAPIPoll}
	}
	return upload, nil
}

type stubAnalyzer struct {
	err   error
	calls int
}

func (s *stubAnalyzer) Analyze(ctx context.Context, workspace *models.Workspace, upload *models.Upload) error {
	s.calls++
	return s.err
}

type stubAlertEngine struct {
	err   error
	calls int
}

func (s *stubAlertEngine) EvaluateUpload(ctx context.Context, workspace *models.Workspace, upload *models.Upload) error {
	s.calls++
	return s.err
}

type pollFixture struct {
	service       PollService
	workspaceRepo *mockWorkspaceRepository
	uploadRepo    *mockUploadRepository
	apiFetcher    *stubFetcher
	dbFetcher     *stubFetcher
	analyzer      *stubAnalyzer
	alertEngine   *stubAlertEngine
	workspace     *models.Workspace
}

func setupPollService(t *testing.T) *pollFixture {
	t.Helper()

	workspaceRepo := newMockWorkspaceRepository()
	workspace := &models.Workspace{
		OwnerID:         uuid.New(),
		Name:            "orders",
		DataSource:      models.DataSourceAPI,
		APIConfig:       &models.APISourceConfig{URL: "https://api.example.com"},
		PollingInterval: models.IntervalHourly,
		IsPollingActive: true,
	}
	workspaceRepo.add(workspace)

	apiFetcher := &stubFetcher{}
	dbFetcher := &stubFetcher{}
	analyzer := &stubAnalyzer{}
	alertEngine := &stubAlertEngine{}

	uploadRepo := newMockUploadRepository()
	guard := NewPollerGuard(workspaceRepo, newTestHub(), zap.NewNop())
	service := NewPollService(workspaceRepo, uploadRepo, apiFetcher, dbFetcher, guard,
		analyzer, alertEngine, newTestHub(), 50, zap.NewNop())

	return &pollFixture{
		service:       service,
		workspaceRepo: workspaceRepo,
		uploadRepo:    uploadRepo,
		apiFetcher:    apiFetcher,
		dbFetcher:     dbFetcher,
		analyzer:      analyzer,
		alertEngine:   alertEngine,
		workspace:     workspace,
	}
}

func TestPollService_SuccessfulPipeline(t *testing.T) {
	f := setupPollService(t)

	require.NoError(t, f.service.Poll(context.Background(), f.workspace.ID))

	assert.Equal(t, 1, f.apiFetcher.calls)
	assert.Equal(t, 0, f.dbFetcher.calls)
	assert.Equal(t, 1, f.analyzer.calls)
	assert.Equal(t, 1, f.alertEngine.calls)
	assert.Equal(t, 1, f.workspaceRepo.successRecorded[f.workspace.ID])
}

func TestPollService_RoutesDBSource(t *testing.T) {
	f := setupPollService(t)
	f.workspace.DataSource = models.DataSourceDB
	f.workspace.APIConfig = nil
	f.workspace.DBConfig = &models.DBSourceConfig{
		Engine: "postgres", Host: "h", Port: 5432,
		User: "u", Database: "d", Query: "SELECT 1",
	}

	require.NoError(t, f.service.Poll(context.Background(), f.workspace.ID))
	assert.Equal(t, 1, f.dbFetcher.calls)
	assert.Equal(t, 0, f.apiFetcher.calls)
}

func TestPollService_UnknownWorkspace(t *testing.T) {
	f := setupPollService(t)
	err := f.service.Poll(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPollService_UnconfiguredSource(t *testing.T) {
	f := setupPollService(t)
	f.workspace.DataSource = models.DataSourceCSV
	f.workspace.APIConfig = nil

	err := f.service.Poll(context.Background(), f.workspace.ID)
	assert.ErrorIs(t, err, apperrors.ErrSourceNotConfigured)
	assert.Equal(t, 0, f.apiFetcher.calls)
}

func TestPollService_InactivePollingRejected(t *testing.T) {
	f := setupPollService(t)
	f.workspace.IsPollingActive = false

	err := f.service.Poll(context.Background(), f.workspace.ID)
	assert.ErrorIs(t, err, apperrors.ErrPollingDisabled)
}

func TestPollService_HardFailureDisablesAndSurfaces(t *testing.T) {
	f := setupPollService(t)
	f.apiFetcher.failure = HardFailure("credentials rejected", errors.New("401"))

	err := f.service.Poll(context.Background(), f.workspace.ID)
	require.Error(t, err)

	var pollErr *PollFailure
	require.ErrorAs(t, err, &pollErr)
	assert.Equal(t, FailureHard, pollErr.Class)

	assert.False(t, f.workspace.IsPollingActive)
	assert.Equal(t, 0, f.analyzer.calls)
	assert.Equal(t, 0, f.alertEngine.calls)
}

func TestPollService_SoftFailureCountsWithoutDisabling(t *testing.T) {
	f := setupPollService(t)
	f.apiFetcher.failure = SoftFailure("upstream timed out", nil)

	err := f.service.Poll(context.Background(), f.workspace.ID)
	require.Error(t, err)

	assert.True(t, f.workspace.IsPollingActive)
	assert.Equal(t, 1, f.workspace.FailureCount)
	assert.Equal(t, 0, f.analyzer.calls)
}

func TestPollService_AnalysisFailureDoesNotTouchPollingState(t *testing.T) {
	f := setupPollService(t)
	f.analyzer.err = errors.New("unparseable content")

	require.NoError(t, f.service.Poll(context.Background(), f.workspace.ID))

	assert.True(t, f.workspace.IsPollingActive)
	assert.Equal(t, 0, f.workspace.FailureCount)
	assert.Equal(t, 1, f.workspaceRepo.successRecorded[f.workspace.ID])
	// Alert evaluation needs analysis results; it is skipped.
	assert.Equal(t, 0, f.alertEngine.calls)
}

func TestPollService_AlertFailureOnlyLogged(t *testing.T) {
	f := setupPollService(t)
	f.alertEngine.err = errors.New("notification store unavailable")

	require.NoError(t, f.service.Poll(context.Background(), f.workspace.ID))
	assert.Equal(t, 1, f.alertEngine.calls)
}

func TestPollService_UploadLimitHardDisables(t *testing.T) {
	f := setupPollService(t)
	for i := 0; i < 50; i++ {
		require.NoError(t, f.uploadRepo.Create(context.Background(), &models.Upload{
			WorkspaceID: f.workspace.ID,
			UploadType:  models.UploadTypeAPIPoll,
			Filename:    "snap.csv",
		}))
	}

	err := f.service.Poll(context.Background(), f.workspace.ID)
	require.Error(t, err)

	var pollErr *PollFailure
	require.ErrorAs(t, err, &pollErr)
	assert.Equal(t, FailureHard, pollErr.Class)
	assert.Contains(t, pollErr.Reason, "limit")

	// The breaker trips without ever contacting the source.
	assert.False(t, f.workspace.IsPollingActive)
	assert.Equal(t, 0, f.apiFetcher.calls)
	assert.Equal(t, 0, f.analyzer.calls)
}
