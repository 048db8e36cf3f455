package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/apperrors"
	"github.com/datapulse-io/datapulse-engine/pkg/models"
	"github.com/datapulse-io/datapulse-engine/pkg/storage"
)

type uploadFixture struct {
	service     UploadService
	uploadRepo  *mockUploadRepository
	blobs       *storage.MemoryStore
	dispatcher  *mockDispatcher
	workspace   *models.Workspace
	ownerID     uuid.UUID
	alertEngine AlertEngine
}

func setupUploadService(t *testing.T) *uploadFixture {
	t.Helper()

	owner := &models.User{ID: uuid.New(), Email: "owner@example.com"}
	workspaceRepo := newMockWorkspaceRepository()
	workspace := &models.Workspace{OwnerID: owner.ID, Name: "ledger", DataSource: models.DataSourceCSV}
	workspaceRepo.add(workspace)

	uploadRepo := newMockUploadRepository()
	userRepo := newMockUserRepository(owner)
	dispatcher := &mockDispatcher{}
	blobs := storage.NewMemoryStore()

	analyzer := NewAnalyzer(uploadRepo, workspaceRepo, userRepo, dispatcher, nil, 1000, zap.NewNop())
	alertEngine := NewAlertEngine(newMockAlertRuleRepository(), newMockNotificationRepository(),
		workspaceRepo, userRepo, dispatcher, zap.NewNop())

	caps := testFetchCaps()
	caps.MaxUploadsPerWorkspace = 3

	service := NewUploadService(uploadRepo, workspaceRepo, blobs, analyzer, alertEngine,
		newTestHub(), caps, 10*time.Minute, zap.NewNop())

	return &uploadFixture{
		service:     service,
		uploadRepo:  uploadRepo,
		blobs:       blobs,
		dispatcher:  dispatcher,
		workspace:   workspace,
		ownerID:     owner.ID,
		alertEngine: alertEngine,
	}
}

func TestUploadService_CreateManualAnalyzesSynchronously(t *testing.T) {
	f := setupUploadService(t)

	upload, err := f.service.CreateManual(context.Background(), f.ownerID, f.workspace.ID,
		"q1.csv", []byte("id,amount\n1,10\n2,20\n"))
	require.NoError(t, err)

	assert.Equal(t, models.UploadTypeManual, upload.UploadType)
	assert.Equal(t, "q1.csv", upload.Filename)
	require.NotNil(t, upload.AnalysisResults)
	assert.Equal(t, 2, upload.AnalysisResults.RowCount)
	assert.NotNil(t, upload.AnalyzedAt)

	// The raw bytes were kept in blob storage.
	require.NotNil(t, upload.StorageKey)
	raw, err := f.blobs.Get(context.Background(), *upload.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, "id,amount\n1,10\n2,20\n", string(raw))
}

func TestUploadService_CreateManualRequiresMembership(t *testing.T) {
	f := setupUploadService(t)

	_, err := f.service.CreateManual(context.Background(), uuid.New(), f.workspace.ID,
		"q1.csv", []byte("id\n1\n"))
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestUploadService_CreateManualRejectsEmptyAndOversized(t *testing.T) {
	f := setupUploadService(t)

	_, err := f.service.CreateManual(context.Background(), f.ownerID, f.workspace.ID, "empty.csv", nil)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	big := []byte("id\n" + strings.Repeat("1\n", 1<<20))
	_, err = f.service.CreateManual(context.Background(), f.ownerID, f.workspace.ID, "big.csv", big)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestUploadService_CreateManualEnforcesWorkspaceLimit(t *testing.T) {
	f := setupUploadService(t)

	for i := 0; i < 3; i++ {
		_, err := f.service.CreateManual(context.Background(), f.ownerID, f.workspace.ID,
			"snap.csv", []byte("id\n1\n"))
		require.NoError(t, err)
	}

	_, err := f.service.CreateManual(context.Background(), f.ownerID, f.workspace.ID,
		"snap.csv", []byte("id\n1\n"))
	assert.ErrorIs(t, err, apperrors.ErrUploadLimitReached)
}

func TestUploadService_CreateManualUnparseableKeepsRow(t *testing.T) {
	f := setupUploadService(t)

	// Whitespace-only content passes the empty check but has no header.
	_, err := f.service.CreateManual(context.Background(), f.ownerID, f.workspace.ID,
		"broken.csv", []byte("   "))
	require.ErrorIs(t, err, apperrors.ErrValidation)

	// The row survives for inspection, unanalyzed.
	require.Len(t, f.uploadRepo.uploads, 1)
	assert.Nil(t, f.uploadRepo.uploads[0].AnalyzedAt)
}

func TestUploadService_GetAndList(t *testing.T) {
	f := setupUploadService(t)

	created, err := f.service.CreateManual(context.Background(), f.ownerID, f.workspace.ID,
		"q1.csv", []byte("id\n1\n"))
	require.NoError(t, err)

	got, err := f.service.Get(context.Background(), f.ownerID, f.workspace.ID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = f.service.Get(context.Background(), f.ownerID, f.workspace.ID, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	uploads, total, err := f.service.List(context.Background(), f.ownerID, f.workspace.ID, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, uploads, 1)
}

// signingStore is a MemoryStore that can mint download links.
type signingStore struct {
	*storage.MemoryStore
}

func (s *signingStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://storage.example.com/" + key + "?expires=" + ttl.String(), nil
}

func TestUploadService_DownloadURL(t *testing.T) {
	f := setupUploadService(t)
	signed := &signingStore{MemoryStore: f.blobs}
	f.service.(*uploadService).blobs = signed

	created, err := f.service.CreateManual(context.Background(), f.ownerID, f.workspace.ID,
		"q1.csv", []byte("id\n1\n"))
	require.NoError(t, err)

	url, err := f.service.DownloadURL(context.Background(), f.ownerID, f.workspace.ID, created.ID)
	require.NoError(t, err)
	assert.Contains(t, url, *created.StorageKey)
}

func TestUploadService_DownloadURLWithoutStoredFile(t *testing.T) {
	f := setupUploadService(t)

	// Simulate an api-poll upload, which has no blob-store copy.
	upload := &models.Upload{
		WorkspaceID: f.workspace.ID,
		UploadType:  models.UploadTypeAPIPoll,
		Filename:    "poll.csv",
		Content:     "id\n1\n",
	}
	require.NoError(t, f.uploadRepo.Create(context.Background(), upload))

	url, err := f.service.DownloadURL(context.Background(), f.ownerID, f.workspace.ID, upload.ID)
	require.NoError(t, err)
	assert.Empty(t, url)
}

func TestUploadService_Delete(t *testing.T) {
	f := setupUploadService(t)

	created, err := f.service.CreateManual(context.Background(), f.ownerID, f.workspace.ID,
		"q1.csv", []byte("id\n1\n"))
	require.NoError(t, err)
	require.NotNil(t, created.StorageKey)

	require.NoError(t, f.service.Delete(context.Background(), f.ownerID, f.workspace.ID, created.ID))

	got, err := f.service.Get(context.Background(), f.ownerID, f.workspace.ID, created.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Nil(t, got)

	// The blob-store copy went with it.
	_, err = f.blobs.Get(context.Background(), *created.StorageKey)
	assert.Error(t, err)
}

func TestUploadService_DeleteRequiresOwner(t *testing.T) {
	f := setupUploadService(t)

	created, err := f.service.CreateManual(context.Background(), f.ownerID, f.workspace.ID,
		"q1.csv", []byte("id\n1\n"))
	require.NoError(t, err)

	err = f.service.Delete(context.Background(), uuid.New(), f.workspace.ID, created.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestUploadService_DeleteMissing(t *testing.T) {
	f := setupUploadService(t)

	err := f.service.Delete(context.Background(), f.ownerID, f.workspace.ID, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
