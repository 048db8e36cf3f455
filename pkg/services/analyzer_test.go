package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/models"
)

type analyzerFixture struct {
	analyzer   Analyzer
	uploadRepo *mockUploadRepository
	dispatcher *mockDispatcher
	summarizer *mockSummarizer
	workspace  *models.Workspace
}

func setupAnalyzer(t *testing.T) *analyzerFixture {
	t.Helper()

	owner := &models.User{ID: uuid.New(), Email: "owner@example.com"}
	workspaceRepo := newMockWorkspaceRepository()
	workspace := &models.Workspace{OwnerID: owner.ID, Name: "revenue", DataSource: models.DataSourceAPI}
	workspaceRepo.add(workspace)

	uploadRepo := newMockUploadRepository()
	dispatcher := &mockDispatcher{}
	summarizer := &mockSummarizer{narrative: "A pricing column was added."}

	return &analyzerFixture{
		analyzer: NewAnalyzer(uploadRepo, workspaceRepo, newMockUserRepository(owner),
			dispatcher, summarizer, 1000, zap.NewNop()),
		uploadRepo: uploadRepo,
		dispatcher: dispatcher,
		summarizer: summarizer,
		workspace:  workspace,
	}
}

func (f *analyzerFixture) ingest(t *testing.T, content string) *models.Upload {
	t.Helper()
	upload := &models.Upload{
		WorkspaceID: f.workspace.ID,
		UploadType:  models.UploadTypeAPIPoll,
		Filename:    "snapshot.csv",
		Content:     content,
	}
	require.NoError(t, f.uploadRepo.Create(context.Background(), upload))
	return upload
}

func TestAnalyzer_FirstUploadNoEvent(t *testing.T) {
	f := setupAnalyzer(t)
	upload := f.ingest(t, "id,amount\n1,10.5\n2,20.0\n")

	require.NoError(t, f.analyzer.Analyze(context.Background(), f.workspace, upload))

	assert.Equal(t, "integer", upload.SchemaInfo["id"])
	assert.Equal(t, "float", upload.SchemaInfo["amount"])
	require.NotNil(t, upload.AnalysisResults)
	assert.Equal(t, 2, upload.AnalysisResults.RowCount)
	assert.Equal(t, 2, upload.AnalysisResults.ColumnCount)
	assert.False(t, upload.SchemaChangedFromPrevious)
	assert.NotNil(t, upload.AnalyzedAt)
	assert.Empty(t, f.dispatcher.schemaChanges)
}

func TestAnalyzer_ColumnChangeDispatchesEventWithNarrative(t *testing.T) {
	f := setupAnalyzer(t)
	first := f.ingest(t, "id,amount\n1,10\n2,20\n")
	require.NoError(t, f.analyzer.Analyze(context.Background(), f.workspace, first))

	// Ordering by uploaded_at needs distinct timestamps.
	second := f.ingest(t, "id,price\n1,10\n2,20\n3,30\n")
	second.UploadedAt = first.UploadedAt.Add(time.Minute)

	require.NoError(t, f.analyzer.Analyze(context.Background(), f.workspace, second))

	assert.True(t, second.SchemaChangedFromPrevious)
	require.Len(t, f.dispatcher.schemaChanges, 1)
	event := f.dispatcher.schemaChanges[0]
	assert.Equal(t, []string{"price"}, event.AddedColumns)
	assert.Equal(t, []string{"amount"}, event.RemovedColumns)
	assert.Equal(t, 2, event.RowCountBefore)
	assert.Equal(t, 3, event.RowCountAfter)
	assert.InDelta(t, 50.0, event.RowChangePct, 0.001)
	assert.Equal(t, "A pricing column was added.", event.Narrative)
	require.Len(t, event.Recipients, 1)
	assert.Equal(t, "owner@example.com", event.Recipients[0].Email)
}

func TestAnalyzer_RowCountChangeAloneDispatchesWithoutNarrative(t *testing.T) {
	f := setupAnalyzer(t)
	first := f.ingest(t, "id\n1\n2\n")
	require.NoError(t, f.analyzer.Analyze(context.Background(), f.workspace, first))

	second := f.ingest(t, "id\n1\n2\n3\n4\n")
	second.UploadedAt = first.UploadedAt.Add(time.Minute)
	require.NoError(t, f.analyzer.Analyze(context.Background(), f.workspace, second))

	assert.False(t, second.SchemaChangedFromPrevious)
	require.Len(t, f.dispatcher.schemaChanges, 1)
	event := f.dispatcher.schemaChanges[0]
	assert.Empty(t, event.AddedColumns)
	assert.InDelta(t, 100.0, event.RowChangePct, 0.001)
	assert.Empty(t, event.Narrative)
	assert.Equal(t, 0, f.summarizer.calls)
}

func TestAnalyzer_NoChangeNoEvent(t *testing.T) {
	f := setupAnalyzer(t)
	first := f.ingest(t, "id,name\n1,a\n2,b\n")
	require.NoError(t, f.analyzer.Analyze(context.Background(), f.workspace, first))

	second := f.ingest(t, "id,name\n3,c\n4,d\n")
	second.UploadedAt = first.UploadedAt.Add(time.Minute)
	require.NoError(t, f.analyzer.Analyze(context.Background(), f.workspace, second))

	assert.Empty(t, f.dispatcher.schemaChanges)
}

func TestAnalyzer_SummarizerFailureDegradesToEmptyNarrative(t *testing.T) {
	f := setupAnalyzer(t)
	f.summarizer.err = errors.New("model unavailable")

	first := f.ingest(t, "id\n1\n")
	require.NoError(t, f.analyzer.Analyze(context.Background(), f.workspace, first))

	second := f.ingest(t, "id,extra\n1,x\n")
	second.UploadedAt = first.UploadedAt.Add(time.Minute)
	require.NoError(t, f.analyzer.Analyze(context.Background(), f.workspace, second))

	require.Len(t, f.dispatcher.schemaChanges, 1)
	assert.Empty(t, f.dispatcher.schemaChanges[0].Narrative)
}

func TestAnalyzer_NilSummarizer(t *testing.T) {
	f := setupAnalyzer(t)
	owner := &models.User{ID: f.workspace.OwnerID}
	workspaceRepo := newMockWorkspaceRepository()
	workspaceRepo.add(f.workspace)
	a := NewAnalyzer(f.uploadRepo, workspaceRepo, newMockUserRepository(owner),
		f.dispatcher, nil, 1000, zap.NewNop())

	first := f.ingest(t, "id\n1\n")
	require.NoError(t, a.Analyze(context.Background(), f.workspace, first))

	second := f.ingest(t, "id,extra\n1,x\n")
	second.UploadedAt = first.UploadedAt.Add(time.Minute)
	require.NoError(t, a.Analyze(context.Background(), f.workspace, second))

	require.Len(t, f.dispatcher.schemaChanges, 1)
	assert.Empty(t, f.dispatcher.schemaChanges[0].Narrative)
}

func TestAnalyzer_ParseFailureLeavesUploadUnanalyzed(t *testing.T) {
	f := setupAnalyzer(t)
	upload := f.ingest(t, "")

	err := f.analyzer.Analyze(context.Background(), f.workspace, upload)
	require.Error(t, err)

	assert.Nil(t, upload.AnalyzedAt)
	assert.Nil(t, upload.AnalysisResults)
	assert.Empty(t, f.uploadRepo.saved)
	assert.Empty(t, f.dispatcher.schemaChanges)
}

func TestAnalyzer_TruncatesToMaxRows(t *testing.T) {
	f := setupAnalyzer(t)

	var sb strings.Builder
	sb.WriteString("n\n")
	for i := 0; i < 1500; i++ {
		fmt.Fprintf(&sb, "%d\n", i)
	}
	upload := f.ingest(t, sb.String())

	require.NoError(t, f.analyzer.Analyze(context.Background(), f.workspace, upload))

	require.NotNil(t, upload.AnalysisResults)
	assert.Equal(t, 1000, upload.AnalysisResults.RowCount)
	assert.True(t, upload.AnalysisResults.IsTruncated)
}

func TestAnalyzer_MixedTypesInferredAsString(t *testing.T) {
	f := setupAnalyzer(t)
	upload := f.ingest(t, "code\n100\nABC\n")

	require.NoError(t, f.analyzer.Analyze(context.Background(), f.workspace, upload))
	assert.Equal(t, "string", upload.SchemaInfo["code"])
}
