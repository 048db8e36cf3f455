package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/llm"
	"github.com/datapulse-io/datapulse-engine/pkg/models"
	"github.com/datapulse-io/datapulse-engine/pkg/notify"
	"github.com/datapulse-io/datapulse-engine/pkg/repositories"
	"github.com/datapulse-io/datapulse-engine/pkg/tabular"
)

// summarizeTimeout bounds the best-effort narrative call so a slow model
// cannot hold up the pipeline.
const summarizeTimeout = 20 * time.Second

// Analyzer parses a stored snapshot, computes its schema and descriptive
// statistics, diffs it against the previous snapshot of the same type, and
// persists the results. An upload is analyzed exactly once.
type Analyzer interface {
	Analyze(ctx context.Context, workspace *models.Workspace, upload *models.Upload) error
}

type analyzer struct {
	uploadRepo    repositories.UploadRepository
	workspaceRepo repositories.WorkspaceRepository
	userRepo      repositories.UserRepository
	dispatcher    Dispatcher
	summarizer    llm.Summarizer
	maxRows       int
	logger        *zap.Logger
}

// NewAnalyzer creates the snapshot analyzer. summarizer may be nil; the
// structural-change event then carries no narrative.
func NewAnalyzer(
	uploadRepo repositories.UploadRepository,
	workspaceRepo repositories.WorkspaceRepository,
	userRepo repositories.UserRepository,
	dispatcher Dispatcher,
	summarizer llm.Summarizer,
	maxRows int,
	logger *zap.Logger,
) Analyzer {
	return &analyzer{
		uploadRepo:    uploadRepo,
		workspaceRepo: workspaceRepo,
		userRepo:      userRepo,
		dispatcher:    dispatcher,
		summarizer:    summarizer,
		maxRows:       maxRows,
		logger:        logger.Named("analyzer"),
	}
}

var _ Analyzer = (*analyzer)(nil)

func (a *analyzer) Analyze(ctx context.Context, workspace *models.Workspace, upload *models.Upload) error {
	table, truncated, err := tabular.ParseCSV(strings.NewReader(upload.Content), a.maxRows)
	if err != nil {
		// Unparseable content leaves the upload unanalyzed. Polling state
		// is untouched; the fetch itself succeeded.
		return fmt.Errorf("failed to parse upload %s: %w", upload.ID, err)
	}

	schema := tabular.InferSchema(table)
	results := tabular.Describe(table, schema, truncated)

	previous, err := a.uploadRepo.PreviousAnalyzed(ctx, upload)
	if err != nil {
		return fmt.Errorf("failed to load previous upload: %w", err)
	}

	var added, removed []string
	if previous != nil {
		added, removed = tabular.DiffColumns(previous.SchemaInfo, schema)
	}

	upload.SchemaInfo = schema
	upload.AnalysisResults = results
	upload.SchemaChangedFromPrevious = len(added) > 0 || len(removed) > 0

	if err := a.uploadRepo.SaveAnalysis(ctx, upload); err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}

	a.logger.Info("upload analyzed",
		zap.String("upload_id", upload.ID.String()),
		zap.String("workspace_id", workspace.ID.String()),
		zap.Int("row_count", results.RowCount),
		zap.Int("column_count", results.ColumnCount),
		zap.Bool("truncated", truncated),
		zap.Bool("schema_changed", upload.SchemaChangedFromPrevious))

	if previous == nil || previous.AnalysisResults == nil {
		return nil
	}

	event := a.buildSchemaChangeEvent(ctx, workspace, upload, previous, added, removed)
	if !event.ColumnsChanged() && !event.RowCountChanged() {
		return nil
	}

	if event.ColumnsChanged() {
		event.Narrative = a.summarize(ctx, workspace.Name, added, removed)
	}

	recipients, err := a.loadRecipients(ctx, workspace.ID)
	if err != nil {
		a.logger.Error("failed to load recipients for schema change",
			zap.String("workspace_id", workspace.ID.String()),
			zap.Error(err))
	}
	event.Recipients = recipients

	a.dispatcher.DispatchSchemaChange(ctx, event)
	return nil
}

func (a *analyzer) buildSchemaChangeEvent(
	_ context.Context,
	workspace *models.Workspace,
	upload, previous *models.Upload,
	added, removed []string,
) *notify.SchemaChangeEvent {
	before := previous.AnalysisResults.RowCount
	after := upload.AnalysisResults.RowCount

	pct := 0.0
	if before > 0 {
		pct = float64(after-before) / float64(before) * 100
	} else if after > 0 {
		pct = 100
	}

	return &notify.SchemaChangeEvent{
		WorkspaceID:    workspace.ID,
		WorkspaceName:  workspace.Name,
		UploadID:       upload.ID,
		AddedColumns:   added,
		RemovedColumns: removed,
		RowCountBefore: before,
		RowCountAfter:  after,
		RowChangePct:   pct,
	}
}

// summarize asks the optional summarizer for a one-line narrative. Any
// failure degrades to an empty narrative.
func (a *analyzer) summarize(ctx context.Context, workspaceName string, added, removed []string) string {
	if a.summarizer == nil {
		return ""
	}

	sctx, cancel := context.WithTimeout(ctx, summarizeTimeout)
	defer cancel()

	narrative, err := a.summarizer.SummarizeSchemaChange(sctx, workspaceName, added, removed)
	if err != nil {
		a.logger.Warn("schema change summary unavailable", zap.Error(err))
		return ""
	}
	return narrative
}

func (a *analyzer) loadRecipients(ctx context.Context, workspaceID uuid.UUID) ([]*models.User, error) {
	ids, err := a.workspaceRepo.ListMemberIDs(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return a.userRepo.ListByIDs(ctx, ids)
}
