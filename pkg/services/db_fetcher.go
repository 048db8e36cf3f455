package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/config"
	"github.com/datapulse-io/datapulse-engine/pkg/logging"
	"github.com/datapulse-io/datapulse-engine/pkg/models"
	"github.com/datapulse-io/datapulse-engine/pkg/repositories"
	sqlguard "github.com/datapulse-io/datapulse-engine/pkg/sql"
	"github.com/datapulse-io/datapulse-engine/pkg/source"
	"github.com/datapulse-io/datapulse-engine/pkg/tabular"
)

// DBFetcher runs a workspace's sandboxed query against its remote database
// and persists the bounded result as a new upload. Every fetch opens its
// own short-lived connection; the executor is always disposed, success or
// not.
type DBFetcher interface {
	Fetch(ctx context.Context, workspace *models.Workspace) (*models.Upload, *PollFailure)
}

// executorFactory is swapped in tests to avoid real connections.
type executorFactory func(ctx context.Context, cfg *models.DBSourceConfig, timeouts source.Timeouts) (source.Executor, error)

type dbFetcher struct {
	uploadRepo  repositories.UploadRepository
	caps        config.FetchConfig
	newExecutor executorFactory
	logger      *zap.Logger
}

// NewDBFetcher creates the remote-database source fetcher.
func NewDBFetcher(uploadRepo repositories.UploadRepository, caps config.FetchConfig, logger *zap.Logger) DBFetcher {
	return &dbFetcher{
		uploadRepo:  uploadRepo,
		caps:        caps,
		newExecutor: source.NewExecutor,
		logger:      logger.Named("db-fetcher"),
	}
}

var _ DBFetcher = (*dbFetcher)(nil)

func (f *dbFetcher) Fetch(ctx context.Context, workspace *models.Workspace) (*models.Upload, *PollFailure) {
	cfg := workspace.DBConfig
	if !cfg.Complete() {
		return nil, HardFailure("the database connection configuration is incomplete", nil)
	}

	// The sandbox gates every fetch, before any connection is opened. A
	// query that was valid at save time may have been edited since.
	if verdict := sqlguard.ValidateSandboxedQuery(cfg.Query); !verdict.OK {
		return nil, HardFailure("the query failed validation: "+verdict.Reason, nil)
	}

	executor, err := f.newExecutor(ctx, cfg, source.Timeouts{
		Connect: f.caps.ConnectTimeout(),
		Read:    f.caps.ReadTimeout(),
	})
	if err != nil {
		return nil, f.classify("connecting to the database failed", err)
	}
	defer executor.Close()

	// One extra row detects an oversized result without reading it all.
	// The executors wrap the statement in a subquery, so the trailing
	// semicolon the validator tolerates has to go first.
	query := sqlguard.ExecutableQuery(cfg.Query)
	result, err := executor.Execute(ctx, query, f.caps.MaxRows+1)
	if err != nil {
		return nil, f.classify("running the query failed", err)
	}

	if result.RowCount() > f.caps.MaxRows {
		return nil, HardFailure(
			fmt.Sprintf("the query returned more than %d rows; add a filter or aggregate", f.caps.MaxRows), nil)
	}
	if result.RowCount() == 0 {
		return nil, SoftFailure("the query returned no rows", nil)
	}

	content, err := tabular.WriteCSV(&tabular.Table{Columns: result.Columns, Rows: result.Rows})
	if err != nil {
		return nil, HardFailure("the query result could not be serialized", err)
	}

	upload := &models.Upload{
		WorkspaceID: workspace.ID,
		UploadType:  models.UploadTypeDBQuery,
		Filename:    fmt.Sprintf("%s-db-query.csv", workspace.ID),
		Content:     content,
	}
	if err := f.uploadRepo.Create(ctx, upload); err != nil {
		return nil, SoftFailure("the snapshot could not be stored", err)
	}

	f.logger.Info("db snapshot stored",
		zap.String("workspace_id", workspace.ID.String()),
		zap.String("upload_id", upload.ID.String()),
		zap.Int("rows", result.RowCount()),
		zap.String("query", logging.SanitizeQuery(cfg.Query)))

	return upload, nil
}

// classify buckets a connection or execution error by message pattern and
// keeps the raw error out of the owner-visible reason.
func (f *dbFetcher) classify(context string, err error) *PollFailure {
	if source.ClassifyQueryError(err) == source.FailureHard {
		return HardFailure(context+" (check credentials, permissions, and query syntax)", err)
	}
	return SoftFailure(context+" (the database may be temporarily unreachable)", err)
}
