package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/config"
	"github.com/datapulse-io/datapulse-engine/pkg/database"
	"github.com/datapulse-io/datapulse-engine/pkg/models"
	"github.com/datapulse-io/datapulse-engine/pkg/repositories"
	"github.com/datapulse-io/datapulse-engine/pkg/workqueue"
)

// Scheduler scans for due workspaces on a fixed tick and enqueues one poll
// task per due workspace. The queue deduplicates by workspace ID, so a
// workspace whose previous poll is still pending or running is skipped.
type Scheduler struct {
	db            *database.DB
	scopes        *database.ScopeProvider
	workspaceRepo repositories.WorkspaceRepository
	pollService   PollService
	queue         *workqueue.Queue
	cfg           config.SchedulerConfig
	logger        *zap.Logger
}

// NewScheduler creates the polling scheduler.
func NewScheduler(
	db *database.DB,
	scopes *database.ScopeProvider,
	workspaceRepo repositories.WorkspaceRepository,
	pollService PollService,
	queue *workqueue.Queue,
	cfg config.SchedulerConfig,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		db:            db,
		scopes:        scopes,
		workspaceRepo: workspaceRepo,
		pollService:   pollService,
		queue:         queue,
		cfg:           cfg,
		logger:        logger.Named("scheduler"),
	}
}

// Run starts the scheduling loop and blocks until ctx is canceled. It runs
// one scan immediately so a restart does not delay overdue polls by a full
// tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		zap.Duration("tick", s.cfg.Tick()),
		zap.Duration("safety_buffer", s.cfg.SafetyBuffer()))

	s.scan(ctx)

	ticker := time.NewTicker(s.cfg.Tick())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

// scan lists pollable workspaces and enqueues the ones that are due. The
// scan runs on an unscoped session because it crosses workspaces.
func (s *Scheduler) scan(ctx context.Context) {
	scope, err := s.db.WithoutWorkspace(ctx)
	if err != nil {
		s.logger.Error("failed to acquire scan session", zap.Error(err))
		return
	}
	defer scope.Close()

	workspaces, err := s.workspaceRepo.ListPollable(database.SetWorkspaceScope(ctx, scope))
	if err != nil {
		s.logger.Error("failed to list pollable workspaces", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	buffer := s.cfg.SafetyBuffer()
	enqueued := 0

	for _, workspace := range workspaces {
		if !workspace.IsDue(now, buffer) {
			continue
		}
		if s.queue.TryEnqueue(s.newPollTask(workspace)) {
			enqueued++
		}
	}

	if enqueued > 0 {
		s.logger.Info("poll tasks enqueued",
			zap.Int("due", enqueued),
			zap.Int("pollable", len(workspaces)))
	}
}

func (s *Scheduler) newPollTask(workspace *models.Workspace) *pollTask {
	return &pollTask{
		workspaceID: workspace.ID,
		name:        "poll " + workspace.Name,
		scopes:      s.scopes,
		pollService: s.pollService,
	}
}

// pollTask runs one workspace poll inside its own scoped data session.
type pollTask struct {
	workspaceID uuid.UUID
	name        string
	scopes      *database.ScopeProvider
	pollService PollService
}

var _ workqueue.Task = (*pollTask)(nil)

func (t *pollTask) ID() string {
	return t.workspaceID.String()
}

func (t *pollTask) Name() string {
	return t.name
}

func (t *pollTask) Execute(ctx context.Context) error {
	scopedCtx, cleanup, err := t.scopes.WithWorkspaceScope(ctx, t.workspaceID)
	if err != nil {
		return err
	}
	defer cleanup()
	return t.pollService.Poll(scopedCtx, t.workspaceID)
}
