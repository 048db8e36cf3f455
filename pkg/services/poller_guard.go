package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datapulse-io/datapulse-engine/pkg/repositories"
	"github.com/datapulse-io/datapulse-engine/pkg/ws"
)

// MaxConsecutiveSoftFailures is the number of counted soft failures that
// escalates to an auto-disable.
const MaxConsecutiveSoftFailures = 3

// PollerGuard is the per-workspace circuit breaker. It records fetch and
// parse outcomes and enforces the disable policy: hard failures kill the
// poller immediately, soft failures kill it after three in a row. A
// disabled workspace never self-heals; the owner must re-enable polling
// explicitly.
type PollerGuard interface {
	// ReportSuccess resets the failure counter and advances last_polled_at.
	ReportSuccess(ctx context.Context, workspaceID uuid.UUID) error
	// ReportFailure records a classified failure and applies the disable
	// policy. Returns true when the workspace was disabled by this report.
	ReportFailure(ctx context.Context, workspaceID uuid.UUID, failure *PollFailure) (bool, error)
}

type pollerGuard struct {
	workspaceRepo repositories.WorkspaceRepository
	hub           *ws.Hub
	logger        *zap.Logger
}

// NewPollerGuard creates the circuit breaker service.
func NewPollerGuard(workspaceRepo repositories.WorkspaceRepository, hub *ws.Hub, logger *zap.Logger) PollerGuard {
	return &pollerGuard{
		workspaceRepo: workspaceRepo,
		hub:           hub,
		logger:        logger.Named("poller-guard"),
	}
}

var _ PollerGuard = (*pollerGuard)(nil)

func (g *pollerGuard) ReportSuccess(ctx context.Context, workspaceID uuid.UUID) error {
	return g.workspaceRepo.RecordPollSuccess(ctx, workspaceID, time.Now().UTC())
}

func (g *pollerGuard) ReportFailure(ctx context.Context, workspaceID uuid.UUID, failure *PollFailure) (bool, error) {
	now := time.Now().UTC()

	switch failure.Class {
	case FailureHard:
		if err := g.workspaceRepo.DisablePolling(ctx, workspaceID, failure.Reason, now); err != nil {
			return false, err
		}
		g.logger.Warn("polling disabled after hard failure",
			zap.String("workspace_id", workspaceID.String()),
			zap.String("reason", failure.Reason),
			zap.Error(failure.Err))
		g.emitDisabled(ctx, workspaceID, failure.Reason)
		return true, nil

	default:
		count, err := g.workspaceRepo.RecordSoftFailure(ctx, workspaceID, failure.Reason, now)
		if err != nil {
			return false, err
		}

		if count >= MaxConsecutiveSoftFailures {
			if err := g.workspaceRepo.DisablePolling(ctx, workspaceID, failure.Reason, now); err != nil {
				return false, err
			}
			g.logger.Warn("polling disabled after repeated soft failures",
				zap.String("workspace_id", workspaceID.String()),
				zap.Int("failure_count", count),
				zap.String("reason", failure.Reason))
			g.emitDisabled(ctx, workspaceID, failure.Reason)
			return true, nil
		}

		g.logger.Info("soft failure recorded",
			zap.String("workspace_id", workspaceID.String()),
			zap.Int("failure_count", count),
			zap.String("reason", failure.Reason))
		g.emitFailure(ctx, workspaceID, failure.Reason, count)
		return false, nil
	}
}

// emitFailure tells live watchers about a tolerated failure. Fire-and-forget.
func (g *pollerGuard) emitFailure(ctx context.Context, workspaceID uuid.UUID, reason string, count int) {
	g.hub.BroadcastToWorkspace(ctx, workspaceID, &ws.Event{
		Type: ws.EventPollError,
		Payload: map[string]any{
			"reason":        reason,
			"failure_count": count,
		},
	})
}

// emitDisabled tells live watchers the poller was killed. Fire-and-forget.
func (g *pollerGuard) emitDisabled(ctx context.Context, workspaceID uuid.UUID, reason string) {
	g.hub.BroadcastToWorkspace(ctx, workspaceID, &ws.Event{
		Type: ws.EventPollerKilled,
		Payload: map[string]any{
			"reason": reason,
		},
	})
}
