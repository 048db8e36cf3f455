// Package notify carries outbound notification events and the email
// transport that delivers them.
package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/datapulse-io/datapulse-engine/pkg/models"
)

// RuleViolation is one triggered threshold rule with the value that
// triggered it.
type RuleViolation struct {
	Column    string  `json:"column"`
	Metric    string  `json:"metric"`
	Condition string  `json:"condition"`
	Threshold float64 `json:"threshold"`
	Actual    float64 `json:"actual"`
}

// ThresholdEvent batches every rule that triggered for one upload into a
// single outbound event.
type ThresholdEvent struct {
	WorkspaceID   uuid.UUID
	WorkspaceName string
	UploadID      uuid.UUID
	UploadedAt    time.Time
	Violations    []RuleViolation
	Recipients    []*models.User
}

// SchemaChangeEvent describes structural drift between two consecutive
// uploads of the same type.
type SchemaChangeEvent struct {
	WorkspaceID    uuid.UUID
	WorkspaceName  string
	UploadID       uuid.UUID
	AddedColumns   []string
	RemovedColumns []string
	RowCountBefore int
	RowCountAfter  int
	RowChangePct   float64
	// Narrative is the optional natural-language note from the summarizer.
	// Empty when the summarizer is unconfigured or failed.
	Narrative  string
	Recipients []*models.User
}

// RowCountChanged reports whether the row count moved between uploads.
func (e *SchemaChangeEvent) RowCountChanged() bool {
	return e.RowCountBefore != e.RowCountAfter
}

// ColumnsChanged reports whether the column set changed.
func (e *SchemaChangeEvent) ColumnsChanged() bool {
	return len(e.AddedColumns) > 0 || len(e.RemovedColumns) > 0
}
