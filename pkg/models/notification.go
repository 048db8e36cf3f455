package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification is a message delivered to one user. When IdempotencyKey is
// set, its existence for a workspace is the durable record that a given
// upload's alert rules were already evaluated and acted upon.
type Notification struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	WorkspaceID    *uuid.UUID `json:"workspace_id,omitempty"`
	Message        string     `json:"message"`
	IdempotencyKey *string    `json:"idempotency_key,omitempty"`
	IsRead         bool       `json:"is_read"`
	CreatedAt      time.Time  `json:"created_at"`
}

// AlertFingerprint derives the idempotency key for alert evaluation of one
// upload within one workspace.
func AlertFingerprint(uploadID, workspaceID uuid.UUID) string {
	return "alerts:" + uploadID.String() + ":" + workspaceID.String()
}

// SchemaChangeFingerprint derives the idempotency key for the structural
// change notifications of one upload within one workspace.
func SchemaChangeFingerprint(uploadID, workspaceID uuid.UUID) string {
	return "schema:" + uploadID.String() + ":" + workspaceID.String()
}
