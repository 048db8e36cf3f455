// Package ws delivers live pipeline events to connected clients.
package ws

import (
	"github.com/google/uuid"
)

// Event types pushed to live clients.
const (
	EventPollComplete  = "poll_complete"
	EventPollError     = "poll_error"
	EventSchemaChange  = "schema_change"
	EventAlertTrigger  = "alert_triggered"
	EventNotification  = "notification"
	EventPollerKilled  = "poller_disabled"
	EventUploadCreated = "upload_created"
)

// Event is one message pushed over a live channel. Payload keys vary by
// type; clients switch on Type.
type Event struct {
	Type        string         `json:"type"`
	WorkspaceID *uuid.UUID     `json:"workspace_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}
