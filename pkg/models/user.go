// Package models contains domain types for datapulse-engine.
package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents an account that owns workspaces or belongs to them as a
// team member. Credential handling lives in the identity layer; the engine
// only needs the identity and the email address for alert delivery.
type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}
