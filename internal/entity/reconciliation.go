package entity

import (
	"time"

	"github.com/google/uuid"
)

// ReconciliationItem flags a run whose submission went through but whose
// upload could not be archived. It stays open until resolved by hand.
type ReconciliationItem struct {
	ID         int64      `json:"id"`
	RunID      uuid.UUID  `json:"run_id"`
	FileName   string     `json:"file_name"`
	Reason     string     `json:"reason"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
