// internal/models/event.go
package models

import "time"

// Handoff event types
const (
	EventApplied   = "applied"
	EventPromoted  = "promoted"
	EventLostSlot  = "lost_slot"
	EventDeclined  = "declined"
	EventConfirmed = "confirmed"
	EventReopened  = "reopened"
	EventCancelled = "cancelled"
	EventPublished = "published"
)

// HandoffEvent records one committed transition of a posting or candidacy.
type HandoffEvent struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"type"`
	PostingID      string                 `json:"postingId"`
	CandidacyID    string                 `json:"candidacyId,omitempty"`
	ProfessionalID string                 `json:"professionalId,omitempty"`
	PostingStatus  PostingStatus          `json:"postingStatus,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
	TimerEndsAt    *time.Time             `json:"timerEndsAt,omitempty"`
	Source         string                 `json:"source"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt     time.Time              `json:"occurredAt"`
}
