// internal/models/candidacy.go
package models

import "time"

// CandidacyStatus is the lifecycle state of a professional's place in a posting queue.
type CandidacyStatus string

const (
	CandidacyWaiting   CandidacyStatus = "WAITING"
	CandidacyHolding   CandidacyStatus = "HOLDING"
	CandidacyConfirmed CandidacyStatus = "CONFIRMED"
	CandidacyLostSlot  CandidacyStatus = "LOST_SLOT"
	CandidacyRejected  CandidacyStatus = "REJECTED"
	CandidacyExpired   CandidacyStatus = "EXPIRED"
)

// Reasons recorded in LostSlotReason.
const (
	ReasonTimerExpired    = "did not confirm within the allotted window"
	ReasonDeclined        = "declined the slot"
	ReasonPostingCanceled = "posting cancelled by clinic"
	ReasonPostingFilled   = "posting filled by another professional"
)

func (s CandidacyStatus) IsTerminal() bool {
	switch s {
	case CandidacyConfirmed, CandidacyLostSlot, CandidacyRejected, CandidacyExpired:
		return true
	}
	return false
}

func (s CandidacyStatus) Valid() bool {
	switch s {
	case CandidacyWaiting, CandidacyHolding, CandidacyConfirmed,
		CandidacyLostSlot, CandidacyRejected, CandidacyExpired:
		return true
	}
	return false
}

// Candidacy is a professional's application to a posting. QueuePosition is
// assigned once at creation and never renumbered.
type Candidacy struct {
	ID             string          `json:"id"`
	PostingID      string          `json:"postingId"`
	ProfessionalID string          `json:"professionalId"`
	QueuePosition  int             `json:"queuePosition"`
	Status         CandidacyStatus `json:"status"`
	ChosenAt       *time.Time      `json:"chosenAt,omitempty"`
	TimerStartedAt *time.Time      `json:"timerStartedAt,omitempty"`
	TimerEndsAt    *time.Time      `json:"timerEndsAt,omitempty"`
	ConfirmedAt    *time.Time      `json:"confirmedAt,omitempty"`
	LostSlotReason string          `json:"lostSlotReason,omitempty"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// TimerExpired reports whether the holding window has elapsed at now.
func (c *Candidacy) TimerExpired(now time.Time) bool {
	return c.TimerEndsAt != nil && !c.TimerEndsAt.After(now)
}
