// internal/models/posting.go
package models

import "time"

// PostingStatus is the lifecycle state of an urgent substitution posting.
type PostingStatus string

const (
	PostingDraft       PostingStatus = "DRAFT"
	PostingOpen        PostingStatus = "OPEN"
	PostingInSelection PostingStatus = "EM_SELECAO"
	PostingConfirmed   PostingStatus = "CONFIRMADA"
	PostingCancelled   PostingStatus = "CANCELADA"
)

// IsTerminal reports whether no further transition is allowed.
func (s PostingStatus) IsTerminal() bool {
	return s == PostingConfirmed || s == PostingCancelled
}

func (s PostingStatus) Valid() bool {
	switch s {
	case PostingDraft, PostingOpen, PostingInSelection, PostingConfirmed, PostingCancelled:
		return true
	}
	return false
}

type Compensation struct {
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
	Terms       string `json:"terms,omitempty"`
}

// Posting is an urgent shift-substitution opportunity published by a clinic.
// ChosenCandidateID holds the professional id of the current holder. It is
// set while Status is EM_SELECAO, kept on CONFIRMADA as the record of who
// took the shift, and nil otherwise.
type Posting struct {
	ID                         string        `json:"id"`
	ClinicID                   string        `json:"clinicId"`
	ClinicName                 string        `json:"clinicName"`
	Location                   string        `json:"location"`
	Specialty                  string        `json:"specialty"`
	ShiftStart                 time.Time     `json:"shiftStart"`
	ShiftEnd                   time.Time     `json:"shiftEnd"`
	Compensation               Compensation  `json:"compensation"`
	Status                     PostingStatus `json:"status"`
	ChosenCandidateID          *string       `json:"chosenCandidateId,omitempty"`
	ChosenAt                   *time.Time    `json:"chosenAt,omitempty"`
	ConfirmationTimerExpiresAt *time.Time    `json:"confirmationTimerExpiresAt,omitempty"`
	ConfirmedAt                *time.Time    `json:"confirmedAt,omitempty"`
	Version                    int64         `json:"version"`
	CreatedAt                  time.Time     `json:"createdAt"`
	UpdatedAt                  time.Time     `json:"updatedAt"`
}

// TimerExpired reports whether the confirmation timer is set and not after now.
func (p *Posting) TimerExpired(now time.Time) bool {
	return p.ConfirmationTimerExpiresAt != nil && !p.ConfirmationTimerExpiresAt.After(now)
}

// HasHolder reports whether the posting currently points at a holder.
func (p *Posting) HasHolder() bool {
	return p.ChosenCandidateID != nil
}

// ClearHolder drops the holder pointer and the timer.
func (p *Posting) ClearHolder() {
	p.ChosenCandidateID = nil
	p.ChosenAt = nil
	p.ConfirmationTimerExpiresAt = nil
}
