// internal/models/transitions.go
package models

import (
	apperrors "substitution-engine/internal/common/errors"
)

var postingTransitions = map[PostingStatus][]PostingStatus{
	PostingDraft:       {PostingOpen, PostingCancelled},
	PostingOpen:        {PostingInSelection, PostingCancelled},
	PostingInSelection: {PostingInSelection, PostingOpen, PostingConfirmed, PostingCancelled},
}

var candidacyTransitions = map[CandidacyStatus][]CandidacyStatus{
	CandidacyWaiting: {CandidacyHolding, CandidacyExpired},
	CandidacyHolding: {CandidacyConfirmed, CandidacyLostSlot, CandidacyRejected},
}

// ValidatePostingTransition rejects any move not listed in the posting state machine.
func ValidatePostingTransition(from, to PostingStatus) error {
	for _, allowed := range postingTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return apperrors.NewIllegalTransitionError("posting", string(from), string(to))
}

// ValidateCandidacyTransition rejects any move not listed in the candidacy state machine.
func ValidateCandidacyTransition(from, to CandidacyStatus) error {
	for _, allowed := range candidacyTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return apperrors.NewIllegalTransitionError("candidacy", string(from), string(to))
}
