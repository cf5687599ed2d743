package handoff

import (
	"sort"

	"substitution-engine/internal/models"
)

// RankWaiting returns the WAITING candidacies ordered by ascending queue
// position. Equal positions fall back to application time, then id, so the
// order is always deterministic. The input slice is left untouched.
func RankWaiting(candidacies []models.Candidacy) []models.Candidacy {
	waiting := make([]models.Candidacy, 0, len(candidacies))
	for _, c := range candidacies {
		if c.Status == models.CandidacyWaiting {
			waiting = append(waiting, c)
		}
	}

	sort.SliceStable(waiting, func(i, j int) bool {
		a, b := waiting[i], waiting[j]
		if a.QueuePosition != b.QueuePosition {
			return a.QueuePosition < b.QueuePosition
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return waiting
}

// NextInLine returns the head of RankWaiting, skipping excluded ids.
func NextInLine(candidacies []models.Candidacy, exclude map[string]bool) (models.Candidacy, bool) {
	for _, c := range RankWaiting(candidacies) {
		if !exclude[c.ID] {
			return c, true
		}
	}
	return models.Candidacy{}, false
}

// NextQueuePosition returns the position a new applicant receives. Positions
// are never reused, so terminal candidacies still count.
func NextQueuePosition(candidacies []models.Candidacy) int {
	max := 0
	for _, c := range candidacies {
		if c.QueuePosition > max {
			max = c.QueuePosition
		}
	}
	return max + 1
}
