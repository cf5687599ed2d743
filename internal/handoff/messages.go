package handoff

import (
	"fmt"
	"time"

	"substitution-engine/internal/models"
)

func postingMetadata(p *models.Posting) map[string]interface{} {
	md := map[string]interface{}{
		"clinicName": p.ClinicName,
		"location":   p.Location,
		"specialty":  p.Specialty,
		"shiftStart": p.ShiftStart.Format(time.RFC3339),
		"shiftEnd":   p.ShiftEnd.Format(time.RFC3339),
	}
	if p.Compensation.AmountCents > 0 {
		md["compensation"] = fmt.Sprintf("%d.%02d %s", p.Compensation.AmountCents/100, p.Compensation.AmountCents%100, p.Compensation.Currency)
	}
	return md
}

// slotOffered tells the new holder they have the slot and when the window closes.
func slotOffered(p *models.Posting, c *models.Candidacy) models.Notification {
	md := postingMetadata(p)
	var deadline *time.Time
	if c.TimerEndsAt != nil {
		d := *c.TimerEndsAt
		deadline = &d
		md["deadline"] = d.Format(time.RFC3339)
	}
	return models.Notification{
		RecipientID:   c.ProfessionalID,
		RecipientType: models.RecipientTypeProfessional,
		Type:          models.NotificationSlotOffered,
		PostingID:     p.ID,
		CandidacyID:   c.ID,
		Urgent:        true,
		Deadline:      deadline,
		DedupeKey:     fmt.Sprintf("%s:%s:%d", models.NotificationSlotOffered, c.ID, deadlineUnix(deadline)),
		Metadata:      md,
	}
}

func slotLost(p *models.Posting, c *models.Candidacy) models.Notification {
	md := postingMetadata(p)
	md["reason"] = c.LostSlotReason
	return models.Notification{
		RecipientID:   c.ProfessionalID,
		RecipientType: models.RecipientTypeProfessional,
		Type:          models.NotificationSlotLost,
		PostingID:     p.ID,
		CandidacyID:   c.ID,
		DedupeKey:     fmt.Sprintf("%s:%s", models.NotificationSlotLost, c.ID),
		Metadata:      md,
	}
}

func slotConfirmed(p *models.Posting, c *models.Candidacy) models.Notification {
	return models.Notification{
		RecipientID:   c.ProfessionalID,
		RecipientType: models.RecipientTypeProfessional,
		Type:          models.NotificationSlotConfirmed,
		PostingID:     p.ID,
		CandidacyID:   c.ID,
		DedupeKey:     fmt.Sprintf("%s:%s", models.NotificationSlotConfirmed, c.ID),
		Metadata:      postingMetadata(p),
	}
}

// queueClosed tells a waiting candidate the posting no longer needs them.
func queueClosed(p *models.Posting, c *models.Candidacy, notificationType string) models.Notification {
	md := postingMetadata(p)
	md["reason"] = c.LostSlotReason
	return models.Notification{
		RecipientID:   c.ProfessionalID,
		RecipientType: models.RecipientTypeProfessional,
		Type:          notificationType,
		PostingID:     p.ID,
		CandidacyID:   c.ID,
		DedupeKey:     fmt.Sprintf("%s:%s", notificationType, c.ID),
		Metadata:      md,
	}
}

func clinicHolderConfirmed(p *models.Posting, c *models.Candidacy) models.Notification {
	md := postingMetadata(p)
	md["professionalId"] = c.ProfessionalID
	return models.Notification{
		RecipientID:   p.ClinicID,
		RecipientType: models.RecipientTypeClinic,
		Type:          models.NotificationHolderConfirmed,
		PostingID:     p.ID,
		CandidacyID:   c.ID,
		DedupeKey:     fmt.Sprintf("%s:%s", models.NotificationHolderConfirmed, p.ID),
		Metadata:      md,
	}
}

func clinicReopened(p *models.Posting) models.Notification {
	return models.Notification{
		RecipientID:   p.ClinicID,
		RecipientType: models.RecipientTypeClinic,
		Type:          models.NotificationPostingReopened,
		PostingID:     p.ID,
		Urgent:        true,
		DedupeKey:     fmt.Sprintf("%s:%s:%d", models.NotificationPostingReopened, p.ID, p.Version),
		Metadata:      postingMetadata(p),
	}
}

func deadlineUnix(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}

func candidacyEvent(eventType, source string, p *models.Posting, c *models.Candidacy) models.HandoffEvent {
	ev := models.HandoffEvent{
		Type:           eventType,
		PostingID:      p.ID,
		CandidacyID:    c.ID,
		ProfessionalID: c.ProfessionalID,
		PostingStatus:  p.Status,
		Reason:         c.LostSlotReason,
		Source:         source,
		Metadata: map[string]interface{}{
			"candidacyStatus": string(c.Status),
			"queuePosition":   c.QueuePosition,
			"postingVersion":  p.Version,
		},
	}
	if c.TimerEndsAt != nil {
		t := *c.TimerEndsAt
		ev.TimerEndsAt = &t
	}
	return ev
}

func postingEvent(eventType, source string, p *models.Posting) models.HandoffEvent {
	return models.HandoffEvent{
		Type:          eventType,
		PostingID:     p.ID,
		PostingStatus: p.Status,
		Source:        source,
		Metadata: map[string]interface{}{
			"clinicId":       p.ClinicID,
			"postingVersion": p.Version,
		},
	}
}
