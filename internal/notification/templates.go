// internal/notification/templates.go
package notification

import (
	"fmt"
	"strings"

	"substitution-engine/internal/models"
)

// DefaultTemplates returns the message catalogue keyed by notification type.
// Short is used for SMS, WhatsApp and push; Subject and Body for email.
func DefaultTemplates() map[string]models.NotificationTemplate {
	return map[string]models.NotificationTemplate{
		models.NotificationSlotOffered: {
			Type:    models.NotificationSlotOffered,
			Subject: "Urgent: the {{specialty}} shift at {{clinicName}} is yours to confirm",
			Body: "Hello {{name}},\n\nYou are next in line for the {{specialty}} shift at {{clinicName}} ({{location}}), " +
				"starting {{shiftStart}}. Compensation: {{compensation}}.\n\n" +
				"Please confirm or decline before {{deadline}}. After that the slot passes to the next candidate.",
			Short: "{{clinicName}}: the {{specialty}} shift on {{shiftStart}} is yours. Confirm before {{deadline}}.",
		},
		models.NotificationSlotLost: {
			Type:    models.NotificationSlotLost,
			Subject: "Your hold on the {{clinicName}} shift has ended",
			Body: "Hello {{name}},\n\nYour exclusive window for the {{specialty}} shift at {{clinicName}} " +
				"has ended ({{reason}}). The slot has been offered to the next candidate.",
			Short: "{{clinicName}}: your hold on the {{shiftStart}} shift has ended ({{reason}}).",
		},
		models.NotificationSlotConfirmed: {
			Type:    models.NotificationSlotConfirmed,
			Subject: "Confirmed: {{specialty}} shift at {{clinicName}}",
			Body: "Hello {{name}},\n\nYou are confirmed for the {{specialty}} shift at {{clinicName}} ({{location}}), " +
				"from {{shiftStart}} to {{shiftEnd}}.",
			Short: "Confirmed: {{clinicName}} shift on {{shiftStart}}.",
		},
		models.NotificationPostingFilled: {
			Type:    models.NotificationPostingFilled,
			Subject: "The {{clinicName}} shift has been filled",
			Body: "Hello {{name}},\n\nThe {{specialty}} shift at {{clinicName}} on {{shiftStart}} has been filled. " +
				"Thank you for applying.",
			Short: "{{clinicName}}: the {{shiftStart}} shift has been filled.",
		},
		models.NotificationPostingCancelled: {
			Type:    models.NotificationPostingCancelled,
			Subject: "The {{clinicName}} shift was cancelled",
			Body:    "Hello {{name}},\n\n{{clinicName}} cancelled the {{specialty}} shift on {{shiftStart}}.",
			Short:   "{{clinicName}} cancelled the {{shiftStart}} shift.",
		},
		models.NotificationPostingReopened: {
			Type:    models.NotificationPostingReopened,
			Subject: "No candidate confirmed your {{specialty}} shift",
			Body: "Hello {{name}},\n\nEvery candidate for the {{specialty}} shift on {{shiftStart}} declined or let " +
				"their window lapse. The posting is open again for new applications.",
			Short: "Your {{shiftStart}} shift is open again: no candidate confirmed.",
		},
		models.NotificationHolderConfirmed: {
			Type:    models.NotificationHolderConfirmed,
			Subject: "Your {{specialty}} shift is covered",
			Body:    "Hello {{name}},\n\nProfessional {{professionalId}} confirmed the {{specialty}} shift on {{shiftStart}}.",
			Short:   "Your {{shiftStart}} shift is covered.",
		},
	}
}

type rendered struct {
	Subject string
	Body    string
	Short   string
}

func render(tmpl models.NotificationTemplate, data map[string]interface{}) rendered {
	return rendered{
		Subject: renderTemplate(tmpl.Subject, data),
		Body:    renderTemplate(tmpl.Body, data),
		Short:   renderTemplate(tmpl.Short, data),
	}
}

// renderTemplate replaces {{key}} placeholders and drops unknown ones.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	result := tmpl

	for k, v := range data {
		placeholder := "{{" + k + "}}"
		if !strings.Contains(result, placeholder) {
			continue
		}
		value := ""
		switch t := v.(type) {
		case string:
			value = t
		case int:
			value = fmt.Sprintf("%d", t)
		case nil:
		default:
			value = fmt.Sprintf("%v", t)
		}
		result = strings.ReplaceAll(result, placeholder, value)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		end += start + 2
		result = result[:start] + result[end:]
	}

	return result
}
