// internal/models/notification.go
package models

import "time"

// Notification types sent by the handoff engine.
const (
	NotificationSlotOffered      = "slot_offered"
	NotificationSlotLost         = "slot_lost"
	NotificationSlotConfirmed    = "slot_confirmed"
	NotificationPostingFilled    = "posting_filled"
	NotificationPostingCancelled = "posting_cancelled"
	NotificationPostingReopened  = "posting_reopened"
	NotificationHolderConfirmed  = "holder_confirmed"
)

// Recipient types
const (
	RecipientTypeProfessional = "professional"
	RecipientTypeClinic       = "clinic"
)

// Channels
const (
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
	ChannelPush     = "push"
)

// Delivery statuses
const (
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusDisabled  = "disabled"
	StatusDuplicate = "duplicate"
)

// Notification is the payload handed to the notification gateway.
// DedupeKey identifies a logical message so a re-sweep never sends it twice.
type Notification struct {
	ID            string                 `json:"id"`
	RecipientID   string                 `json:"recipientId"`
	RecipientType string                 `json:"recipientType"`
	Type          string                 `json:"type"`
	PostingID     string                 `json:"postingId"`
	CandidacyID   string                 `json:"candidacyId,omitempty"`
	Urgent        bool                   `json:"urgent"`
	Deadline      *time.Time             `json:"deadline,omitempty"`
	DedupeKey     string                 `json:"dedupeKey,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
}

// Contact is the resolved delivery information of a recipient.
type Contact struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email,omitempty"`
	Phone           string `json:"phone,omitempty"`
	WhatsApp        string `json:"whatsapp,omitempty"`
	PushEndpointARN string `json:"pushEndpointArn,omitempty"`
	Locale          string `json:"locale,omitempty"`
}

// DeliveryReport summarises one gateway send across channels.
type DeliveryReport struct {
	NotificationID string            `json:"notificationId"`
	Status         string            `json:"status"`
	Channels       map[string]string `json:"channels"`
	SentAt         string            `json:"sentAt"`
}

type NotificationTemplate struct {
	Type    string `json:"type"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Short   string `json:"short"`
}
