// internal/notification/gateway.go
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	apperrors "substitution-engine/internal/common/errors"
	"substitution-engine/internal/common/logger"
	"substitution-engine/internal/common/metrics"
	"substitution-engine/internal/handoff"
	"substitution-engine/internal/models"
)

// Define interfaces for mocking
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config selects channels and throttling for the gateway.
type Config struct {
	EmailEnabled     bool
	FromEmail        string
	SMSEnabled       bool
	SenderID         string
	WhatsAppEnabled  bool
	WhatsAppTopicARN string
	PushEnabled      bool
	// RatePerSecond bounds SNS publishes across all channels. Zero disables the limit.
	RatePerSecond float64
	Burst         int
}

// Gateway delivers handoff notifications over email, SMS, WhatsApp and push.
type Gateway struct {
	config    Config
	directory *Directory
	deduper   *Deduper
	ses       SESService
	sns       SNSService
	templates map[string]models.NotificationTemplate
	limiter   *rate.Limiter
	logger    logger.Logger
}

var _ handoff.Notifier = (*Gateway)(nil)

func NewGateway(cfg Config, directory *Directory, deduper *Deduper, sesClient SESService, snsClient SNSService, log logger.Logger) *Gateway {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Gateway{
		config:    cfg,
		directory: directory,
		deduper:   deduper,
		ses:       sesClient,
		sns:       snsClient,
		templates: DefaultTemplates(),
		limiter:   limiter,
		logger:    log.WithFields(map[string]interface{}{"component": "notification-gateway"}),
	}
}

// Notify implements handoff.Notifier.
func (g *Gateway) Notify(ctx context.Context, n models.Notification) error {
	_, err := g.Send(ctx, n)
	return err
}

// Send delivers n on every enabled channel the recipient has. An unknown
// recipient or a recipient without channels is reported as disabled, not as
// an error. The call fails only when every attempted channel failed.
func (g *Gateway) Send(ctx context.Context, n models.Notification) (*models.DeliveryReport, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	report := &models.DeliveryReport{
		NotificationID: n.ID,
		Channels:       map[string]string{},
		SentAt:         time.Now().UTC().Format(time.RFC3339),
	}

	first, err := g.deduper.Claim(ctx, n.DedupeKey)
	if err != nil {
		// send anyway: a duplicate beats a missed offer
		g.logger.Warn("dedupe check failed", map[string]interface{}{
			"dedupeKey": n.DedupeKey,
			"error":     err.Error(),
		})
	} else if !first {
		report.Status = models.StatusDuplicate
		metrics.NotificationsTotal.WithLabelValues("all", models.StatusDuplicate).Inc()
		g.logger.Debug("notification already sent", map[string]interface{}{
			"dedupeKey": n.DedupeKey,
			"type":      n.Type,
		})
		return report, nil
	}

	tmpl, ok := g.templates[n.Type]
	if !ok {
		g.release(ctx, n.DedupeKey)
		return nil, apperrors.NewInvalidInputError("no template for notification type " + n.Type)
	}

	contact, err := g.directory.Lookup(ctx, n.RecipientType, n.RecipientID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			g.logger.Warn("recipient not found", map[string]interface{}{
				"recipientId":   n.RecipientID,
				"recipientType": n.RecipientType,
				"type":          n.Type,
			})
			report.Status = models.StatusDisabled
			metrics.NotificationsTotal.WithLabelValues("all", models.StatusDisabled).Inc()
			return report, nil
		}
		g.release(ctx, n.DedupeKey)
		return nil, apperrors.NewNotificationDeliveryError("directory", err)
	}

	msg := render(tmpl, templateData(n, contact))

	var (
		attempted int
		failures  []string
		errs      []error
	)
	deliver := func(channel string, send func() error) {
		attempted++
		if err := send(); err != nil {
			report.Channels[channel] = models.StatusFailed
			failures = append(failures, channel)
			errs = append(errs, fmt.Errorf("%s: %w", channel, err))
			metrics.NotificationsTotal.WithLabelValues(channel, models.StatusFailed).Inc()
			g.logger.Error("notification channel failed", map[string]interface{}{
				"channel":     channel,
				"type":        n.Type,
				"recipientId": n.RecipientID,
				"error":       err.Error(),
			})
			return
		}
		report.Channels[channel] = models.StatusSent
		metrics.NotificationsTotal.WithLabelValues(channel, models.StatusSent).Inc()
	}

	if g.config.EmailEnabled && g.ses != nil && contact.Email != "" {
		deliver(models.ChannelEmail, func() error { return g.sendEmail(ctx, contact.Email, msg.Subject, msg.Body) })
	}
	if g.config.SMSEnabled && g.sns != nil && contact.Phone != "" {
		deliver(models.ChannelSMS, func() error { return g.sendSMS(ctx, contact.Phone, msg.Short, n.Urgent) })
	}
	if g.config.WhatsAppEnabled && g.sns != nil && contact.WhatsApp != "" {
		deliver(models.ChannelWhatsApp, func() error { return g.sendWhatsApp(ctx, contact.WhatsApp, msg.Short, n) })
	}
	if g.config.PushEnabled && g.sns != nil && contact.PushEndpointARN != "" {
		deliver(models.ChannelPush, func() error { return g.sendPush(ctx, contact.PushEndpointARN, msg.Subject, msg.Short) })
	}

	switch {
	case attempted == 0:
		report.Status = models.StatusDisabled
		metrics.NotificationsTotal.WithLabelValues("all", models.StatusDisabled).Inc()
		g.logger.Warn("recipient has no enabled channel", map[string]interface{}{
			"recipientId": n.RecipientID,
			"type":        n.Type,
		})
		return report, nil
	case len(failures) == attempted:
		report.Status = models.StatusFailed
		g.release(ctx, n.DedupeKey)
		return report, apperrors.NewNotificationDeliveryError(strings.Join(failures, ","), errors.Join(errs...))
	}

	report.Status = models.StatusSent
	g.logger.Info("notification sent", map[string]interface{}{
		"notificationId": n.ID,
		"type":           n.Type,
		"recipientId":    n.RecipientID,
		"channels":       report.Channels,
	})
	return report, nil
}

func (g *Gateway) release(ctx context.Context, key string) {
	if err := g.deduper.Release(ctx, key); err != nil {
		g.logger.Warn("dedupe release failed", map[string]interface{}{
			"dedupeKey": key,
			"error":     err.Error(),
		})
	}
}

func templateData(n models.Notification, c *models.Contact) map[string]interface{} {
	data := make(map[string]interface{}, len(n.Metadata)+3)
	for k, v := range n.Metadata {
		data[k] = v
	}
	data["name"] = c.Name
	data["postingId"] = n.PostingID
	if n.Deadline != nil {
		data["deadline"] = n.Deadline.UTC().Format("2006-01-02 15:04 MST")
	}
	return data
}

func (g *Gateway) sendEmail(ctx context.Context, to, subject, body string) error {
	_, err := g.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &sestypes.Destination{
			ToAddresses: []string{to},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(g.config.FromEmail),
	})
	return err
}

func (g *Gateway) sendSMS(ctx context.Context, to, message string, urgent bool) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	smsType := "Promotional"
	if urgent {
		smsType = "Transactional"
	}
	attrs := map[string]snstypes.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String(smsType)},
	}
	if g.config.SenderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = snstypes.MessageAttributeValue{
			DataType: aws.String("String"), StringValue: aws.String(g.config.SenderID),
		}
	}
	_, err := g.sns.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(to),
		Message:           aws.String(message),
		MessageAttributes: attrs,
	})
	return err
}

// WhatsApp goes through an SNS topic consumed by the messaging provider bridge.
func (g *Gateway) sendWhatsApp(ctx context.Context, to, message string, n models.Notification) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := g.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(g.config.WhatsAppTopicARN),
		Message:  aws.String(message),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"recipient":        {DataType: aws.String("String"), StringValue: aws.String(to)},
			"notificationType": {DataType: aws.String("String"), StringValue: aws.String(n.Type)},
			"postingId":        {DataType: aws.String("String"), StringValue: aws.String(n.PostingID)},
		},
	})
	return err
}

func (g *Gateway) sendPush(ctx context.Context, endpointARN, title, message string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := g.sns.Publish(ctx, &sns.PublishInput{
		TargetArn: aws.String(endpointARN),
		Subject:   aws.String(title),
		Message:   aws.String(message),
	})
	return err
}
