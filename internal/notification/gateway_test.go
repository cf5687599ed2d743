// internal/notification/gateway_test.go
package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "substitution-engine/internal/common/errors"
	"substitution-engine/internal/common/logger"
	"substitution-engine/internal/models"
)

// ==========================
// Mock Implementations
// ==========================

type MockSESService struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *MockSESService) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	return m.SendEmailFunc(ctx, params, optFns...)
}

type MockSNSService struct {
	mu        sync.Mutex
	published []*sns.PublishInput
	err       error
}

func (m *MockSNSService) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sns.PublishOutput{}, nil
}

type fakeContacts struct {
	contacts map[string]*models.Contact
	calls    int
	err      error
}

func (f *fakeContacts) GetContact(_ context.Context, recipientType, id string) (*models.Contact, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.contacts[recipientType+"/"+id]
	if !ok {
		return nil, apperrors.NewNotFoundError(recipientType, id)
	}
	return c, nil
}

// ==========================
// Test Helper Functions
// ==========================

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func createTestConfig() Config {
	return Config{
		EmailEnabled:     true,
		FromEmail:        "turnos@example.com",
		SMSEnabled:       true,
		SenderID:         "Turnos",
		WhatsAppEnabled:  true,
		WhatsAppTopicARN: "arn:aws:sns:eu-west-1:000000000000:whatsapp-outbound",
		PushEnabled:      true,
	}
}

func offerNotification() models.Notification {
	deadline := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	return models.Notification{
		RecipientID:   "pro-a",
		RecipientType: models.RecipientTypeProfessional,
		Type:          models.NotificationSlotOffered,
		PostingID:     "p-1",
		CandidacyID:   "c-a",
		Urgent:        true,
		Deadline:      &deadline,
		DedupeKey:     "slot_offered:c-a:1773133200",
		Metadata: map[string]interface{}{
			"clinicName": "Clinica Central",
			"specialty":  "pediatrics",
			"shiftStart": "2026-03-10T14:00:00Z",
		},
	}
}

type gatewayFixture struct {
	gateway  *Gateway
	ses      *MockSESService
	sns      *MockSNSService
	contacts *fakeContacts
	emails   []*ses.SendEmailInput
}

func newGatewayFixture(t *testing.T, cfg Config) *gatewayFixture {
	t.Helper()
	f := &gatewayFixture{
		sns: &MockSNSService{},
		contacts: &fakeContacts{contacts: map[string]*models.Contact{
			"professional/pro-a": {
				ID:              "pro-a",
				Name:            "Ana",
				Email:           "ana@example.com",
				Phone:           "+351910000001",
				WhatsApp:        "+351910000001",
				PushEndpointARN: "arn:aws:sns:eu-west-1:000000000000:endpoint/GCM/app/ana",
			},
			"professional/pro-quiet": {ID: "pro-quiet", Name: "Quiet"},
		}},
	}
	f.ses = &MockSESService{
		SendEmailFunc: func(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			f.emails = append(f.emails, params)
			return &ses.SendEmailOutput{}, nil
		},
	}
	rdb := newRedis(t)
	log := logger.NewTestLogger(t)
	f.gateway = NewGateway(cfg,
		NewDirectory(f.contacts, rdb, time.Minute, log),
		NewDeduper(rdb, time.Hour),
		f.ses, f.sns, log)
	return f
}

// ==========================
// Tests
// ==========================

func TestGateway_SendsOnEveryChannel(t *testing.T) {
	f := newGatewayFixture(t, createTestConfig())

	report, err := f.gateway.Send(context.Background(), offerNotification())
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, report.Status)
	assert.Equal(t, map[string]string{
		models.ChannelEmail:    models.StatusSent,
		models.ChannelSMS:      models.StatusSent,
		models.ChannelWhatsApp: models.StatusSent,
		models.ChannelPush:     models.StatusSent,
	}, report.Channels)

	require.Len(t, f.emails, 1)
	assert.Equal(t, "ana@example.com", f.emails[0].Destination.ToAddresses[0])
	assert.Contains(t, *f.emails[0].Message.Subject.Data, "Clinica Central")
	assert.Contains(t, *f.emails[0].Message.Body.Text.Data, "2026-03-10 09:00 UTC")
	assert.NotContains(t, *f.emails[0].Message.Body.Text.Data, "{{")

	require.Len(t, f.sns.published, 3)
	sms := f.sns.published[0]
	assert.Equal(t, "+351910000001", *sms.PhoneNumber)
	assert.Equal(t, "Transactional", *sms.MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue)
	assert.Equal(t, "Turnos", *sms.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue)

	whatsapp := f.sns.published[1]
	assert.Equal(t, createTestConfig().WhatsAppTopicARN, *whatsapp.TopicArn)
	assert.Equal(t, "+351910000001", *whatsapp.MessageAttributes["recipient"].StringValue)

	push := f.sns.published[2]
	assert.Contains(t, *push.TargetArn, "endpoint/GCM")
}

func TestGateway_DedupeKeySendsOnce(t *testing.T) {
	f := newGatewayFixture(t, createTestConfig())
	n := offerNotification()

	_, err := f.gateway.Send(context.Background(), n)
	require.NoError(t, err)

	report, err := f.gateway.Send(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDuplicate, report.Status)
	assert.Len(t, f.emails, 1)
}

func TestGateway_UnknownRecipientIsDisabled(t *testing.T) {
	f := newGatewayFixture(t, createTestConfig())
	n := offerNotification()
	n.RecipientID = "pro-gone"

	report, err := f.gateway.Send(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisabled, report.Status)
	assert.Empty(t, f.emails)
	assert.Empty(t, f.sns.published)
}

func TestGateway_RecipientWithoutChannels(t *testing.T) {
	f := newGatewayFixture(t, createTestConfig())
	n := offerNotification()
	n.RecipientID = "pro-quiet"

	report, err := f.gateway.Send(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDisabled, report.Status)
}

func TestGateway_PartialFailureStillSucceeds(t *testing.T) {
	f := newGatewayFixture(t, createTestConfig())
	f.sns.err = errors.New("throttled")

	report, err := f.gateway.Send(context.Background(), offerNotification())
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, report.Status)
	assert.Equal(t, models.StatusSent, report.Channels[models.ChannelEmail])
	assert.Equal(t, models.StatusFailed, report.Channels[models.ChannelSMS])
}

func TestGateway_AllChannelsFailed(t *testing.T) {
	cfg := createTestConfig()
	cfg.WhatsAppEnabled = false
	cfg.PushEnabled = false
	f := newGatewayFixture(t, cfg)
	f.sns.err = errors.New("sns down")
	f.ses.SendEmailFunc = func(context.Context, *ses.SendEmailInput, ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
		return nil, errors.New("ses down")
	}
	n := offerNotification()

	_, err := f.gateway.Send(context.Background(), n)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotificationDeliveryFailed))

	// the dedupe claim is released so the next attempt can deliver
	f.sns.err = nil
	f.ses.SendEmailFunc = func(context.Context, *ses.SendEmailInput, ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
		return &ses.SendEmailOutput{}, nil
	}
	report, err := f.gateway.Send(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, report.Status)
}

func TestGateway_UnknownType(t *testing.T) {
	f := newGatewayFixture(t, createTestConfig())
	n := offerNotification()
	n.Type = "birthday"

	err := f.gateway.Notify(context.Background(), n)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
}

func TestGateway_DirectoryFailure(t *testing.T) {
	f := newGatewayFixture(t, createTestConfig())
	f.contacts.err = errors.New("connection refused")

	err := f.gateway.Notify(context.Background(), offerNotification())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotificationDeliveryFailed))
}

func TestGateway_NonUrgentSMSIsPromotional(t *testing.T) {
	cfg := Config{SMSEnabled: true}
	f := newGatewayFixture(t, cfg)
	n := offerNotification()
	n.Type = models.NotificationPostingFilled
	n.Urgent = false
	n.DedupeKey = ""

	_, err := f.gateway.Send(context.Background(), n)
	require.NoError(t, err)
	require.Len(t, f.sns.published, 1)
	assert.Equal(t, "Promotional", *f.sns.published[0].MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue)
	_, hasSender := f.sns.published[0].MessageAttributes["AWS.SNS.SMS.SenderID"]
	assert.False(t, hasSender)
}

func TestGateway_RateLimitHonoursContext(t *testing.T) {
	cfg := Config{SMSEnabled: true, RatePerSecond: 0.001, Burst: 1}
	f := newGatewayFixture(t, cfg)

	n := offerNotification()
	n.DedupeKey = ""
	_, err := f.gateway.Send(context.Background(), n)
	require.NoError(t, err)

	// the bucket is empty; a short deadline fails the only channel
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = f.gateway.Send(ctx, n)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotificationDeliveryFailed))
	assert.Len(t, f.sns.published, 1)
}
