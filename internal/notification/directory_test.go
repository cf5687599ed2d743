// internal/notification/directory_test.go
package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"substitution-engine/internal/common/logger"
	"substitution-engine/internal/models"
)

func TestDirectory_CachesContacts(t *testing.T) {
	source := &fakeContacts{contacts: map[string]*models.Contact{
		"clinic/clinic-1": {ID: "clinic-1", Name: "Clinica Central", Email: "ops@central.example"},
	}}
	dir := NewDirectory(source, newRedis(t), time.Minute, logger.NewTestLogger(t))
	ctx := context.Background()

	first, err := dir.Lookup(ctx, models.RecipientTypeClinic, "clinic-1")
	require.NoError(t, err)
	second, err := dir.Lookup(ctx, models.RecipientTypeClinic, "clinic-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, source.calls)
}

func TestDirectory_CacheFailureFallsThrough(t *testing.T) {
	db, mock := redismock.NewClientMock()
	source := &fakeContacts{contacts: map[string]*models.Contact{
		"professional/pro-a": {ID: "pro-a", Name: "Ana"},
	}}
	dir := NewDirectory(source, db, time.Minute, logger.NewTestLogger(t))

	key := contactKey(models.RecipientTypeProfessional, "pro-a")
	mock.ExpectGet(key).SetErr(errors.New("redis: connection pool timeout"))
	// the write-back is unexpected by the mock and fails too; Lookup still succeeds

	c, err := dir.Lookup(context.Background(), models.RecipientTypeProfessional, "pro-a")
	require.NoError(t, err)
	assert.Equal(t, "Ana", c.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_WithoutCache(t *testing.T) {
	source := &fakeContacts{contacts: map[string]*models.Contact{
		"professional/pro-a": {ID: "pro-a"},
	}}
	dir := NewDirectory(source, nil, 0, nil)

	_, err := dir.Lookup(context.Background(), models.RecipientTypeProfessional, "pro-a")
	require.NoError(t, err)
	_, err = dir.Lookup(context.Background(), models.RecipientTypeProfessional, "pro-a")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

func TestDeduper(t *testing.T) {
	d := NewDeduper(newRedis(t), time.Hour)
	ctx := context.Background()

	ok, err := d.Claim(ctx, "slot_lost:c-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Claim(ctx, "slot_lost:c-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Release(ctx, "slot_lost:c-1"))
	ok, err = d.Claim(ctx, "slot_lost:c-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// empty keys are never deduplicated
	ok, err = d.Claim(ctx, "")
	require.NoError(t, err)
	assert.True(t, ok)

	var disabled *Deduper
	ok, err = disabled.Claim(ctx, "anything")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name     string
		tmpl     string
		data     map[string]interface{}
		expected string
	}{
		{"replaces known keys", "Hi {{name}}, shift at {{clinicName}}", map[string]interface{}{"name": "Ana", "clinicName": "Central"}, "Hi Ana, shift at Central"},
		{"drops missing keys", "Pay: {{compensation}}.", map[string]interface{}{}, "Pay: ."},
		{"formats numbers", "Position {{pos}}", map[string]interface{}{"pos": 3}, "Position 3"},
		{"nil becomes empty", "[{{reason}}]", map[string]interface{}{"reason": nil}, "[]"},
		{"unterminated placeholder is kept", "broken {{name", map[string]interface{}{}, "broken {{name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, renderTemplate(tt.tmpl, tt.data))
		})
	}
}

func TestDefaultTemplates_CoverEveryType(t *testing.T) {
	templates := DefaultTemplates()
	for _, typ := range []string{
		models.NotificationSlotOffered,
		models.NotificationSlotLost,
		models.NotificationSlotConfirmed,
		models.NotificationPostingFilled,
		models.NotificationPostingCancelled,
		models.NotificationPostingReopened,
		models.NotificationHolderConfirmed,
	} {
		tmpl, ok := templates[typ]
		require.True(t, ok, typ)
		assert.NotEmpty(t, tmpl.Subject, typ)
		assert.NotEmpty(t, tmpl.Body, typ)
		assert.NotEmpty(t, tmpl.Short, typ)
	}
}
