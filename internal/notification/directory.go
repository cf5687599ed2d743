// internal/notification/directory.go
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"substitution-engine/internal/common/logger"
	"substitution-engine/internal/models"
)

const contactKeyPrefix = "substitution:contact:"

// ContactSource is the system of record for recipient contact details.
type ContactSource interface {
	GetContact(ctx context.Context, recipientType, id string) (*models.Contact, error)
}

// Directory resolves contacts, caching hits in Redis. A nil cache disables
// caching; cache failures fall through to the source.
type Directory struct {
	source ContactSource
	cache  redis.Cmdable
	ttl    time.Duration
	logger logger.Logger
}

func NewDirectory(source ContactSource, cache redis.Cmdable, ttl time.Duration, log logger.Logger) *Directory {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Directory{source: source, cache: cache, ttl: ttl, logger: log}
}

func contactKey(recipientType, id string) string {
	return contactKeyPrefix + recipientType + ":" + id
}

func (d *Directory) Lookup(ctx context.Context, recipientType, id string) (*models.Contact, error) {
	key := contactKey(recipientType, id)

	if d.cache != nil {
		raw, err := d.cache.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var c models.Contact
			if jsonErr := json.Unmarshal(raw, &c); jsonErr == nil {
				return &c, nil
			}
			d.logger.Warn("discarding unreadable cached contact", map[string]interface{}{"key": key})
		case !errors.Is(err, redis.Nil):
			d.logger.Warn("contact cache read failed", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
	}

	contact, err := d.source.GetContact(ctx, recipientType, id)
	if err != nil {
		return nil, err
	}

	if d.cache != nil {
		if raw, err := json.Marshal(contact); err == nil {
			if err := d.cache.Set(ctx, key, raw, d.ttl).Err(); err != nil {
				d.logger.Warn("contact cache write failed", map[string]interface{}{
					"key":   key,
					"error": err.Error(),
				})
			}
		}
	}
	return contact, nil
}
