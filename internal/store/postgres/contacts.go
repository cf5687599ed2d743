// internal/store/postgres/contacts.go
package postgres

import (
	"context"
	"database/sql"
	"errors"

	apperrors "substitution-engine/internal/common/errors"
	"substitution-engine/internal/models"
)

const (
	queryProfessionalContact = `SELECT id, name, COALESCE(email, ''), COALESCE(phone, ''),
		COALESCE(whatsapp, ''), COALESCE(push_endpoint_arn, ''), locale
		FROM professionals WHERE id = $1`

	queryClinicContact = `SELECT id, name, COALESCE(email, ''), COALESCE(phone, ''),
		'', '', locale
		FROM clinics WHERE id = $1`
)

// ContactStore resolves delivery details for professionals and clinics.
type ContactStore struct {
	db *sql.DB
}

func NewContactStore(db *sql.DB) *ContactStore {
	return &ContactStore{db: db}
}

func (s *ContactStore) GetContact(ctx context.Context, recipientType, id string) (*models.Contact, error) {
	query := queryProfessionalContact
	switch recipientType {
	case models.RecipientTypeProfessional:
	case models.RecipientTypeClinic:
		query = queryClinicContact
	default:
		return nil, apperrors.NewInvalidInputError("unknown recipient type " + recipientType)
	}

	var c models.Contact
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Email, &c.Phone, &c.WhatsApp, &c.PushEndpointARN, &c.Locale,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(recipientType, id)
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("get contact", err)
	}
	return &c, nil
}
