package contact

import (
	"database/sql"
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	contactsTable  = "contacts"
	customersTable = "customers"
)

// ContactRow represents the database row for a contact
type ContactRow struct {
	ID         sql.NullInt64  `db:"id"`
	CustomerID sql.NullInt64  `db:"customer_id"`
	Type       sql.NullString `db:"type"`
	Value      sql.NullString `db:"value"`
	CreatedAt  sql.NullTime   `db:"created_at"`
}

var contactStruct = database.NewStruct(new(ContactRow))

// ToContact converts a database row to a domain model
func ToContact(row *ContactRow) *models.Contact {
	return &models.Contact{
		ID:         row.ID.Int64,
		CustomerID: row.CustomerID.Int64,
		Type:       models.ContactType(row.Type.String),
		Value:      row.Value.String,
		CreatedAt:  row.CreatedAt.Time,
	}
}

// ToContacts converts a slice of database rows to domain models
func ToContacts(rows []ContactRow) []models.Contact {
	contacts := make([]models.Contact, len(rows))
	for i, row := range rows {
		contacts[i] = *ToContact(&row)
	}
	return contacts
}

// Now returns the current time in UTC
func Now() time.Time {
	return time.Now().UTC()
}
