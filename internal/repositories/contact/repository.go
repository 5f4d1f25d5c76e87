package contact

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ErrDuplicateContact is returned when a (type, value) pair already exists.
// Concurrent identify calls can race to attach the same new value; the loser
// receives this error and the engine retries its lookup-and-attach step once.
var ErrDuplicateContact = httperror.NewHTTPError(http.StatusConflict, "contact value already attached to a customer")

// Repository handles customer and contact persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new contact repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// FindOwner returns the contact row owning the exact (type, value) pair, or
// nil when the pair is unknown. Unknown is not an error.
func (r *Repository) FindOwner(ctx context.Context, contactType models.ContactType, value string) (*models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.FindOwner")
	defer span.End()

	sb := contactStruct.SelectFrom(contactsTable)
	sb.Where(
		sb.Equal("type", string(contactType)),
		sb.Equal("value", value),
	)

	query, args := sb.Build()

	var row ContactRow
	if err := database.Q(ctx, r.db).GetContext(ctx, &row, query, args...); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to look up contact owner")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to look up contact")
	}

	return ToContact(&row), nil
}

// CreateCustomer allocates a new, never-reused customer id
func (r *Repository) CreateCustomer(ctx context.Context) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.CreateCustomer")
	defer span.End()

	var id int64
	query := "INSERT INTO " + customersTable + " DEFAULT VALUES RETURNING id"
	if err := database.Q(ctx, r.db).GetContext(ctx, &id, query); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create customer")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create customer")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"customer_id": id}).Debug("Created customer")
	return id, nil
}

// Attach inserts a new contact row owned by customerID. The storage layer
// enforces the (type, value) uniqueness invariant; a violation maps to
// ErrDuplicateContact.
func (r *Repository) Attach(ctx context.Context, customerID int64, contactType models.ContactType, value string) (*models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.Attach")
	defer span.End()

	now := Now()
	ib := database.NewInsertBuilder()
	ib.InsertInto(contactsTable)
	ib.Cols("customer_id", "type", "value", "created_at")
	ib.Values(customerID, string(contactType), value, now)
	ib.Returning("id")

	query, args := ib.Build()

	var id int64
	if err := database.Q(ctx, r.db).GetContext(ctx, &id, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrDuplicateContact
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"customer_id": customerID,
			"type":        contactType,
		}).Error("Failed to attach contact")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to attach contact")
	}

	return &models.Contact{
		ID:         id,
		CustomerID: customerID,
		Type:       contactType,
		Value:      value,
		CreatedAt:  now,
	}, nil
}

// ListByCustomers returns all contacts owned by any of the given customer
// ids, in the order first recorded (ascending id).
func (r *Repository) ListByCustomers(ctx context.Context, customerIDs []int64) ([]models.Contact, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.ListByCustomers")
	defer span.End()

	if len(customerIDs) == 0 {
		return nil, nil
	}

	sb := contactStruct.SelectFrom(contactsTable)
	sb.Where(sb.In("customer_id", idsToAny(customerIDs)...))
	sb.OrderBy("id")

	query, args := sb.Build()

	var rows []ContactRow
	if err := database.Q(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list contacts by customers")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list contacts")
	}

	return ToContacts(rows), nil
}

// CustomerExists reports whether a customer id has been allocated
func (r *Repository) CustomerExists(ctx context.Context, customerID int64) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.CustomerExists")
	defer span.End()

	var exists bool
	query := "SELECT EXISTS (SELECT 1 FROM " + customersTable + " WHERE id = $1)"
	if err := database.Q(ctx, r.db).GetContext(ctx, &exists, query, customerID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to check customer existence")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check customer")
	}

	return exists, nil
}

// Update rewrites the (type, value) of an existing contact. This is the
// administrative correction path; it preserves the uniqueness invariant and
// never touches cluster links.
func (r *Repository) Update(ctx context.Context, id int64, contactType models.ContactType, value string) error {
	ctx, span := tracing.StartSpan(ctx, "contact.Repository.Update")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(contactsTable)
	ub.Set(
		ub.Assign("type", string(contactType)),
		ub.Assign("value", value),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()

	result, err := database.Q(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicateContact
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"contact_id": id}).Error("Failed to update contact")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update contact")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, "contact not found")
	}

	return nil
}

func idsToAny(ids []int64) []any {
	result := make([]any, len(ids))
	for i, id := range ids {
		result[i] = id
	}
	return result
}
