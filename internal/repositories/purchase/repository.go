package purchase

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Repository handles purchase persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new purchase repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create records a purchase against a customer id
func (r *Repository) Create(ctx context.Context, customerID int64, item string, amount float64) (*models.Purchase, error) {
	ctx, span := tracing.StartSpan(ctx, "purchase.Repository.Create")
	defer span.End()

	now := Now()
	ib := database.NewInsertBuilder()
	ib.InsertInto(purchasesTable)
	ib.Cols("customer_id", "item", "amount", "purchased_at")
	ib.Values(customerID, item, amount, now)
	ib.Returning("id")

	query, args := ib.Build()

	var id int64
	if err := database.Q(ctx, r.db).GetContext(ctx, &id, query, args...); err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "customer not found")
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"customer_id": customerID}).Error("Failed to record purchase")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to record purchase")
	}

	return &models.Purchase{
		ID:          id,
		CustomerID:  customerID,
		Item:        item,
		Amount:      amount,
		PurchasedAt: now,
	}, nil
}

// ListByCustomers returns every purchase recorded against any of the given
// customer ids, most recent first, ties broken by insertion order.
func (r *Repository) ListByCustomers(ctx context.Context, customerIDs []int64) ([]models.Purchase, error) {
	ctx, span := tracing.StartSpan(ctx, "purchase.Repository.ListByCustomers")
	defer span.End()

	if len(customerIDs) == 0 {
		return nil, nil
	}

	sb := purchaseStruct.SelectFrom(purchasesTable)
	sb.Where(sb.In("customer_id", idsToAny(customerIDs)...))
	sb.OrderBy("purchased_at DESC", "id ASC")

	query, args := sb.Build()

	var rows []PurchaseRow
	if err := database.Q(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list purchases by customers")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list purchases")
	}

	return ToPurchases(rows), nil
}

func idsToAny(ids []int64) []any {
	result := make([]any, len(ids))
	for i, id := range ids {
		result[i] = id
	}
	return result
}
