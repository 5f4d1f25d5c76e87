package purchase

import (
	"database/sql"
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

const purchasesTable = "purchases"

// PurchaseRow represents the database row for a purchase
type PurchaseRow struct {
	ID          sql.NullInt64   `db:"id"`
	CustomerID  sql.NullInt64   `db:"customer_id"`
	Item        sql.NullString  `db:"item"`
	Amount      sql.NullFloat64 `db:"amount"`
	PurchasedAt sql.NullTime    `db:"purchased_at"`
}

var purchaseStruct = database.NewStruct(new(PurchaseRow))

// ToPurchase converts a database row to a domain model
func ToPurchase(row *PurchaseRow) *models.Purchase {
	return &models.Purchase{
		ID:          row.ID.Int64,
		CustomerID:  row.CustomerID.Int64,
		Item:        row.Item.String,
		Amount:      row.Amount.Float64,
		PurchasedAt: row.PurchasedAt.Time,
	}
}

// ToPurchases converts a slice of database rows to domain models
func ToPurchases(rows []PurchaseRow) []models.Purchase {
	purchases := make([]models.Purchase, len(rows))
	for i, row := range rows {
		purchases[i] = *ToPurchase(&row)
	}
	return purchases
}

// Now returns the current time in UTC
func Now() time.Time {
	return time.Now().UTC()
}
