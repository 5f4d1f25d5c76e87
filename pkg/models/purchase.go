package models

import "time"

// Purchase is a purchase recorded against a customer id. The id is the one
// the contact resolved to at the time of purchase; a later merge does not
// rewrite it, so reads must aggregate across the whole cluster.
type Purchase struct {
	ID          int64     `json:"id" db:"id"`
	CustomerID  int64     `json:"customer_id" db:"customer_id"`
	Item        string    `json:"item" db:"item"`
	Amount      float64   `json:"amount" db:"amount"`
	PurchasedAt time.Time `json:"purchase_date" db:"purchased_at"`
}

// RecordPurchaseRequest records a purchase for an already-resolved customer
// id, normally the primary id returned by identify.
type RecordPurchaseRequest struct {
	CustomerID int64   `json:"customerId" validate:"required,gt=0"`
	Item       string  `json:"item" validate:"required"`
	Amount     float64 `json:"amount" validate:"required,gt=0"`
}
