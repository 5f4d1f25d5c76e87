package models

import "time"

// ContactType is the kind of contact fact a customer can be known by
type ContactType string

const (
	// ContactTypeEmail is an email address
	ContactTypeEmail ContactType = "email"
	// ContactTypePhone is a phone number
	ContactTypePhone ContactType = "phone"
)

// Valid reports whether the contact type is one of the supported kinds
func (t ContactType) Valid() bool {
	return t == ContactTypeEmail || t == ContactTypePhone
}

// Contact is a single fact linking a contact method to a customer. The
// (type, value) pair is globally unique: a given email or phone belongs to
// exactly one contact row, ever. CustomerID is the owner at creation time,
// which is not necessarily the current cluster primary.
type Contact struct {
	ID         int64       `json:"id" db:"id"`
	CustomerID int64       `json:"customer_id" db:"customer_id"`
	Type       ContactType `json:"type" db:"type"`
	Value      string      `json:"value" db:"value"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

// ClusterLink records that two customer ids denote the same real-world
// identity. PrimaryID < SecondaryID at creation time (lowest id wins), and
// the set of links forms a forest whose root is the minimum id in each
// cluster.
type ClusterLink struct {
	ID          int64     `json:"id" db:"id"`
	PrimaryID   int64     `json:"primary_id" db:"primary_id"`
	SecondaryID int64     `json:"secondary_id" db:"secondary_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// UpdateContactRequest is the administrative request to correct a stored
// contact fact. It must preserve the global (type, value) uniqueness
// invariant and is not part of the reconciliation path.
type UpdateContactRequest struct {
	Type  ContactType `json:"type" validate:"required,oneof=email phone"`
	Value string      `json:"value" validate:"required"`
}
