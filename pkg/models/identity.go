package models

// IdentifyRequest carries the contact facts to reconcile. At least one of
// email or phone number must be present.
type IdentifyRequest struct {
	Email       string `json:"email" validate:"omitempty,email"`
	PhoneNumber string `json:"phoneNumber" validate:"omitempty"`
}

// UnifiedIdentity is the resolved view of a customer identity cluster:
// the canonical primary id, every contact fact known for any member, and
// the ids the primary has subsumed.
type UnifiedIdentity struct {
	PrimaryID    int64    `json:"primaryContactId"`
	Emails       []string `json:"emails"`
	PhoneNumbers []string `json:"phoneNumbers"`
	SecondaryIDs []int64  `json:"secondaryContactIds"`
}
