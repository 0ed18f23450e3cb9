package models

import "time"

// FactorKindPhone is the only second-factor kind this service acts
// on; every other kind is ignored during factor matching.
const FactorKindPhone = "phone"

// Account is a directory record looked up by normalized email. This
// service only reads accounts; enrollment and credential storage
// belong to the identity provider.
type Account struct {
	AccountID string      `db:"account_id"`
	Email     string      `db:"email"`
	Disabled  bool        `db:"disabled"`
	CreatedAt time.Time   `db:"created_at"`
	UpdatedAt time.Time   `db:"updated_at"`
	Factors   []MFAFactor `db:"-"`
}

// MFAFactor is one enrolled second factor on an account.
type MFAFactor struct {
	AccountID   string    `db:"account_id"`
	FactorID    string    `db:"factor_id"`
	Kind        string    `db:"kind"`
	PhoneNumber string    `db:"phone_number"`
	DisplayName string    `db:"display_name"`
	EnrolledAt  time.Time `db:"enrolled_at"`
}
