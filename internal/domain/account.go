package domain

import "time"

type AccountStatus string

const (
	AccountStatusActive  AccountStatus = "ACTIVE"
	AccountStatusRetired AccountStatus = "RETIRED"
)

// Account holds the current balance snapshot for one owner-and-currency pair.
// Balance is kept in the currency's minor units (e.g. cents) and Version is
// the optimistic-concurrency token bumped on every successful mutation.
type Account struct {
	ID        string
	OwnerID   string
	Balance   int64
	Currency  string
	Version   int64
	Status    AccountStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsValidCurrency reports whether code looks like an ISO-4217 alphabetic code.
func IsValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}
