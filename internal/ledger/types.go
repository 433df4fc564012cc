package ledger

import "github.com/shopspring/decimal"

// Account is a prepaid ledger account bound to one card identifier.
// Balance is authoritative on the server; this client never mutates it
// locally, it only requests mutation and reflects the response.
type Account struct {
	Identifier string          `json:"identifier"`
	Name       string          `json:"name"`
	Surname    string          `json:"surname"`
	Address    string          `json:"address"`
	Balance    decimal.Decimal `json:"balance"`
}

// Product is read-only reference data for the purchase flow.
type Product struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Profile carries the user-supplied account fields for creation.
type Profile struct {
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Address string `json:"address"`
}
