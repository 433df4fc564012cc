package terminal

// Operation names the closed set of terminal operations. Each kind pairs one
// card interaction (at most) with one ledger call (at most).
type Operation string

const (
	OpCreateAccount Operation = "create_account"
	OpRecharge      Operation = "recharge"
	OpPurchase      Operation = "purchase"
	OpDeleteAccount Operation = "delete_account"
	OpAddProduct    Operation = "add_product"
	OpDeleteProduct Operation = "delete_product"
	OpReadCard      Operation = "read_card"
	OpEraseCard     Operation = "erase_card"
)

// CreateAccountRequest opens a new account: a fresh identifier is resolved
// from the card (read for the UID strategy, generate+write+verify for the
// code strategy), then registered with the ledger.
type CreateAccountRequest struct {
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Address string `json:"address"`
	// WriteProfile also stores a compact profile record on the tag so a
	// terminal can show the holder's name while the ledger is unreachable.
	WriteProfile bool `json:"write_profile"`
}

// RechargeRequest credits the tapped card's account.
type RechargeRequest struct {
	// Amount is the raw user-entered string; parsing and validation happen
	// before the tap prompt so an invalid amount never consumes a tap.
	Amount string `json:"amount"`
}

// PurchaseRequest debits the tapped card's account for the selected products.
type PurchaseRequest struct {
	ProductIDs []int64 `json:"product_ids"`
}

// DeleteAccountRequest removes the tapped card's account from the ledger.
// The card itself is left intact.
type DeleteAccountRequest struct{}

// AddProductRequest registers a product; no card interaction.
type AddProductRequest struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

// DeleteProductRequest removes a product; no card interaction.
type DeleteProductRequest struct {
	ID int64 `json:"id"`
}

// Outcome is the result of a completed operation, reported to the caller
// and broadcast to event subscribers.
type Outcome struct {
	Operation  Operation `json:"operation"`
	Identifier string    `json:"identifier,omitempty"`
	Message    string    `json:"message,omitempty"`
}
