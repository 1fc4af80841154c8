package identity

import "github.com/congo-pay/ledgerd/internal/ledger"

// Credentials carries registration and login input. Name is ignored on login.
type Credentials struct {
	Email    string
	Name     string
	Password string
}

// Account is a registered user together with their wallet.
type Account struct {
	User     ledger.User
	WalletID string
}
