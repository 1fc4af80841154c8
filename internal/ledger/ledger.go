package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrWalletNotFound is returned when no wallet exists for a user.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrUserNotFound is returned when a user lookup has no match.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists indicates the email is already registered.
	ErrUserExists = errors.New("user already exists")
)

// TransactionType classifies a balance-affecting record.
type TransactionType string

const (
	TypeDeposit  TransactionType = "deposit"
	TypeTransfer TransactionType = "transfer"
)

// User is the owner of exactly one wallet.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Wallet holds the durable balance of one user.
type Wallet struct {
	ID        string
	UserID    string
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// Transaction is an immutable record documenting one balance delta.
// ReceiverID is empty for deposits.
type Transaction struct {
	ID         string
	Amount     decimal.Decimal
	Type       TransactionType
	SenderID   string
	ReceiverID string
	CreatedAt  time.Time
}

// Party identifies one side of a transaction in history listings.
type Party struct {
	ID   string
	Name string
}

// TransactionView is a Transaction joined with its participants' names.
type TransactionView struct {
	ID        string
	Type      TransactionType
	Amount    decimal.Decimal
	Sender    *Party
	Receiver  *Party
	CreatedAt time.Time
}

// Tx is the unit of work handed to Store.RunAtomic. Writes become visible
// only when the enclosing function returns nil.
type Tx interface {
	// LockWallets loads and row-locks the wallets of the given users until the
	// unit of work ends. Locks are taken in a stable order so concurrent units
	// touching the same pair cannot deadlock. Missing wallets yield
	// ErrWalletNotFound.
	LockWallets(ctx context.Context, userIDs ...string) (map[string]Wallet, error)
	SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error
	InsertTransaction(ctx context.Context, record Transaction) (Transaction, error)
}

// Store is the relational store behind the wallet service.
type Store interface {
	CreateAccount(ctx context.Context, user User) (Wallet, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	FindUserByID(ctx context.Context, id string) (User, error)
	FindWallet(ctx context.Context, userID string) (Wallet, error)
	RunAtomic(ctx context.Context, fn func(tx Tx) error) error
	FindTransactionsForUser(ctx context.Context, userID string) ([]TransactionView, error)
}
