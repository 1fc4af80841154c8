package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/ledgerd/internal/ledger"
)

const minPasswordLength = 6

var (
	// ErrInvalidInput reports malformed registration data.
	ErrInvalidInput = errors.New("invalid registration data")
	// ErrEmailTaken is returned when the email already has an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials hides whether the email or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Repository is the slice of the ledger store identity needs.
type Repository interface {
	CreateAccount(ctx context.Context, user ledger.User) (ledger.Wallet, error)
	FindUserByEmail(ctx context.Context, email string) (ledger.User, error)
	FindUserByID(ctx context.Context, id string) (ledger.User, error)
}

// Service manages identity lifecycle.
type Service struct {
	repo Repository
	cost int
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, cost: bcrypt.DefaultCost}
}

// Register creates a user with a zero-balance wallet and a hashed password.
func (s *Service) Register(ctx context.Context, creds Credentials) (Account, error) {
	email := strings.ToLower(strings.TrimSpace(creds.Email))
	name := strings.TrimSpace(creds.Name)
	if _, err := mail.ParseAddress(email); err != nil {
		return Account{}, fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if name == "" {
		return Account{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(creds.Password) < minPasswordLength {
		return Account{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), s.cost)
	if err != nil {
		return Account{}, err
	}

	user := ledger.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	wallet, err := s.repo.CreateAccount(ctx, user)
	if err != nil {
		if errors.Is(err, ledger.ErrUserExists) {
			return Account{}, ErrEmailTaken
		}
		return Account{}, err
	}
	return Account{User: user, WalletID: wallet.ID}, nil
}

// Authenticate verifies an email and password pair.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (ledger.User, error) {
	user, err := s.repo.FindUserByEmail(ctx, strings.ToLower(strings.TrimSpace(creds.Email)))
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			return ledger.User{}, ErrInvalidCredentials
		}
		return ledger.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(creds.Password)); err != nil {
		return ledger.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// Lookup fetches a user by id.
func (s *Service) Lookup(ctx context.Context, id string) (ledger.User, error) {
	return s.repo.FindUserByID(ctx, id)
}
