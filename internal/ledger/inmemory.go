package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type inMemoryStore struct {
	// units serialises RunAtomic calls, standing in for row locks.
	units sync.Mutex

	mu           sync.RWMutex
	users        map[string]User
	emails       map[string]string
	wallets      map[string]Wallet
	transactions []Transaction
	commitErr    error
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit tests
// and running without Postgres in development.
func NewInMemory() Store {
	return &inMemoryStore{
		users:   make(map[string]User),
		emails:  make(map[string]string),
		wallets: make(map[string]Wallet),
	}
}

func (s *inMemoryStore) CreateAccount(_ context.Context, user User) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, exists := s.emails[email]; exists {
		return Wallet{}, ErrUserExists
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	wallet := Wallet{ID: uuid.NewString(), UserID: user.ID, Balance: decimal.Zero, CreatedAt: user.CreatedAt}
	s.users[user.ID] = user
	s.emails[email] = user.ID
	s.wallets[user.ID] = wallet
	return wallet, nil
}

func (s *inMemoryStore) FindUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *inMemoryStore) FindUserByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (s *inMemoryStore) FindWallet(_ context.Context, userID string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wallet, ok := s.wallets[userID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return wallet, nil
}

func (s *inMemoryStore) RunAtomic(ctx context.Context, fn func(tx Tx) error) error {
	s.units.Lock()
	defer s.units.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{store: s, balances: make(map[string]decimal.Decimal)}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.commitErr != nil {
		err := s.commitErr
		s.commitErr = nil
		return err
	}

	for userID, balance := range tx.balances {
		w := s.wallets[userID]
		w.Balance = balance
		s.wallets[userID] = w
	}
	s.transactions = append(s.transactions, tx.inserts...)
	return nil
}

func (s *inMemoryStore) FindTransactionsForUser(_ context.Context, userID string) ([]TransactionView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	views := []TransactionView{}
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		if t.SenderID != userID && t.ReceiverID != userID {
			continue
		}
		views = append(views, TransactionView{
			ID:        t.ID,
			Type:      t.Type,
			Amount:    t.Amount,
			Sender:    s.partyLocked(t.SenderID),
			Receiver:  s.partyLocked(t.ReceiverID),
			CreatedAt: t.CreatedAt,
		})
	}
	return views, nil
}

func (s *inMemoryStore) partyLocked(userID string) *Party {
	if userID == "" {
		return nil
	}
	return &Party{ID: userID, Name: s.users[userID].Name}
}

// memTx stages writes until RunAtomic decides to apply them.
type memTx struct {
	store    *inMemoryStore
	balances map[string]decimal.Decimal
	inserts  []Transaction
}

func (t *memTx) LockWallets(_ context.Context, userIDs ...string) (map[string]Wallet, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	wallets := make(map[string]Wallet, len(userIDs))
	for _, id := range userIDs {
		w, ok := t.store.wallets[id]
		if !ok {
			return nil, ErrWalletNotFound
		}
		if staged, ok := t.balances[id]; ok {
			w.Balance = staged
		}
		wallets[id] = w
	}
	return wallets, nil
}

func (t *memTx) SetBalance(_ context.Context, userID string, balance decimal.Decimal) error {
	t.store.mu.RLock()
	_, ok := t.store.wallets[userID]
	t.store.mu.RUnlock()
	if !ok {
		return ErrWalletNotFound
	}
	t.balances[userID] = balance
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, record Transaction) (Transaction, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	t.inserts = append(t.inserts, record)
	return record, nil
}
