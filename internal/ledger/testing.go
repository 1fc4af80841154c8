package ledger

import "github.com/shopspring/decimal"

// SeedBalance is a test helper that overwrites a wallet balance when using the
// in-memory store.
func SeedBalance(s Store, userID string, amount decimal.Decimal) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if w, exists := mem.wallets[userID]; exists {
			w.Balance = amount
			mem.wallets[userID] = w
		}
	}
}

// FailNextCommit makes the next in-memory RunAtomic discard its staged writes
// and return err.
func FailNextCommit(s Store, err error) {
	if mem, ok := s.(*inMemoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.commitErr = err
	}
}
