package wallet

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/ledgerd/internal/balance"
	"github.com/congo-pay/ledgerd/internal/events"
	"github.com/congo-pay/ledgerd/internal/ledger"
	"github.com/congo-pay/ledgerd/internal/queue"
	"github.com/congo-pay/ledgerd/internal/ratelimit"
)

// PublishMode decides when a transfer event is handed to the queue.
type PublishMode string

const (
	// PublishBeforeCommit publishes before the balance mutation opens its
	// transaction. A failed publish aborts the transfer; a failed commit after
	// a successful publish leaves an event describing a transfer that never
	// happened, so consumers treat events as informational only.
	PublishBeforeCommit PublishMode = "before_commit"
	// PublishAfterCommit publishes once the mutation is durable. A failed
	// publish is logged and the transfer still succeeds.
	PublishAfterCommit PublishMode = "after_commit"
)

const (
	msgDeposited       = "deposit completed"
	msgTransferred     = "transfer completed"
	msgSelfTransfer    = "cannot transfer to self"
	msgInvalidAmount   = "amount must be positive with at most two decimal places"
	msgBalanceLimit    = "balance limit exceeded"
	msgWalletNotFound  = "wallet not found"
	msgSenderMissing   = "sender wallet not found"
	msgReceiverMissing = "receiver wallet not found"
	msgInsufficient    = "insufficient funds"
	msgRateLimited     = "transfer limit exceeded, try again later"
)

// maxBalance is the largest value a NUMERIC(10,2) balance column holds.
var maxBalance = decimal.RequireFromString("99999999.99")

// RateChecker admits or rejects one attempt by subject.
type RateChecker interface {
	Check(ctx context.Context, subject string) (ratelimit.Decision, error)
}

// Balance is a wallet balance and whether it was served from the cache.
type Balance struct {
	Amount    decimal.Decimal
	FromCache bool
}

// Result is returned by successful deposits and transfers. NewBalance is the
// committed balance of the acting user.
type Result struct {
	Message    string
	NewBalance decimal.Decimal
}

// HistoryEntry is one transaction as shown to a participant.
type HistoryEntry struct {
	ID        string
	Type      ledger.TransactionType
	Amount    decimal.Decimal
	Sender    *ledger.Party
	Receiver  *ledger.Party
	CreatedAt time.Time
}

// Service is the ledger engine: it validates, serialises and records balance
// mutations and keeps the balance cache and event queue in step with them.
type Service struct {
	store     ledger.Store
	balances  *balance.Cache
	limiter   RateChecker
	publisher queue.Publisher
	mode      PublishMode
	logger    *slog.Logger
}

// NewService builds a wallet service instance. An empty mode selects
// PublishBeforeCommit.
func NewService(store ledger.Store, balances *balance.Cache, limiter RateChecker, publisher queue.Publisher, mode PublishMode, logger *slog.Logger) *Service {
	if mode == "" {
		mode = PublishBeforeCommit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		balances:  balances,
		limiter:   limiter,
		publisher: publisher,
		mode:      mode,
		logger:    logger,
	}
}

// GetBalance returns the user's balance, preferring the cache.
func (s *Service) GetBalance(ctx context.Context, userID string) (Balance, error) {
	amount, hit, err := s.balances.Read(ctx, userID)
	if err != nil {
		return Balance{}, lookupFailure(err, msgWalletNotFound)
	}
	return Balance{Amount: amount, FromCache: hit}, nil
}

// Deposit credits amount to the user's wallet and records a deposit.
func (s *Service) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (Result, error) {
	if !validAmount(amount) {
		return Result{}, failure(ErrInvalidOperation, msgInvalidAmount)
	}
	if _, err := s.store.FindWallet(ctx, userID); err != nil {
		return Result{}, lookupFailure(err, msgWalletNotFound)
	}

	var newBalance decimal.Decimal
	err := s.store.RunAtomic(ctx, func(tx ledger.Tx) error {
		wallets, err := tx.LockWallets(ctx, userID)
		if err != nil {
			return err
		}
		next := wallets[userID].Balance.Add(amount)
		if next.GreaterThan(maxBalance) {
			return failure(ErrInvalidOperation, msgBalanceLimit)
		}
		if err := tx.SetBalance(ctx, userID, next); err != nil {
			return err
		}
		if _, err := tx.InsertTransaction(ctx, ledger.Transaction{
			Amount:   amount,
			Type:     ledger.TypeDeposit,
			SenderID: userID,
		}); err != nil {
			return err
		}
		newBalance = next
		return nil
	})
	if err != nil {
		return Result{}, commitFailure(err, msgWalletNotFound)
	}

	s.invalidate(ctx, userID)
	s.logger.Info("deposit committed",
		slog.String("user_id", userID),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("balance", newBalance.StringFixed(2)),
	)
	return Result{Message: msgDeposited, NewBalance: newBalance}, nil
}

// Transfer moves amount from sender to receiver. Checks run cheapest first and
// every rejected attempt past the self-transfer and amount checks still counts
// against the sender's rate limit.
func (s *Service) Transfer(ctx context.Context, senderID, receiverID string, amount decimal.Decimal) (Result, error) {
	if senderID == receiverID {
		return Result{}, failure(ErrInvalidOperation, msgSelfTransfer)
	}
	if !validAmount(amount) {
		return Result{}, failure(ErrInvalidOperation, msgInvalidAmount)
	}

	decision, err := s.limiter.Check(ctx, senderID)
	if err != nil {
		return Result{}, storageFailure("rate limit check failed", err)
	}
	if !decision.Allowed {
		s.logger.Warn("transfer rate limited", slog.String("sender_id", senderID), slog.Int64("attempts", decision.Count))
		return Result{}, failure(ErrRateLimited, msgRateLimited)
	}

	sender, senderErr := s.store.FindWallet(ctx, senderID)
	_, receiverErr := s.store.FindWallet(ctx, receiverID)
	if senderErr != nil {
		return Result{}, lookupFailure(senderErr, msgSenderMissing)
	}
	if receiverErr != nil {
		return Result{}, lookupFailure(receiverErr, msgReceiverMissing)
	}
	if sender.Balance.LessThan(amount) {
		return Result{}, failure(ErrInsufficientFunds, msgInsufficient)
	}

	event := events.NewTransferEvent(senderID, receiverID, amount)
	if s.mode == PublishBeforeCommit {
		if err := s.publisher.Publish(ctx, event); err != nil {
			return Result{}, storageFailure("publish transfer event", err)
		}
	}

	var senderBalance decimal.Decimal
	err = s.store.RunAtomic(ctx, func(tx ledger.Tx) error {
		wallets, err := tx.LockWallets(ctx, senderID, receiverID)
		if err != nil {
			return err
		}
		from, to := wallets[senderID], wallets[receiverID]
		if from.Balance.LessThan(amount) {
			return failure(ErrInsufficientFunds, msgInsufficient)
		}
		credited := to.Balance.Add(amount)
		if credited.GreaterThan(maxBalance) {
			return failure(ErrInvalidOperation, msgBalanceLimit)
		}
		debited := from.Balance.Sub(amount)
		if err := tx.SetBalance(ctx, senderID, debited); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, receiverID, credited); err != nil {
			return err
		}
		if _, err := tx.InsertTransaction(ctx, ledger.Transaction{
			Amount:     amount,
			Type:       ledger.TypeTransfer,
			SenderID:   senderID,
			ReceiverID: receiverID,
		}); err != nil {
			return err
		}
		senderBalance = debited
		return nil
	})
	if err != nil {
		return Result{}, commitFailure(err, msgWalletNotFound)
	}

	s.invalidate(ctx, senderID, receiverID)
	s.logger.Info("transfer committed",
		slog.String("sender_id", senderID),
		slog.String("receiver_id", receiverID),
		slog.String("amount", amount.StringFixed(2)),
	)

	if s.mode == PublishAfterCommit {
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Error("transfer event publish failed after commit",
				slog.String("sender_id", senderID),
				slog.String("receiver_id", receiverID),
				slog.Any("error", err),
			)
		}
	}

	return Result{Message: msgTransferred, NewBalance: senderBalance}, nil
}

// GetHistory lists the transactions the user took part in, newest first.
func (s *Service) GetHistory(ctx context.Context, userID string) ([]HistoryEntry, error) {
	views, err := s.store.FindTransactionsForUser(ctx, userID)
	if err != nil {
		return nil, storageFailure("load history", err)
	}
	entries := make([]HistoryEntry, 0, len(views))
	for _, v := range views {
		entries = append(entries, HistoryEntry{
			ID:        v.ID,
			Type:      v.Type,
			Amount:    v.Amount,
			Sender:    v.Sender,
			Receiver:  v.Receiver,
			CreatedAt: v.CreatedAt,
		})
	}
	return entries, nil
}

// invalidate drops cached balances after a commit. Failures leave the entry
// stale for at most one TTL and never fail the operation.
func (s *Service) invalidate(ctx context.Context, userIDs ...string) {
	if err := s.balances.Invalidate(ctx, userIDs...); err != nil {
		s.logger.Error("balance cache left stale", slog.Any("user_ids", userIDs), slog.Any("error", err))
	}
}

func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Truncate(2))
}

func lookupFailure(err error, msg string) error {
	if errors.Is(err, ledger.ErrWalletNotFound) {
		return failure(ErrNotFound, msg)
	}
	return storageFailure("load wallet", err)
}

func commitFailure(err error, notFoundMsg string) error {
	var werr *Error
	if errors.As(err, &werr) {
		return werr
	}
	if errors.Is(err, ledger.ErrWalletNotFound) {
		return failure(ErrNotFound, notFoundMsg)
	}
	return storageFailure("commit failed", err)
}
