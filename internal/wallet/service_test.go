package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/ledgerd/internal/balance"
	"github.com/congo-pay/ledgerd/internal/events"
	"github.com/congo-pay/ledgerd/internal/ledger"
	"github.com/congo-pay/ledgerd/internal/logging"
	"github.com/congo-pay/ledgerd/internal/ratelimit"
)

type recordingPublisher struct {
	mu     sync.Mutex
	err    error
	events []events.TransferEvent
}

func (p *recordingPublisher) Publish(_ context.Context, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, payload.(events.TransferEvent))
	return nil
}

func (p *recordingPublisher) published() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fixture struct {
	svc       *Service
	store     ledger.Store
	cacheMR   *miniredis.Miniredis
	limitMR   *miniredis.Miniredis
	publisher *recordingPublisher
	alice     string
	bob       string
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func setup(t *testing.T, mode PublishMode, limit int) *fixture {
	t.Helper()
	cacheMR, cacheClient := newRedis(t)
	limitMR, limitClient := newRedis(t)

	store := ledger.NewInMemory()
	f := &fixture{
		store:     store,
		cacheMR:   cacheMR,
		limitMR:   limitMR,
		publisher: &recordingPublisher{},
		alice:     createUser(t, store, "Alice"),
		bob:       createUser(t, store, "Bob"),
	}

	logger := logging.Discard()
	balances := balance.NewCache(cacheClient, store, balance.DefaultTTL, logger)
	limiter := ratelimit.NewTransferLimiter(limitClient, limit, time.Minute)
	f.svc = NewService(store, balances, limiter, f.publisher, mode, logger)
	return f
}

func createUser(t *testing.T, store ledger.Store, name string) string {
	t.Helper()
	id := uuid.NewString()
	if _, err := store.CreateAccount(context.Background(), ledger.User{ID: id, Email: name + "@example.com", Name: name}); err != nil {
		t.Fatalf("create account %s: %v", name, err)
	}
	return id
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) seed(t *testing.T, userID, amount string) {
	t.Helper()
	ledger.SeedBalance(f.store, userID, dec(amount))
}

func (f *fixture) storedBalance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	w, err := f.store.FindWallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("find wallet: %v", err)
	}
	return w.Balance
}

func (f *fixture) history(t *testing.T, userID string) []HistoryEntry {
	t.Helper()
	entries, err := f.svc.GetHistory(context.Background(), userID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return entries
}

func assertKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}

func assertMoney(t *testing.T, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("expected %s, got %s", want, got.StringFixed(2))
	}
}

func TestTransferMovesFunds(t *testing.T) {
	f := setup(t, PublishBeforeCommit, 5)
	f.seed(t, f.alice, "100")
	f.seed(t, f.bob, "50")

	res, err := f.svc.Transfer(context.Background(), f.alice, f.bob, dec("30"))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.Message != msgTransferred {
		t.Fatalf("unexpected message %q", res.Message)
	}
	assertMoney(t, res.NewBalance, "70")
	assertMoney(t, f.storedBalance(t, f.alice), "70")
	assertMoney(t, f.storedBalance(t, f.bob), "80")

	entries := f.history(t, f.alice)
	if len(entries) != 1 {
		t.Fatalf("expected 1 record, got %d", len(entries))
	}
	e := entries[0]
	if e.Type != ledger.TypeTransfer || !e.Amount.Equal(dec("30")) {
		t.Fatalf("unexpected record %+v", e)
	}
	if e.Sender == nil || e.Sender.ID != f.alice || e.Sender.Name != "Alice" {
		t.Fatalf("unexpected sender %+v", e.Sender)
	}
	if e.Receiver == nil || e.Receiver.Name != "Bob" {
		t.Fatalf("unexpected receiver %+v", e.Receiver)
	}
	if len(f.history(t, f.bob)) != 1 {
		t.Fatal("receiver must see the transfer in their history")
	}

	if f.publisher.published() != 1 {
		t.Fatalf("expected one event, got %d", f.publisher.published())
	}
	ev := f.publisher.events[0]
	if ev.SenderID != f.alice || ev.ReceiverID != f.bob || !ev.Amount.Equal(dec("30")) {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestTransferRejectsSelf(t *testing.T) {
	f := setup(t, PublishBeforeCommit, 5)
	f.seed(t, f.alice, "100")

	_, err := f.svc.Transfer(context.Background(), f.alice, f.alice, dec("10"))
	assertKind(t, err, ErrInvalidOperation)
	if err.Error() != msgSelfTransfer {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if f.limitMR.Exists("transfer_limit:" + f.alice) {
		t.Fatal("self transfer must not reach the rate limiter")
	}
}

func TestTransferRejectsInvalidAmounts(t *testing.T) {
	f := setup(t, PublishBeforeCommit, 5)
	f.seed(t, f.alice, "100")

	for _, amount := range []string{"0", "-5", "1.005"} {
		_, err := f.svc.Transfer(context.Background(), f.alice, f.bob, dec(amount))
		assertKind(t, err, ErrInvalidOperation)
	}
	assertMoney(t, f.storedBalance(t, f.alice), "100")
}

func TestTransferInsufficientFunds(t *testing.T) {
	f := setup(t, PublishBeforeCommit, 5)
	f.seed(t, f.alice, "20")

	_, err := f.svc.Transfer(context.Background(), f.alice, f.bob, dec("20.01"))
	assertKind(t, err, ErrInsufficientFunds)

	assertMoney(t, f.storedBalance(t, f.alice), "20")
	assertMoney(t, f.storedBalance(t, f.bob), "0")
	if len(f.history(t, f.alice)) != 0 {
		t.Fatal("no record may be written")
	}
	if f.publisher.published() != 0 {
		t.Fatal("no event may be published")
	}
}

func TestTransferMissingWallets(t *testing.T) {
	f := setup(t, PublishBeforeCommit, 5)
	f.seed(t, f.alice, "100")
	ctx := context.Background()

	_, err := f.svc.Transfer(ctx, f.alice, uuid.NewString(), dec("1"))
	assertKind(t, err, ErrNotFound)
	if err.Error() != msgReceiverMissing {
		t.Fatalf("unexpected message %q", err.Error())
	}

	_, err = f.svc.Transfer(ctx, uuid.NewString(), uuid.NewString(), dec("1"))
	assertKind(t, err, ErrNotFound)
	if err.Error() != msgSenderMissing {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestTransferRateLimit(t *testing.T) {
	f := setup(t, PublishBeforeCommit, 5)
	f.seed(t, f.alice, "100")
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if _, err := f.svc.Transfer(ctx, f.alice, f.bob, dec("1")); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	_, err := f.svc.Transfer(ctx, f.alice, f.bob, dec("1"))
	assertKind(t, err, ErrRateLimited)
	assertMoney(t, f.storedBalance(t, f.alice), "95")

	f.limitMR.FastForward(61 * time.Second)
	if _, err := f.svc.Transfer(ctx, f.alice, f.bob, dec("1")); err != nil {
		t.Fatalf("after window: %v", err)
	}
}

func TestRateLimitCountsFailedAttempts(t *testing.T) {
	f := setup(t, PublishBeforeCommit, 5)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := f.svc.Transfer(ctx, f.alice, f.bob, dec("10"))
		assertKind(t, err, ErrInsufficientFunds)
	}
	_, err := f.svc.Transfer(ctx, f.alice, f.bob, dec("10"))
	assertKind(t, err, ErrRateLimited)
}

func TestRateLimiterOutageFailsClosed(t *testing.T) {
	f := setup(t, PublishBeforeCommit, 5)
	f.seed(t, f.alice, "100")
	f.limitMR.SetError("ERR simulated outage")

	_, err := f.svc.Transfer(context.Background(), f.alice, f.bob, dec("1"))
	assertKind(t, err, ErrStorageFailure)
	assertMoney(t, f.storedBalance(t, f.alice), "100")
}

func TestTransferPublishFailureAborts(t *testing.T) {
	f := setup(t, PublishBeforeCommit, 5)
	f.seed(t, f.alice, "100")
	f.publisher.err = errors.New("queue unavailable")

	_, err := f.svc.Transfer(context.Background(), f.alice, f.bob, dec("30"))
	assertKind(t, err, ErrStorageFailure)
	assertMoney(t, f.storedBalance(t, f.alice), "100")
	assertMoney(t, f.storedBalance(t, f.bob), "0")
	if len(f.history(t, f.alice)) != 0 {
		t.Fatal("no record may be written")
	}
}

func TestTransferCommitFailureRollsBack(t *testing.T) {
	f := setup(t, PublishBeforeCommit, 5)
	f.seed(t, f.alice, "100")
	ledger.FailNextCommit(f.store, errors.New("connection lost"))

	_, err := f.svc.Transfer(context.Background(), f.alice, f.bob, dec("30"))
	assertKind(t, err, ErrStorageFailure)
	assertMoney(t, f.storedBalance(t, f.alice), "100")
	assertMoney(t, f.storedBalance(t, f.bob), "0")
	if len(f.history(t, f.alice)) != 0 {
		t.Fatal("no record may be written")
	}
	// the event went out before the commit was attempted
	if f.publisher.published() != 1 {
		t.Fatalf("expected one event, got %d", f.publisher.published())
	}
}

func TestPublishAfterCommit(t *testing.T) {
	f := setup(t, PublishAfterCommit, 5)
	f.seed(t, f.alice, "100")
	ctx := context.Background()

	ledger.FailNextCommit(f.store, errors.New("connection lost"))
	if _, err := f.svc.Transfer(ctx, f.alice, f.bob, dec("30")); !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if f.publisher.published() != 0 {
		t.Fatal("failed commit must not publish")
	}

	f.publisher.err = errors.New("queue unavailable")
	res, err := f.svc.Transfer(ctx, f.alice, f.bob, dec("30"))
	if err != nil {
		t.Fatalf("publish failure after commit must not fail the transfer: %v", err)
	}
	assertMoney(t, res.NewBalance, "70")
	assertMoney(t, f.storedBalance(t, f.bob), "30")
}

func TestGetBalanceUsesCache(t *testing.T) {
	f := setup(t, PublishBeforeCommit, 5)
	f.seed(t, f.alice, "100")
	ctx := context.Background()

	first, err := f.svc.GetBalance(ctx, f.alice)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if first.FromCache {
		t.Fatal("first read must come from the store")
	}
	assertMoney(t, first.Amount, "100")

	second, err := f.svc.GetBalance(ctx, f.alice)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !second.FromCache {
		t.Fatal("second read must come from the cache")
	}

	if _, err := f.svc.GetBalance(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestWritesInvalidateCache(t *testing.T) {
	f := setup(t, PublishBeforeCommit, 5)
	f.seed(t, f.alice, "100")
	ctx := context.Background()

	for _, id := range []string{f.alice, f.bob} {
		if _, err := f.svc.GetBalance(ctx, id); err != nil {
			t.Fatalf("warm cache: %v", err)
		}
	}
	if _, err := f.svc.Transfer(ctx, f.alice, f.bob, dec("30")); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	for id, want := range map[string]string{f.alice: "70", f.bob: "30"} {
		got, err := f.svc.GetBalance(ctx, id)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if got.FromCache {
			t.Fatal("transfer must invalidate both entries")
		}
		assertMoney(t, got.Amount, want)
	}

	if _, err := f.svc.Deposit(ctx, f.bob, dec("5")); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	got, _ := f.svc.GetBalance(ctx, f.bob)
	if got.FromCache {
		t.Fatal("deposit must invalidate the entry")
	}
	assertMoney(t, got.Amount, "35")
}

func TestInvalidationFailureKeepsSuccess(t *testing.T) {
	f := setup(t, PublishBeforeCommit, 5)
	f.seed(t, f.alice, "100")
	ctx := context.Background()

	if _, err := f.svc.GetBalance(ctx, f.alice); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	f.cacheMR.SetError("ERR simulated outage")

	res, err := f.svc.Transfer(ctx, f.alice, f.bob, dec("30"))
	if err != nil {
		t.Fatalf("transfer must succeed when invalidation fails: %v", err)
	}
	assertMoney(t, res.NewBalance, "70")
	assertMoney(t, f.storedBalance(t, f.alice), "70")

	f.cacheMR.SetError("")
	stale, _ := f.svc.GetBalance(ctx, f.alice)
	if !stale.FromCache {
		t.Fatal("expected the stale entry to survive")
	}
	assertMoney(t, stale.Amount, "100")

	f.cacheMR.FastForward(balance.DefaultTTL + time.Second)
	fresh, _ := f.svc.GetBalance(ctx, f.alice)
	assertMoney(t, fresh.Amount, "70")
}

func TestDeposit(t *testing.T) {
	f := setup(t, PublishBeforeCommit, 5)
	ctx := context.Background()

	res, err := f.svc.Deposit(ctx, f.alice, dec("50.25"))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if res.Message != msgDeposited {
		t.Fatalf("unexpected message %q", res.Message)
	}
	assertMoney(t, res.NewBalance, "50.25")
	assertMoney(t, f.storedBalance(t, f.alice), "50.25")

	entries := f.history(t, f.alice)
	if len(entries) != 1 || entries[0].Type != ledger.TypeDeposit || entries[0].Receiver != nil {
		t.Fatalf("unexpected history %+v", entries)
	}

	_, err = f.svc.Deposit(ctx, f.alice, dec("0"))
	assertKind(t, err, ErrInvalidOperation)
	_, err = f.svc.Deposit(ctx, uuid.NewString(), dec("10"))
	assertKind(t, err, ErrNotFound)
	_, err = f.svc.Deposit(ctx, f.alice, dec("99999999"))
	assertKind(t, err, ErrInvalidOperation)
}

func TestDepositCommitFailure(t *testing.T) {
	f := setup(t, PublishBeforeCommit, 5)
	ledger.FailNextCommit(f.store, errors.New("connection lost"))

	_, err := f.svc.Deposit(context.Background(), f.alice, dec("10"))
	assertKind(t, err, ErrStorageFailure)
	assertMoney(t, f.storedBalance(t, f.alice), "0")
	if len(f.history(t, f.alice)) != 0 {
		t.Fatal("no record may be written")
	}
}

func TestConcurrentTransfersNeverOverdraw(t *testing.T) {
	f := setup(t, PublishBeforeCommit, 100)
	f.seed(t, f.alice, "100")
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Transfer(ctx, f.alice, f.bob, dec("10"))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("expected 10 successful transfers, got %d", succeeded)
	}
	assertMoney(t, f.storedBalance(t, f.alice), "0")
	assertMoney(t, f.storedBalance(t, f.bob), "100")
	if n := len(f.history(t, f.bob)); n != 10 {
		t.Fatalf("expected 10 records, got %d", n)
	}
}
