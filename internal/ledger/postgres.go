package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// PostgresStore persists users, wallets and transactions in PostgreSQL.
// Numeric columns travel as text so no precision is lost on the way to decimal.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateAccount inserts the user and its zero-balance wallet atomically.
func (s *PostgresStore) CreateAccount(ctx context.Context, user User) (Wallet, error) {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return Wallet{}, fmt.Errorf("parse user id: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Wallet{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `INSERT INTO users (id, email, name, password_hash, created_at)
        VALUES ($1, $2, $3, $4, $5)`, userID, user.Email, user.Name, user.PasswordHash, user.CreatedAt.UTC()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Wallet{}, ErrUserExists
		}
		return Wallet{}, err
	}

	wallet := Wallet{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Balance:   decimal.Zero,
		CreatedAt: user.CreatedAt.UTC(),
	}
	if _, err := tx.Exec(ctx, `INSERT INTO wallets (id, user_id, balance, created_at)
        VALUES ($1::uuid, $2, 0, $3)`, wallet.ID, userID, wallet.CreatedAt); err != nil {
		return Wallet{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Wallet{}, err
	}
	return wallet, nil
}

// FindUserByEmail fetches a user by email address.
func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRow(ctx, `SELECT id, email, name, password_hash, created_at FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// FindUserByID fetches a user by identifier.
func (s *PostgresStore) FindUserByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, ErrUserNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT id, email, name, password_hash, created_at FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

// FindWallet returns the wallet owned by userID without locking it.
func (s *PostgresStore) FindWallet(ctx context.Context, userID string) (Wallet, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT id, user_id, balance::text, created_at FROM wallets WHERE user_id = $1`, id)
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, ErrWalletNotFound
	}
	return w, err
}

// RunAtomic executes fn inside a read-committed transaction. The transaction
// commits only if fn returns nil.
func (s *PostgresStore) RunAtomic(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// FindTransactionsForUser lists every record where the user is sender or
// receiver, newest first.
func (s *PostgresStore) FindTransactionsForUser(ctx context.Context, userID string) ([]TransactionView, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return []TransactionView{}, nil
	}

	const query = `
        SELECT t.id, t.type, t.amount::text,
               s.id::text, s.name, r.id::text, r.name,
               t.created_at
        FROM transactions t
        LEFT JOIN users s ON s.id = t.sender_id
        LEFT JOIN users r ON r.id = t.receiver_id
        WHERE t.sender_id = $1 OR t.receiver_id = $1
        ORDER BY t.created_at DESC, t.id DESC`

	rows, err := s.db.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	views := []TransactionView{}
	for rows.Next() {
		var (
			txID                     uuid.UUID
			kind, amount             string
			senderID, senderName     *string
			receiverID, receiverName *string
			createdAt                time.Time
		)
		if err := rows.Scan(&txID, &kind, &amount, &senderID, &senderName, &receiverID, &receiverName, &createdAt); err != nil {
			return nil, err
		}
		value, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		views = append(views, TransactionView{
			ID:        txID.String(),
			Type:      TransactionType(kind),
			Amount:    value,
			Sender:    party(senderID, senderName),
			Receiver:  party(receiverID, receiverName),
			CreatedAt: createdAt.UTC(),
		})
	}
	return views, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockWallets(ctx context.Context, userIDs ...string) (map[string]Wallet, error) {
	ids := make([]uuid.UUID, 0, len(userIDs))
	for _, id := range userIDs {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, ErrWalletNotFound
		}
		ids = append(ids, parsed)
	}

	rows, err := t.tx.Query(ctx, `SELECT id, user_id, balance::text, created_at
        FROM wallets WHERE user_id = ANY($1::uuid[])
        ORDER BY user_id
        FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	wallets := make(map[string]Wallet, len(userIDs))
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets[w.UserID] = w
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range userIDs {
		if _, ok := wallets[id]; !ok {
			return nil, ErrWalletNotFound
		}
	}
	return wallets, nil
}

func (t *pgTx) SetBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	cmd, err := t.tx.Exec(ctx, `UPDATE wallets SET balance = $1::numeric WHERE user_id = $2::uuid`, balance.StringFixed(2), userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, record Transaction) (Transaction, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	var receiver *string
	if record.ReceiverID != "" {
		receiver = &record.ReceiverID
	}

	_, err := t.tx.Exec(ctx, `INSERT INTO transactions (id, amount, type, sender_id, receiver_id, created_at)
        VALUES ($1::uuid, $2::numeric, $3, $4::uuid, $5::uuid, $6)`,
		record.ID, record.Amount.StringFixed(2), string(record.Type), record.SenderID, receiver, record.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}
	return record, nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		id        uuid.UUID
		createdAt time.Time
		user      User
	)
	if err := row.Scan(&id, &user.Email, &user.Name, &user.PasswordHash, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	user.ID = id.String()
	user.CreatedAt = createdAt.UTC()
	return user, nil
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		id, userID uuid.UUID
		balance    string
		createdAt  time.Time
	)
	if err := row.Scan(&id, &userID, &balance, &createdAt); err != nil {
		return Wallet{}, err
	}
	value, err := decimal.NewFromString(balance)
	if err != nil {
		return Wallet{}, fmt.Errorf("parse balance: %w", err)
	}
	return Wallet{ID: id.String(), UserID: userID.String(), Balance: value, CreatedAt: createdAt.UTC()}, nil
}

func party(id, name *string) *Party {
	if id == nil {
		return nil
	}
	p := &Party{ID: *id}
	if name != nil {
		p.Name = *name
	}
	return p
}
