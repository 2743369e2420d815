package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"accounting/internal/model"
)

const uniqueViolation = "23505"

const transactionColumns = `id, account_id, account_type, product_category, product_provider,
	original_account_id, product_id, units, amount, is_reserved, initiated_by,
	completed_at, expires_at, transaction_type`

// PostgresStore keeps wallets and transactions in PostgreSQL. Admission checks
// are serialised per wallet with a transaction scoped advisory lock plus a row
// lock on the wallet, so the check and the insert that follows it can not
// interleave with another reservation against the same wallet.
type PostgresStore struct {
	dbPool *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{dbPool: db}
}

func (s *PostgresStore) InTx(ctx context.Context, fn TxFunc) (model.Outcome, error) {
	tx, err := s.dbPool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return model.OutcomeRejected, fmt.Errorf("%w: begin transaction: %w", model.ErrInternal, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	outcome, err := fn(ctx, &pgTx{tx: tx})
	if err != nil || outcome != model.OutcomeCommitted {
		return outcome, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.OutcomeRejected, fmt.Errorf("%w: commit: %w", model.ErrInternal, err)
	}
	return outcome, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockWallet(ctx context.Context, w model.Wallet) (int64, bool, error) {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, w.Key()); err != nil {
		return 0, false, fmt.Errorf("%w: lock wallet %s: %w", model.ErrInternal, w.Key(), err)
	}
	return t.balance(ctx, w, true)
}

func (t *pgTx) GetBalance(ctx context.Context, w model.Wallet) (int64, bool, error) {
	return t.balance(ctx, w, false)
}

func (t *pgTx) balance(ctx context.Context, w model.Wallet, forUpdate bool) (int64, bool, error) {
	query := `SELECT balance FROM wallets
		WHERE account_id = $1 AND account_type = $2 AND product_category = $3 AND product_provider = $4`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var balance int64
	err := t.tx.QueryRow(ctx, query, w.AccountID, string(w.Type), w.Category.ID, w.Category.Provider).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: read balance of %s: %w", model.ErrInternal, w.Key(), err)
	}
	return balance, true, nil
}

func (t *pgTx) SetBalance(ctx context.Context, w model.Wallet, lastKnown, newBalance int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE wallets SET balance = $5, updated_at = now()
		WHERE account_id = $1 AND account_type = $2 AND product_category = $3 AND product_provider = $4
		  AND balance = $6`,
		w.AccountID, string(w.Type), w.Category.ID, w.Category.Provider, newBalance, lastKnown)
	if err != nil {
		return fmt.Errorf("%w: update balance of %s: %w", model.ErrInternal, w.Key(), err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, exists, err := t.GetBalance(ctx, w)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: balance of %s is %d, expected %d", model.ErrConflict, w.Key(), current, lastKnown)
	}
	if lastKnown != 0 {
		return fmt.Errorf("%w: wallet %s does not exist, expected last known balance 0", model.ErrConflict, w.Key())
	}

	tag, err = t.tx.Exec(ctx, `
		INSERT INTO wallets (account_id, account_type, product_category, product_provider, balance)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, account_type, product_category, product_provider) DO NOTHING`,
		w.AccountID, string(w.Type), w.Category.ID, w.Category.Provider, newBalance)
	if err != nil {
		return fmt.Errorf("%w: create wallet %s: %w", model.ErrInternal, w.Key(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: wallet %s was created concurrently", model.ErrConflict, w.Key())
	}
	return nil
}

func (t *pgTx) AddToBalance(ctx context.Context, w model.Wallet, amount int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE wallets SET balance = balance + $5, updated_at = now()
		WHERE account_id = $1 AND account_type = $2 AND product_category = $3 AND product_provider = $4`,
		w.AccountID, string(w.Type), w.Category.ID, w.Category.Provider, amount)
	if err != nil {
		return fmt.Errorf("%w: add to balance of %s: %w", model.ErrInternal, w.Key(), err)
	}
	if tag.RowsAffected() == 0 {
		return t.SetBalance(ctx, w, 0, amount)
	}
	return nil
}

func (t *pgTx) ListWallets(ctx context.Context, accountIDs []string, typ model.OwnerType) ([]model.WalletBalance, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT account_id, product_category, product_provider, balance
		FROM wallets
		WHERE account_id = ANY($1) AND account_type = $2
		ORDER BY account_id, product_category, product_provider`,
		accountIDs, string(typ))
	if err != nil {
		return nil, fmt.Errorf("%w: list wallets: %w", model.ErrInternal, err)
	}

	wallets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.WalletBalance, error) {
		wb := model.WalletBalance{Wallet: model.Wallet{Type: typ}}
		err := row.Scan(&wb.Wallet.AccountID, &wb.Wallet.Category.ID, &wb.Wallet.Category.Provider, &wb.Balance)
		return wb, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan wallets: %w", model.ErrInternal, err)
	}
	return wallets, nil
}

func (t *pgTx) PurgeExpiredReservations(ctx context.Context, w model.Wallet, now time.Time) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM transactions
		WHERE account_id = $1 AND account_type = $2 AND product_category = $3 AND product_provider = $4
		  AND is_reserved AND expires_at IS NOT NULL AND expires_at < $5`,
		w.AccountID, string(w.Type), w.Category.ID, w.Category.Provider, now)
	if err != nil {
		return 0, fmt.Errorf("%w: purge expired reservations of %s: %w", model.ErrInternal, w.Key(), err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) ReservedCredits(ctx context.Context, w model.Wallet) (int64, error) {
	var reserved int64
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::bigint FROM transactions
		WHERE account_id = $1 AND account_type = $2 AND product_category = $3 AND product_provider = $4
		  AND is_reserved`,
		w.AccountID, string(w.Type), w.Category.ID, w.Category.Provider).Scan(&reserved)
	if err != nil {
		return 0, fmt.Errorf("%w: sum reservations of %s: %w", model.ErrInternal, w.Key(), err)
	}
	return reserved, nil
}

func (t *pgTx) TransactionExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: look up transaction %s: %w", model.ErrInternal, id, err)
	}
	return exists, nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr model.Transaction) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		tr.ID, tr.Wallet.AccountID, string(tr.Wallet.Type), tr.Wallet.Category.ID, tr.Wallet.Category.Provider,
		tr.OriginalAccountID, tr.ProductID, tr.Units, tr.Amount, tr.IsReserved, tr.InitiatedBy,
		tr.CompletedAt, tr.ExpiresAt, string(tr.Type))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: transaction %s already exists for %s", model.ErrConflict, tr.ID, tr.Wallet.Key())
		}
		return fmt.Errorf("%w: insert transaction %s: %w", model.ErrInternal, tr.ID, err)
	}
	return nil
}

func (t *pgTx) Transactions(ctx context.Context, id string) ([]model.Transaction, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 ORDER BY account_id`, id)
	if err != nil {
		return nil, fmt.Errorf("%w: query transaction %s: %w", model.ErrInternal, id, err)
	}
	trs, err := pgx.CollectRows(rows, scanTransaction)
	if err != nil {
		return nil, fmt.Errorf("%w: scan transaction %s: %w", model.ErrInternal, id, err)
	}
	return trs, nil
}

func (t *pgTx) FinalizeReservation(ctx context.Context, id string, amount, units int64, completedAt time.Time) ([]model.Transaction, error) {
	rows, err := t.tx.Query(ctx, `
		UPDATE transactions
		SET is_reserved = false, amount = $2, units = $3, completed_at = $4, expires_at = NULL
		WHERE id = $1 AND is_reserved
		RETURNING `+transactionColumns,
		id, amount, units, completedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: finalize reservation %s: %w", model.ErrInternal, id, err)
	}
	trs, err := pgx.CollectRows(rows, scanTransaction)
	if err != nil {
		return nil, fmt.Errorf("%w: finalize reservation %s: %w", model.ErrInternal, id, err)
	}
	return trs, nil
}

func (t *pgTx) InsertMissedPayment(ctx context.Context, mp model.MissedPayment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO missed_payments (id, job_id, account_id, account_type, product_category, product_provider,
			amount, transaction_type, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		mp.ID, mp.JobID, mp.Wallet.AccountID, string(mp.Wallet.Type), mp.Wallet.Category.ID, mp.Wallet.Category.Provider,
		mp.Amount, string(mp.Type), mp.Reason, mp.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: record missed payment for %s: %w", model.ErrInternal, mp.JobID, err)
	}
	return nil
}

func scanTransaction(row pgx.CollectableRow) (model.Transaction, error) {
	var (
		tr          model.Transaction
		accountType string
		txType      string
	)
	err := row.Scan(&tr.ID, &tr.Wallet.AccountID, &accountType, &tr.Wallet.Category.ID, &tr.Wallet.Category.Provider,
		&tr.OriginalAccountID, &tr.ProductID, &tr.Units, &tr.Amount, &tr.IsReserved, &tr.InitiatedBy,
		&tr.CompletedAt, &tr.ExpiresAt, &txType)
	tr.Wallet.Type = model.OwnerType(accountType)
	tr.Type = model.TransactionType(txType)
	return tr, err
}
