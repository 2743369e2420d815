package repository

import (
	"context"
	"time"

	"accounting/internal/model"
)

// Tx is the set of ledger operations available inside one store transaction.
// Every write made through a Tx is discarded unless the TxFunc that received
// it returns model.OutcomeCommitted with a nil error.
type Tx interface {
	// LockWallet serialises access to a wallet until the transaction ends and
	// returns its current balance. It locks wallets that do not exist yet too.
	LockWallet(ctx context.Context, w model.Wallet) (balance int64, exists bool, err error)
	GetBalance(ctx context.Context, w model.Wallet) (balance int64, exists bool, err error)
	// SetBalance is a compare-and-swap; a mismatch is model.ErrConflict.
	SetBalance(ctx context.Context, w model.Wallet, lastKnown, newBalance int64) error
	AddToBalance(ctx context.Context, w model.Wallet, amount int64) error
	ListWallets(ctx context.Context, accountIDs []string, typ model.OwnerType) ([]model.WalletBalance, error)

	PurgeExpiredReservations(ctx context.Context, w model.Wallet, now time.Time) (int64, error)
	ReservedCredits(ctx context.Context, w model.Wallet) (int64, error)
	TransactionExists(ctx context.Context, id string) (bool, error)
	// InsertTransaction fails with model.ErrConflict when the id is already
	// booked against the same wallet owner.
	InsertTransaction(ctx context.Context, t model.Transaction) error
	Transactions(ctx context.Context, id string) ([]model.Transaction, error)
	// FinalizeReservation turns every reserved row with the id into a completed
	// charge and returns the rows it changed.
	FinalizeReservation(ctx context.Context, id string, amount, units int64, completedAt time.Time) ([]model.Transaction, error)

	InsertMissedPayment(ctx context.Context, mp model.MissedPayment) error
}

type TxFunc func(ctx context.Context, tx Tx) (model.Outcome, error)

// Store runs ledger work atomically. A non-nil error or any outcome other than
// model.OutcomeCommitted rolls the transaction back.
type Store interface {
	InTx(ctx context.Context, fn TxFunc) (model.Outcome, error)
}
