package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"accounting/internal/hierarchy"
	"accounting/internal/model"
	"accounting/internal/repository"
)

// DefaultServiceUserPrefix marks usernames of trusted service principals.
const DefaultServiceUserPrefix = "_"

// Accounting implements AccountingService on top of a repository.Store.
type Accounting struct {
	store  repository.Store
	dir    hierarchy.Directory
	gate   *Gate
	bus    repository.MessageBus
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Accounting)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Accounting) { a.logger = logger }
}

func WithBus(bus repository.MessageBus) Option {
	return func(a *Accounting) { a.bus = bus }
}

func WithClock(now func() time.Time) Option {
	return func(a *Accounting) { a.now = now }
}

func WithServiceUserPrefix(prefix string) Option {
	return func(a *Accounting) { a.gate.servicePrefix = prefix }
}

func New(store repository.Store, dir hierarchy.Directory, opts ...Option) *Accounting {
	a := &Accounting{
		store:  store,
		dir:    dir,
		gate:   NewGate(dir, DefaultServiceUserPrefix),
		bus:    repository.NopBus{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ancestorWallets returns the wallets of every ancestor of w's project in the
// same product category, nearest parent first.
func (a *Accounting) ancestorWallets(ctx context.Context, w model.Wallet) ([]model.Wallet, error) {
	ids, err := a.dir.Ancestors(ctx, w.AccountID)
	if err != nil {
		return nil, directoryError(err, "ancestors of "+w.AccountID)
	}
	if len(ids) == 0 || ids[len(ids)-1] != w.AccountID {
		return nil, fmt.Errorf("%w: ancestor list of %s does not end with the project itself", model.ErrUnavailable, w.AccountID)
	}

	out := make([]model.Wallet, 0, len(ids)-1)
	for i := len(ids) - 2; i >= 0; i-- {
		out = append(out, w.WithAccount(ids[i], model.OwnerProject))
	}
	return out, nil
}

// lockWallets locks each distinct wallet once, in ascending key order. Work that
// touches more than one wallet takes all of its locks through here before it
// reads or moves any balance, so every transaction queues on wallets in the
// same global order.
func lockWallets(ctx context.Context, tx repository.Tx, wallets []model.Wallet) error {
	byKey := make(map[string]model.Wallet, len(wallets))
	for _, w := range wallets {
		byKey[w.Key()] = w
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, _, err := tx.LockWallet(ctx, byKey[k]); err != nil {
			return err
		}
	}
	return nil
}

func (a *Accounting) publishTransactions(topic string, rows []model.Transaction) {
	for _, row := range rows {
		a.publish(topic, model.TransactionEvent{
			JobID:             row.ID,
			Wallet:            row.Wallet,
			OriginalAccountID: row.OriginalAccountID,
			Amount:            row.Amount,
			Units:             row.Units,
			Type:              row.Type,
			InitiatedBy:       row.InitiatedBy,
			CreatedAt:         row.CompletedAt,
		})
	}
}

func (a *Accounting) publish(topic string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		a.logger.Error("encode event", "topic", topic, "error", err)
		return
	}
	if err := a.bus.Publish(topic, data); err != nil {
		a.logger.Warn("publish event", "topic", topic, "error", err)
	}
}

func directoryError(err error, what string) error {
	if errors.Is(err, hierarchy.ErrUnknownProject) {
		return fmt.Errorf("%w: %s: %w", model.ErrNotFound, what, err)
	}
	return fmt.Errorf("%w: %s: %w", model.ErrUnavailable, what, err)
}
