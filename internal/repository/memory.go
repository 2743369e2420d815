package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"accounting/internal/model"
)

type transactionKey struct {
	id        string
	accountID string
	typ       model.OwnerType
}

type memoryState struct {
	wallets      map[model.Wallet]int64
	transactions map[transactionKey]model.Transaction
	missed       []model.MissedPayment
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		wallets:      make(map[model.Wallet]int64, len(s.wallets)),
		transactions: make(map[transactionKey]model.Transaction, len(s.transactions)),
		missed:       append([]model.MissedPayment(nil), s.missed...),
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	return c
}

// MemoryStore is an in-process Store. Transactions run one at a time against
// a private copy of the state which replaces the shared state on commit.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memoryState{
		wallets:      make(map[model.Wallet]int64),
		transactions: make(map[transactionKey]model.Transaction),
	}}
}

func (s *MemoryStore) InTx(ctx context.Context, fn TxFunc) (model.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	outcome, err := fn(ctx, &memoryTx{st: work})
	if err != nil || outcome != model.OutcomeCommitted {
		return outcome, err
	}
	s.state = work
	return outcome, nil
}

// AllTransactions returns every committed transaction row ordered by id and account.
func (s *MemoryStore) AllTransactions() []model.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Transaction, 0, len(s.state.transactions))
	for _, tr := range s.state.transactions {
		out = append(out, tr)
	}
	sortTransactions(out)
	return out
}

func (s *MemoryStore) MissedPayments() []model.MissedPayment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.MissedPayment(nil), s.state.missed...)
}

type memoryTx struct {
	st *memoryState
}

// LockWallet needs no extra work: the store mutex is held for the whole transaction.
func (t *memoryTx) LockWallet(ctx context.Context, w model.Wallet) (int64, bool, error) {
	return t.GetBalance(ctx, w)
}

func (t *memoryTx) GetBalance(_ context.Context, w model.Wallet) (int64, bool, error) {
	balance, ok := t.st.wallets[w]
	return balance, ok, nil
}

func (t *memoryTx) SetBalance(_ context.Context, w model.Wallet, lastKnown, newBalance int64) error {
	current, ok := t.st.wallets[w]
	if !ok && lastKnown != 0 {
		return fmt.Errorf("%w: wallet %s does not exist, expected last known balance 0", model.ErrConflict, w.Key())
	}
	if ok && current != lastKnown {
		return fmt.Errorf("%w: balance of %s is %d, expected %d", model.ErrConflict, w.Key(), current, lastKnown)
	}
	t.st.wallets[w] = newBalance
	return nil
}

func (t *memoryTx) AddToBalance(ctx context.Context, w model.Wallet, amount int64) error {
	if _, ok := t.st.wallets[w]; !ok {
		return t.SetBalance(ctx, w, 0, amount)
	}
	t.st.wallets[w] += amount
	return nil
}

func (t *memoryTx) ListWallets(_ context.Context, accountIDs []string, typ model.OwnerType) ([]model.WalletBalance, error) {
	wanted := make(map[string]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		wanted[id] = struct{}{}
	}

	var out []model.WalletBalance
	for w, balance := range t.st.wallets {
		if _, ok := wanted[w.AccountID]; ok && w.Type == typ {
			out = append(out, model.WalletBalance{Wallet: w, Balance: balance})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Wallet, out[j].Wallet
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		if a.Category.ID != b.Category.ID {
			return a.Category.ID < b.Category.ID
		}
		return a.Category.Provider < b.Category.Provider
	})
	return out, nil
}

func (t *memoryTx) PurgeExpiredReservations(_ context.Context, w model.Wallet, now time.Time) (int64, error) {
	var purged int64
	for k, tr := range t.st.transactions {
		if tr.Wallet == w && tr.Expired(now) {
			delete(t.st.transactions, k)
			purged++
		}
	}
	return purged, nil
}

func (t *memoryTx) ReservedCredits(_ context.Context, w model.Wallet) (int64, error) {
	var sum int64
	for _, tr := range t.st.transactions {
		if tr.Wallet == w && tr.IsReserved {
			sum += tr.Amount
		}
	}
	return sum, nil
}

func (t *memoryTx) TransactionExists(_ context.Context, id string) (bool, error) {
	for k := range t.st.transactions {
		if k.id == id {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) InsertTransaction(_ context.Context, tr model.Transaction) error {
	key := transactionKey{id: tr.ID, accountID: tr.Wallet.AccountID, typ: tr.Wallet.Type}
	if _, ok := t.st.transactions[key]; ok {
		return fmt.Errorf("%w: transaction %s already exists for %s", model.ErrConflict, tr.ID, tr.Wallet.Key())
	}
	t.st.transactions[key] = tr
	return nil
}

func (t *memoryTx) Transactions(_ context.Context, id string) ([]model.Transaction, error) {
	var out []model.Transaction
	for k, tr := range t.st.transactions {
		if k.id == id {
			out = append(out, tr)
		}
	}
	sortTransactions(out)
	return out, nil
}

func (t *memoryTx) FinalizeReservation(_ context.Context, id string, amount, units int64, completedAt time.Time) ([]model.Transaction, error) {
	var out []model.Transaction
	for k, tr := range t.st.transactions {
		if k.id != id || !tr.IsReserved {
			continue
		}
		tr.IsReserved = false
		tr.Amount = amount
		tr.Units = units
		tr.CompletedAt = completedAt
		tr.ExpiresAt = nil
		t.st.transactions[k] = tr
		out = append(out, tr)
	}
	sortTransactions(out)
	return out, nil
}

func (t *memoryTx) InsertMissedPayment(_ context.Context, mp model.MissedPayment) error {
	t.st.missed = append(t.st.missed, mp)
	return nil
}

func sortTransactions(trs []model.Transaction) {
	sort.Slice(trs, func(i, j int) bool {
		if trs[i].ID != trs[j].ID {
			return trs[i].ID < trs[j].ID
		}
		return trs[i].Wallet.AccountID < trs[j].Wallet.AccountID
	})
}
