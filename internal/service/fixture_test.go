package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"accounting/internal/hierarchy"
	"accounting/internal/model"
	"accounting/internal/repository"
)

var compute = model.ProductCategory{ID: "cpu", Provider: "hpc"}

var storage = model.ProductCategory{ID: "storage", Provider: "hpc"}

var alice = model.NewUser("alice", model.RoleUser)

type recordingBus struct {
	mu     sync.Mutex
	topics []string
}

func (b *recordingBus) Publish(topic string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	return nil
}

func (b *recordingBus) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.topics {
		if t == topic {
			n++
		}
	}
	return n
}

// fixture is a ledger over the tree root -> dept -> lab, with dave PI of root,
// erin ADMIN of dept and frank a plain member of lab.
type fixture struct {
	store *repository.MemoryStore
	dir   *hierarchy.Static
	bus   *recordingBus
	svc   *Accounting
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := hierarchy.NewStatic()
	for _, p := range [][2]string{{"root", ""}, {"dept", "root"}, {"lab", "dept"}} {
		if err := dir.AddProject(p[0], p[1]); err != nil {
			t.Fatalf("add project %s: %v", p[0], err)
		}
	}
	dir.SetRole("root", "dave", model.ProjectRolePI)
	dir.SetRole("dept", "erin", model.ProjectRoleAdmin)
	dir.SetRole("lab", "frank", model.ProjectRoleUser)

	f := &fixture{
		store: repository.NewMemoryStore(),
		dir:   dir,
		bus:   &recordingBus{},
		now:   time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC),
	}
	f.svc = New(f.store, dir, WithBus(f.bus), WithClock(func() time.Time { return f.now }))
	return f
}

func project(id string) model.Wallet {
	return model.Wallet{AccountID: id, Type: model.OwnerProject, Category: compute}
}

func personal(username string) model.Wallet {
	return model.Wallet{AccountID: username, Type: model.OwnerUser, Category: compute}
}

func (f *fixture) deposit(t *testing.T, w model.Wallet, amount int64) {
	t.Helper()
	err := f.svc.AddToBalance(context.Background(), model.SystemActor, model.AddToBalanceRequest{Wallet: w, Amount: amount})
	if err != nil {
		t.Fatalf("deposit to %s: %v", w.Key(), err)
	}
}

func (f *fixture) balance(t *testing.T, w model.Wallet) int64 {
	t.Helper()
	var balance int64
	_, err := f.store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) (model.Outcome, error) {
		var err error
		balance, _, err = tx.GetBalance(ctx, w)
		return model.OutcomeDiscarded, err
	})
	if err != nil {
		t.Fatalf("balance of %s: %v", w.Key(), err)
	}
	return balance
}

func (f *fixture) reserved(t *testing.T, w model.Wallet) int64 {
	t.Helper()
	reserved, err := f.svc.ReservedCredits(context.Background(), model.SystemActor, w)
	if err != nil {
		t.Fatalf("reserved credits of %s: %v", w.Key(), err)
	}
	return reserved
}

func (f *fixture) reserve(req model.ReserveCreditsRequest) (model.Outcome, error) {
	if req.InitiatedBy.Username == "" {
		req.InitiatedBy = alice
	}
	if req.ProductID == "" {
		req.ProductID = "cpu-standard"
	}
	return f.svc.ReserveCredits(context.Background(), model.SystemActor, req)
}

type storeOp struct {
	kind   string
	wallet model.Wallet
	jobID  string
}

// recordingStore logs wallet locks, balance moves and existence checks of
// every transaction run through it, one slice per transaction.
type recordingStore struct {
	repository.Store
	mu  sync.Mutex
	txs [][]storeOp
}

func (s *recordingStore) InTx(ctx context.Context, fn repository.TxFunc) (model.Outcome, error) {
	s.mu.Lock()
	s.txs = append(s.txs, nil)
	n := len(s.txs) - 1
	s.mu.Unlock()

	return s.Store.InTx(ctx, func(ctx context.Context, tx repository.Tx) (model.Outcome, error) {
		return fn(ctx, &recordingTx{Tx: tx, store: s, n: n})
	})
}

func (s *recordingStore) record(n int, op storeOp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[n] = append(s.txs[n], op)
}

// take returns the transactions recorded so far and forgets them.
func (s *recordingStore) take() [][]storeOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	txs := s.txs
	s.txs = nil
	return txs
}

type recordingTx struct {
	repository.Tx
	store *recordingStore
	n     int
}

func (t *recordingTx) LockWallet(ctx context.Context, w model.Wallet) (int64, bool, error) {
	t.store.record(t.n, storeOp{kind: "lock", wallet: w})
	return t.Tx.LockWallet(ctx, w)
}

func (t *recordingTx) AddToBalance(ctx context.Context, w model.Wallet, amount int64) error {
	t.store.record(t.n, storeOp{kind: "add", wallet: w})
	return t.Tx.AddToBalance(ctx, w, amount)
}

func (t *recordingTx) TransactionExists(ctx context.Context, id string) (bool, error) {
	t.store.record(t.n, storeOp{kind: "exists", jobID: id})
	return t.Tx.TransactionExists(ctx, id)
}

// recordStore routes the fixture's service through a recordingStore backed by
// the same memory store.
func (f *fixture) recordStore() *recordingStore {
	rec := &recordingStore{Store: f.store}
	f.svc = New(rec, f.dir, WithBus(f.bus), WithClock(func() time.Time { return f.now }))
	return rec
}
