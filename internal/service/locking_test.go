package service

import (
	"context"
	"reflect"
	"sort"
	"testing"

	"accounting/internal/model"
)

// lockedKeys checks that a transaction takes every lock in ascending wallet key
// order, before it moves any balance, and only moves balances it locked.
func lockedKeys(t *testing.T, ops []storeOp) []string {
	t.Helper()

	var keys []string
	locked := map[model.Wallet]bool{}
	moved := false
	for _, op := range ops {
		switch op.kind {
		case "lock":
			if moved {
				t.Errorf("wallet %s locked after a balance was moved", op.wallet.Key())
			}
			if !locked[op.wallet] {
				keys = append(keys, op.wallet.Key())
			}
			locked[op.wallet] = true
		case "add":
			moved = true
			if !locked[op.wallet] {
				t.Errorf("balance of %s moved without a lock", op.wallet.Key())
			}
		}
	}
	if !sort.StringsAreSorted(keys) {
		t.Errorf("locks not taken in key order: %v", keys)
	}
	return keys
}

func keysOf(wallets ...model.Wallet) []string {
	keys := make([]string, len(wallets))
	for i, w := range wallets {
		keys[i] = w.Key()
	}
	sort.Strings(keys)
	return keys
}

func TestLocking_ReserveAndChargeShareOneOrder(t *testing.T) {
	f := newFixture(t)
	if err := f.dir.AddProject("a-root", ""); err != nil {
		t.Fatal(err)
	}
	if err := f.dir.AddProject("z-dept", "a-root"); err != nil {
		t.Fatal(err)
	}
	if err := f.dir.AddProject("m-lab", "z-dept"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"a-root", "z-dept", "m-lab"} {
		f.deposit(t, project(id), 1000)
	}
	rec := f.recordStore()

	_, err := f.reserve(model.ReserveCreditsRequest{JobID: "j1", Amount: 100, Wallet: project("m-lab"), PropagateToAncestors: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = f.svc.ChargeReservation(context.Background(), model.SystemActor, model.ChargeReservationRequest{JobID: "j1", Amount: 100, Units: 1})
	if err != nil {
		t.Fatalf("unexpected charge error: %v", err)
	}

	txs := rec.take()
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	want := keysOf(project("a-root"), project("z-dept"), project("m-lab"))
	for i, ops := range txs {
		if got := lockedKeys(t, ops); !reflect.DeepEqual(got, want) {
			t.Errorf("transaction %d locked %v, want %v", i, got, want)
		}
	}
	for _, id := range []string{"a-root", "z-dept", "m-lab"} {
		if got := f.balance(t, project(id)); got != 900 {
			t.Errorf("expected %s balance 900, got %d", id, got)
		}
	}
}

func TestLocking_BatchesInAnyOrderLockAlike(t *testing.T) {
	f := newFixture(t)
	if err := f.dir.AddProject("lab2", "dept"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"root", "dept", "lab", "lab2"} {
		f.deposit(t, project(id), 1000)
	}
	rec := f.recordStore()

	batches := [][]string{{"lab", "lab2"}, {"lab2", "lab"}}
	for i, leaves := range batches {
		reqs := make([]model.ReserveCreditsRequest, len(leaves))
		for j, leaf := range leaves {
			reqs[j] = model.ReserveCreditsRequest{
				JobID:                leaf + "-" + string(rune('a'+i)),
				Amount:               10,
				Wallet:               project(leaf),
				InitiatedBy:          alice,
				ProductID:            "cpu-standard",
				PropagateToAncestors: true,
			}
		}
		if _, err := f.svc.ReserveCreditsBulk(context.Background(), model.SystemActor, reqs); err != nil {
			t.Fatalf("batch %d: unexpected error: %v", i, err)
		}
	}

	want := keysOf(project("root"), project("dept"), project("lab"), project("lab2"))
	for i, ops := range rec.take() {
		if got := lockedKeys(t, ops); !reflect.DeepEqual(got, want) {
			t.Errorf("batch %d locked %v, want %v", i, got, want)
		}
	}
}

func TestLocking_TransferAndDepositsLockEveryWallet(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"root", "dept", "lab"} {
		f.deposit(t, project(id), 500)
	}
	rec := f.recordStore()

	err := f.svc.TransferToPersonal(context.Background(), model.SystemActor, []model.TransferToPersonalRequest{
		{Source: project("lab"), Target: personal("frank"), Amount: 100, InitiatedBy: alice},
	})
	if err != nil {
		t.Fatalf("unexpected transfer error: %v", err)
	}
	err = f.svc.AddToBalanceBulk(context.Background(), model.SystemActor, []model.AddToBalanceRequest{
		{Wallet: project("root"), Amount: 1},
		{Wallet: personal("frank"), Amount: 1},
		{Wallet: project("dept"), Amount: 1},
	})
	if err != nil {
		t.Fatalf("unexpected deposit error: %v", err)
	}

	txs := rec.take()
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	wantTransfer := keysOf(project("root"), project("dept"), project("lab"), personal("frank"))
	if got := lockedKeys(t, txs[0]); !reflect.DeepEqual(got, wantTransfer) {
		t.Errorf("transfer locked %v, want %v", got, wantTransfer)
	}
	wantDeposit := keysOf(project("root"), personal("frank"), project("dept"))
	if got := lockedKeys(t, txs[1]); !reflect.DeepEqual(got, wantDeposit) {
		t.Errorf("deposit locked %v, want %v", got, wantDeposit)
	}
}

func TestLocking_ExistingJobCheckedUnderLeafLock(t *testing.T) {
	f := newFixture(t)
	w := project("lab")
	f.deposit(t, w, 1000)
	rec := f.recordStore()

	for i := 0; i < 2; i++ {
		_, err := f.reserve(model.ReserveCreditsRequest{JobID: "j1", Amount: 10, Wallet: w, SkipIfExists: true})
		if err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", i, err)
		}
	}

	for i, ops := range rec.take() {
		leafLocked := false
		checked := false
		for _, op := range ops {
			switch {
			case op.kind == "lock" && op.wallet == w:
				leafLocked = true
			case op.kind == "exists":
				checked = true
				if !leafLocked {
					t.Errorf("attempt %d: job existence checked before %s was locked", i, w.Key())
				}
			}
		}
		if !checked {
			t.Errorf("attempt %d: job existence never checked", i)
		}
	}
	if got := f.reserved(t, w); got != 10 {
		t.Errorf("expected 10 reserved, got %d", got)
	}
}
