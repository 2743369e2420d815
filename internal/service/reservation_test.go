package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"accounting/internal/model"
	"accounting/internal/repository"
)

func TestReserve_ThenChargeWithFinalAmount(t *testing.T) {
	f := newFixture(t)
	w := project("lab")
	f.deposit(t, w, 1000)

	outcome, err := f.reserve(model.ReserveCreditsRequest{JobID: "j1", Amount: 400, Wallet: w, ProductUnits: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != model.OutcomeCommitted {
		t.Errorf("expected COMMITTED, got %s", outcome)
	}
	if got := f.reserved(t, w); got != 400 {
		t.Errorf("expected 400 reserved, got %d", got)
	}
	if got := f.balance(t, w); got != 1000 {
		t.Errorf("expected balance 1000, got %d", got)
	}

	err = f.svc.ChargeReservation(context.Background(), model.SystemActor, model.ChargeReservationRequest{JobID: "j1", Amount: 350, Units: 7})
	if err != nil {
		t.Fatalf("unexpected charge error: %v", err)
	}
	if got := f.balance(t, w); got != 650 {
		t.Errorf("expected balance 650, got %d", got)
	}
	if got := f.reserved(t, w); got != 0 {
		t.Errorf("expected nothing reserved, got %d", got)
	}

	rows := f.store.AllTransactions()
	if len(rows) != 1 {
		t.Fatalf("expected 1 transaction row, got %d", len(rows))
	}
	row := rows[0]
	if row.IsReserved || row.Amount != 350 || row.Units != 7 || row.ExpiresAt != nil {
		t.Errorf("row was not finalized: %+v", row)
	}
}

func TestReserve_InsufficientFundsPersistsNothing(t *testing.T) {
	f := newFixture(t)
	w := project("lab")
	f.deposit(t, w, 100)

	outcome, err := f.reserve(model.ReserveCreditsRequest{JobID: "j1", Amount: 150, Wallet: w})
	if !errors.Is(err, model.ErrPaymentRequired) {
		t.Fatalf("expected ErrPaymentRequired, got %v", err)
	}
	if outcome != model.OutcomeRejected {
		t.Errorf("expected REJECTED, got %s", outcome)
	}
	if got := f.balance(t, w); got != 100 {
		t.Errorf("expected balance 100, got %d", got)
	}
	if got := f.reserved(t, w); got != 0 {
		t.Errorf("expected nothing reserved, got %d", got)
	}
	if n := len(f.store.AllTransactions()); n != 0 {
		t.Errorf("expected no rows, got %d", n)
	}
}

func TestReserve_ExistingReservationsCountAgainstBalance(t *testing.T) {
	f := newFixture(t)
	w := project("lab")
	f.deposit(t, w, 100)

	if _, err := f.reserve(model.ReserveCreditsRequest{JobID: "j1", Amount: 60, Wallet: w}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.reserve(model.ReserveCreditsRequest{JobID: "j2", Amount: 40, Wallet: w}); err != nil {
		t.Fatalf("reserving exactly the remainder should pass: %v", err)
	}
	if _, err := f.reserve(model.ReserveCreditsRequest{JobID: "j3", Amount: 1, Wallet: w}); !errors.Is(err, model.ErrPaymentRequired) {
		t.Errorf("expected ErrPaymentRequired, got %v", err)
	}
}

func TestReserve_ExpiredReservationsArePurgedOnRead(t *testing.T) {
	f := newFixture(t)
	w := project("lab")
	f.deposit(t, w, 100)

	expires := f.now.Add(time.Hour)
	if _, err := f.reserve(model.ReserveCreditsRequest{JobID: "j1", Amount: 80, Wallet: w, ExpiresAt: &expires}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.reserved(t, w); got != 80 {
		t.Fatalf("expected 80 reserved before expiry, got %d", got)
	}

	f.now = f.now.Add(2 * time.Hour)
	if got := f.reserved(t, w); got != 0 {
		t.Errorf("expected expired reservation to be excluded, got %d", got)
	}
	if n := len(f.store.AllTransactions()); n != 0 {
		t.Errorf("expected expired row to be deleted, %d rows left", n)
	}

	if _, err := f.reserve(model.ReserveCreditsRequest{JobID: "j2", Amount: 100, Wallet: w}); err != nil {
		t.Errorf("freed credits should be reservable again: %v", err)
	}
}

func TestReserve_ProbeLeavesNoTrace(t *testing.T) {
	tests := []struct {
		name    string
		amount  int64
		wantErr error
	}{
		{"affordable", 50, nil},
		{"unaffordable", 500, model.ErrPaymentRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			w := project("lab")
			f.deposit(t, w, 100)
			if _, err := f.reserve(model.ReserveCreditsRequest{JobID: "held", Amount: 20, Wallet: w}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			outcome, err := f.reserve(model.ReserveCreditsRequest{
				JobID: "probe", Amount: tt.amount, Wallet: w, DiscardAfterLimitCheck: true, ChargeImmediately: true,
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr == nil && outcome != model.OutcomeDiscarded {
				t.Errorf("expected DISCARDED, got %s", outcome)
			}
			if got := f.balance(t, w); got != 100 {
				t.Errorf("expected balance 100, got %d", got)
			}
			if got := f.reserved(t, w); got != 20 {
				t.Errorf("expected 20 reserved, got %d", got)
			}
			if n := len(f.store.AllTransactions()); n != 1 {
				t.Errorf("expected only the held row, got %d rows", n)
			}
		})
	}
}

func TestReserve_SkipIfExistsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	w := personal("alice")
	f.deposit(t, w, 100)

	for i := 0; i < 2; i++ {
		outcome, err := f.reserve(model.ReserveCreditsRequest{JobID: "j1", Amount: 30, Wallet: w, SkipIfExists: true})
		if err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", i+1, err)
		}
		if outcome != model.OutcomeCommitted {
			t.Errorf("attempt %d: expected COMMITTED, got %s", i+1, outcome)
		}
	}

	rows := f.store.AllTransactions()
	if len(rows) != 1 || rows[0].ID != "j1" {
		t.Fatalf("expected exactly one row j1, got %+v", rows)
	}
	if got := f.reserved(t, w); got != 30 {
		t.Errorf("expected 30 reserved, got %d", got)
	}
}

func TestReserve_DuplicateWithoutSkipIsConflict(t *testing.T) {
	f := newFixture(t)
	w := personal("alice")
	f.deposit(t, w, 100)

	if _, err := f.reserve(model.ReserveCreditsRequest{JobID: "j1", Amount: 30, Wallet: w}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.reserve(model.ReserveCreditsRequest{JobID: "j1", Amount: 30, Wallet: w}); !errors.Is(err, model.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestReserve_FansOutToAncestors(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, project("dept"), 500)
	f.deposit(t, project("root"), 500)

	_, err := f.reserve(model.ReserveCreditsRequest{JobID: "j1", Amount: 100, Wallet: project("dept"), PropagateToAncestors: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows := f.store.AllTransactions()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.OriginalAccountID != "dept" {
			t.Errorf("row for %s has original account %q, want dept", row.Wallet.AccountID, row.OriginalAccountID)
		}
		if !row.IsReserved || row.Amount != 100 {
			t.Errorf("unexpected row %+v", row)
		}
	}
	if got := f.reserved(t, project("root")); got != 100 {
		t.Errorf("expected 100 reserved at root, got %d", got)
	}
}

func TestReserve_AncestorLimitRejectsWholeChain(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, project("lab"), 1000)
	f.deposit(t, project("dept"), 1000)
	f.deposit(t, project("root"), 10)

	_, err := f.reserve(model.ReserveCreditsRequest{JobID: "j1", Amount: 100, Wallet: project("lab"), PropagateToAncestors: true})
	if !errors.Is(err, model.ErrPaymentRequired) {
		t.Fatalf("expected ErrPaymentRequired, got %v", err)
	}
	if n := len(f.store.AllTransactions()); n != 0 {
		t.Errorf("expected leaf and dept rows to be rolled back, %d rows left", n)
	}
}

func TestReserve_WithoutPropagationIgnoresAncestors(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, project("lab"), 1000)

	if _, err := f.reserve(model.ReserveCreditsRequest{JobID: "j1", Amount: 100, Wallet: project("lab")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(f.store.AllTransactions()); n != 1 {
		t.Errorf("expected a single row, got %d", n)
	}
}

func TestReserve_ChargeImmediatelyDebitsEveryLevel(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"lab", "dept", "root"} {
		f.deposit(t, project(id), 1000)
	}

	_, err := f.reserve(model.ReserveCreditsRequest{
		JobID: "j1", Amount: 250, ProductUnits: 5, Wallet: project("lab"), PropagateToAncestors: true, ChargeImmediately: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, id := range []string{"lab", "dept", "root"} {
		if got := f.balance(t, project(id)); got != 750 {
			t.Errorf("%s: expected balance 750, got %d", id, got)
		}
		if got := f.reserved(t, project(id)); got != 0 {
			t.Errorf("%s: expected nothing reserved, got %d", id, got)
		}
	}
	if n := f.bus.count(repository.TopicTransactionCharged); n != 3 {
		t.Errorf("expected 3 charged events, got %d", n)
	}
	if n := f.bus.count(repository.TopicTransactionReserved); n != 0 {
		t.Errorf("expected no reserved events, got %d", n)
	}
}

func TestReserve_SkipLimitCheck(t *testing.T) {
	f := newFixture(t)
	w := project("lab")
	f.deposit(t, w, 10)

	if _, err := f.reserve(model.ReserveCreditsRequest{JobID: "j1", Amount: 50, Wallet: w, SkipLimitCheck: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.reserved(t, w); got != 50 {
		t.Errorf("expected 50 reserved, got %d", got)
	}
}

func TestReserve_Validation(t *testing.T) {
	f := newFixture(t)
	w := project("lab")
	f.deposit(t, w, 100)

	tests := []struct {
		name    string
		actor   model.Actor
		req     model.ReserveCreditsRequest
		wantErr error
	}{
		{"negative amount", model.SystemActor, model.ReserveCreditsRequest{JobID: "j", Amount: -1, Wallet: w, InitiatedBy: alice}, model.ErrBadRequest},
		{"system initiator", model.SystemActor, model.ReserveCreditsRequest{JobID: "j", Amount: 1, Wallet: w, InitiatedBy: model.SystemActor}, model.ErrBadRequest},
		{"missing job id", model.SystemActor, model.ReserveCreditsRequest{Amount: 1, Wallet: w, InitiatedBy: alice}, model.ErrBadRequest},
		{"malformed wallet", model.SystemActor, model.ReserveCreditsRequest{JobID: "j", Amount: 1, Wallet: model.Wallet{AccountID: "lab"}, InitiatedBy: alice}, model.ErrBadRequest},
		{"unprivileged caller", alice, model.ReserveCreditsRequest{JobID: "j", Amount: 1, Wallet: w, InitiatedBy: alice}, model.ErrForbidden},
		{"unknown project", model.SystemActor, model.ReserveCreditsRequest{JobID: "j", Amount: 1, Wallet: project("ghost"), InitiatedBy: alice, PropagateToAncestors: true}, model.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ReserveCredits(context.Background(), tt.actor, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
	if n := len(f.store.AllTransactions()); n != 0 {
		t.Errorf("expected no rows, got %d", n)
	}
}

func TestReserve_ConcurrentRequestsNeverOverspend(t *testing.T) {
	f := newFixture(t)
	w := project("lab")
	f.deposit(t, w, 100)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.reserve(model.ReserveCreditsRequest{JobID: fmt.Sprintf("job-%d", i), Amount: 10, Wallet: w})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, model.ErrPaymentRequired) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 10 {
		t.Errorf("expected exactly 10 admitted reservations, got %d", succeeded)
	}
	if got := f.reserved(t, w); got != 100 {
		t.Errorf("expected 100 reserved, got %d", got)
	}
}

func TestReserveBulk(t *testing.T) {
	t.Run("rejection rolls back the batch", func(t *testing.T) {
		f := newFixture(t)
		f.deposit(t, personal("alice"), 100)
		f.deposit(t, personal("bob"), 5)

		_, err := f.svc.ReserveCreditsBulk(context.Background(), model.SystemActor, []model.ReserveCreditsRequest{
			{JobID: "a", Amount: 50, Wallet: personal("alice"), InitiatedBy: alice},
			{JobID: "b", Amount: 50, Wallet: personal("bob"), InitiatedBy: alice},
		})
		if !errors.Is(err, model.ErrPaymentRequired) {
			t.Fatalf("expected ErrPaymentRequired, got %v", err)
		}
		if n := len(f.store.AllTransactions()); n != 0 {
			t.Errorf("expected no rows, got %d", n)
		}
	})

	t.Run("mixed probes are refused", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.ReserveCreditsBulk(context.Background(), model.SystemActor, []model.ReserveCreditsRequest{
			{JobID: "a", Amount: 1, Wallet: personal("alice"), InitiatedBy: alice, DiscardAfterLimitCheck: true},
			{JobID: "b", Amount: 1, Wallet: personal("alice"), InitiatedBy: alice},
		})
		if !errors.Is(err, model.ErrBadRequest) {
			t.Errorf("expected ErrBadRequest, got %v", err)
		}
	})
}
