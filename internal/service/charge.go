package service

import (
	"context"
	"fmt"
	"time"

	"accounting/internal/model"
	"accounting/internal/repository"
)

// ChargeReservation finalizes a reservation with the metered amount. The final
// amount may differ from what was reserved and may drive balances negative.
func (a *Accounting) ChargeReservation(ctx context.Context, actor model.Actor, req model.ChargeReservationRequest) error {
	if err := a.gate.RequirePrivileged(actor); err != nil {
		return err
	}
	if req.JobID == "" {
		return fmt.Errorf("%w: job id is required", model.ErrBadRequest)
	}
	if req.Amount < 0 || req.Units < 0 {
		return fmt.Errorf("%w: amount and units must not be negative", model.ErrBadRequest)
	}

	var charged []model.Transaction
	_, err := a.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) (model.Outcome, error) {
		var err error
		charged, err = chargeFromReservation(ctx, tx, req.JobID, req.Amount, req.Units, a.now())
		return model.OutcomeCommitted, err
	})
	if err != nil {
		return err
	}

	a.logger.Info("reservation charged", "job_id", req.JobID, "amount", req.Amount, "units", req.Units, "wallets", len(charged))
	a.publishTransactions(repository.TopicTransactionCharged, charged)
	return nil
}

// chargeFromReservation flips every reserved row of the job into a completed
// charge and debits each of their wallets by the final amount. The wallets are
// locked before any row is touched.
func chargeFromReservation(ctx context.Context, tx repository.Tx, jobID string, amount, units int64, now time.Time) ([]model.Transaction, error) {
	existing, err := tx.Transactions(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return nil, fmt.Errorf("%w: no reservation %s", model.ErrNotFound, jobID)
	}
	wallets := make([]model.Wallet, len(existing))
	for i, row := range existing {
		wallets[i] = row.Wallet
	}
	if err := lockWallets(ctx, tx, wallets); err != nil {
		return nil, err
	}

	rows, err := tx.FinalizeReservation(ctx, jobID, amount, units, now)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: reservation %s is already charged", model.ErrConflict, jobID)
	}
	for _, row := range rows {
		if err := tx.AddToBalance(ctx, row.Wallet, -amount); err != nil {
			return nil, err
		}
	}
	return rows, nil
}
