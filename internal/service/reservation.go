package service

import (
	"context"
	"fmt"
	"time"

	"accounting/internal/model"
	"accounting/internal/repository"
)

// reservation is what one pass of the engine decided inside a transaction.
type reservation struct {
	outcome  model.Outcome
	rows     []model.Transaction
	charged  bool
	rejected *rejection
}

type rejection struct {
	jobID     string
	wallet    model.Wallet
	balance   int64
	reserved  int64
	requested int64
}

func (r *rejection) err() error {
	return fmt.Errorf("%w: %s has balance %d with %d reserved, %d requested for %s",
		model.ErrPaymentRequired, r.wallet.Key(), r.balance, r.reserved, r.requested, r.jobID)
}

// ReserveCredits admits a request against its wallet and, when propagation is
// asked for, every ancestor project wallet. Rejections are reported as
// model.ErrPaymentRequired and leave no trace in the ledger.
func (a *Accounting) ReserveCredits(ctx context.Context, actor model.Actor, req model.ReserveCreditsRequest) (model.Outcome, error) {
	return a.ReserveCreditsBulk(ctx, actor, []model.ReserveCreditsRequest{req})
}

// ReserveCreditsBulk runs every request in one transaction. A rejection of any
// request rejects the batch. Batches may not mix probes with real reservations.
func (a *Accounting) ReserveCreditsBulk(ctx context.Context, actor model.Actor, reqs []model.ReserveCreditsRequest) (model.Outcome, error) {
	if err := a.gate.RequirePrivileged(actor); err != nil {
		return model.OutcomeRejected, err
	}
	if len(reqs) == 0 {
		return model.OutcomeRejected, fmt.Errorf("%w: no reservations given", model.ErrBadRequest)
	}

	probe := reqs[0].DiscardAfterLimitCheck
	chains := make([][]model.Wallet, len(reqs))
	for i, req := range reqs {
		if err := validateReservation(req); err != nil {
			return model.OutcomeRejected, err
		}
		if req.DiscardAfterLimitCheck != probe {
			return model.OutcomeRejected, fmt.Errorf("%w: a batch can not mix limit checks with reservations", model.ErrBadRequest)
		}
		chain, err := a.walletChain(ctx, req)
		if err != nil {
			return model.OutcomeRejected, err
		}
		chains[i] = chain
	}

	var (
		reserved []model.Transaction
		charged  []model.Transaction
		rejected *rejection
	)
	var wallets []model.Wallet
	for _, chain := range chains {
		wallets = append(wallets, chain...)
	}

	outcome, err := a.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) (model.Outcome, error) {
		reserved, charged, rejected = nil, nil, nil
		if err := lockWallets(ctx, tx, wallets); err != nil {
			return model.OutcomeRejected, err
		}
		now := a.now()
		for i, req := range reqs {
			res, err := a.reserve(ctx, tx, req, chains[i], now)
			if err != nil {
				return model.OutcomeRejected, err
			}
			if res.outcome == model.OutcomeRejected {
				rejected = res.rejected
				return model.OutcomeRejected, nil
			}
			if res.charged {
				charged = append(charged, res.rows...)
			} else {
				reserved = append(reserved, res.rows...)
			}
		}
		if probe {
			return model.OutcomeDiscarded, nil
		}
		return model.OutcomeCommitted, nil
	})
	if err != nil {
		return outcome, err
	}

	switch outcome {
	case model.OutcomeRejected:
		a.logger.Info("reservation rejected", "job_id", rejected.jobID, "wallet", rejected.wallet.Key(),
			"balance", rejected.balance, "reserved", rejected.reserved, "requested", rejected.requested)
		return outcome, rejected.err()
	case model.OutcomeCommitted:
		a.publishTransactions(repository.TopicTransactionReserved, reserved)
		a.publishTransactions(repository.TopicTransactionCharged, charged)
	}
	return outcome, nil
}

func validateReservation(req model.ReserveCreditsRequest) error {
	if req.JobID == "" {
		return fmt.Errorf("%w: job id is required", model.ErrBadRequest)
	}
	if req.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", model.ErrBadRequest)
	}
	if req.ProductUnits < 0 {
		return fmt.Errorf("%w: product units must not be negative", model.ErrBadRequest)
	}
	if req.InitiatedBy.IsSystem() {
		return fmt.Errorf("%w: reservations can not be initiated by the system actor", model.ErrBadRequest)
	}
	if req.InitiatedBy.Username == "" {
		return fmt.Errorf("%w: initiated by is required", model.ErrBadRequest)
	}
	return req.Wallet.Validate()
}

// walletChain is the request's wallet followed by the ancestor wallets the
// reservation must also be admitted against.
func (a *Accounting) walletChain(ctx context.Context, req model.ReserveCreditsRequest) ([]model.Wallet, error) {
	chain := []model.Wallet{req.Wallet}
	if req.Wallet.Type != model.OwnerProject || !req.PropagateToAncestors {
		return chain, nil
	}
	ancestors, err := a.ancestorWallets(ctx, req.Wallet)
	if err != nil {
		return nil, err
	}
	return append(chain, ancestors...), nil
}

// reserve admits one request against an open transaction. Every wallet of the
// chain must already be locked through lockWallets, which makes the existence
// check below and the admission checks atomic with the inserts. Wallets are
// checked in chain order (leaf, then ancestors nearest first).
func (a *Accounting) reserve(ctx context.Context, tx repository.Tx, req model.ReserveCreditsRequest, chain []model.Wallet, now time.Time) (reservation, error) {
	exists, err := tx.TransactionExists(ctx, req.JobID)
	if err != nil {
		return reservation{}, err
	}
	if exists {
		if !req.SkipIfExists {
			return reservation{}, fmt.Errorf("%w: transaction %s already exists", model.ErrConflict, req.JobID)
		}
		return reservation{outcome: model.OutcomeCommitted}, nil
	}

	leaf := chain[0]
	rows := make([]model.Transaction, 0, len(chain))
	for _, w := range chain {
		balance, _, err := tx.GetBalance(ctx, w)
		if err != nil {
			return reservation{}, err
		}
		reserved, err := reservedCredits(ctx, tx, w, now)
		if err != nil {
			return reservation{}, err
		}

		if !req.SkipLimitCheck && (reserved > balance || req.Amount > balance-reserved) {
			return reservation{
				outcome:  model.OutcomeRejected,
				rejected: &rejection{jobID: req.JobID, wallet: w, balance: balance, reserved: reserved, requested: req.Amount},
			}, nil
		}

		row := model.Transaction{
			ID:                req.JobID,
			Wallet:            w,
			OriginalAccountID: leaf.AccountID,
			ProductID:         req.ProductID,
			Units:             req.ProductUnits,
			Amount:            req.Amount,
			IsReserved:        true,
			InitiatedBy:       req.InitiatedBy.Username,
			CompletedAt:       now,
			ExpiresAt:         req.ExpiresAt,
			Type:              req.TransactionType,
		}
		if row.Type == "" {
			row.Type = model.TransactionPayment
		}
		if err := tx.InsertTransaction(ctx, row); err != nil {
			return reservation{}, err
		}
		rows = append(rows, row)
	}

	if req.DiscardAfterLimitCheck {
		return reservation{outcome: model.OutcomeDiscarded, rows: rows}, nil
	}

	if req.ChargeImmediately {
		charged, err := chargeFromReservation(ctx, tx, req.JobID, req.Amount, req.ProductUnits, now)
		if err != nil {
			return reservation{}, err
		}
		return reservation{outcome: model.OutcomeCommitted, rows: charged, charged: true}, nil
	}

	return reservation{outcome: model.OutcomeCommitted, rows: rows}, nil
}

func reservedCredits(ctx context.Context, tx repository.Tx, w model.Wallet, now time.Time) (int64, error) {
	if _, err := tx.PurgeExpiredReservations(ctx, w, now); err != nil {
		return 0, err
	}
	return tx.ReservedCredits(ctx, w)
}
