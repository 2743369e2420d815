package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"accounting/internal/model"
	"accounting/internal/repository"
)

// TransferToPersonal moves credits from project wallets into personal wallets
// of the same product category. The project side is an immediately charged
// reservation, so ancestor limits apply exactly as for a job.
func (a *Accounting) TransferToPersonal(ctx context.Context, actor model.Actor, reqs []model.TransferToPersonalRequest) error {
	if err := a.gate.RequirePrivileged(actor); err != nil {
		return err
	}
	if len(reqs) == 0 {
		return fmt.Errorf("%w: no transfers given", model.ErrBadRequest)
	}

	reservations := make([]model.ReserveCreditsRequest, len(reqs))
	chains := make([][]model.Wallet, len(reqs))
	for i, req := range reqs {
		if err := validateTransfer(req); err != nil {
			return err
		}
		reservations[i] = model.ReserveCreditsRequest{
			JobID:                uuid.NewString(),
			Amount:               req.Amount,
			Wallet:               req.Source,
			InitiatedBy:          req.InitiatedBy,
			ProductID:            req.Source.Category.ID,
			ProductUnits:         req.Amount,
			ChargeImmediately:    true,
			TransactionType:      model.TransactionTransferToPersonal,
			PropagateToAncestors: true,
		}
		if err := validateReservation(reservations[i]); err != nil {
			return err
		}
		chain, err := a.walletChain(ctx, reservations[i])
		if err != nil {
			return err
		}
		chains[i] = chain
	}

	var (
		charged  []model.Transaction
		rejected *rejection
	)
	var wallets []model.Wallet
	for i, req := range reqs {
		wallets = append(wallets, chains[i]...)
		wallets = append(wallets, req.Target)
	}

	outcome, err := a.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) (model.Outcome, error) {
		charged, rejected = nil, nil
		if err := lockWallets(ctx, tx, wallets); err != nil {
			return model.OutcomeRejected, err
		}
		now := a.now()
		for i, req := range reqs {
			res, err := a.reserve(ctx, tx, reservations[i], chains[i], now)
			if err != nil {
				return model.OutcomeRejected, err
			}
			if res.outcome == model.OutcomeRejected {
				rejected = res.rejected
				return model.OutcomeRejected, nil
			}
			if err := tx.AddToBalance(ctx, req.Target, req.Amount); err != nil {
				return model.OutcomeRejected, err
			}
			charged = append(charged, res.rows...)
		}
		return model.OutcomeCommitted, nil
	})
	if err != nil {
		return err
	}
	if outcome == model.OutcomeRejected {
		return rejected.err()
	}

	for _, req := range reqs {
		a.logger.Info("credits transferred to personal wallet",
			"source", req.Source.Key(), "target", req.Target.Key(), "amount", req.Amount, "initiated_by", req.InitiatedBy.Username)
	}
	a.publishTransactions(repository.TopicTransactionCharged, charged)
	return nil
}

func validateTransfer(req model.TransferToPersonalRequest) error {
	if err := req.Source.Validate(); err != nil {
		return err
	}
	if err := req.Target.Validate(); err != nil {
		return err
	}
	if req.Source.Type != model.OwnerProject || req.Target.Type != model.OwnerUser {
		return fmt.Errorf("%w: transfers go from a project wallet to a user wallet", model.ErrBadRequest)
	}
	if req.Source.Category != req.Target.Category {
		return fmt.Errorf("%w: source and target product categories differ", model.ErrBadRequest)
	}
	if req.Amount <= 0 {
		return fmt.Errorf("%w: transfer amount must be positive", model.ErrBadRequest)
	}
	return nil
}
