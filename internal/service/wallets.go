package service

import (
	"context"
	"fmt"

	"accounting/internal/model"
	"accounting/internal/repository"
)

func (a *Accounting) RetrieveBalance(ctx context.Context, actor model.Actor, req model.RetrieveBalanceRequest) ([]model.WalletBalance, error) {
	if req.AccountID == "" {
		return nil, fmt.Errorf("%w: account id is required", model.ErrBadRequest)
	}
	if err := a.gate.RequireRead(ctx, actor, req.AccountID, req.Type); err != nil {
		return nil, err
	}

	var children []string
	if req.IncludeChildren && req.Type == model.OwnerProject {
		ids, err := a.dir.Subprojects(ctx, req.AccountID)
		if err != nil {
			return nil, directoryError(err, "subprojects of "+req.AccountID)
		}
		children = ids
	}

	var wallets []model.WalletBalance
	_, err := a.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) (model.Outcome, error) {
		var err error
		wallets, err = walletsForAccount(ctx, tx, req.AccountID, req.Type, children)
		return model.OutcomeCommitted, err
	})
	if err != nil {
		return nil, err
	}
	return wallets, nil
}

// walletsForAccount lists the account's wallets followed by the wallets the
// given descendant projects hold in the same product categories.
func walletsForAccount(ctx context.Context, tx repository.Tx, accountID string, typ model.OwnerType, descendants []string) ([]model.WalletBalance, error) {
	own, err := tx.ListWallets(ctx, []string{accountID}, typ)
	if err != nil {
		return nil, err
	}
	if len(descendants) == 0 || len(own) == 0 {
		return own, nil
	}

	categories := make(map[model.ProductCategory]struct{}, len(own))
	for _, wb := range own {
		categories[wb.Wallet.Category] = struct{}{}
	}

	children, err := tx.ListWallets(ctx, descendants, model.OwnerProject)
	if err != nil {
		return nil, err
	}
	for _, wb := range children {
		if _, ok := categories[wb.Wallet.Category]; ok {
			own = append(own, wb)
		}
	}
	return own, nil
}

func (a *Accounting) AddToBalance(ctx context.Context, actor model.Actor, req model.AddToBalanceRequest) error {
	return a.AddToBalanceBulk(ctx, actor, []model.AddToBalanceRequest{req})
}

// AddToBalanceBulk credits every wallet in one transaction.
func (a *Accounting) AddToBalanceBulk(ctx context.Context, actor model.Actor, reqs []model.AddToBalanceRequest) error {
	if len(reqs) == 0 {
		return fmt.Errorf("%w: no deposits given", model.ErrBadRequest)
	}
	for _, req := range reqs {
		if err := req.Wallet.Validate(); err != nil {
			return err
		}
		if req.Amount < 0 {
			return fmt.Errorf("%w: amount must not be negative", model.ErrBadRequest)
		}
		if err := a.gate.RequireWrite(ctx, actor, req.Wallet.AccountID, req.Wallet.Type); err != nil {
			return err
		}
	}

	wallets := make([]model.Wallet, len(reqs))
	for i, req := range reqs {
		wallets[i] = req.Wallet
	}

	_, err := a.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) (model.Outcome, error) {
		if err := lockWallets(ctx, tx, wallets); err != nil {
			return model.OutcomeRejected, err
		}
		for _, req := range reqs {
			if err := tx.AddToBalance(ctx, req.Wallet, req.Amount); err != nil {
				return model.OutcomeRejected, err
			}
		}
		return model.OutcomeCommitted, nil
	})
	if err != nil {
		return err
	}

	for _, req := range reqs {
		a.logger.Info("balance credited", "wallet", req.Wallet.Key(), "amount", req.Amount, "actor", actor.Username)
	}
	return nil
}

func (a *Accounting) SetBalance(ctx context.Context, actor model.Actor, req model.SetBalanceRequest) error {
	if err := req.Wallet.Validate(); err != nil {
		return err
	}
	if req.NewBalance < 0 {
		return fmt.Errorf("%w: new balance must not be negative", model.ErrBadRequest)
	}
	if err := a.gate.RequireWrite(ctx, actor, req.Wallet.AccountID, req.Wallet.Type); err != nil {
		return err
	}

	_, err := a.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) (model.Outcome, error) {
		if err := tx.SetBalance(ctx, req.Wallet, req.LastKnownBalance, req.NewBalance); err != nil {
			return model.OutcomeRejected, err
		}
		return model.OutcomeCommitted, nil
	})
	if err != nil {
		return err
	}

	a.logger.Info("balance set", "wallet", req.Wallet.Key(), "from", req.LastKnownBalance, "to", req.NewBalance, "actor", actor.Username)
	return nil
}

// ReservedCredits returns the credits currently held by unexpired reservations.
// Expired reservations found on the way are deleted.
func (a *Accounting) ReservedCredits(ctx context.Context, actor model.Actor, w model.Wallet) (int64, error) {
	if err := w.Validate(); err != nil {
		return 0, err
	}
	if err := a.gate.RequireRead(ctx, actor, w.AccountID, w.Type); err != nil {
		return 0, err
	}

	var reserved int64
	_, err := a.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) (model.Outcome, error) {
		var err error
		reserved, err = reservedCredits(ctx, tx, w, a.now())
		return model.OutcomeCommitted, err
	})
	return reserved, err
}

// RecordMissedPayment durably stores the audit row of a charge that failed for
// a reason other than funds or duplication.
func (a *Accounting) RecordMissedPayment(ctx context.Context, mp model.MissedPayment) error {
	_, err := a.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) (model.Outcome, error) {
		return model.OutcomeCommitted, tx.InsertMissedPayment(ctx, mp)
	})
	if err != nil {
		return err
	}
	a.publish(repository.TopicPaymentMissed, mp)
	return nil
}
