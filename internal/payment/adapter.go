package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"accounting/internal/model"
)

// Status is the answer a scheduler gets for a charge.
type Status string

const (
	StatusCharged           Status = "CHARGED"
	StatusInsufficientFunds Status = "INSUFFICIENT_FUNDS"
	StatusDuplicate         Status = "DUPLICATE"

	// StatusReservable answers a successful Reserve probe.
	StatusReservable Status = "RESERVABLE"
)

// Ledger is the part of the accounting service the adapter drives.
type Ledger interface {
	ReserveCredits(ctx context.Context, actor model.Actor, req model.ReserveCreditsRequest) (model.Outcome, error)
	RecordMissedPayment(ctx context.Context, mp model.MissedPayment) error
}

// Adapter turns scheduler payments into reservation engine calls.
type Adapter struct {
	ledger Ledger
	logger *slog.Logger
	now    func() time.Time
}

func NewAdapter(ledger Ledger, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{ledger: ledger, logger: logger, now: time.Now}
}

// Charge books a payment for resources that were already consumed. Failures
// other than missing funds or a duplicate id are recorded as missed payments
// and the payment is still reported as charged.
func (a *Adapter) Charge(ctx context.Context, p Payment) (Status, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	price, err := p.Price()
	if err != nil {
		return "", err
	}

	_, err = a.ledger.ReserveCredits(ctx, model.SystemActor, a.request(p, price, nil, false))
	switch {
	case err == nil:
		return StatusCharged, nil
	case errors.Is(err, model.ErrPaymentRequired):
		return StatusInsufficientFunds, nil
	case errors.Is(err, model.ErrConflict):
		return StatusDuplicate, nil
	}

	a.logger.Error("payment could not be booked, recording missed payment",
		"payment_id", p.ID, "wallet", p.Wallet.Key(), "amount", price, "error", err)

	mp := model.MissedPayment{
		ID:        uuid.NewString(),
		JobID:     p.ID,
		Wallet:    p.Wallet,
		Amount:    price,
		Type:      paymentType(p),
		Reason:    err.Error(),
		CreatedAt: a.now(),
	}
	if err := a.ledger.RecordMissedPayment(ctx, mp); err != nil {
		a.logger.Error("record missed payment", "payment_id", p.ID, "error", err)
	}
	return StatusCharged, nil
}

// Reserve checks that the payment is affordable without holding any credits.
// Missing funds are returned as model.ErrPaymentRequired.
func (a *Adapter) Reserve(ctx context.Context, p Payment, expiresIn time.Duration) error {
	if err := p.validate(); err != nil {
		return err
	}
	price, err := p.Price()
	if err != nil {
		return err
	}

	var expiresAt *time.Time
	if expiresIn > 0 {
		t := a.now().Add(expiresIn)
		expiresAt = &t
	}
	if _, err := a.ledger.ReserveCredits(ctx, model.SystemActor, a.request(p, price, expiresAt, true)); err != nil {
		return fmt.Errorf("reserve payment %s: %w", p.ID, err)
	}
	return nil
}

func (a *Adapter) request(p Payment, price int64, expiresAt *time.Time, probe bool) model.ReserveCreditsRequest {
	return model.ReserveCreditsRequest{
		JobID:                  p.ID,
		Amount:                 price,
		ExpiresAt:              expiresAt,
		Wallet:                 p.Wallet,
		InitiatedBy:            model.NewUser(p.Launcher, model.RoleUser),
		ProductID:              p.ProductID,
		ProductUnits:           p.Units,
		DiscardAfterLimitCheck: probe,
		ChargeImmediately:      !probe,
		SkipIfExists:           !probe,
		TransactionType:        paymentType(p),
		PropagateToAncestors:   true,
	}
}

func paymentType(p Payment) model.TransactionType {
	if p.Type == "" {
		return model.TransactionPayment
	}
	return p.Type
}
