package service

import (
	"context"

	"accounting/internal/model"
)

// AccountingService defines the business operations of the credit ledger.
// All transport layers (HTTP, gRPC, NATS) depend on this interface, not on the
// concrete implementation. The actor is the already authenticated caller.
type AccountingService interface {
	RetrieveBalance(ctx context.Context, actor model.Actor, req model.RetrieveBalanceRequest) ([]model.WalletBalance, error)
	AddToBalance(ctx context.Context, actor model.Actor, req model.AddToBalanceRequest) error
	AddToBalanceBulk(ctx context.Context, actor model.Actor, reqs []model.AddToBalanceRequest) error
	SetBalance(ctx context.Context, actor model.Actor, req model.SetBalanceRequest) error
	ReserveCredits(ctx context.Context, actor model.Actor, req model.ReserveCreditsRequest) (model.Outcome, error)
	ReserveCreditsBulk(ctx context.Context, actor model.Actor, reqs []model.ReserveCreditsRequest) (model.Outcome, error)
	ChargeReservation(ctx context.Context, actor model.Actor, req model.ChargeReservationRequest) error
	TransferToPersonal(ctx context.Context, actor model.Actor, reqs []model.TransferToPersonalRequest) error
	ReservedCredits(ctx context.Context, actor model.Actor, w model.Wallet) (int64, error)
}
