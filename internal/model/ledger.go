package model

import "time"

type RetrieveBalanceRequest struct {
	AccountID       string    `json:"account_id"`
	Type            OwnerType `json:"account_type"`
	IncludeChildren bool      `json:"include_children"`
}

type AddToBalanceRequest struct {
	Wallet Wallet `json:"wallet"`
	Amount int64  `json:"amount"`
}

type SetBalanceRequest struct {
	Wallet           Wallet `json:"wallet"`
	LastKnownBalance int64  `json:"last_known_balance"`
	NewBalance       int64  `json:"new_balance"`
}

type ReserveCreditsRequest struct {
	JobID                  string          `json:"job_id"`
	Amount                 int64           `json:"amount"`
	ExpiresAt              *time.Time      `json:"expires_at,omitempty"`
	Wallet                 Wallet          `json:"wallet"`
	InitiatedBy            Actor           `json:"initiated_by"`
	ProductID              string          `json:"product_id"`
	ProductUnits           int64           `json:"product_units"`
	DiscardAfterLimitCheck bool            `json:"discard_after_limit_check"`
	ChargeImmediately      bool            `json:"charge_immediately"`
	SkipIfExists           bool            `json:"skip_if_exists"`
	SkipLimitCheck         bool            `json:"skip_limit_check"`
	TransactionType        TransactionType `json:"transaction_type"`
	PropagateToAncestors   bool            `json:"propagate_to_ancestors"`
}

type ChargeReservationRequest struct {
	JobID  string `json:"job_id"`
	Amount int64  `json:"amount"`
	Units  int64  `json:"units"`
}

type TransferToPersonalRequest struct {
	Source      Wallet `json:"source"`
	Target      Wallet `json:"target"`
	Amount      int64  `json:"amount"`
	InitiatedBy Actor  `json:"initiated_by"`
}

type ReservedCreditsRequest struct {
	Wallet Wallet `json:"wallet"`
}

// TransactionEvent is published on the bus after a ledger change is committed.
type TransactionEvent struct {
	JobID             string          `json:"job_id"`
	Wallet            Wallet          `json:"wallet"`
	OriginalAccountID string          `json:"original_account_id"`
	Amount            int64           `json:"amount"`
	Units             int64           `json:"units"`
	Type              TransactionType `json:"transaction_type"`
	InitiatedBy       string          `json:"initiated_by"`
	CreatedAt         time.Time       `json:"created_at"`
}
