package model

import (
	"fmt"
	"time"
)

type TransactionType string

const (
	TransactionPayment            TransactionType = "PAYMENT"
	TransactionTransferToPersonal TransactionType = "TRANSFER_TO_PERSONAL"
)

// Transaction is either a reservation (IsReserved) or a completed charge
// against exactly one wallet. Rows created by one reservation share ID and
// OriginalAccountID, one row per wallet in the ancestor chain.
type Transaction struct {
	ID                string          `json:"id"`
	Wallet            Wallet          `json:"wallet"`
	OriginalAccountID string          `json:"original_account_id"`
	ProductID         string          `json:"product_id"`
	Units             int64           `json:"units"`
	Amount            int64           `json:"amount"`
	IsReserved        bool            `json:"is_reserved"`
	InitiatedBy       string          `json:"initiated_by"`
	CompletedAt       time.Time       `json:"completed_at"`
	ExpiresAt         *time.Time      `json:"expires_at,omitempty"`
	Type              TransactionType `json:"transaction_type"`
}

// Expired reports whether a reservation has passed its expiry at now.
func (t Transaction) Expired(now time.Time) bool {
	return t.IsReserved && t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}

// Outcome is how a ledger transaction ended. Only OutcomeCommitted
// is persisted; the other two roll back every write.
type Outcome int

const (
	OutcomeCommitted Outcome = iota
	OutcomeDiscarded
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "COMMITTED"
	case OutcomeDiscarded:
		return "DISCARDED"
	case OutcomeRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	switch string(text) {
	case "COMMITTED":
		*o = OutcomeCommitted
	case "DISCARDED":
		*o = OutcomeDiscarded
	case "REJECTED":
		*o = OutcomeRejected
	default:
		return fmt.Errorf("unknown outcome %q", text)
	}
	return nil
}

// MissedPayment is the audit record of a charge that could not be booked.
type MissedPayment struct {
	ID        string          `json:"id"`
	JobID     string          `json:"job_id"`
	Wallet    Wallet          `json:"wallet"`
	Amount    int64           `json:"amount"`
	Type      TransactionType `json:"transaction_type"`
	Reason    string          `json:"reason"`
	CreatedAt time.Time       `json:"created_at"`
}
