package payment

import (
	"fmt"
	"math"
	"time"

	"accounting/internal/model"
)

// Payment is a priced usage record submitted by a resource scheduler.
type Payment struct {
	ID           string                `json:"id"`
	Wallet       model.Wallet          `json:"wallet"`
	Launcher     string                `json:"launcher"`
	ProductID    string                `json:"product_id"`
	PricePerUnit int64                 `json:"price_per_unit"`
	Units        int64                 `json:"units"`
	Type         model.TransactionType `json:"transaction_type,omitempty"`
}

// Price is PricePerUnit times Units. Overflowing prices are rejected.
func (p Payment) Price() (int64, error) {
	if p.PricePerUnit < 0 || p.Units < 0 {
		return 0, fmt.Errorf("%w: price per unit and units must not be negative", model.ErrBadRequest)
	}
	if p.Units != 0 && p.PricePerUnit > math.MaxInt64/p.Units {
		return 0, fmt.Errorf("%w: price of %d units at %d overflows", model.ErrBadRequest, p.Units, p.PricePerUnit)
	}
	return p.PricePerUnit * p.Units, nil
}

func (p Payment) validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: payment id is required", model.ErrBadRequest)
	}
	if p.Launcher == "" {
		return fmt.Errorf("%w: payment launcher is required", model.ErrBadRequest)
	}
	return p.Wallet.Validate()
}

// JobUsage is what a scheduler reports when a job finishes.
type JobUsage struct {
	JobID           string       `json:"job_id"`
	Wallet          model.Wallet `json:"wallet"`
	Launcher        string       `json:"launcher"`
	ProductID       string       `json:"product_id"`
	PricePerUnit    int64        `json:"price_per_unit"`
	DurationSeconds int64        `json:"duration_seconds"`
}

// FromJobUsage prices a job by started minutes of wall-clock time, at least one.
func FromJobUsage(u JobUsage) (Payment, error) {
	if u.DurationSeconds < 0 {
		return Payment{}, fmt.Errorf("%w: job %s has a negative duration", model.ErrBadRequest, u.JobID)
	}
	d := time.Duration(u.DurationSeconds) * time.Second
	units := int64(d / time.Minute)
	if d%time.Minute != 0 {
		units++
	}
	if units < 1 {
		units = 1
	}

	p := Payment{
		ID:           u.JobID,
		Wallet:       u.Wallet,
		Launcher:     u.Launcher,
		ProductID:    u.ProductID,
		PricePerUnit: u.PricePerUnit,
		Units:        units,
		Type:         model.TransactionPayment,
	}
	if _, err := p.Price(); err != nil {
		return Payment{}, err
	}
	return p, nil
}
