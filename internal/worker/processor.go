package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"accounting/internal/model"
	"accounting/internal/payment"
)

const SubjectUsageRecorded = "accounting.usage.recorded"

// Charger books priced usage.
type Charger interface {
	Charge(ctx context.Context, p payment.Payment) (payment.Status, error)
}

// UsageWorker listens on the "accounting.usage.recorded" NATS subject and
// charges every finished job through the payment adapter.
type UsageWorker struct {
	payments Charger
	natsConn *nats.Conn
}

func NewUsageWorker(payments Charger, nc *nats.Conn) *UsageWorker {
	return &UsageWorker{
		payments: payments,
		natsConn: nc,
	}
}

// Run subscribes to the usage subject and blocks until ctx is cancelled.
func (w *UsageWorker) Run(ctx context.Context) error {
	// Each usage record is delivered to one worker of the group.
	sub, err := w.natsConn.QueueSubscribe(SubjectUsageRecorded, "accounting_usage", func(m *nats.Msg) {
		if err := w.process(ctx, m.Data); err != nil {
			slog.Error("worker: failed to charge job usage", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("worker: failed to subscribe to NATS: %w", err)
	}

	slog.Info("Usage worker is running")

	<-ctx.Done()

	slog.Info("Worker received shutdown signal, draining subscription...")
	return sub.Drain()
}

func (w *UsageWorker) process(ctx context.Context, data []byte) error {
	var usage payment.JobUsage
	if err := json.Unmarshal(data, &usage); err != nil {
		return fmt.Errorf("%w: decode usage: %w", model.ErrBadRequest, err)
	}
	p, err := payment.FromJobUsage(usage)
	if err != nil {
		return err
	}

	status, err := w.payments.Charge(ctx, p)
	if err != nil {
		return fmt.Errorf("charge job %s: %w", usage.JobID, err)
	}

	switch status {
	case payment.StatusInsufficientFunds:
		slog.Warn("worker: job usage exceeds available credits",
			"job_id", usage.JobID, "wallet", usage.Wallet.Key(), "units", p.Units)
	case payment.StatusDuplicate:
		slog.Info("worker: job usage already charged", "job_id", usage.JobID)
	default:
		slog.Info("worker: job usage charged",
			"job_id", usage.JobID, "wallet", usage.Wallet.Key(), "units", p.Units)
	}
	return nil
}

// Start implements the infrastructure.Server interface.
func (w *UsageWorker) Start(ctx context.Context) error {
	return w.Run(ctx)
}

// Stop implements the infrastructure.Server interface (no-op, shutdown is via ctx).
func (w *UsageWorker) Stop(ctx context.Context) error {
	return nil
}
