package nats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"accounting/internal/model"
	"accounting/internal/payment"
)

const (
	SubjectCharge  = "accounting.payments.charge"
	SubjectReserve = "accounting.payments.reserve"

	queueGroup = "accounting_payments"
)

// Payments is the payment adapter as seen by schedulers.
type Payments interface {
	Charge(ctx context.Context, p payment.Payment) (payment.Status, error)
	Reserve(ctx context.Context, p payment.Payment, expiresIn time.Duration) error
}

type ReserveRequest struct {
	Payment          payment.Payment `json:"payment"`
	ExpiresInSeconds int64           `json:"expires_in_seconds"`
}

// Reply is the answer to both payment subjects. Error and Code are set on failure.
type Reply struct {
	Status payment.Status `json:"status,omitempty"`
	Error  string         `json:"error,omitempty"`
	Code   string         `json:"code,omitempty"`
}

// Handler serves payment requests from schedulers over NATS request/reply.
type Handler struct {
	payments Payments
	nc       *nats.Conn
	subs     []*nats.Subscription
}

func NewHandler(payments Payments, nc *nats.Conn) *Handler {
	return &Handler{payments: payments, nc: nc}
}

// Start subscribes to the payment subjects and blocks until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	routes := map[string]func(context.Context, []byte) Reply{
		SubjectCharge:  h.charge,
		SubjectReserve: h.reserve,
	}
	for subject, handle := range routes {
		sub, err := h.nc.QueueSubscribe(subject, queueGroup, func(m *nats.Msg) {
			data, err := json.Marshal(handle(ctx, m.Data))
			if err != nil {
				slog.Error("nats: failed to encode reply", "subject", m.Subject, "error", err)
				return
			}
			if err := m.Respond(data); err != nil {
				slog.Error("nats: failed to respond", "subject", m.Subject, "error", err)
			}
		})
		if err != nil {
			return err
		}
		h.subs = append(h.subs, sub)
	}

	slog.Info("NATS payment handler is running")

	<-ctx.Done()
	slog.Info("NATS payment handler shutting down, draining subscriptions...")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}

func (h *Handler) charge(ctx context.Context, data []byte) Reply {
	var p payment.Payment
	if err := json.Unmarshal(data, &p); err != nil {
		return Reply{Error: "invalid_json", Code: "BAD_REQUEST"}
	}
	status, err := h.payments.Charge(ctx, p)
	if err != nil {
		slog.Warn("nats: charge refused", "payment_id", p.ID, "error", err)
		return errorReply(err)
	}
	return Reply{Status: status}
}

func (h *Handler) reserve(ctx context.Context, data []byte) Reply {
	var req ReserveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return Reply{Error: "invalid_json", Code: "BAD_REQUEST"}
	}
	err := h.payments.Reserve(ctx, req.Payment, time.Duration(req.ExpiresInSeconds)*time.Second)
	if err != nil {
		return errorReply(err)
	}
	return Reply{Status: payment.StatusReservable}
}

func errorReply(err error) Reply {
	code := "INTERNAL"
	switch {
	case errors.Is(err, model.ErrPaymentRequired):
		code = "PAYMENT_REQUIRED"
	case errors.Is(err, model.ErrBadRequest):
		code = "BAD_REQUEST"
	case errors.Is(err, model.ErrForbidden):
		code = "FORBIDDEN"
	case errors.Is(err, model.ErrConflict):
		code = "CONFLICT"
	case errors.Is(err, model.ErrNotFound):
		code = "NOT_FOUND"
	case errors.Is(err, model.ErrUnavailable):
		code = "UNAVAILABLE"
	}
	return Reply{Error: err.Error(), Code: code}
}
