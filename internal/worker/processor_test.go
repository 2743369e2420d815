package worker

import (
	"context"
	"errors"
	"testing"

	"accounting/internal/model"
	"accounting/internal/payment"
)

type mockCharger struct {
	status  payment.Status
	err     error
	charged []payment.Payment
}

func (m *mockCharger) Charge(ctx context.Context, p payment.Payment) (payment.Status, error) {
	m.charged = append(m.charged, p)
	return m.status, m.err
}

func TestUsageWorker_Process(t *testing.T) {
	charger := &mockCharger{status: payment.StatusCharged}
	w := NewUsageWorker(charger, nil)

	msg := []byte(`{"job_id":"job-7","wallet":{"account_id":"lab","account_type":"PROJECT","product_category":{"id":"cpu","provider":"hpc"}},"launcher":"alice","product_id":"cpu-standard","price_per_unit":4,"duration_seconds":125}`)
	if err := w.process(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(charger.charged) != 1 {
		t.Fatalf("expected one charge, got %d", len(charger.charged))
	}
	p := charger.charged[0]
	if p.ID != "job-7" || p.Units != 3 || p.PricePerUnit != 4 || p.Launcher != "alice" || p.Wallet.AccountID != "lab" {
		t.Errorf("unexpected payment %+v", p)
	}
}

func TestUsageWorker_ProcessRejects(t *testing.T) {
	charger := &mockCharger{}
	w := NewUsageWorker(charger, nil)

	if err := w.process(context.Background(), []byte(`{`)); !errors.Is(err, model.ErrBadRequest) {
		t.Errorf("expected ErrBadRequest for malformed json, got %v", err)
	}
	if err := w.process(context.Background(), []byte(`{"job_id":"j","duration_seconds":-5}`)); !errors.Is(err, model.ErrBadRequest) {
		t.Errorf("expected ErrBadRequest for a negative duration, got %v", err)
	}
	if len(charger.charged) != 0 {
		t.Errorf("invalid usage reached the adapter")
	}

	charger.err = errors.New("invalid payment")
	if err := w.process(context.Background(), []byte(`{"job_id":"j","duration_seconds":5}`)); err == nil {
		t.Error("expected the adapter error to be returned")
	}
}
