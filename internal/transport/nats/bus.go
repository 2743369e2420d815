package nats

import (
	"github.com/nats-io/nats.go"

	"accounting/internal/repository"
)

var _ repository.MessageBus = (*Bus)(nil)

// Bus publishes ledger events as plain NATS messages; subjects are the
// repository topic names.
type Bus struct {
	nc *nats.Conn
}

func NewBus(nc *nats.Conn) *Bus {
	return &Bus{nc: nc}
}

func (b *Bus) Publish(topic string, data []byte) error {
	return b.nc.Publish(topic, data)
}
