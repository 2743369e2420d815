package grpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"accounting/internal/codec"
)

const publishMethod = "/events.EventService/Publish"

type eventRequest struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

type eventResponse struct {
	Success bool `json:"success"`
}

// GrpcBus publishes events to a remote EventService over gRPC.
// Used when BusProvider == "grpc" in config.
type GrpcBus struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

// NewGrpcBusFromAddr dials the remote EventService and returns a GrpcBus and a cleanup function.
func NewGrpcBusFromAddr(addr string) (*GrpcBus, func(), error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = conn.Close() }
	return NewGrpcBus(conn), cleanup, nil
}

func NewGrpcBus(conn grpc.ClientConnInterface) *GrpcBus {
	return &GrpcBus{conn: conn, timeout: 5 * time.Second}
}

// Publish sends an event to the remote EventService.
func (b *GrpcBus) Publish(topic string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	var res eventResponse
	err := b.conn.Invoke(ctx, publishMethod, &eventRequest{Topic: topic, Payload: data}, &res, grpc.CallContentSubtype(codec.Name))
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("event service refused %s", topic)
	}
	return nil
}
