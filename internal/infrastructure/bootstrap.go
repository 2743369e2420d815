package infrastructure

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"accounting/internal/auth"
	"accounting/internal/config"
	"accounting/internal/hierarchy"
	"accounting/internal/payment"
	"accounting/internal/repository"
	"accounting/internal/service"
	transportGRPC "accounting/internal/transport/grpc"
	transportHTTP "accounting/internal/transport/http"
	transportNATS "accounting/internal/transport/nats"
	"accounting/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the application.
// Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	logger := NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	db, err := connectPostgres(cfg.DSN())
	if err != nil {
		return nil, nil, err
	}

	rdb, err := connectRedis(cfg.RedisAddr())
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var cleanupFns []func()
	cleanupFns = append(cleanupFns, func() {
		db.Close()
		_ = rdb.Close()
	})

	// ── Infrastructure wiring ──────────────────────────────────────────────────
	remote, cleanup, err := connectHierarchy(cfg)
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}
	cleanupFns = append(cleanupFns, cleanup)
	dir := hierarchy.NewCache(remote, rdb, cfg.HierarchyCacheTTL, logger.With("component", "hierarchy_cache"))

	var nc *nats.Conn
	if cfg.NeedsNats() {
		nc, err = connectNats(cfg.NatsAddr())
		if err != nil {
			return nil, runCleanup(cleanupFns), err
		}
		cleanupFns = append(cleanupFns, nc.Close)
	}

	// 1. Bus setup
	var bus repository.MessageBus
	switch cfg.BusProvider {
	case "nats":
		bus = transportNATS.NewBus(nc)
	case "grpc":
		grpcBus, cleanup, err := transportGRPC.NewGrpcBusFromAddr(cfg.EventsAddr())
		if err != nil {
			return nil, runCleanup(cleanupFns), err
		}
		bus = grpcBus
		cleanupFns = append(cleanupFns, cleanup)
	}

	// 2. Domain
	svc := service.New(repository.NewPostgresStore(db), dir,
		service.WithLogger(logger),
		service.WithBus(bus),
		service.WithServiceUserPrefix(cfg.ServiceUserPrefix),
	)
	payments := payment.NewAdapter(svc, logger)
	tokens := auth.NewTokens(cfg.JWTSecret, time.Hour)

	// 3. Transports
	servers := []Server{transportGRPC.NewServer(cfg.GRPCAddr(), svc, tokens)}
	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		servers = append(servers, transportHTTP.NewServer(addr, svc, tokens))
	}
	if nc != nil {
		servers = append(servers, transportNATS.NewHandler(payments, nc))
	}
	if cfg.WorkerEnabled {
		servers = append(servers, worker.NewUsageWorker(payments, nc))
	}

	logger.Info("accounting service wired", "bus", cfg.BusProvider, "servers", len(servers), "worker", cfg.WorkerEnabled)
	return NewApp(servers), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
