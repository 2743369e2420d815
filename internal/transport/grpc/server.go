package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	_ "accounting/internal/codec"
	"accounting/internal/model"
	"accounting/internal/service"
)

const ServiceName = "accounting.Accounting"

// Authenticator resolves the authorization metadata value into the calling actor.
type Authenticator interface {
	FromHeader(header string) (model.Actor, error)
}

type Bulk[T any] struct {
	Items []T `json:"items"`
}

type Ack struct {
	Status string `json:"status"`
}

type BalanceResponse struct {
	Wallets []model.WalletBalance `json:"wallets"`
}

type ReserveResponse struct {
	Outcome model.Outcome `json:"outcome"`
}

type ReservedResponse struct {
	Reserved int64 `json:"reserved"`
}

// AccountingServer is the method set served under ServiceName.
type AccountingServer interface {
	RetrieveBalance(context.Context, *model.RetrieveBalanceRequest) (*BalanceResponse, error)
	AddToBalance(context.Context, *model.AddToBalanceRequest) (*Ack, error)
	AddToBalanceBulk(context.Context, *Bulk[model.AddToBalanceRequest]) (*Ack, error)
	SetBalance(context.Context, *model.SetBalanceRequest) (*Ack, error)
	ReserveCredits(context.Context, *model.ReserveCreditsRequest) (*ReserveResponse, error)
	ReserveCreditsBulk(context.Context, *Bulk[model.ReserveCreditsRequest]) (*ReserveResponse, error)
	ChargeReservation(context.Context, *model.ChargeReservationRequest) (*Ack, error)
	TransferToPersonal(context.Context, *Bulk[model.TransferToPersonalRequest]) (*Ack, error)
	ReservedCredits(context.Context, *model.ReservedCreditsRequest) (*ReservedResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AccountingServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("RetrieveBalance", AccountingServer.RetrieveBalance),
		unary("AddToBalance", AccountingServer.AddToBalance),
		unary("AddToBalanceBulk", AccountingServer.AddToBalanceBulk),
		unary("SetBalance", AccountingServer.SetBalance),
		unary("ReserveCredits", AccountingServer.ReserveCredits),
		unary("ReserveCreditsBulk", AccountingServer.ReserveCreditsBulk),
		unary("ChargeReservation", AccountingServer.ChargeReservation),
		unary("TransferToPersonal", AccountingServer.TransferToPersonal),
		unary("ReservedCredits", AccountingServer.ReservedCredits),
	},
	Metadata: "accounting.json",
}

func unary[Req, Res any](name string, call func(AccountingServer, context.Context, *Req) (*Res, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AccountingServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(AccountingServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

type Server struct {
	svc  service.AccountingService
	auth Authenticator
	srv  *grpc.Server
	addr string
}

func NewServer(addr string, svc service.AccountingService, auth Authenticator) *Server {
	s := &Server{svc: svc, auth: auth, addr: addr, srv: grpc.NewServer()}
	s.srv.RegisterService(&serviceDesc, s)
	return s
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.srv.Serve(lis)
}

func (s *Server) Stop(ctx context.Context) error {
	s.srv.GracefulStop()
	return nil
}

func (s *Server) actor(ctx context.Context) (model.Actor, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		return model.Actor{}, status.Error(codes.Unauthenticated, "missing authorization metadata")
	}
	actor, err := s.auth.FromHeader(values[0])
	if err != nil {
		return model.Actor{}, status.Error(codes.Unauthenticated, "invalid authorization metadata")
	}
	return actor, nil
}

func (s *Server) RetrieveBalance(ctx context.Context, req *model.RetrieveBalanceRequest) (*BalanceResponse, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	wallets, err := s.svc.RetrieveBalance(ctx, actor, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &BalanceResponse{Wallets: wallets}, nil
}

func (s *Server) AddToBalance(ctx context.Context, req *model.AddToBalanceRequest) (*Ack, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	return ack(s.svc.AddToBalance(ctx, actor, *req))
}

func (s *Server) AddToBalanceBulk(ctx context.Context, req *Bulk[model.AddToBalanceRequest]) (*Ack, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	return ack(s.svc.AddToBalanceBulk(ctx, actor, req.Items))
}

func (s *Server) SetBalance(ctx context.Context, req *model.SetBalanceRequest) (*Ack, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	return ack(s.svc.SetBalance(ctx, actor, *req))
}

func (s *Server) ReserveCredits(ctx context.Context, req *model.ReserveCreditsRequest) (*ReserveResponse, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	outcome, err := s.svc.ReserveCredits(ctx, actor, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ReserveResponse{Outcome: outcome}, nil
}

func (s *Server) ReserveCreditsBulk(ctx context.Context, req *Bulk[model.ReserveCreditsRequest]) (*ReserveResponse, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	outcome, err := s.svc.ReserveCreditsBulk(ctx, actor, req.Items)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ReserveResponse{Outcome: outcome}, nil
}

func (s *Server) ChargeReservation(ctx context.Context, req *model.ChargeReservationRequest) (*Ack, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	return ack(s.svc.ChargeReservation(ctx, actor, *req))
}

func (s *Server) TransferToPersonal(ctx context.Context, req *Bulk[model.TransferToPersonalRequest]) (*Ack, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	return ack(s.svc.TransferToPersonal(ctx, actor, req.Items))
}

func (s *Server) ReservedCredits(ctx context.Context, req *model.ReservedCreditsRequest) (*ReservedResponse, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	reserved, err := s.svc.ReservedCredits(ctx, actor, req.Wallet)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ReservedResponse{Reserved: reserved}, nil
}

func ack(err error) (*Ack, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	return &Ack{Status: "SUCCESS"}, nil
}

func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, model.ErrForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, model.ErrBadRequest):
		code = codes.InvalidArgument
	case errors.Is(err, model.ErrPaymentRequired):
		code = codes.FailedPrecondition
	case errors.Is(err, model.ErrConflict):
		code = codes.AlreadyExists
	case errors.Is(err, model.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, model.ErrUnavailable):
		code = codes.Unavailable
	default:
		slog.Error("grpc: request failed", "error", err)
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}
