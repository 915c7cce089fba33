package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	sa "stockanalyzer/pkg/stockanalyzer"
)

// BacktestServiceName is the fully qualified gRPC service name.
const BacktestServiceName = "stockanalyzer.v1.BacktestService"

// BacktestServiceServer is the gRPC surface. Requests and statuses travel
// as google.protobuf.Struct in the same JSON shape as the HTTP API.
type BacktestServiceServer interface {
	Start(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Get(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Cancel(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

var backtestServiceDesc = grpc.ServiceDesc{
	ServiceName: BacktestServiceName,
	HandlerType: (*BacktestServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Start", Handler: startHandler},
		{MethodName: "Get", Handler: getHandler},
		{MethodName: "Cancel", Handler: cancelHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stockanalyzer/v1/backtest.proto",
}

func startHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BacktestServiceServer).Start(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + BacktestServiceName + "/Start"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(BacktestServiceServer).Start(ctx, req.(*structpb.Struct))
	})
}

func getHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BacktestServiceServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + BacktestServiceName + "/Get"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(BacktestServiceServer).Get(ctx, req.(*wrapperspb.StringValue))
	})
}

func cancelHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BacktestServiceServer).Cancel(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + BacktestServiceName + "/Cancel"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(BacktestServiceServer).Cancel(ctx, req.(*wrapperspb.StringValue))
	})
}

// grpcService implements BacktestServiceServer on top of a Server.
type grpcService struct {
	s *Server
}

func (g grpcService) Start(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req sa.BacktestRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding request: %v", err)
	}
	run, err := g.s.startBacktest(req)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(runStatus(run))
}

func (g grpcService) Get(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	st, err := g.s.status(ctx, in.GetValue())
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(st)
}

func (g grpcService) Cancel(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	st, err := g.s.cancel(in.GetValue())
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(st)
}

// GRPCServer builds a gRPC server with the backtest service, the standard
// health service and reflection registered.
func (s *Server) GRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	gs := grpc.NewServer(opts...)
	gs.RegisterService(&backtestServiceDesc, grpcService{s: s})
	healthpb.RegisterHealthServer(gs, s.health)
	s.health.SetServingStatus(BacktestServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(gs)
	return gs
}

func grpcError(err error) error {
	var code codes.Code
	switch statusFor(err) {
	case http.StatusBadRequest:
		code = codes.InvalidArgument
	case http.StatusNotFound:
		code = codes.NotFound
	case http.StatusConflict:
		code = codes.FailedPrecondition
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}

func fromStruct(in *structpb.Struct, v any) error {
	b, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// BacktestClient calls a remote BacktestService.
type BacktestClient struct {
	cc grpc.ClientConnInterface
}

func NewBacktestClient(cc grpc.ClientConnInterface) *BacktestClient {
	return &BacktestClient{cc: cc}
}

func (c *BacktestClient) Start(ctx context.Context, req sa.BacktestRequest) (*sa.RunStatus, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	in := new(structpb.Struct)
	if err := protojson.Unmarshal(b, in); err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return c.invoke(ctx, "Start", in)
}

func (c *BacktestClient) Get(ctx context.Context, id string) (*sa.RunStatus, error) {
	return c.invoke(ctx, "Get", wrapperspb.String(id))
}

func (c *BacktestClient) Cancel(ctx context.Context, id string) (*sa.RunStatus, error) {
	return c.invoke(ctx, "Cancel", wrapperspb.String(id))
}

func (c *BacktestClient) invoke(ctx context.Context, method string, in any) (*sa.RunStatus, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+BacktestServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	var st sa.RunStatus
	if err := fromStruct(out, &st); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}
	return &st, nil
}
