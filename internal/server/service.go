package server

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "lendingpool.v1.PoolService"

// PoolServiceServer is the server API of lendingpool.v1.PoolService.
type PoolServiceServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	HealthCheck(context.Context, *HealthCheckRequest) (*HealthCheckResponse, error)
	GetReserve(context.Context, *GetReserveRequest) (*GetReserveResponse, error)
	ListReserves(context.Context, *ListReservesRequest) (*ListReservesResponse, error)
	GetPositions(context.Context, *UserRequest) (*GetPositionsResponse, error)
	GetBalances(context.Context, *UserRequest) (*GetBalancesResponse, error)
	GetLiquidations(context.Context, *GetLiquidationsRequest) (*GetLiquidationsResponse, error)
	GetJournalHistory(context.Context, *GetJournalHistoryRequest) (*GetJournalHistoryResponse, error)

	// Admin
	SetReserveStatus(context.Context, *SetReserveStatusRequest) (*SubmitResponse, error)
	FundBackstop(context.Context, *FundBackstopRequest) (*SubmitResponse, error)
	SetEmissions(context.Context, *SetEmissionsRequest) (*SubmitResponse, error)
	Accrue(context.Context, *AccrueRequest) (*SubmitResponse, error)
	GetEventLogInfo(context.Context, *EmptyRequest) (*EventLogInfoResponse, error)
	VerifyIntegrity(context.Context, *EmptyRequest) (*VerifyIntegrityResponse, error)
	RebuildProjections(context.Context, *EmptyRequest) (*EventLogInfoResponse, error)
}

// mutatingMethods are rate limited.
var mutatingMethods = map[string]bool{
	"/" + ServiceName + "/Submit":             true,
	"/" + ServiceName + "/SetReserveStatus":   true,
	"/" + ServiceName + "/FundBackstop":       true,
	"/" + ServiceName + "/SetEmissions":       true,
	"/" + ServiceName + "/Accrue":             true,
	"/" + ServiceName + "/RebuildProjections": true,
}

func unary[Req, Resp any](name string, call func(PoolServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(PoolServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(PoolServiceServer), ctx, req.(*Req))
			})
		},
	}
}

// PoolServiceDesc describes the service for grpc.Server.RegisterService.
var PoolServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PoolServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Submit", PoolServiceServer.Submit),
		unary("HealthCheck", PoolServiceServer.HealthCheck),
		unary("GetReserve", PoolServiceServer.GetReserve),
		unary("ListReserves", PoolServiceServer.ListReserves),
		unary("GetPositions", PoolServiceServer.GetPositions),
		unary("GetBalances", PoolServiceServer.GetBalances),
		unary("GetLiquidations", PoolServiceServer.GetLiquidations),
		unary("GetJournalHistory", PoolServiceServer.GetJournalHistory),
		unary("SetReserveStatus", PoolServiceServer.SetReserveStatus),
		unary("FundBackstop", PoolServiceServer.FundBackstop),
		unary("SetEmissions", PoolServiceServer.SetEmissions),
		unary("Accrue", PoolServiceServer.Accrue),
		unary("GetEventLogInfo", PoolServiceServer.GetEventLogInfo),
		unary("VerifyIntegrity", PoolServiceServer.VerifyIntegrity),
		unary("RebuildProjections", PoolServiceServer.RebuildProjections),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lendingpool/v1/pool.proto",
}

func RegisterPoolServiceServer(s grpc.ServiceRegistrar, srv PoolServiceServer) {
	s.RegisterService(&PoolServiceDesc, srv)
}

// PoolServiceClient calls lendingpool.v1.PoolService with the JSON codec.
type PoolServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewPoolServiceClient(cc grpc.ClientConnInterface) *PoolServiceClient {
	return &PoolServiceClient{cc: cc}
}

// Invoke calls method (e.g. "Submit") with in and decodes into out.
func (c *PoolServiceClient) Invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

func (c *PoolServiceClient) Submit(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*SubmitResponse, error) {
	out := new(SubmitResponse)
	if err := c.Invoke(ctx, "Submit", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PoolServiceClient) HealthCheck(ctx context.Context, in *HealthCheckRequest, opts ...grpc.CallOption) (*HealthCheckResponse, error) {
	out := new(HealthCheckResponse)
	if err := c.Invoke(ctx, "HealthCheck", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PoolServiceClient) GetReserve(ctx context.Context, in *GetReserveRequest, opts ...grpc.CallOption) (*GetReserveResponse, error) {
	out := new(GetReserveResponse)
	if err := c.Invoke(ctx, "GetReserve", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PoolServiceClient) GetPositions(ctx context.Context, in *UserRequest, opts ...grpc.CallOption) (*GetPositionsResponse, error) {
	out := new(GetPositionsResponse)
	if err := c.Invoke(ctx, "GetPositions", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
