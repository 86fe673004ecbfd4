package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"LendingPool/internal/observability"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

const gracefulStopTimeout = 10 * time.Second

// GRPCServer wraps the gRPC server and the HTTP gateway in front of it.
type GRPCServer struct {
	grpcServer    *grpc.Server
	healthServer  *health.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

// ServerDeps holds everything the pool service needs.
type ServerDeps struct {
	Core          CoreReader
	Submitter     Submitter
	Query         Querier
	Admin         Admin
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics

	// RateLimit is mutating calls per second; 0 disables limiting.
	RateLimit float64
	// Now defaults to time.Now. It stamps admin events and health checks.
	Now func() time.Time
}

// NewGRPCServer creates a gRPC server with the pool and health services.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	logger := observability.NewLogger("server")
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		loggingInterceptor(logger),
		errorInterceptor,
		rateLimitInterceptor(NewLimiter(deps.RateLimit), deps.Metrics),
	))

	RegisterPoolServiceServer(grpcServer, &poolService{
		core:   deps.Core,
		submit: deps.Submitter,
		query:  deps.Query,
		admin:  deps.Admin,
		now:    now,
	})

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &GRPCServer{
		grpcServer:    grpcServer,
		healthServer:  healthServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: deps.HealthChecker,
		logger:        logger,
	}
}

// SetServing flips the gRPC health status of the pool service.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus(ServiceName, st)
	s.healthServer.SetServingStatus("", st)
}

// Serve serves gRPC on lis until ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()

		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(gracefulStopTimeout):
			s.logger.Warn().Msg("graceful stop timed out, cancelling in-flight calls")
			s.grpcServer.Stop()
		}
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// StartGRPC listens on the configured address and serves (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// StartHTTPGateway serves the HTTP/JSON gateway, proxying to the gRPC
// server, plus /healthz and /readyz (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	conn, err := grpc.NewClient(s.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("gateway dial: %w", err)
	}
	defer conn.Close()

	handler, err := NewGatewayHandler(NewPoolServiceClient(conn), s.healthChecker)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Str("grpc", s.grpcAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// route builds the gRPC request for one HTTP call.
type route struct {
	method, pattern, rpc string
	build                func(r *http.Request, params map[string]string) (in any, out any, err error)
}

func jsonBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid JSON body: %v", err)
	}
	return nil
}

func queryInt(r *http.Request, key string) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "invalid %s: %v", key, err)
	}
	return n, nil
}

var routes = []route{
	{"POST", "/v1/events/{event_type}", "Submit", func(r *http.Request, p map[string]string) (any, any, error) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			return nil, nil, err
		}
		return &SubmitRequest{EventType: p["event_type"], Payload: body}, new(SubmitResponse), nil
	}},
	{"GET", "/v1/accounts/{user_id}/health", "HealthCheck", func(r *http.Request, p map[string]string) (any, any, error) {
		at, err := queryInt(r, "at")
		return &HealthCheckRequest{UserID: p["user_id"], At: at}, new(HealthCheckResponse), err
	}},
	{"GET", "/v1/accounts/{user_id}/positions", "GetPositions", func(_ *http.Request, p map[string]string) (any, any, error) {
		return &UserRequest{UserID: p["user_id"]}, new(GetPositionsResponse), nil
	}},
	{"GET", "/v1/accounts/{user_id}/balances", "GetBalances", func(_ *http.Request, p map[string]string) (any, any, error) {
		return &UserRequest{UserID: p["user_id"]}, new(GetBalancesResponse), nil
	}},
	{"GET", "/v1/accounts/{user_id}/liquidations", "GetLiquidations", func(r *http.Request, p map[string]string) (any, any, error) {
		limit, err := queryInt(r, "limit")
		if err != nil {
			return nil, nil, err
		}
		before, err := queryInt(r, "before")
		return &GetLiquidationsRequest{Borrower: p["user_id"], Limit: int(limit), BeforeSequence: before},
			new(GetLiquidationsResponse), err
	}},
	{"GET", "/v1/accounts/{user_id}/journal", "GetJournalHistory", func(r *http.Request, p map[string]string) (any, any, error) {
		limit, err := queryInt(r, "limit")
		if err != nil {
			return nil, nil, err
		}
		before, err := queryInt(r, "before")
		return &GetJournalHistoryRequest{UserID: p["user_id"], Limit: int(limit), BeforeSequence: before},
			new(GetJournalHistoryResponse), err
	}},
	{"GET", "/v1/reserves", "ListReserves", func(*http.Request, map[string]string) (any, any, error) {
		return &ListReservesRequest{}, new(ListReservesResponse), nil
	}},
	{"GET", "/v1/reserves/{asset}", "GetReserve", func(_ *http.Request, p map[string]string) (any, any, error) {
		return &GetReserveRequest{Asset: p["asset"]}, new(GetReserveResponse), nil
	}},
	{"POST", "/v1/admin/reserves/{asset}/status", "SetReserveStatus", func(r *http.Request, p map[string]string) (any, any, error) {
		in := &SetReserveStatusRequest{}
		err := jsonBody(r, in)
		in.Asset = p["asset"]
		return in, new(SubmitResponse), err
	}},
	{"POST", "/v1/admin/reserves/{asset}/accrue", "Accrue", func(_ *http.Request, p map[string]string) (any, any, error) {
		return &AccrueRequest{Asset: p["asset"]}, new(SubmitResponse), nil
	}},
	{"POST", "/v1/admin/backstop/{asset}", "FundBackstop", func(r *http.Request, p map[string]string) (any, any, error) {
		in := &FundBackstopRequest{}
		err := jsonBody(r, in)
		in.Asset = p["asset"]
		return in, new(SubmitResponse), err
	}},
	{"POST", "/v1/admin/emissions", "SetEmissions", func(r *http.Request, _ map[string]string) (any, any, error) {
		in := &SetEmissionsRequest{}
		return in, new(SubmitResponse), jsonBody(r, in)
	}},
	{"GET", "/v1/admin/event-log", "GetEventLogInfo", func(*http.Request, map[string]string) (any, any, error) {
		return &EmptyRequest{}, new(EventLogInfoResponse), nil
	}},
	{"GET", "/v1/admin/integrity", "VerifyIntegrity", func(*http.Request, map[string]string) (any, any, error) {
		return &EmptyRequest{}, new(VerifyIntegrityResponse), nil
	}},
	{"POST", "/v1/admin/projections/rebuild", "RebuildProjections", func(*http.Request, map[string]string) (any, any, error) {
		return &EmptyRequest{}, new(EventLogInfoResponse), nil
	}},
}

// NewGatewayHandler maps the /v1 HTTP routes onto client calls and adds the
// health endpoints.
func NewGatewayHandler(client *PoolServiceClient, hc *observability.HealthChecker) (http.Handler, error) {
	mux := runtime.NewServeMux()
	marshaler := &runtime.JSONPb{}

	for _, rt := range routes {
		rt := rt
		err := mux.HandlePath(rt.method, rt.pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			ctx := r.Context()
			in, out, err := rt.build(r, params)
			if err == nil {
				err = client.Invoke(ctx, rt.rpc, in, out)
			}
			if err != nil {
				runtime.HTTPError(ctx, mux, marshaler, w, r, statusFromError(err))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(out)
		})
		if err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if hc != nil {
		httpMux.HandleFunc("/healthz", hc.LivenessHandler)
		httpMux.HandleFunc("/readyz", hc.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}
