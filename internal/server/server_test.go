package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"LendingPool/internal/core"
	"LendingPool/internal/event"
	"LendingPool/internal/pool"
	"LendingPool/internal/query"
	"LendingPool/internal/state"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeCore struct {
	health state.AccountHealth
}

func (f *fakeCore) HealthCheck(uuid.UUID, int64) (state.AccountHealth, error) { return f.health, nil }
func (f *fakeCore) PendingRewards(uuid.UUID) (int64, error)                   { return 42, nil }
func (f *fakeCore) LastSequence() int64                                       { return 7 }
func (f *fakeCore) GetStateHash() [32]byte                                    { return [32]byte{0xab} }

type fakeSubmitter struct {
	lastType   string
	lastShares []state.EmissionShare
	result     core.Result
	err        error
}

func (f *fakeSubmitter) SubmitRaw(_ context.Context, eventType string, _ []byte) (core.Result, error) {
	f.lastType = eventType
	return f.result, f.err
}

func (f *fakeSubmitter) InjectReserveStatus(context.Context, string, string, int64) (core.Result, error) {
	return f.result, f.err
}

func (f *fakeSubmitter) InjectBackstopFund(context.Context, string, int64, int64) (core.Result, error) {
	return f.result, f.err
}

func (f *fakeSubmitter) InjectAccrual(context.Context, string, int64) (core.Result, error) {
	return f.result, f.err
}

func (f *fakeSubmitter) InjectEmissionConfig(_ context.Context, shares []state.EmissionShare, _ int64) (core.Result, error) {
	f.lastShares = shares
	return f.result, f.err
}

type fakeQuerier struct{}

func (fakeQuerier) GetReserve(_ context.Context, asset string) (*query.ReserveResponse, error) {
	if asset != "USDC" {
		return nil, fmt.Errorf("%w: reserve %s", query.ErrNotFound, asset)
	}
	return &query.ReserveResponse{Asset: "USDC", Status: "Active", Decimals: 7}, nil
}

func (fakeQuerier) ListReserves(context.Context) ([]query.ReserveResponse, error) {
	return []query.ReserveResponse{{Asset: "USDC"}, {Asset: "XLM", Index: 1}}, nil
}

func (fakeQuerier) GetPositions(context.Context, uuid.UUID) ([]query.PositionResponse, error) {
	return nil, nil
}

func (fakeQuerier) GetBalances(context.Context, uuid.UUID) ([]query.BalanceResponse, error) {
	return nil, nil
}

func (fakeQuerier) GetLiquidations(context.Context, uuid.UUID, int, *int64) ([]query.LiquidationResponse, error) {
	return nil, nil
}

func (fakeQuerier) GetJournalHistory(_ context.Context, _ uuid.UUID, limit int, before *int64) ([]query.JournalHistoryEntry, error) {
	if before != nil {
		return nil, nil
	}
	return []query.JournalHistoryEntry{{Sequence: int64(limit)}}, nil
}

func (fakeQuerier) VerifyIntegrity(context.Context) (*query.IntegrityReport, error) {
	return &query.IntegrityReport{IsHealthy: true}, nil
}

type fakeAdmin struct{}

func (fakeAdmin) LatestPersisted(context.Context) (int64, error)    { return 6, nil }
func (fakeAdmin) RebuildProjections(context.Context) (int64, error) { return 6, nil }

func acceptedResult(seq int64) core.Result {
	return core.Result{Output: &core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: seq, StateHash: [32]byte{1}},
		Receipt:  &pool.Receipt{Action: "supply", Amount: 100},
	}}
}

type harness struct {
	client *PoolServiceClient
	submit *fakeSubmitter
}

func startServer(t *testing.T, deps *ServerDeps) *harness {
	t.Helper()

	sub, _ := deps.Submitter.(*fakeSubmitter)
	if deps.Core == nil {
		deps.Core = &fakeCore{}
	}
	if deps.Query == nil {
		deps.Query = fakeQuerier{}
	}
	if deps.Admin == nil {
		deps.Admin = fakeAdmin{}
	}
	deps.Now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer("bufnet", "", deps)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		<-done
	})
	return &harness{client: NewPoolServiceClient(conn), submit: sub}
}

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("dispatch failed: %w", state.ErrInvalidInput), codes.InvalidArgument},
		{fmt.Errorf("dispatch failed: %w", state.ErrInsufficientCollateral), codes.FailedPrecondition},
		{fmt.Errorf("dispatch failed: %w", state.ErrStalePrice), codes.Unavailable},
		{fmt.Errorf("sequence validation failed: %w", core.ErrSequence), codes.FailedPrecondition},
		{fmt.Errorf("%w: reserve X", query.ErrNotFound), codes.NotFound},
		{state.ErrArithmeticOverflow, codes.Internal},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{status.Error(codes.Aborted, "kept"), codes.Aborted},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(statusFromError(tt.err)), tt.err.Error())
	}
	assert.NoError(t, statusFromError(nil))
}

func TestSubmitAccepted(t *testing.T) {
	h := startServer(t, &ServerDeps{Submitter: &fakeSubmitter{result: acceptedResult(9)}})

	resp, err := h.client.Submit(context.Background(), &SubmitRequest{
		EventType: "supply",
		Payload:   json.RawMessage(`{"amount":100}`),
	})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	assert.Equal(t, int64(9), resp.Sequence)
	assert.Len(t, resp.StateHash, 64)
	require.NotNil(t, resp.Receipt)
	assert.Equal(t, int64(100), resp.Receipt.Amount)
	assert.Equal(t, "supply", h.submit.lastType)
}

func TestSubmitSkippedAndRejected(t *testing.T) {
	sub := &fakeSubmitter{}
	h := startServer(t, &ServerDeps{Submitter: sub})
	ctx := context.Background()

	resp, err := h.client.Submit(ctx, &SubmitRequest{EventType: "supply"})
	require.NoError(t, err)
	assert.True(t, resp.Skipped)
	assert.False(t, resp.Accepted)

	sub.result = core.Result{Err: fmt.Errorf("dispatch failed: %w", state.ErrInsufficientCollateral)}
	_, err = h.client.Submit(ctx, &SubmitRequest{EventType: "borrow"})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = h.client.Submit(ctx, &SubmitRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestHealthCheck(t *testing.T) {
	h := startServer(t, &ServerDeps{
		Core:      &fakeCore{health: state.AccountHealth{CollateralValue: 5, HealthFactor: math.MaxInt64, Healthy: true}},
		Submitter: &fakeSubmitter{},
	})
	ctx := context.Background()

	resp, err := h.client.HealthCheck(ctx, &HealthCheckRequest{UserID: uuid.NewString()})
	require.NoError(t, err)
	assert.Equal(t, "inf", resp.HealthFactor)
	assert.True(t, resp.Healthy)
	assert.Equal(t, int64(42), resp.PendingRewards)
	assert.Equal(t, int64(7), resp.AsOfSequence)

	_, err = h.client.HealthCheck(ctx, &HealthCheckRequest{UserID: "not-a-uuid"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRateLimitAppliesToMutatingCalls(t *testing.T) {
	h := startServer(t, &ServerDeps{Submitter: &fakeSubmitter{}, RateLimit: 1})
	ctx := context.Background()

	var limited int
	for i := 0; i < 5; i++ {
		_, err := h.client.Submit(ctx, &SubmitRequest{EventType: "supply"})
		if status.Code(err) == codes.ResourceExhausted {
			limited++
		}
	}
	assert.GreaterOrEqual(t, limited, 2)

	for i := 0; i < 5; i++ {
		_, err := h.client.GetReserve(ctx, &GetReserveRequest{Asset: "USDC"})
		require.NoError(t, err)
	}
}

func TestGateway(t *testing.T) {
	h := startServer(t, &ServerDeps{Submitter: &fakeSubmitter{result: acceptedResult(3)}})
	handler, err := NewGatewayHandler(h.client, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	t.Run("get reserve", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/v1/reserves/USDC")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out GetReserveResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Equal(t, "USDC", out.Reserve.Asset)
	})

	t.Run("unknown reserve", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/v1/reserves/NOPE")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("submit event", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/v1/events/supply", "application/json", strings.NewReader(`{"amount":100}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out SubmitResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.True(t, out.Accepted)
		assert.Equal(t, int64(3), out.Sequence)
		assert.Equal(t, "supply", h.submit.lastType)
	})

	t.Run("bad user id", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/v1/accounts/xyz/positions")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("journal default page", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/v1/accounts/" + uuid.NewString() + "/journal")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out GetJournalHistoryResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		require.Len(t, out.Entries, 1)
		assert.Equal(t, int64(defaultPageSize), out.Entries[0].Sequence)
	})

	t.Run("set emissions", func(t *testing.T) {
		body := `{"shares":[{"asset":"USDC","side":"liability","share":10000000}]}`
		resp, err := http.Post(srv.URL+"/v1/admin/emissions", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []state.EmissionShare{{Asset: "USDC", Side: state.SideLiability, Share: 10_000_000}}, h.submit.lastShares)
	})

	t.Run("event log", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/v1/admin/event-log")
		require.NoError(t, err)
		defer resp.Body.Close()

		var out EventLogInfoResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Equal(t, int64(6), out.LastSequence)
		assert.Equal(t, int64(7), out.CoreSequence)
	})

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
