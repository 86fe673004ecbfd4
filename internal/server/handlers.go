package server

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"LendingPool/internal/core"
	"LendingPool/internal/observability"
	"LendingPool/internal/persistence"
	"LendingPool/internal/projection"
	"LendingPool/internal/query"
	"LendingPool/internal/state"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CoreReader is the read side of the deterministic core.
type CoreReader interface {
	HealthCheck(user uuid.UUID, now int64) (state.AccountHealth, error)
	PendingRewards(user uuid.UUID) (int64, error)
	LastSequence() int64
	GetStateHash() [32]byte
}

// Submitter hands events to the core; see ingestion.GRPCIngestService.
type Submitter interface {
	SubmitRaw(ctx context.Context, eventType string, payload []byte) (core.Result, error)
	InjectReserveStatus(ctx context.Context, asset, status string, ts int64) (core.Result, error)
	InjectBackstopFund(ctx context.Context, asset string, amount, ts int64) (core.Result, error)
	InjectAccrual(ctx context.Context, asset string, ts int64) (core.Result, error)
	InjectEmissionConfig(ctx context.Context, shares []state.EmissionShare, ts int64) (core.Result, error)
}

// Querier reads the projections; see query.QueryService.
type Querier interface {
	GetReserve(ctx context.Context, asset string) (*query.ReserveResponse, error)
	ListReserves(ctx context.Context) ([]query.ReserveResponse, error)
	GetPositions(ctx context.Context, userID uuid.UUID) ([]query.PositionResponse, error)
	GetBalances(ctx context.Context, userID uuid.UUID) ([]query.BalanceResponse, error)
	GetLiquidations(ctx context.Context, borrower uuid.UUID, limit int, beforeSequence *int64) ([]query.LiquidationResponse, error)
	GetJournalHistory(ctx context.Context, userID uuid.UUID, limit int, beforeSequence *int64) ([]query.JournalHistoryEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// Admin covers event log maintenance.
type Admin interface {
	LatestPersisted(ctx context.Context) (int64, error)
	RebuildProjections(ctx context.Context) (int64, error)
}

// dbAdmin implements Admin on the Postgres event log.
type dbAdmin struct {
	db      *sql.DB
	snaps   *persistence.SnapshotManager
	metrics *observability.Metrics
}

func NewDBAdmin(db *sql.DB, metrics *observability.Metrics) Admin {
	return &dbAdmin{db: db, snaps: persistence.NewSnapshotManager(db), metrics: metrics}
}

func (a *dbAdmin) LatestPersisted(ctx context.Context) (int64, error) {
	return a.snaps.GetLatestSequence(ctx)
}

func (a *dbAdmin) RebuildProjections(ctx context.Context) (int64, error) {
	return projection.RebuildProjections(ctx, a.db, a.metrics)
}

type poolService struct {
	core   CoreReader
	submit Submitter
	query  Querier
	admin  Admin
	now    func() time.Time
}

func parseUser(field, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid %s: %v", field, err)
	}
	return id, nil
}

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// page clamps a requested page size and turns a zero cursor into nil.
func page(limit int, before int64) (int, *int64) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if before <= 0 {
		return limit, nil
	}
	return limit, &before
}

func submitResponse(res core.Result) (*SubmitResponse, error) {
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Output == nil {
		return &SubmitResponse{Skipped: true}, nil
	}
	env := res.Output.Envelope
	return &SubmitResponse{
		Accepted:  true,
		Sequence:  env.Sequence,
		StateHash: hex.EncodeToString(env.StateHash[:]),
		Receipt:   res.Output.Receipt,
	}, nil
}

func (s *poolService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	if req.EventType == "" {
		return nil, status.Error(codes.InvalidArgument, "event_type is required")
	}
	res, err := s.submit.SubmitRaw(ctx, req.EventType, req.Payload)
	if err != nil {
		return nil, err
	}
	return submitResponse(res)
}

func (s *poolService) HealthCheck(ctx context.Context, req *HealthCheckRequest) (*HealthCheckResponse, error) {
	user, err := parseUser("user_id", req.UserID)
	if err != nil {
		return nil, err
	}
	at := req.At
	if at == 0 {
		at = s.now().Unix()
	}

	health, err := s.core.HealthCheck(user, at)
	if err != nil {
		return nil, err
	}
	rewards, err := s.core.PendingRewards(user)
	if err != nil {
		return nil, err
	}
	return &HealthCheckResponse{
		UserID:          user.String(),
		CollateralValue: health.CollateralValue,
		LiabilityValue:  health.LiabilityValue,
		HealthFactor:    query.FormatHealthFactor(health.HealthFactor),
		Healthy:         health.Healthy,
		PendingRewards:  rewards,
		AsOfSequence:    s.core.LastSequence(),
	}, nil
}

func (s *poolService) GetReserve(ctx context.Context, req *GetReserveRequest) (*GetReserveResponse, error) {
	if req.Asset == "" {
		return nil, status.Error(codes.InvalidArgument, "asset is required")
	}
	r, err := s.query.GetReserve(ctx, req.Asset)
	if err != nil {
		return nil, err
	}
	return &GetReserveResponse{Reserve: r}, nil
}

func (s *poolService) ListReserves(ctx context.Context, _ *ListReservesRequest) (*ListReservesResponse, error) {
	rs, err := s.query.ListReserves(ctx)
	if err != nil {
		return nil, err
	}
	return &ListReservesResponse{Reserves: rs}, nil
}

func (s *poolService) GetPositions(ctx context.Context, req *UserRequest) (*GetPositionsResponse, error) {
	user, err := parseUser("user_id", req.UserID)
	if err != nil {
		return nil, err
	}
	ps, err := s.query.GetPositions(ctx, user)
	if err != nil {
		return nil, err
	}
	return &GetPositionsResponse{Positions: ps}, nil
}

func (s *poolService) GetBalances(ctx context.Context, req *UserRequest) (*GetBalancesResponse, error) {
	user, err := parseUser("user_id", req.UserID)
	if err != nil {
		return nil, err
	}
	bs, err := s.query.GetBalances(ctx, user)
	if err != nil {
		return nil, err
	}
	return &GetBalancesResponse{Balances: bs}, nil
}

func (s *poolService) GetLiquidations(ctx context.Context, req *GetLiquidationsRequest) (*GetLiquidationsResponse, error) {
	borrower, err := parseUser("borrower", req.Borrower)
	if err != nil {
		return nil, err
	}
	limit, before := page(req.Limit, req.BeforeSequence)
	ls, err := s.query.GetLiquidations(ctx, borrower, limit, before)
	if err != nil {
		return nil, err
	}
	return &GetLiquidationsResponse{Liquidations: ls}, nil
}

func (s *poolService) GetJournalHistory(ctx context.Context, req *GetJournalHistoryRequest) (*GetJournalHistoryResponse, error) {
	user, err := parseUser("user_id", req.UserID)
	if err != nil {
		return nil, err
	}
	limit, before := page(req.Limit, req.BeforeSequence)
	entries, err := s.query.GetJournalHistory(ctx, user, limit, before)
	if err != nil {
		return nil, err
	}
	return &GetJournalHistoryResponse{Entries: entries}, nil
}

func (s *poolService) SetReserveStatus(ctx context.Context, req *SetReserveStatusRequest) (*SubmitResponse, error) {
	if req.Asset == "" {
		return nil, status.Error(codes.InvalidArgument, "asset is required")
	}
	if _, err := state.ParseReserveStatus(req.Status); err != nil {
		return nil, err
	}
	res, err := s.submit.InjectReserveStatus(ctx, req.Asset, req.Status, s.now().Unix())
	if err != nil {
		return nil, err
	}
	return submitResponse(res)
}

func (s *poolService) FundBackstop(ctx context.Context, req *FundBackstopRequest) (*SubmitResponse, error) {
	if req.Asset == "" {
		return nil, status.Error(codes.InvalidArgument, "asset is required")
	}
	res, err := s.submit.InjectBackstopFund(ctx, req.Asset, req.Amount, s.now().Unix())
	if err != nil {
		return nil, err
	}
	return submitResponse(res)
}

func (s *poolService) SetEmissions(ctx context.Context, req *SetEmissionsRequest) (*SubmitResponse, error) {
	res, err := s.submit.InjectEmissionConfig(ctx, req.Shares, s.now().Unix())
	if err != nil {
		return nil, err
	}
	return submitResponse(res)
}

func (s *poolService) Accrue(ctx context.Context, req *AccrueRequest) (*SubmitResponse, error) {
	if req.Asset == "" {
		return nil, status.Error(codes.InvalidArgument, "asset is required")
	}
	res, err := s.submit.InjectAccrual(ctx, req.Asset, s.now().Unix())
	if err != nil {
		return nil, err
	}
	return submitResponse(res)
}

func (s *poolService) GetEventLogInfo(ctx context.Context, _ *EmptyRequest) (*EventLogInfoResponse, error) {
	latest, err := s.admin.LatestPersisted(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest sequence: %w", err)
	}
	hash := s.core.GetStateHash()
	return &EventLogInfoResponse{
		LastSequence: latest,
		CoreSequence: s.core.LastSequence(),
		StateHash:    hex.EncodeToString(hash[:]),
	}, nil
}

func (s *poolService) VerifyIntegrity(ctx context.Context, _ *EmptyRequest) (*VerifyIntegrityResponse, error) {
	report, err := s.query.VerifyIntegrity(ctx)
	if err != nil {
		return nil, err
	}
	return &VerifyIntegrityResponse{Report: report}, nil
}

func (s *poolService) RebuildProjections(ctx context.Context, _ *EmptyRequest) (*EventLogInfoResponse, error) {
	n, err := s.admin.RebuildProjections(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebuild: %w", err)
	}
	return &EventLogInfoResponse{
		LastSequence:     n,
		CoreSequence:     s.core.LastSequence(),
		ProjectionsBuilt: n,
	}, nil
}
