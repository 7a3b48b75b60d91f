package server

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"PerpVAMM/internal/event"
	"PerpVAMM/internal/ingestion"
	"PerpVAMM/internal/projection"
	"PerpVAMM/internal/query"
)

// ServiceName is the fully qualified gRPC service name. Every method takes
// and returns a google.protobuf.Struct; responses carry the value under
// "result".
const ServiceName = "perpvamm.v1.Exchange"

// CoreStatus reports the clearing house position in the output log.
// *core.ClearingHouse implements it.
type CoreStatus interface {
	Sequence() int64
	StateHash() [32]byte
}

type method struct {
	call     func(ctx context.Context, p params) (any, error)
	fallback codes.Code
}

// Service implements the Exchange RPCs over the command intake and the
// query service. The gRPC server and the HTTP gateway share it.
type Service struct {
	ingest  *ingestion.CommandIngest
	qs      *query.QueryService
	db      *sql.DB
	status  CoreStatus
	genesis [32]byte
	logger  zerolog.Logger
	methods map[string]method
}

func NewService(ingest *ingestion.CommandIngest, qs *query.QueryService, db *sql.DB, status CoreStatus, genesis [32]byte) *Service {
	s := &Service{
		ingest:  ingest,
		qs:      qs,
		db:      db,
		status:  status,
		genesis: genesis,
		logger:  zerolog.Nop(),
	}
	s.methods = map[string]method{
		"Command":              {s.command, codes.FailedPrecondition},
		"GetSystemStatus":      {s.systemStatus, codes.Internal},
		"GetProtocolState":     {s.protocolState, codes.Internal},
		"GetFeeStructure":      {s.feeStructure, codes.Internal},
		"GetOracleGuardRails":  {s.oracleGuardRails, codes.Internal},
		"GetOrderState":        {s.orderState, codes.Internal},
		"GetMarket":            {s.market, codes.Internal},
		"ListMarkets":          {s.markets, codes.Internal},
		"GetMarketsLength":     {s.marketsLength, codes.Internal},
		"GetUser":              {s.user, codes.Internal},
		"GetAccount":           {s.account, codes.Internal},
		"GetFreeCollateral":    {s.freeCollateral, codes.Internal},
		"GetLiquidationStatus": {s.liquidationStatus, codes.Internal},
		"GetPosition":          {s.position, codes.Internal},
		"ListActivePositions":  {s.activePositions, codes.Internal},
		"ListOrders":           {s.orders, codes.Internal},
		"ListHistory":          {s.history, codes.Internal},
		"ListFundingPayments":  {s.fundingPayments, codes.Internal},
		"ListJournals":         {s.journals, codes.Internal},
		"VerifyIntegrity":      {s.verifyIntegrity, codes.Internal},
		"RebuildProjections":   {s.rebuildProjections, codes.Internal},
	}
	return s
}

// WithLogger replaces the service's logger.
func (s *Service) WithLogger(l zerolog.Logger) *Service {
	s.logger = l
	return s
}

// Invoke runs one method. Errors are gRPC statuses.
func (s *Service) Invoke(ctx context.Context, name string, p params) (any, error) {
	m, ok := s.methods[name]
	if !ok {
		return nil, toStatus(fmt.Errorf("%w: unknown method %s", errBadRequest, name), codes.Unimplemented)
	}
	start := time.Now()
	out, err := m.call(ctx, p)
	if err != nil {
		err = toStatus(err, m.fallback)
	}
	s.logger.Debug().
		Str("method", name).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("rpc")
	return out, err
}

// Desc builds the gRPC service description from the method table.
func (s *Service) Desc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*exchangeServer)(nil),
		Metadata:    "perpvamm/v1/exchange",
	}
	for name := range s.methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    unaryHandler(name),
		})
	}
	return desc
}

type exchangeServer interface {
	Invoke(ctx context.Context, name string, p params) (any, error)
}

func unaryHandler(name string) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		call := func(ctx context.Context, req any) (any, error) {
			out, err := srv.(exchangeServer).Invoke(ctx, name, req.(*structpb.Struct).AsMap())
			if err != nil {
				return nil, err
			}
			return toStruct(out)
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
		return interceptor(ctx, in, info, call)
	}
}

// toStruct wraps a JSON-encodable value as {"result": value}.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(map[string]any{"result": v})
	if err != nil {
		return nil, toStatus(fmt.Errorf("encode response: %w", err), codes.Internal)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, toStatus(fmt.Errorf("encode response: %w", err), codes.Internal)
	}
	return out, nil
}

// --- commands ---

// command applies a wire envelope: {"id", "type", "authority", "ts", "payload"}.
func (s *Service) command(ctx context.Context, p params) (any, error) {
	data, err := json.Marshal(map[string]any(p))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return s.ingest.Submit(ctx, data)
}

// SystemStatus is the clearing house position in the output log.
type SystemStatus struct {
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`
	Genesis   string `json:"genesis"`
}

func (s *Service) systemStatus(_ context.Context, _ params) (any, error) {
	h := s.status.StateHash()
	return SystemStatus{
		Sequence:  s.status.Sequence(),
		StateHash: hex.EncodeToString(h[:]),
		Genesis:   hex.EncodeToString(s.genesis[:]),
	}, nil
}

// --- protocol records ---

func (s *Service) protocolState(ctx context.Context, _ params) (any, error) {
	return s.qs.ProtocolState(ctx)
}

func (s *Service) feeStructure(ctx context.Context, _ params) (any, error) {
	return s.qs.FeeStructure(ctx)
}

func (s *Service) oracleGuardRails(ctx context.Context, _ params) (any, error) {
	return s.qs.OracleGuardRails(ctx)
}

func (s *Service) orderState(ctx context.Context, _ params) (any, error) {
	return s.qs.OrderState(ctx)
}

// --- markets ---

func (s *Service) market(ctx context.Context, p params) (any, error) {
	index, err := p.requiredUint("market")
	if err != nil {
		return nil, err
	}
	return s.qs.Market(ctx, index)
}

func (s *Service) markets(ctx context.Context, _ params) (any, error) {
	return s.qs.Markets(ctx)
}

func (s *Service) marketsLength(ctx context.Context, _ params) (any, error) {
	return s.qs.MarketsLength(ctx)
}

// --- users ---

func (s *Service) user(ctx context.Context, p params) (any, error) {
	id, err := p.uuid("user")
	if err != nil {
		return nil, err
	}
	return s.qs.User(ctx, id)
}

func (s *Service) account(ctx context.Context, p params) (any, error) {
	id, err := p.uuid("user")
	if err != nil {
		return nil, err
	}
	return s.qs.Account(ctx, id)
}

func (s *Service) freeCollateral(ctx context.Context, p params) (any, error) {
	id, err := p.uuid("user")
	if err != nil {
		return nil, err
	}
	return s.qs.FreeCollateral(ctx, id)
}

func (s *Service) liquidationStatus(ctx context.Context, p params) (any, error) {
	id, err := p.uuid("user")
	if err != nil {
		return nil, err
	}
	return s.qs.LiquidationStatus(ctx, id)
}

func (s *Service) position(ctx context.Context, p params) (any, error) {
	id, err := p.uuid("user")
	if err != nil {
		return nil, err
	}
	index, err := p.requiredUint("market")
	if err != nil {
		return nil, err
	}
	return s.qs.Position(ctx, id, index)
}

func (s *Service) activePositions(ctx context.Context, p params) (any, error) {
	id, err := p.uuid("user")
	if err != nil {
		return nil, err
	}
	return s.qs.ActivePositions(ctx, id)
}

func (s *Service) orders(ctx context.Context, p params) (any, error) {
	id, err := p.uuid("user")
	if err != nil {
		return nil, err
	}
	index, err := p.requiredUint("market")
	if err != nil {
		return nil, err
	}
	return s.qs.Orders(ctx, id, index)
}

// --- history ---

func (s *Service) history(ctx context.Context, p params) (any, error) {
	name, ok := p.str("kind")
	if !ok {
		return nil, fmt.Errorf("%w: kind is required", errBadRequest)
	}
	kind, err := event.ParseHistoryKind(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	market, err := p.optUint("market")
	if err != nil {
		return nil, err
	}
	after, err := p.optUint("after")
	if err != nil {
		return nil, err
	}
	limit, err := p.limit("limit", 100, 1000)
	if err != nil {
		return nil, err
	}
	var afterID uint64
	if after != nil {
		afterID = *after
	}
	return s.qs.History(ctx, kind, market, afterID, limit)
}

func (s *Service) fundingPayments(ctx context.Context, p params) (any, error) {
	id, err := p.uuid("user")
	if err != nil {
		return nil, err
	}
	market, err := p.optUint("market")
	if err != nil {
		return nil, err
	}
	limit, err := p.limit("limit", 50, 500)
	if err != nil {
		return nil, err
	}
	return s.qs.FundingPayments(ctx, id, market, limit)
}

func (s *Service) journals(ctx context.Context, p params) (any, error) {
	id, err := p.uuid("user")
	if err != nil {
		return nil, err
	}
	limit, err := p.limit("limit", 100, 500)
	if err != nil {
		return nil, err
	}
	before, err := p.optUint("before_sequence")
	if err != nil {
		return nil, err
	}
	var beforeSeq int64
	if before != nil {
		beforeSeq = int64(*before)
	}
	return s.qs.JournalHistory(ctx, id, limit, beforeSeq)
}

// --- admin ---

func (s *Service) verifyIntegrity(ctx context.Context, _ params) (any, error) {
	return s.qs.VerifyIntegrity(ctx, s.genesis)
}

func (s *Service) rebuildProjections(ctx context.Context, _ params) (any, error) {
	if s.db == nil {
		return nil, query.ErrHistoryUnavailable
	}
	if err := projection.RebuildProjections(ctx, s.db); err != nil {
		return nil, err
	}
	wm, err := projection.Watermark(ctx, s.db)
	if err != nil {
		return nil, err
	}
	return map[string]int64{"watermark": wm}, nil
}
