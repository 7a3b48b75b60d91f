package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"PerpVAMM/internal/observability"
)

// GRPCServer serves the Exchange service over gRPC and the same methods as
// HTTP/JSON through a gateway mux.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	health        *health.Server
	service       *Service
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	gatherer      prometheus.Gatherer
	logger        zerolog.Logger
}

// ServerDeps holds the dependencies of the gRPC and HTTP servers.
type ServerDeps struct {
	Service       *Service
	HealthChecker *observability.HealthChecker
	// Gatherer backs /metrics. Nil serves prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Logger   *zerolog.Logger
}

// NewGRPCServer creates a new gRPC server with all services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps ServerDeps) *GRPCServer {
	logger := observability.NewLogger("server")
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	deps.Service.WithLogger(logger)

	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(deps.Service.Desc(), deps.Service)

	// Health check
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		health:        healthServer,
		service:       deps.Service,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: deps.HealthChecker,
		gatherer:      gatherer,
		logger:        logger,
	}
}

// SetServing flips the gRPC health status of the Exchange service.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
}

// StartGRPC listens on the gRPC address and serves until ctx is cancelled.
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves gRPC on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway serves the HTTP/JSON gateway, health and metrics until
// ctx is cancelled.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.HTTPHandler()
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

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type route struct {
	verb    string
	pattern string
	method  string
}

var routes = []route{
	{"POST", "/v1/command", "Command"},
	{"GET", "/v1/status", "GetSystemStatus"},
	{"GET", "/v1/protocol/state", "GetProtocolState"},
	{"GET", "/v1/protocol/fees", "GetFeeStructure"},
	{"GET", "/v1/protocol/oracle-guard-rails", "GetOracleGuardRails"},
	{"GET", "/v1/protocol/order-state", "GetOrderState"},
	{"GET", "/v1/markets", "ListMarkets"},
	{"GET", "/v1/markets-length", "GetMarketsLength"},
	{"GET", "/v1/markets/{market}", "GetMarket"},
	{"GET", "/v1/users/{user}", "GetUser"},
	{"GET", "/v1/users/{user}/account", "GetAccount"},
	{"GET", "/v1/users/{user}/free-collateral", "GetFreeCollateral"},
	{"GET", "/v1/users/{user}/liquidation", "GetLiquidationStatus"},
	{"GET", "/v1/users/{user}/positions", "ListActivePositions"},
	{"GET", "/v1/users/{user}/positions/{market}", "GetPosition"},
	{"GET", "/v1/users/{user}/orders/{market}", "ListOrders"},
	{"GET", "/v1/users/{user}/funding", "ListFundingPayments"},
	{"GET", "/v1/users/{user}/journals", "ListJournals"},
	{"GET", "/v1/history/{kind}", "ListHistory"},
	{"GET", "/v1/admin/integrity", "VerifyIntegrity"},
	{"POST", "/v1/admin/projections/rebuild", "RebuildProjections"},
}

// HTTPHandler builds the gateway mux. Routes call the service in process;
// /healthz, /readyz and /metrics sit beside them.
func (s *GRPCServer) HTTPHandler() (http.Handler, error) {
	mux := runtime.NewServeMux()
	for _, r := range routes {
		if err := mux.HandlePath(r.verb, r.pattern, s.gatewayHandler(r.method)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.verb, r.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	httpMux.Handle("/", mux)
	return httpMux, nil
}

// gatewayHandler merges the JSON body, the query string and the path
// parameters (in that order of precedence, last wins) into the call's
// params.
func (s *GRPCServer) gatewayHandler(name string) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		p := params{}
		if r.Body != nil && r.Method != http.MethodGet {
			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err == nil && len(body) > 0 {
				err = json.Unmarshal(body, &p)
			}
			if err != nil {
				writeError(w, toStatus(fmt.Errorf("%w: %v", errBadRequest, err), codes.InvalidArgument))
				return
			}
			if p == nil {
				p = params{}
			}
		}
		for k, vs := range r.URL.Query() {
			if len(vs) > 0 {
				p[k] = vs[0]
			}
		}
		for k, v := range pathParams {
			p[k] = v
		}

		out, err := s.service.Invoke(r.Context(), name, p)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"result": out})
	}
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    st.Code().String(),
		"message": st.Message(),
	})
}
