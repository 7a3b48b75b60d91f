package server_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"PerpVAMM/internal/core"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/ingestion"
	"PerpVAMM/internal/observability"
	"PerpVAMM/internal/query"
	"PerpVAMM/internal/server"
	"PerpVAMM/internal/testutil"
)

type fixture struct {
	h      *testutil.Harness
	srv    *server.GRPCServer
	health *observability.HealthChecker
	conn   *grpc.ClientConn
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := testutil.NewHarness(t)
	h.InitMarket(0, fpmath.MustUint("5000000000000000000"), fpmath.NewUint(1000))

	qs := query.NewQueryService(h.Store, h.Oracle, h.CH, nil, h.Metrics)
	svc := server.NewService(ingestion.NewCommandIngest(h.CH, h.Metrics), qs, nil, h.CH, core.GenesisHash())
	hc := observability.NewHealthChecker()
	srv := server.NewGRPCServer("", "", server.ServerDeps{
		Service:       svc,
		HealthChecker: hc,
		Gatherer:      prometheus.NewRegistry(),
	})

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &fixture{h: h, srv: srv, health: hc, conn: conn}
}

func (f *fixture) call(t *testing.T, method string, req map[string]any) (map[string]any, error) {
	t.Helper()
	in, err := structpb.NewStruct(req)
	require.NoError(t, err)
	out := new(structpb.Struct)
	if err := f.conn.Invoke(context.Background(), "/"+server.ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	result, ok := out.AsMap()["result"]
	require.True(t, ok, "response without result")
	if m, ok := result.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"value": result}, nil
}

func depositEnvelope(f *fixture, user uuid.UUID, amount string) map[string]any {
	f.h.Now++
	return map[string]any{
		"id":        uuid.NewString(),
		"type":      "deposit",
		"authority": user.String(),
		"ts":        float64(f.h.Now),
		"payload":   map[string]any{"amount": amount},
	}
}

func TestCommandAppliesDirective(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()

	rcpt, err := f.call(t, "Command", depositEnvelope(f, user, "5000000"))
	require.NoError(t, err)
	assert.Equal(t, "deposit", rcpt["type"])
	assert.Equal(t, float64(f.h.CH.Sequence()), rcpt["as_of_sequence"])

	acct, err := f.call(t, "GetAccount", map[string]any{"user": user.String()})
	require.NoError(t, err)
	assert.Equal(t, "5000000", acct["collateral"])
}

func TestCommandErrorCodes(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()

	f.h.Now++
	_, err := f.call(t, "Command", map[string]any{
		"id":        uuid.NewString(),
		"type":      "update_exchange_paused",
		"authority": user.String(),
		"ts":        float64(f.h.Now),
		"payload":   map[string]any{"exchange_paused": true},
	})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = f.call(t, "Command", map[string]any{"type": "deposit"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	// withdrawing more than was deposited is rejected by the core
	_, err = f.call(t, "Command", depositEnvelope(f, user, "100"))
	require.NoError(t, err)
	f.h.Now++
	_, err = f.call(t, "Command", map[string]any{
		"id":        uuid.NewString(),
		"type":      "withdraw",
		"authority": user.String(),
		"ts":        float64(f.h.Now),
		"payload":   map[string]any{"amount": "1000"},
	})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestQueryErrorCodes(t *testing.T) {
	f := newFixture(t)

	_, err := f.call(t, "GetMarket", map[string]any{"market": float64(7)})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = f.call(t, "GetUser", map[string]any{"user": "not-a-uuid"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = f.call(t, "GetUser", map[string]any{"user": uuid.NewString()})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = f.call(t, "ListHistory", map[string]any{"kind": "trade"})
	assert.Equal(t, codes.Unavailable, status.Code(err))

	_, err = f.call(t, "ListHistory", map[string]any{"kind": "gossip"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = f.call(t, "DoesNotExist", map[string]any{})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestMarketQueries(t *testing.T) {
	f := newFixture(t)

	m, err := f.call(t, "GetMarket", map[string]any{"market": "0"})
	require.NoError(t, err)
	assert.Equal(t, float64(0), m["index"])
	assert.Equal(t, "10000000000", m["mark_price"])

	n, err := f.call(t, "GetMarketsLength", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, float64(1), n["value"])

	st, err := f.call(t, "GetSystemStatus", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, float64(f.h.CH.Sequence()), st["sequence"])
	assert.Len(t, st["state_hash"], 64)
}

func TestHealthStatus(t *testing.T) {
	f := newFixture(t)
	client := healthpb.NewHealthClient(f.conn)

	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: server.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	f.srv.SetServing(true)
	resp, err = client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: server.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func serveHTTP(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHTTPGateway(t *testing.T) {
	f := newFixture(t)
	h, err := f.srv.HTTPHandler()
	require.NoError(t, err)

	rec, body := serveHTTP(t, h, http.MethodGet, "/v1/markets/0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10000000000", body["result"].(map[string]any)["mark_price"])

	rec, body = serveHTTP(t, h, http.MethodGet, "/v1/markets/4", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NotFound", body["code"])

	user := uuid.New()
	env, err := json.Marshal(depositEnvelope(f, user, "2500000"))
	require.NoError(t, err)
	rec, _ = serveHTTP(t, h, http.MethodPost, "/v1/command", string(env))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = serveHTTP(t, h, http.MethodGet, "/v1/users/"+user.String()+"/account", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2500000", body["result"].(map[string]any)["collateral"])

	rec, _ = serveHTTP(t, h, http.MethodPost, "/v1/command", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	h, err := f.srv.HTTPHandler()
	require.NoError(t, err)

	rec, _ := serveHTTP(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	f.health.SetReady(true)
	rec, _ = serveHTTP(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = serveHTTP(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = serveHTTP(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
