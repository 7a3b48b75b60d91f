package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpVAMM/internal/event"
	"PerpVAMM/internal/ingestion"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/observability"
	"PerpVAMM/internal/oracle"
	"PerpVAMM/internal/state"
)

func depositMessage(t *testing.T, subject string) (ingestion.RawMessage, *event.Deposit) {
	t.Helper()
	d := &event.Deposit{
		Header: event.Header{ID: uuid.New(), Authority: uuid.New(), Ts: 1_700_000_000},
		Amount: fpmath.NewUint(5_000_000),
	}
	data, err := event.Encode(d)
	require.NoError(t, err)
	return ingestion.RawMessage{Subject: subject, Data: data}, d
}

func TestParseDirective(t *testing.T) {
	raw, want := depositMessage(t, ingestion.CommandSubject(event.DirectiveTypeDeposit))
	assert.Equal(t, "perp.vamm.cmd.deposit", raw.Subject)

	d, err := ingestion.ParseDirective(raw)
	require.NoError(t, err)
	got, ok := d.(*event.Deposit)
	require.True(t, ok, "expected *event.Deposit, got %T", d)
	assert.Equal(t, want.ID, got.DirectiveID())
	assert.Equal(t, want.Authority, got.Signer())
	assert.Equal(t, int64(1_700_000_000), got.Timestamp())
	assert.Equal(t, "5000000", got.Amount.String())
}

func TestParseDirectiveSubjectMismatch(t *testing.T) {
	raw, _ := depositMessage(t, ingestion.CommandSubject(event.DirectiveTypeWithdraw))
	_, err := ingestion.ParseDirective(raw)
	assert.ErrorIs(t, err, ingestion.ErrMalformed)

	raw.Subject = "perp.vamm.cmd.any"
	_, err = ingestion.ParseDirective(raw)
	assert.NoError(t, err)
}

func TestParseDirectiveRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"not json":     `{`,
		"unknown type": `{"id":"550e8400-e29b-41d4-a716-446655440000","type":"teleport"}`,
		"missing id":   `{"type":"deposit","payload":{"amount":"1"}}`,
		"bad payload":  `{"id":"550e8400-e29b-41d4-a716-446655440000","type":"deposit","payload":{"amount":"-1"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ingestion.ParseDirective(ingestion.RawMessage{Subject: "perp.vamm.cmd.deposit", Data: []byte(body)})
			assert.ErrorIs(t, err, ingestion.ErrMalformed)
		})
	}
}

func TestParseOracleReading(t *testing.T) {
	body := `{"price":"24500000000","confidence":"1000","slot":42,"has_sufficient_data_points":true}`
	name, r, err := ingestion.ParseOracleReading(ingestion.RawMessage{Subject: "perp.vamm.oracle.SOL/USD", Data: []byte(body)})
	require.NoError(t, err)
	assert.Equal(t, "SOL/USD", name)
	assert.Equal(t, "24500000000", r.Price.String())
	assert.Equal(t, "1000", r.Confidence.String())
	assert.Equal(t, int64(42), r.Slot)
	assert.True(t, r.HasSufficientDataPoints)

	name, _, err = ingestion.ParseOracleReading(ingestion.RawMessage{Subject: "perp.vamm.oracle.", Data: []byte(`{"oracle":"BTC/USD","price":"1","slot":1}`)})
	require.NoError(t, err)
	assert.Equal(t, "BTC/USD", name)

	_, _, err = ingestion.ParseOracleReading(ingestion.RawMessage{Subject: "perp.vamm.oracle.", Data: []byte(`{"price":"1"}`)})
	assert.ErrorIs(t, err, ingestion.ErrMalformed)
	_, _, err = ingestion.ParseOracleReading(ingestion.RawMessage{Subject: "perp.vamm.oracle.X", Data: []byte(`{"price":"1","slot":-4}`)})
	assert.ErrorIs(t, err, ingestion.ErrMalformed)
}

func TestHistorySubject(t *testing.T) {
	market := uint64(3)
	assert.Equal(t, "perp.vamm.history.trade.3", ingestion.HistorySubject(event.Record{Kind: event.HistoryTrade, MarketIndex: &market}))
	assert.Equal(t, "perp.vamm.history.deposit.global", ingestion.HistorySubject(event.Record{Kind: event.HistoryDeposit}))
}

func TestHandleCommandQueuesDirective(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	queue := make(chan event.Directive, 1)
	ns := ingestion.NewNATSSubscriber(nil, queue, oracle.NewService(), m)

	raw, want := depositMessage(t, "perp.vamm.cmd.deposit")
	require.NoError(t, ns.HandleCommand(context.Background(), raw))
	assert.Equal(t, want.ID, (<-queue).DirectiveID())

	err := ns.HandleCommand(context.Background(), ingestion.RawMessage{Subject: "perp.vamm.cmd.deposit", Data: []byte("{}")})
	assert.ErrorIs(t, err, ingestion.ErrMalformed)
	assert.Equal(t, float64(1), promtestutil.ToFloat64(m.IngestMessages.WithLabelValues("command", "queued")))
	assert.Equal(t, float64(1), promtestutil.ToFloat64(m.IngestMessages.WithLabelValues("command", "invalid")))
}

func TestHandleCommandStopsOnCancel(t *testing.T) {
	ns := ingestion.NewNATSSubscriber(nil, make(chan event.Directive), oracle.NewService(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	raw, _ := depositMessage(t, "perp.vamm.cmd.deposit")
	err := ns.HandleCommand(ctx, raw)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ingestion.ErrMalformed))
}

func TestHandleOraclePushesReading(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	feed := oracle.NewService()
	ns := ingestion.NewNATSSubscriber(nil, nil, feed, m)

	body := []byte(`{"price":"24500000000","confidence":"10","slot":7,"has_sufficient_data_points":true}`)
	require.NoError(t, ns.HandleOracle(context.Background(), ingestion.RawMessage{Subject: "perp.vamm.oracle.SOL/USD", Data: body}))

	p, err := feed.Price(context.Background(), "SOL/USD")
	require.NoError(t, err)
	assert.Equal(t, "24500000000", p.Price.String())
	assert.Zero(t, p.Delay)
	assert.Equal(t, float64(1), promtestutil.ToFloat64(m.OracleReadings.WithLabelValues("SOL/USD")))

	_, err = feed.Price(context.Background(), "BTC/USD")
	assert.ErrorIs(t, err, state.ErrOracleNotFound)
}

type fakeApplier struct {
	applied []event.Directive
	err     error
}

func (f *fakeApplier) Apply(_ context.Context, d event.Directive) error {
	if f.err != nil {
		return f.err
	}
	f.applied = append(f.applied, d)
	return nil
}

func (f *fakeApplier) Sequence() int64 { return int64(len(f.applied)) }

func TestCommandIngestSubmit(t *testing.T) {
	core := &fakeApplier{}
	ci := ingestion.NewCommandIngest(core, nil)

	raw, want := depositMessage(t, "")
	rcpt, err := ci.Submit(context.Background(), raw.Data)
	require.NoError(t, err)
	assert.Equal(t, want.ID, rcpt.DirectiveID)
	assert.Equal(t, event.DirectiveTypeDeposit, rcpt.Type)
	assert.Equal(t, int64(1), rcpt.AsOfSequence)

	_, err = ci.Submit(context.Background(), []byte("nope"))
	assert.ErrorIs(t, err, ingestion.ErrMalformed)

	core.err = state.ErrExchangePaused
	_, err = ci.Submit(context.Background(), raw.Data)
	assert.ErrorIs(t, err, state.ErrExchangePaused)
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	bodies   [][]byte
	fail     bool
}

func (p *fakePublisher) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return nil, errors.New("no responders")
	}
	p.subjects = append(p.subjects, subject)
	p.bodies = append(p.bodies, payload)
	return &jetstream.PubAck{Stream: ingestion.HistoryStream, Sequence: uint64(len(p.subjects))}, nil
}

func TestHistoryPublisherPublishesEveryRecord(t *testing.T) {
	pub := &fakePublisher{}
	hp := ingestion.NewHistoryPublisher(pub, nil, nil)

	market := uint64(0)
	out := event.Output{
		Sequence:    9,
		DirectiveID: uuid.New(),
		Records: []event.Record{
			{Kind: event.HistoryTrade, ID: 4, MarketIndex: &market, Data: json.RawMessage(`{}`)},
			{Kind: event.HistoryFundingRate, ID: 2, MarketIndex: &market, Data: json.RawMessage(`{}`)},
		},
	}
	require.NoError(t, hp.Publish(context.Background(), out))
	assert.Equal(t, []string{"perp.vamm.history.trade.0", "perp.vamm.history.funding_rate.0"}, pub.subjects)

	var msg ingestion.HistoryMessage
	require.NoError(t, json.Unmarshal(pub.bodies[0], &msg))
	assert.Equal(t, int64(9), msg.Sequence)
	assert.Equal(t, out.DirectiveID.String(), msg.DirectiveID)
	assert.Equal(t, uint64(4), msg.ID)
	assert.Equal(t, event.HistoryTrade, msg.Kind)

	pub.fail = true
	assert.Error(t, hp.Publish(context.Background(), out))
}

func TestHistoryPublisherRunStopsOnClose(t *testing.T) {
	pub := &fakePublisher{}
	in := make(chan event.Output, 2)
	hp := ingestion.NewHistoryPublisher(pub, in, nil)

	in <- event.Output{Sequence: 1, Records: []event.Record{{Kind: event.HistoryDeposit, ID: 1, Data: json.RawMessage(`{}`)}}}
	close(in)
	require.NoError(t, hp.Run(context.Background()))
	assert.Equal(t, []string{"perp.vamm.history.deposit.global"}, pub.subjects)
}
