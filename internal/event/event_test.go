package event_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpVAMM/internal/event"
	fpmath "PerpVAMM/internal/math"
	"PerpVAMM/internal/state"
)

func TestDecodeOpenPosition(t *testing.T) {
	id, signer := uuid.New(), uuid.New()
	raw := `{"id":"` + id.String() + `","type":"open_position","authority":"` + signer.String() + `","ts":1700000000,
		"payload":{"market_index":3,"direction":"Short","quote_asset_amount":"49750000","limit_price":"1000000000000"}}`

	d, err := event.Decode([]byte(raw))
	require.NoError(t, err)

	op, ok := d.(*event.OpenPosition)
	require.True(t, ok)
	assert.Equal(t, id, op.DirectiveID())
	assert.Equal(t, signer, op.Signer())
	assert.Equal(t, int64(1700000000), op.Timestamp())
	assert.Equal(t, uint64(3), *op.MarketIndex())
	assert.Equal(t, state.DirectionShort, op.Direction)
	assert.Equal(t, "49750000", op.QuoteAssetAmount.String())
	require.NotNil(t, op.LimitPrice)
}

func TestEncodeKeepsHeaderOutOfPayload(t *testing.T) {
	d := &event.Deposit{
		Header: event.Header{ID: uuid.New(), Authority: uuid.New(), Ts: 42},
		Amount: fpmath.NewUint(10_000_000),
	}
	data, err := event.Encode(d)
	require.NoError(t, err)

	var env event.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, event.DirectiveTypeDeposit, env.Type)
	assert.JSONEq(t, `{"amount":"10000000"}`, string(env.Payload))

	back, err := event.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, d, back)
}

func TestDecodeRejects(t *testing.T) {
	_, err := event.Decode([]byte(`{"id":"` + uuid.NewString() + `","type":"teleport","payload":{}}`))
	assert.Error(t, err)

	_, err = event.Decode([]byte(`{"type":"deposit","payload":{"amount":"1"}}`))
	assert.Error(t, err)

	_, err = event.Decode([]byte(`{"id":"` + uuid.NewString() + `","type":"deposit","payload":{"amount":"-1"}}`))
	assert.Error(t, err)
}

func TestAdminDirectives(t *testing.T) {
	assert.False(t, event.DirectiveTypeDeposit.IsAdmin())
	assert.False(t, event.DirectiveTypeSettleFunding.IsAdmin())
	assert.False(t, event.DirectiveTypeUpdateFundingRate.IsAdmin())
	assert.True(t, event.DirectiveTypeRepeg.IsAdmin())
	assert.True(t, event.DirectiveTypeUpdateProtocolAddresses.IsAdmin())
}

func TestNewRecord(t *testing.T) {
	rec, err := event.NewRecord(7, 100, &event.TradeRecord{
		User:             uuid.New(),
		MarketIndex:      2,
		QuoteAssetAmount: fpmath.NewUint(5),
	})
	require.NoError(t, err)
	assert.Equal(t, event.HistoryTrade, rec.Kind)
	assert.Equal(t, uint64(7), rec.ID)
	require.NotNil(t, rec.MarketIndex)
	assert.Equal(t, uint64(2), *rec.MarketIndex)

	dep, err := event.NewRecord(1, 100, &event.DepositRecord{Direction: state.Withdraw})
	require.NoError(t, err)
	assert.Nil(t, dep.MarketIndex)
	assert.Contains(t, string(dep.Data), `"direction":"Withdraw"`)
}
