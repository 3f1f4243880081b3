package journal

import (
	"context"
	"testing"

	"livebridge/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToRow(t *testing.T) {
	fill := schema.Fill{FillID: 9, OrderID: 4, SymbolID: 2, Side: schema.OrderSideSell, Price: 101, Qty: 3, Fee: 1, TsEvent: 77}
	row, ok := toRow(fill, 0)
	require.True(t, ok)
	fr, ok := row.(*FillRow)
	require.True(t, ok)
	assert.Equal(t, fill, fr.Fill())

	row, ok = toRow(schema.OrderAck{OrderID: 4, Status: schema.OrderAckStatusRejected, Reason: schema.OrderAckReasonExchangeReject}, 55)
	require.True(t, ok)
	ev := row.(*OrderEventRow)
	assert.Equal(t, kindAck, ev.Kind)
	assert.Equal(t, uint16(schema.OrderAckStatusRejected), ev.Status)
	assert.Equal(t, int64(55), ev.TsEvent)

	row, ok = toRow(schema.RiskDecision{OrderID: 5, Action: schema.RiskActionDeny, Reason: schema.RiskReasonMaxQty, ProposedQty: 20}, 1)
	require.True(t, ok)
	ev = row.(*OrderEventRow)
	assert.Equal(t, kindDecision, ev.Kind)
	assert.Equal(t, uint16(schema.RiskReasonMaxQty), ev.Reason)
	assert.Equal(t, int64(20), ev.Qty)

	row, ok = toRow(schema.DriftRecord{SymbolID: 1, Virtual: 5, Broker: 4, TsEvent: 3}, 0)
	require.True(t, ok)
	assert.Equal(t, int64(4), row.(*DriftRow).Broker)

	_, ok = toRow(schema.Tick{SymbolID: 1}, 0)
	assert.False(t, ok)
	_, ok = toRow(schema.Bar{SymbolID: 1}, 0)
	assert.False(t, ok)
}

func TestRecordQueuesWithoutBlocking(t *testing.T) {
	s := newStore(nil, 2)
	s.Record(schema.Tick{}, 0)
	assert.Equal(t, 0, s.Pending())

	s.Record(schema.Fill{FillID: 1}, 0)
	s.Record(schema.Fill{FillID: 2}, 0)
	s.Record(schema.Fill{FillID: 3}, 0)
	assert.Equal(t, 2, s.Pending())
	assert.Equal(t, uint64(1), s.Dropped())

	s.Close()
	s.Record(schema.Fill{FillID: 4}, 0)
	assert.Equal(t, 2, s.Pending())

	var got []uint64
	s.queue.Run(context.Background(), func(row any) {
		got = append(got, row.(*FillRow).FillID)
	})
	assert.Equal(t, []uint64{1, 2}, got)
}

func TestDSN(t *testing.T) {
	dsn, err := Option{
		ConnString: "postgres://live:p%40ss@db:5432/bridge",
		Params:     map[string]string{"application_name": "livetrader"},
	}.dsn()
	require.NoError(t, err)
	assert.Equal(t, "postgres://live:p%40ss@db:5432/bridge?application_name=livetrader&sslmode=disable", dsn)

	dsn, err = Option{ConnString: "postgres://x/y?sslmode=require"}.dsn()
	require.NoError(t, err)
	assert.Equal(t, "postgres://x/y?sslmode=require", dsn)

	_, err = Option{}.dsn()
	assert.Error(t, err)
	_, err = Option{ConnString: "mysql://x/y"}.dsn()
	assert.Error(t, err)
}
