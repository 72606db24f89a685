package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPositiveCash(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)
	_, err = New(-1)
	assert.Error(t, err)
}

func TestOpenCloseRoundTrip(t *testing.T) {
	p, err := New(10000)
	require.NoError(t, err)

	pos := &Position{Asset: "AAPL", Quantity: 10, EntryPrice: 100, EntryTime: time.Now()}
	require.NoError(t, p.Open(pos))
	assert.Same(t, pos, p.Position("AAPL"))

	// 同一资产重复开仓是调用方缺陷
	assert.Error(t, p.Open(&Position{Asset: "AAPL", Quantity: 1, EntryPrice: 1}))

	closed, ok := p.Close("AAPL")
	require.True(t, ok)
	assert.Same(t, pos, closed)
	assert.Nil(t, p.Position("AAPL"))

	_, ok = p.Close("AAPL")
	assert.False(t, ok)
}

func TestOpenValidatesFields(t *testing.T) {
	p, _ := New(10000)
	assert.Error(t, p.Open(nil))
	assert.Error(t, p.Open(&Position{Asset: "", Quantity: 1, EntryPrice: 1}))
	assert.Error(t, p.Open(&Position{Asset: "A", Quantity: 0, EntryPrice: 1}))
	assert.Error(t, p.Open(&Position{Asset: "A", Quantity: 1, EntryPrice: 0}))
}

func TestEquityMarksAtLastPrice(t *testing.T) {
	p, _ := New(10000)
	require.NoError(t, p.Open(&Position{Asset: "AAPL", Quantity: 10, EntryPrice: 100, LastPrice: 110}))
	p.Cash -= 1000
	assert.InDelta(t, 9000+1100, p.Equity(), 1e-9)

	// 没有最新价时退回入场价
	require.NoError(t, p.Open(&Position{Asset: "MSFT", Quantity: 5, EntryPrice: 200}))
	assert.InDelta(t, 9000+1100+1000, p.Equity(), 1e-9)
}

func TestWeights(t *testing.T) {
	p, _ := New(10000)
	require.NoError(t, p.Open(&Position{Asset: "AAPL", Quantity: 10, EntryPrice: 100, LastPrice: 100}))
	p.Cash -= 1000
	w := p.Weights()
	assert.InDelta(t, 0.1, w["AAPL"], 1e-9)
}

func TestAssetsSorted(t *testing.T) {
	p, _ := New(10000)
	for _, a := range []string{"MSFT", "AAPL", "BTCUSDT"} {
		require.NoError(t, p.Open(&Position{Asset: a, Quantity: 1, EntryPrice: 1}))
	}
	assert.Equal(t, []string{"AAPL", "BTCUSDT", "MSFT"}, p.Assets())
}

func TestAppendEquity(t *testing.T) {
	p, _ := New(10000)
	ts := time.Now()
	p.AppendEquity(ts, 10000)
	p.AppendEquity(ts.Add(time.Hour), 10100)
	require.Len(t, p.EquityHistory, 2)
	assert.Equal(t, 10100.0, p.EquityHistory[1].Equity)
}
