package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"livebridge/internal/engine"
	"livebridge/internal/risk"
	"livebridge/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jsonConfig = `{
  "registry": {
    "venues": [{"name": "PAPER"}],
    "symbols": [
      {"name": "BTCUSDT", "venue": "PAPER", "scale": {"priceScale": 2, "quantityScale": 3}},
      {"name": "ETHUSDT", "venue": "PAPER", "scale": {"priceScale": 2, "quantityScale": 3}}
    ]
  },
  "risk": {
    "max_order_qty": "1.5",
    "max_order_notional": 50000,
    "max_daily_loss": "250.25",
    "max_orders_per_window": 10,
    "window_duration": "1s",
    "loss_model": "notional"
  },
  "broker": {
    "initial_cash": "100000",
    "fee_bps": 5,
    "drift_cash_tolerance": "0.01",
    "faults": {"seed": 7, "reject_rate": 0.1, "max_latency": "20ms"}
  },
  "feed": {"kind": "sim", "interval": "5s", "sim": {"base_price": "30000", "base_size": "0.01", "max_step": "5", "limit": 100}},
  "engine": {"strategy_id": 3, "drift_every": 1000000000},
  "strategy": {"kind": "breakout", "lookback": 4, "qty": "0.25"},
  "recorder": {"dir": "${LIVEBRIDGE_TEST_WAL}"}
}`

const yamlConfig = `
registry:
  venues:
    - name: BINANCE
  symbols:
    - name: BTCUSDT
      venue: BINANCE
      scale: {price_scale: 2, quantity_scale: 5}
risk:
  kill_switch: true
  max_symbol_exposure: 0.5
  loss_model: limit_price
  adverse_move_bps: 25
broker:
  initial_cash: 5000.50
  timeout: 2s
feed:
  kind: binance
  symbols: [btcusdt]
  chaos:
    reorder_window: 3
    max_delay: 250ms
journal:
  dsn: postgres://localhost/live
metrics:
  addr: ":9100"
`

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Setenv("LIVEBRIDGE_TEST_WAL", "/tmp/wal")
	cfg, err := Load(writeFile(t, "live.json", jsonConfig))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Registry.SymbolCount())
	assert.Equal(t, schema.ScaleSpec{PriceScale: 2, QuantityScale: 3}, cfg.Scale)

	assert.Equal(t, schema.Quantity(1_500), cfg.Risk.MaxOrderQty)
	assert.Equal(t, schema.Notional(5_000_000_000), cfg.Risk.MaxOrderNotional)
	assert.Equal(t, schema.Notional(25_025_000), cfg.Risk.MaxDailyLoss)
	assert.Equal(t, time.Second, cfg.Risk.WindowDuration)
	assert.Equal(t, risk.NotionalLoss{}, cfg.Risk.Loss)

	assert.Equal(t, schema.Notional(10_000_000_000), cfg.Paper.InitialCash)
	assert.Equal(t, int64(5), cfg.Paper.FeeBps)
	assert.Equal(t, 20*time.Millisecond, cfg.Paper.Faults.MaxLatency)
	assert.Equal(t, schema.Notional(1_000), cfg.Safety.DriftCashTolerance)
	assert.Equal(t, defaultBrokerTimeout, cfg.BrokerTimeout)

	assert.Equal(t, FeedSim, cfg.Feed.Kind)
	assert.Equal(t, 5*time.Second, cfg.Feed.Aggregate.Interval)
	assert.Equal(t, schema.Price(3_000_000), cfg.Feed.Sim.BasePrice)
	assert.Equal(t, schema.Quantity(10), cfg.Feed.Sim.BaseSize)

	assert.Equal(t, uint32(3), cfg.Engine.StrategyID)
	assert.Equal(t, time.Second, cfg.Engine.DriftEvery)

	assert.Equal(t, StrategyBreakout, cfg.Strategy.Kind)
	assert.Equal(t, schema.Quantity(250), cfg.Strategy.Qty)
	assert.IsType(t, &engine.Breakout{}, cfg.Strategy.NewStrategy())

	require.NotNil(t, cfg.Recorder)
	assert.Equal(t, "/tmp/wal", cfg.Recorder.Dir)
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "live.yaml", yamlConfig))
	require.NoError(t, err)

	assert.True(t, cfg.Risk.KillSwitch)
	assert.Equal(t, schema.Quantity(50_000), cfg.Risk.MaxSymbolExposure)
	assert.Equal(t, risk.LimitPriceLoss{Bps: 25}, cfg.Risk.Loss)
	assert.Equal(t, schema.Notional(50_005_000_000), cfg.Paper.InitialCash)
	assert.Equal(t, 2*time.Second, cfg.BrokerTimeout)

	assert.Equal(t, FeedBinance, cfg.Feed.Kind)
	assert.Equal(t, []string{"btcusdt"}, cfg.Feed.Binance.Symbols)
	assert.Equal(t, time.Minute, cfg.Feed.Aggregate.Interval)
	assert.True(t, cfg.Feed.Chaos.Enabled())
	assert.Equal(t, 3, cfg.Feed.Chaos.ReorderWindow)
	assert.Equal(t, 250*time.Millisecond, cfg.Feed.Chaos.MaxDelay)

	assert.Equal(t, StrategyHold, cfg.Strategy.Kind)
	assert.Equal(t, engine.Hold{}, cfg.Strategy.NewStrategy())
	assert.Nil(t, cfg.Recorder)
	assert.Equal(t, "postgres://localhost/live", cfg.Journal.DSN)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
}

func TestResolveRejects(t *testing.T) {
	base := func() FileConfig {
		cfg, err := Parse([]byte(yamlConfig), ".yaml")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Registry.Symbols[0].Venue = "NOPE"
	_, err := Resolve(cfg)
	assert.Error(t, err)

	cfg = base()
	cfg.Registry.Symbols = append(cfg.Registry.Symbols, SymbolConfig{
		Name: "ETHUSDT", Venue: "BINANCE", Scale: schema.ScaleSpec{PriceScale: 4},
	})
	_, err = Resolve(cfg)
	assert.Error(t, err, "mixed scales need an explicit account scale")
	cfg.Scale = &schema.ScaleSpec{PriceScale: 2, QuantityScale: 5}
	_, err = Resolve(cfg)
	assert.NoError(t, err)

	cfg = base()
	cfg.Risk.LossModel = "guess"
	_, err = Resolve(cfg)
	assert.Error(t, err)

	cfg = base()
	cfg.Risk.MaxOrdersPerWindow = 5
	_, err = Resolve(cfg)
	assert.Error(t, err)

	cfg = base()
	cfg.Feed.Kind = "carrier_pigeon"
	_, err = Resolve(cfg)
	assert.Error(t, err)

	cfg = base()
	cfg.Feed.Kind = FeedWebSocket
	_, err = Resolve(cfg)
	assert.Error(t, err)
	cfg.Feed.URL = "ws://localhost:1"
	cfg.Feed.Subscribe = "{not json"
	_, err = Resolve(cfg)
	assert.Error(t, err)

	cfg = base()
	cfg.Feed.Chaos.DropRate = -1
	_, err = Resolve(cfg)
	assert.Error(t, err)

	cfg = base()
	cfg.Strategy.Kind = StrategyBreakout
	_, err = Resolve(cfg)
	assert.Error(t, err)

	cfg = base()
	cfg.Broker.Faults.RejectRate = 2
	_, err = Resolve(cfg)
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.Std())
	require.NoError(t, d.UnmarshalJSON([]byte(`250`)))
	assert.Equal(t, 250*time.Nanosecond, d.Std())
	assert.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))
	assert.Error(t, d.UnmarshalJSON([]byte(`true`)))
}
