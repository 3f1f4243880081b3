package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"livebridge/internal/broker/paper"
	"livebridge/internal/chaos"
	"livebridge/internal/engine"
	"livebridge/internal/feed"
	"livebridge/internal/recorder"
	"livebridge/internal/risk"
	"livebridge/internal/safety"
	"livebridge/internal/schema"

	"gopkg.in/yaml.v3"
)

const (
	FeedSim       = "sim"
	FeedWebSocket = "websocket"
	FeedBinance   = "binance"
	FeedReplay    = "replay"

	StrategyHold     = "hold"
	StrategyBreakout = "breakout"

	defaultBrokerTimeout = 5 * time.Second
	defaultBarInterval   = time.Minute
)

// FileConfig mirrors the config file layout. Limits and money are human
// decimals converted with the account scale.
type FileConfig struct {
	Registry   RegistryConfig    `json:"registry" yaml:"registry"`
	Scale      *schema.ScaleSpec `json:"scale" yaml:"scale"`
	Risk       RiskConfig        `json:"risk" yaml:"risk"`
	Broker     BrokerConfig      `json:"broker" yaml:"broker"`
	Feed       FeedConfig        `json:"feed" yaml:"feed"`
	Engine     EngineConfig      `json:"engine" yaml:"engine"`
	Strategy   StrategyConfig    `json:"strategy" yaml:"strategy"`
	Recorder   RecorderConfig    `json:"recorder" yaml:"recorder"`
	Journal    JournalConfig     `json:"journal" yaml:"journal"`
	Checkpoint CheckpointConfig  `json:"checkpoint" yaml:"checkpoint"`
	Metrics    MetricsConfig     `json:"metrics" yaml:"metrics"`
}

// RegistryConfig defines venue and symbol mappings.
type RegistryConfig struct {
	Venues  []VenueConfig  `json:"venues" yaml:"venues"`
	Symbols []SymbolConfig `json:"symbols" yaml:"symbols"`
}

// VenueConfig describes a venue entry.
type VenueConfig struct {
	Name string `json:"name" yaml:"name"`
}

// SymbolConfig describes a symbol entry.
type SymbolConfig struct {
	Name  string           `json:"name" yaml:"name"`
	Venue string           `json:"venue" yaml:"venue"`
	Scale schema.ScaleSpec `json:"scale" yaml:"scale"`
}

// RiskConfig uses the operator field names. Zero disables a limit.
type RiskConfig struct {
	KillSwitch           bool     `json:"kill_switch" yaml:"kill_switch"`
	MaxOrderQty          Decimal  `json:"max_order_qty" yaml:"max_order_qty"`
	MaxOrderNotional     Decimal  `json:"max_order_notional" yaml:"max_order_notional"`
	MaxSymbolExposure    Decimal  `json:"max_symbol_exposure" yaml:"max_symbol_exposure"`
	MaxAggregateExposure Decimal  `json:"max_aggregate_exposure" yaml:"max_aggregate_exposure"`
	MaxDailyLoss         Decimal  `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxOrdersPerWindow   int      `json:"max_orders_per_window" yaml:"max_orders_per_window"`
	WindowDuration       Duration `json:"window_duration" yaml:"window_duration"`
	MaxPriceDeviationBps int64    `json:"max_price_deviation_bps" yaml:"max_price_deviation_bps"`
	StaleReservationAge  Duration `json:"stale_reservation_age" yaml:"stale_reservation_age"`
	LossModel            string   `json:"loss_model" yaml:"loss_model"`
	AdverseMoveBps       int64    `json:"adverse_move_bps" yaml:"adverse_move_bps"`
}

// BrokerConfig configures the paper venue and the call boundary.
type BrokerConfig struct {
	InitialCash                Decimal     `json:"initial_cash" yaml:"initial_cash"`
	FeeBps                     int64       `json:"fee_bps" yaml:"fee_bps"`
	Timeout                    Duration    `json:"timeout" yaml:"timeout"`
	MaxConsecutiveConnFailures int         `json:"max_consecutive_conn_failures" yaml:"max_consecutive_conn_failures"`
	DriftCashTolerance         Decimal     `json:"drift_cash_tolerance" yaml:"drift_cash_tolerance"`
	Faults                     FaultConfig `json:"faults" yaml:"faults"`
}

// FaultConfig injects paper venue faults.
type FaultConfig struct {
	Seed              int64    `json:"seed" yaml:"seed"`
	RejectRate        float64  `json:"reject_rate" yaml:"reject_rate"`
	ConnectionErrRate float64  `json:"connection_err_rate" yaml:"connection_err_rate"`
	DuplicateFillRate float64  `json:"duplicate_fill_rate" yaml:"duplicate_fill_rate"`
	MaxLatency        Duration `json:"max_latency" yaml:"max_latency"`
}

// FeedConfig selects the tick source and the bar interval.
type FeedConfig struct {
	Kind          string      `json:"kind" yaml:"kind"`
	Interval      Duration    `json:"interval" yaml:"interval"`
	MaxSymbols    int         `json:"max_symbols" yaml:"max_symbols"`
	URL           string      `json:"url" yaml:"url"`
	Subscribe     string      `json:"subscribe" yaml:"subscribe"`
	Symbols       []string    `json:"symbols" yaml:"symbols"`
	ReadTimeout   Duration    `json:"read_timeout" yaml:"read_timeout"`
	ReconnectWait Duration    `json:"reconnect_wait" yaml:"reconnect_wait"`
	ReplayDir     string      `json:"replay_dir" yaml:"replay_dir"`
	ReplaySpeed   float64     `json:"replay_speed" yaml:"replay_speed"`
	Sim           SimConfig   `json:"sim" yaml:"sim"`
	Chaos         ChaosConfig `json:"chaos" yaml:"chaos"`
}

// ChaosConfig perturbs the tick stream before it reaches the bar clock.
type ChaosConfig struct {
	Seed          int64    `json:"seed" yaml:"seed"`
	DropRate      float64  `json:"drop_rate" yaml:"drop_rate"`
	DuplicateRate float64  `json:"duplicate_rate" yaml:"duplicate_rate"`
	ReorderWindow int      `json:"reorder_window" yaml:"reorder_window"`
	MaxDelay      Duration `json:"max_delay" yaml:"max_delay"`
}

// SimConfig drives the synthetic source.
type SimConfig struct {
	BasePrice Decimal  `json:"base_price" yaml:"base_price"`
	BaseSize  Decimal  `json:"base_size" yaml:"base_size"`
	MaxStep   Decimal  `json:"max_step" yaml:"max_step"`
	Every     Duration `json:"every" yaml:"every"`
	Seed      int64    `json:"seed" yaml:"seed"`
	Limit     int      `json:"limit" yaml:"limit"`
}

// EngineConfig tunes the control loop.
type EngineConfig struct {
	StrategyID   uint32   `json:"strategy_id" yaml:"strategy_id"`
	SealEvery    Duration `json:"seal_every" yaml:"seal_every"`
	DriftEvery   Duration `json:"drift_every" yaml:"drift_every"`
	DrainTimeout Duration `json:"drain_timeout" yaml:"drain_timeout"`
}

// StrategyConfig selects a shipped strategy.
type StrategyConfig struct {
	Kind     string  `json:"kind" yaml:"kind"`
	Lookback int     `json:"lookback" yaml:"lookback"`
	Qty      Decimal `json:"qty" yaml:"qty"`
}

// RecorderConfig enables the session WAL when Dir is set.
type RecorderConfig struct {
	Dir                string   `json:"dir" yaml:"dir"`
	FilePrefix         string   `json:"file_prefix" yaml:"file_prefix"`
	SegmentMaxBytes    int64    `json:"segment_max_bytes" yaml:"segment_max_bytes"`
	SegmentMaxDuration Duration `json:"segment_max_duration" yaml:"segment_max_duration"`
	QueueSize          int      `json:"queue_size" yaml:"queue_size"`
	SyncInterval       Duration `json:"sync_interval" yaml:"sync_interval"`
}

// JournalConfig enables the Postgres journal when DSN is set.
type JournalConfig struct {
	DSN       string `json:"dsn" yaml:"dsn"`
	QueueSize int    `json:"queue_size" yaml:"queue_size"`
}

// CheckpointConfig enables periodic portfolio checkpoints when Path is set.
type CheckpointConfig struct {
	Path  string   `json:"path" yaml:"path"`
	Every Duration `json:"every" yaml:"every"`
}

// MetricsConfig exposes /metrics on Addr when set.
type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// FeedSpec is the resolved feed selection.
type FeedSpec struct {
	Kind      string
	Aggregate feed.Config
	WebSocket feed.WebSocketConfig
	Binance   BinanceSpec
	Replay    recorder.ReplayConfig
	Sim       feed.SimConfig
	Chaos     chaos.Config
}

// BinanceSpec is the resolved trade stream subscription.
type BinanceSpec struct {
	URL     string
	Symbols []string
}

// StrategySpec is the resolved strategy selection.
type StrategySpec struct {
	Kind     string
	Lookback int
	Qty      schema.Quantity
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Registry      *schema.Registry
	Scale         schema.ScaleSpec
	Risk          risk.Config
	Paper         paper.Config
	BrokerTimeout time.Duration
	Safety        safety.Config
	Feed          FeedSpec
	Engine        engine.Config
	Strategy      StrategySpec
	Recorder      *recorder.Config
	Journal       JournalConfig
	Checkpoint    CheckpointConfig
	MetricsAddr   string
}

// Load reads a JSON or YAML (by extension) config file. ${VAR} references are
// expanded from the environment first.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return Loaded{}, fmt.Errorf("%s: %w", path, err)
	}
	return Resolve(cfg)
}

// Parse decodes a config document. ext selects YAML for ".yaml" and ".yml".
func Parse(data []byte, ext string) (FileConfig, error) {
	data = []byte(os.ExpandEnv(string(data)))
	var cfg FileConfig
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return FileConfig{}, err
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return FileConfig{}, err
		}
	}
	return cfg, nil
}

// Resolve builds the registry and converts every human value.
func Resolve(cfg FileConfig) (Loaded, error) {
	reg, err := buildRegistry(cfg.Registry)
	if err != nil {
		return Loaded{}, err
	}
	scale, err := accountScale(cfg.Scale, reg)
	if err != nil {
		return Loaded{}, err
	}

	riskCfg, err := resolveRisk(cfg.Risk, scale)
	if err != nil {
		return Loaded{}, err
	}
	fd, err := resolveFeed(cfg.Feed, scale)
	if err != nil {
		return Loaded{}, err
	}
	strategy, err := resolveStrategy(cfg.Strategy, scale)
	if err != nil {
		return Loaded{}, err
	}

	timeout := cfg.Broker.Timeout.Std()
	if timeout == 0 {
		timeout = defaultBrokerTimeout
	}
	notional := scale.NotionalScale()
	out := Loaded{
		Registry: reg,
		Scale:    scale,
		Risk:     riskCfg,
		Paper: paper.Config{
			InitialCash: schema.Notional(cfg.Broker.InitialCash.Scaled(notional)),
			FeeBps:      cfg.Broker.FeeBps,
			Faults: paper.FaultConfig{
				Seed:              cfg.Broker.Faults.Seed,
				RejectRate:        cfg.Broker.Faults.RejectRate,
				ConnectionErrRate: cfg.Broker.Faults.ConnectionErrRate,
				DuplicateFillRate: cfg.Broker.Faults.DuplicateFillRate,
				MaxLatency:        cfg.Broker.Faults.MaxLatency.Std(),
			},
		},
		BrokerTimeout: timeout,
		Safety: safety.Config{
			MaxConsecutiveConnFailures: cfg.Broker.MaxConsecutiveConnFailures,
			DriftCashTolerance:         schema.Notional(cfg.Broker.DriftCashTolerance.Scaled(notional)),
		},
		Feed: fd,
		Engine: engine.Config{
			StrategyID:   cfg.Engine.StrategyID,
			SealEvery:    cfg.Engine.SealEvery.Std(),
			DriftEvery:   cfg.Engine.DriftEvery.Std(),
			DrainTimeout: cfg.Engine.DrainTimeout.Std(),
		},
		Strategy:    strategy,
		Journal:     cfg.Journal,
		Checkpoint:  cfg.Checkpoint,
		MetricsAddr: cfg.Metrics.Addr,
	}
	if err := out.Paper.Faults.Validate(); err != nil {
		return Loaded{}, fmt.Errorf("broker faults: %w", err)
	}
	if cfg.Recorder.Dir != "" {
		rc := recorder.DefaultConfig(cfg.Recorder.Dir)
		if cfg.Recorder.FilePrefix != "" {
			rc.FilePrefix = cfg.Recorder.FilePrefix
		}
		if cfg.Recorder.SegmentMaxBytes > 0 {
			rc.SegmentMaxBytes = cfg.Recorder.SegmentMaxBytes
		}
		if cfg.Recorder.SegmentMaxDuration > 0 {
			rc.SegmentMaxDuration = cfg.Recorder.SegmentMaxDuration.Std()
		}
		if cfg.Recorder.QueueSize > 0 {
			rc.QueueSize = cfg.Recorder.QueueSize
		}
		rc.SyncInterval = cfg.Recorder.SyncInterval.Std()
		if err := rc.Validate(); err != nil {
			return Loaded{}, err
		}
		out.Recorder = &rc
	}
	return out, nil
}

// LoadRegistry reads a config file and only builds the registry.
func LoadRegistry(path string) (*schema.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	return buildRegistry(cfg.Registry)
}

func buildRegistry(cfg RegistryConfig) (*schema.Registry, error) {
	reg := schema.NewRegistry()
	for _, venue := range cfg.Venues {
		if _, err := reg.AddVenue(venue.Name); err != nil {
			return nil, err
		}
	}
	for _, sym := range cfg.Symbols {
		venueID, ok := reg.VenueIDByName(sym.Venue)
		if !ok {
			return nil, fmt.Errorf("venue not found: %s", sym.Venue)
		}
		if _, err := reg.AddSymbol(sym.Name, venueID, sym.Scale); err != nil {
			return nil, err
		}
	}
	if reg.SymbolCount() == 0 {
		return nil, fmt.Errorf("registry has no symbols")
	}
	return reg, nil
}

// accountScale is the scale risk limits and cash are written in. Without an
// explicit one every symbol must share the same scale.
func accountScale(explicit *schema.ScaleSpec, reg *schema.Registry) (schema.ScaleSpec, error) {
	if explicit != nil {
		if explicit.PriceScale < 0 || explicit.QuantityScale < 0 {
			return schema.ScaleSpec{}, fmt.Errorf("scale must be >= 0")
		}
		return *explicit, nil
	}
	symbols := reg.Symbols()
	scale := symbols[0].Scale
	for _, s := range symbols[1:] {
		if s.Scale != scale {
			return schema.ScaleSpec{}, fmt.Errorf("symbols use different scales; set the account scale explicitly")
		}
	}
	return scale, nil
}

func resolveRisk(cfg RiskConfig, scale schema.ScaleSpec) (risk.Config, error) {
	loss, err := risk.ParseLossModel(cfg.LossModel, cfg.AdverseMoveBps)
	if err != nil {
		return risk.Config{}, err
	}
	notional := scale.NotionalScale()
	out := risk.Config{
		KillSwitch:           cfg.KillSwitch,
		MaxOrderQty:          schema.Quantity(cfg.MaxOrderQty.Scaled(scale.QuantityScale)),
		MaxOrderNotional:     schema.Notional(cfg.MaxOrderNotional.Scaled(notional)),
		MaxSymbolExposure:    schema.Quantity(cfg.MaxSymbolExposure.Scaled(scale.QuantityScale)),
		MaxAggregateExposure: schema.Notional(cfg.MaxAggregateExposure.Scaled(notional)),
		MaxDailyLoss:         schema.Notional(cfg.MaxDailyLoss.Scaled(notional)),
		MaxOrdersPerWindow:   cfg.MaxOrdersPerWindow,
		WindowDuration:       cfg.WindowDuration.Std(),
		MaxPriceDeviationBps: cfg.MaxPriceDeviationBps,
		StaleReservationAge:  cfg.StaleReservationAge.Std(),
		Loss:                 loss,
	}
	if err := out.Validate(); err != nil {
		return risk.Config{}, err
	}
	return out, nil
}

func resolveFeed(cfg FeedConfig, scale schema.ScaleSpec) (FeedSpec, error) {
	interval := cfg.Interval.Std()
	if interval == 0 {
		interval = defaultBarInterval
	}
	out := FeedSpec{
		Kind:      strings.ToLower(cfg.Kind),
		Aggregate: feed.Config{Interval: interval, MaxSymbols: cfg.MaxSymbols},
	}
	if out.Kind == "" {
		out.Kind = FeedSim
	}
	if err := out.Aggregate.Validate(); err != nil {
		return FeedSpec{}, err
	}
	out.Chaos = chaos.Config{
		Seed:          cfg.Chaos.Seed,
		DropRate:      cfg.Chaos.DropRate,
		DuplicateRate: cfg.Chaos.DuplicateRate,
		ReorderWindow: cfg.Chaos.ReorderWindow,
		MaxDelay:      cfg.Chaos.MaxDelay.Std(),
	}
	if err := out.Chaos.Validate(); err != nil {
		return FeedSpec{}, fmt.Errorf("feed chaos: %w", err)
	}

	switch out.Kind {
	case FeedSim:
		out.Sim = feed.SimConfig{
			BasePrice: schema.Price(cfg.Sim.BasePrice.Scaled(scale.PriceScale)),
			BaseSize:  schema.Quantity(cfg.Sim.BaseSize.Scaled(scale.QuantityScale)),
			MaxStep:   schema.Price(cfg.Sim.MaxStep.Scaled(scale.PriceScale)),
			Every:     cfg.Sim.Every.Std(),
			Seed:      cfg.Sim.Seed,
			Limit:     cfg.Sim.Limit,
		}
		if out.Sim.BasePrice <= 0 {
			return FeedSpec{}, fmt.Errorf("feed sim base_price must be > 0")
		}
	case FeedWebSocket:
		if cfg.URL == "" {
			return FeedSpec{}, fmt.Errorf("feed url is empty")
		}
		out.WebSocket = feed.WebSocketConfig{
			URL:           cfg.URL,
			ReadTimeout:   cfg.ReadTimeout.Std(),
			ReconnectWait: cfg.ReconnectWait.Std(),
		}
		if cfg.Subscribe != "" {
			if !json.Valid([]byte(cfg.Subscribe)) {
				return FeedSpec{}, fmt.Errorf("feed subscribe is not valid json")
			}
			out.WebSocket.Subscribe = json.RawMessage(cfg.Subscribe)
		}
	case FeedBinance:
		out.Binance = BinanceSpec{URL: cfg.URL, Symbols: cfg.Symbols}
	case FeedReplay:
		if cfg.ReplayDir == "" {
			return FeedSpec{}, fmt.Errorf("feed replay_dir is empty")
		}
		out.Replay = recorder.ReplayConfig{Dir: cfg.ReplayDir, Speed: cfg.ReplaySpeed, AllowTruncatedTail: true}
	default:
		return FeedSpec{}, fmt.Errorf("unknown feed kind: %s", cfg.Kind)
	}
	return out, nil
}

func resolveStrategy(cfg StrategyConfig, scale schema.ScaleSpec) (StrategySpec, error) {
	out := StrategySpec{
		Kind:     strings.ToLower(cfg.Kind),
		Lookback: cfg.Lookback,
		Qty:      schema.Quantity(cfg.Qty.Scaled(scale.QuantityScale)),
	}
	switch out.Kind {
	case "", StrategyHold:
		out.Kind = StrategyHold
	case StrategyBreakout:
		if out.Qty <= 0 {
			return StrategySpec{}, fmt.Errorf("strategy qty must be > 0")
		}
	default:
		return StrategySpec{}, fmt.Errorf("unknown strategy: %s", cfg.Kind)
	}
	return out, nil
}

// NewStrategy builds the selected strategy.
func (s StrategySpec) NewStrategy() engine.Strategy {
	if s.Kind == StrategyBreakout {
		return engine.NewBreakout(s.Lookback, s.Qty)
	}
	return engine.Hold{}
}
