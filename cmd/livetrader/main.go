package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livebridge/internal/broker"
	"livebridge/internal/broker/paper"
	"livebridge/internal/chaos"
	"livebridge/internal/engine"
	"livebridge/internal/feed"
	"livebridge/internal/journal"
	"livebridge/internal/obs"
	"livebridge/internal/og"
	"livebridge/internal/ops"
	"livebridge/internal/portfolio"
	"livebridge/internal/recorder"
	"livebridge/internal/risk"
	"livebridge/internal/safety"
	"livebridge/internal/schema"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

const (
	metricsNamespace = "livebridge"
	shutdownTimeout  = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("livetrader: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "livetrader.yaml", "Path to the YAML or JSON config")
	envFile := flag.String("env", ".env", "Optional dotenv file expanded into the config")
	recoverBook := flag.Bool("recover", false, "Rebuild the portfolio from checkpoint + WAL, or from the journal")
	profileAddr := flag.String("pyroscope", "", "Pyroscope server address (empty disables profiling)")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	cfg, err := ops.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *profileAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "livebridge.livetrader",
			ServerAddress:   *profileAddr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	var store *journal.Store
	storeDone := make(chan struct{})
	if cfg.Journal.DSN != "" {
		store, err = journal.Open(journal.Option{ConnString: cfg.Journal.DSN, QueueSize: cfg.Journal.QueueSize})
		if err != nil {
			return err
		}
		defer func() {
			_ = store.CloseDB()
		}()
		go func() {
			defer close(storeDone)
			store.Run(context.Background())
		}()
	} else {
		close(storeDone)
	}

	pf, lastSeq, err := loadPortfolio(ctx, cfg, *recoverBook, store)
	if err != nil {
		return err
	}

	riskState, err := risk.NewState(cfg.Risk)
	if err != nil {
		return err
	}
	pb, err := paper.New(cfg.Paper)
	if err != nil {
		return err
	}
	defer pb.Close()

	book := pf.Snapshot()
	held := make(map[schema.SymbolID]schema.Quantity, len(book.Positions))
	for _, pos := range book.Positions {
		riskState.SetPosition(pos.SymbolID, pos.Qty)
		held[pos.SymbolID] = pos.Qty
	}
	if *recoverBook {
		pb.Seed(book.Cash, held)
	}

	var writer *recorder.Writer
	if cfg.Recorder != nil {
		writer, err = recorder.NewWriter(*cfg.Recorder)
		if err != nil {
			return err
		}
		if err := writer.Start(context.Background()); err != nil {
			return err
		}
	}

	metrics := obs.NewMetrics()
	var sinks safety.Journals
	if writer != nil {
		sinks = append(sinks, writer)
	}
	if store != nil {
		sinks = append(sinks, store)
	}
	sink := engine.ObservedJournal(metrics, sinks)

	serialized := broker.NewSerialized(pb, cfg.BrokerTimeout)
	safe, err := safety.New(cfg.Safety, safety.Deps{
		Broker:    serialized,
		Risk:      riskState,
		Portfolio: pf,
		Orders:    og.NewTracker(),
		Metrics:   metrics,
		Journal:   sink,
	})
	if err != nil {
		return err
	}

	agg, err := feed.NewAggregator(cfg.Feed.Aggregate, metrics)
	if err != nil {
		return err
	}
	src, err := newSource(cfg)
	if err != nil {
		return err
	}
	if cfg.Feed.Chaos.Enabled() {
		ce, err := chaos.NewEngine(cfg.Feed.Chaos)
		if err != nil {
			return err
		}
		src = chaos.Wrap(src, ce)
		logs.Infof("feed chaos enabled: %+v", cfg.Feed.Chaos)
	}
	src = feed.Tap(src, func(t schema.Tick) {
		pb.SetMark(t.SymbolID, t.Price, t.TsEvent)
	})

	eng, err := engine.New(cfg.Engine, engine.Deps{
		Safe:       safe,
		Broker:     serialized,
		Risk:       riskState,
		Portfolio:  pf,
		Aggregator: agg,
		Source:     src,
		Strategy:   cfg.Strategy.NewStrategy(),
		IDs:        og.NewIDGenerator(uint64(time.Now().UnixNano())),
		Metrics:    metrics,
		Journal:    sink,
	})
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg, metrics, pf, safe, pb)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}
	if cfg.Checkpoint.Path != "" && cfg.Checkpoint.Every > 0 {
		go checkpointLoop(ctx, cfg.Checkpoint, pf, lastSeq)
	}

	logs.Infof("livetrader starting: feed=%s strategy=%s symbols=%d cash=%d",
		cfg.Feed.Kind, cfg.Strategy.Kind, cfg.Registry.SymbolCount(), book.Cash)
	runErr := eng.Run(ctx)

	if writer != nil {
		if err := writer.Close(); err != nil {
			logs.Errorf("wal close: %+v", err)
		}
		if n := writer.Dropped(); n > 0 {
			logs.Errorf("wal dropped %d records", n)
		}
	}
	if store != nil {
		store.Close()
		select {
		case <-storeDone:
		case <-time.After(shutdownTimeout):
			logs.Errorf("journal drain timed out: pending=%d", store.Pending())
		}
	}
	if cfg.Checkpoint.Path != "" {
		if err := portfolio.WriteCheckpoint(cfg.Checkpoint.Path, pf.Checkpoint(lastSeq)); err != nil {
			logs.Errorf("final checkpoint: %+v", err)
		}
	}

	final := pf.Snapshot()
	snap := metrics.Snapshot()
	logs.Infof("livetrader stopped: state=%s equity=%d realized=%d fees=%d fills=%d approved=%d rejects=%v broker_errors=%v drift=%d",
		eng.State(), final.Equity, final.Realized, final.Fees, snap.FillsApplied, snap.OrdersApproved,
		snap.RiskReasonCounts, snap.BrokerErrors, snap.DriftDetected)
	return runErr
}

func loadPortfolio(ctx context.Context, cfg ops.Loaded, recoverBook bool, store *journal.Store) (*portfolio.Portfolio, uint64, error) {
	if !recoverBook {
		return portfolio.New(cfg.Paper.InitialCash), 0, nil
	}
	if cfg.Recorder != nil {
		rc := portfolio.RecoverConfig{
			WALDir:             cfg.Recorder.Dir,
			FilePrefix:         cfg.Recorder.FilePrefix,
			InitialCash:        cfg.Paper.InitialCash,
			AllowTruncatedTail: true,
		}
		if cfg.Checkpoint.Path != "" {
			if _, err := os.Stat(cfg.Checkpoint.Path); err == nil {
				rc.CheckpointPath = cfg.Checkpoint.Path
			}
		}
		res, err := portfolio.Recover(ctx, rc)
		if err != nil {
			return nil, 0, err
		}
		logs.Infof("recovered from wal: applied=%d skipped=%d last_seq=%d", res.Applied, res.Skipped, res.LastSeq)
		return res.Portfolio, res.LastSeq, nil
	}
	if store != nil {
		fills, err := store.LoadFills(ctx)
		if err != nil {
			return nil, 0, err
		}
		pf := portfolio.New(cfg.Paper.InitialCash)
		for _, f := range fills {
			if _, err := pf.ApplyFill(f); err != nil {
				return nil, 0, err
			}
		}
		logs.Infof("recovered from journal: fills=%d", len(fills))
		return pf, 0, nil
	}
	return nil, 0, errors.New("recover needs a recorder dir or a journal dsn")
}

func newSource(cfg ops.Loaded) (feed.Source, error) {
	switch cfg.Feed.Kind {
	case ops.FeedWebSocket:
		return feed.NewWebSocketSource(cfg.Registry, cfg.Feed.WebSocket)
	case ops.FeedBinance:
		return feed.NewBinanceSource(cfg.Registry, cfg.Feed.Binance.URL, cfg.Feed.Binance.Symbols)
	case ops.FeedReplay:
		return feed.NewReplaySource(cfg.Feed.Replay)
	default:
		return feed.NewSimSource(cfg.Registry, cfg.Feed.Sim)
	}
}

func serveMetrics(cfg ops.Loaded, metrics *obs.Metrics, pf *portfolio.Portfolio, safe *safety.SafeBroker, pb *paper.Broker) *http.Server {
	scale := int32(cfg.Scale.NotionalScale())
	human := func(v schema.Notional) float64 {
		return decimal.New(int64(v), -scale).InexactFloat64()
	}
	gauges := func() map[string]float64 {
		snap := pf.Snapshot()
		return map[string]float64{
			"equity":         human(snap.Equity),
			"cash":           human(snap.Cash),
			"realized_pnl":   human(snap.Realized),
			"unrealized_pnl": human(snap.Unrealized),
			"fees":           human(snap.Fees),
			"open_orders":    float64(len(safe.Orders().Open())),
			"resting_orders": float64(pb.Resting()),
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(obs.NewCollector(metricsNamespace, metrics, gauges))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Errorf("metrics server: %+v", err)
		}
	}()
	logs.Infof("metrics listening: %s", cfg.MetricsAddr)
	return srv
}

func checkpointLoop(ctx context.Context, cfg ops.CheckpointConfig, pf *portfolio.Portfolio, lastSeq uint64) {
	ticker := time.NewTicker(cfg.Every.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := portfolio.WriteCheckpoint(cfg.Path, pf.Checkpoint(lastSeq)); err != nil {
				logs.Errorf("checkpoint: %+v", err)
			}
		}
	}
}
