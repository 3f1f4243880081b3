package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"livebridge/internal/ops"
	"livebridge/internal/portfolio"
	"livebridge/internal/recorder"
	"livebridge/internal/schema"

	"github.com/yanun0323/logs"
)

func main() {
	dir := flag.String("dir", "testdata/wal", "WAL directory")
	prefix := flag.String("prefix", "", "WAL file prefix (default: wal)")
	speed := flag.Float64("speed", 0, "Playback speed (1=real-time, 0=no pacing)")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	quiet := flag.Bool("quiet", false, "Only print the summary")
	configPath := flag.String("config", "", "Config file used to print symbol names")
	checkpoint := flag.String("checkpoint", "", "Verify the rebuilt portfolio against this checkpoint")
	cash := flag.Int64("initial-cash", 0, "Scaled initial cash used to rebuild the portfolio")
	flag.Parse()

	var reg *schema.Registry
	if *configPath != "" {
		r, err := ops.LoadRegistry(*configPath)
		if err != nil {
			logs.Errorf("load registry: %+v", err)
			os.Exit(1)
		}
		reg = r
	}

	rp, err := recorder.NewReplayer(recorder.ReplayConfig{
		Dir:                *dir,
		FilePrefix:         *prefix,
		Speed:              *speed,
		SkipChecksum:       *noChecksum,
		AllowTruncatedTail: true,
	})
	if err != nil {
		logs.Errorf("replay init: %+v", err)
		os.Exit(1)
	}

	pf := portfolio.New(schema.Notional(*cash))
	counts := make(map[schema.EventType]int)
	var total, duplicates int
	var lastSeq uint64
	err = rp.Run(context.Background(), func(rec recorder.Record) error {
		total++
		counts[rec.Header.Type]++
		if rec.Header.Seq > lastSeq {
			lastSeq = rec.Header.Seq
		}
		if !*quiet {
			fmt.Printf("%06d seq=%d type=%s ts_event=%d %s\n", total, rec.Header.Seq, rec.Header.Type, rec.Header.TsEvent, describe(reg, rec.Value))
		}
		if fill, ok := rec.Value.(schema.Fill); ok {
			applied, err := pf.ApplyFill(fill)
			if err != nil {
				return err
			}
			if !applied {
				duplicates++
			}
		}
		return nil
	})
	if err != nil {
		logs.Errorf("replay run: %+v", err)
		os.Exit(1)
	}

	snap := pf.Snapshot()
	logs.Infof("replay completed: total=%d counts=%v fills=%d duplicate_fills=%d cash=%d realized=%d",
		total, counts, snap.FillCount, duplicates, snap.Cash, snap.Realized)

	if *checkpoint != "" {
		expected, err := portfolio.ReadCheckpoint(*checkpoint)
		if err != nil {
			logs.Errorf("read checkpoint: %+v", err)
			os.Exit(1)
		}
		if err := portfolio.CompareCheckpoints(expected, pf.Checkpoint(lastSeq)); err != nil {
			logs.Errorf("checkpoint verify: %+v", err)
			os.Exit(1)
		}
		logs.Infof("checkpoint verified: positions=%d", len(snap.Positions))
	}
}

func symbolName(reg *schema.Registry, id schema.SymbolID) string {
	if reg == nil {
		return fmt.Sprintf("#%d", id)
	}
	return reg.SymbolName(id)
}

func describe(reg *schema.Registry, v any) string {
	switch ev := v.(type) {
	case schema.Tick:
		return fmt.Sprintf("symbol=%s price=%d size=%d", symbolName(reg, ev.SymbolID), ev.Price, ev.Size)
	case schema.Bar:
		return fmt.Sprintf("symbol=%s ohlc=%d/%d/%d/%d volume=%d trades=%d start=%d final=%t",
			symbolName(reg, ev.SymbolID), ev.Open, ev.High, ev.Low, ev.Close, ev.Volume, ev.Trades, ev.Start, ev.Final)
	case schema.OrderIntent:
		return fmt.Sprintf("order=%d symbol=%s side=%s type=%d tif=%d price=%d qty=%d",
			ev.OrderID, symbolName(reg, ev.SymbolID), ev.Side, ev.Type, ev.TimeInForce, ev.Price, ev.Qty)
	case schema.RiskDecision:
		return fmt.Sprintf("order=%d symbol=%s action=%d reason=%s pos=%d->%d notional=%d loss=%d",
			ev.OrderID, symbolName(reg, ev.SymbolID), ev.Action, ev.Reason, ev.CurrentPos, ev.ProjectedPos,
			ev.ProjectedNotional, ev.ProjectedLoss)
	case schema.OrderAck:
		return fmt.Sprintf("order=%d symbol=%s status=%d reason=%d price=%d qty=%d leaves=%d",
			ev.OrderID, symbolName(reg, ev.SymbolID), ev.Status, ev.Reason, ev.Price, ev.Qty, ev.LeavesQty)
	case schema.Fill:
		return fmt.Sprintf("fill=%d order=%d symbol=%s side=%s price=%d qty=%d fee=%d",
			ev.FillID, ev.OrderID, symbolName(reg, ev.SymbolID), ev.Side, ev.Price, ev.Qty, ev.Fee)
	case schema.DriftRecord:
		return fmt.Sprintf("symbol=%s virtual=%d broker=%d", symbolName(reg, ev.SymbolID), ev.Virtual, ev.Broker)
	default:
		return fmt.Sprintf("%T", v)
	}
}
