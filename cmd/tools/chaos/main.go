package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"livebridge/internal/chaos"
	"livebridge/internal/recorder"
	"livebridge/internal/schema"

	"github.com/yanun0323/logs"
)

func main() {
	inputDir := flag.String("input-dir", "testdata/wal", "Input WAL directory")
	inputPrefix := flag.String("input-prefix", "", "Input WAL file prefix (default: wal)")
	outputDir := flag.String("output-dir", "testdata/wal_chaos", "Output WAL directory")
	outputPrefix := flag.String("output-prefix", "chaos", "Output WAL file prefix")
	seed := flag.Int64("seed", 0, "RNG seed (0=now)")
	dropRate := flag.Float64("drop-rate", 0, "Drop probability [0-1]")
	dupRate := flag.Float64("dup-rate", 0, "Duplicate probability [0-1]")
	reorderWindow := flag.Int("reorder-window", 1, "Reorder window (>=1)")
	maxDelay := flag.Duration("max-delay", 0, "Max event time skew")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	flag.Parse()

	if err := run(*inputDir, *inputPrefix, *outputDir, *outputPrefix, *noChecksum, chaos.Config{
		Seed:          *seed,
		DropRate:      *dropRate,
		DuplicateRate: *dupRate,
		ReorderWindow: *reorderWindow,
		MaxDelay:      *maxDelay,
	}); err != nil {
		logs.Errorf("chaos: %+v", err)
		os.Exit(1)
	}
}

// run rewrites the ticks of a WAL through the chaos engine. Other records are
// copied unchanged.
func run(inputDir, inputPrefix, outputDir, outputPrefix string, noChecksum bool, cfg chaos.Config) error {
	rp, err := recorder.NewReplayer(recorder.ReplayConfig{
		Dir:                inputDir,
		FilePrefix:         inputPrefix,
		SkipChecksum:       noChecksum,
		AllowTruncatedTail: true,
	})
	if err != nil {
		return err
	}
	engine, err := chaos.NewEngine(cfg)
	if err != nil {
		return err
	}

	outCfg := recorder.DefaultConfig(outputDir)
	outCfg.FilePrefix = outputPrefix
	writer, err := recorder.NewWriter(outCfg)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := writer.Start(ctx); err != nil {
		return err
	}

	var in, out int
	err = rp.Run(ctx, func(rec recorder.Record) error {
		in++
		tick, ok := rec.Value.(schema.Tick)
		if !ok {
			out++
			return appendRecord(writer, rec.Value, rec.Header.TsEvent)
		}
		for _, t := range engine.Process(tick) {
			out++
			if err := appendRecord(writer, t, t.TsEvent); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		for _, t := range engine.Flush() {
			out++
			if err = appendRecord(writer, t, t.TsEvent); err != nil {
				break
			}
		}
	}
	if closeErr := writer.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	logs.Infof("chaos completed: in=%d out=%d output=%s", in, out, outputDir)
	return nil
}

func appendRecord(writer *recorder.Writer, v any, ts int64) error {
	for {
		err := writer.Append(v, ts)
		if !errors.Is(err, recorder.ErrQueueFull) {
			return err
		}
		time.Sleep(time.Millisecond)
	}
}
