package portfolio

import (
	"context"
	"fmt"

	"livebridge/internal/recorder"
	"livebridge/internal/schema"
)

// RecoverConfig controls checkpoint + WAL recovery.
type RecoverConfig struct {
	WALDir             string
	FilePrefix         string
	CheckpointPath     string
	InitialCash        schema.Notional
	AllowTruncatedTail bool
}

// RecoverResult contains the rebuilt portfolio and replay metadata.
type RecoverResult struct {
	Portfolio *Portfolio
	LastSeq   uint64
	Applied   int
	Skipped   int
}

// Recover loads an optional checkpoint and replays the fills recorded after it.
// Fill IDs make the replay idempotent, so overlapping segments are harmless.
func Recover(ctx context.Context, cfg RecoverConfig) (RecoverResult, error) {
	if cfg.WALDir == "" {
		return RecoverResult{}, fmt.Errorf("wal dir is empty")
	}
	res := RecoverResult{Portfolio: New(cfg.InitialCash)}
	if cfg.CheckpointPath != "" {
		cp, err := ReadCheckpoint(cfg.CheckpointPath)
		if err != nil {
			return RecoverResult{}, err
		}
		res.Portfolio = Restore(cp)
		res.LastSeq = cp.LastSeq
	}

	rp, err := recorder.NewReplayer(recorder.ReplayConfig{
		Dir:                cfg.WALDir,
		FilePrefix:         cfg.FilePrefix,
		AllowTruncatedTail: cfg.AllowTruncatedTail,
	})
	if err != nil {
		return RecoverResult{}, err
	}
	err = rp.Run(ctx, func(rec recorder.Record) error {
		if rec.Header.Seq > res.LastSeq {
			res.LastSeq = rec.Header.Seq
		}
		fill, ok := rec.Value.(schema.Fill)
		if !ok {
			return nil
		}
		applied, err := res.Portfolio.ApplyFill(fill)
		if err != nil {
			return err
		}
		if applied {
			res.Applied++
		} else {
			res.Skipped++
		}
		return nil
	})
	if err != nil {
		return RecoverResult{}, err
	}
	return res, nil
}
