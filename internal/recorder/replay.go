package recorder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"livebridge/internal/codec"
	"livebridge/internal/schema"
)

// Record is a decoded WAL event.
type Record struct {
	Header schema.EventHeader
	Value  any
}

// ReplayConfig controls WAL replay.
type ReplayConfig struct {
	Dir          string
	FilePrefix   string
	Speed        float64
	SkipChecksum bool
	// AllowTruncatedTail tolerates a partially written final record, as left
	// behind by a crash.
	AllowTruncatedTail bool
}

// Clock allows deterministic pacing in tests.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Replayer reads every segment of a directory in name order.
type Replayer struct {
	cfg   ReplayConfig
	clock Clock
}

// NewReplayer validates cfg.
func NewReplayer(cfg ReplayConfig) (*Replayer, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("invalid replay config: dir is empty")
	}
	if cfg.Speed < 0 {
		return nil, fmt.Errorf("invalid replay config: speed must be >= 0")
	}
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = defaultFilePrefix
	}
	return &Replayer{cfg: cfg, clock: realClock{}}, nil
}

// WithClock swaps the clock used for pacing.
func (p *Replayer) WithClock(clock Clock) *Replayer {
	if clock != nil {
		p.clock = clock
	}
	return p
}

// Segments lists the segment files that Run will read.
func (p *Replayer) Segments() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.Dir)
	if err != nil {
		return nil, err
	}
	prefix := p.cfg.FilePrefix + "-"
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		files = append(files, filepath.Join(p.cfg.Dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// Run decodes every record and passes it to fn. With Speed > 0 records are
// paced by their event timestamps divided by Speed.
func (p *Replayer) Run(ctx context.Context, fn func(Record) error) error {
	files, err := p.Segments()
	if err != nil {
		return err
	}
	var prev int64
	for i, path := range files {
		last := i == len(files)-1
		if err := p.replayFile(ctx, path, last, &prev, fn); err != nil {
			return err
		}
	}
	return nil
}

func (p *Replayer) replayFile(ctx context.Context, path string, last bool, prev *int64, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := NewReader(f, p.cfg.SkipChecksum)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		h, payload, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err == io.ErrUnexpectedEOF && last && p.cfg.AllowTruncatedTail {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		v, err := codec.Decode(h.Type, payload)
		if err != nil {
			return fmt.Errorf("decode %s seq=%d: %w", filepath.Base(path), h.Seq, err)
		}
		if err := p.pace(ctx, h.TsEvent, prev); err != nil {
			return err
		}
		if err := fn(Record{Header: h, Value: v}); err != nil {
			return err
		}
	}
}

func (p *Replayer) pace(ctx context.Context, ts int64, prev *int64) error {
	if p.cfg.Speed <= 0 || ts <= 0 {
		return nil
	}
	if *prev > 0 && ts > *prev {
		if err := p.clock.Sleep(ctx, time.Duration(float64(ts-*prev)/p.cfg.Speed)); err != nil {
			return err
		}
	}
	*prev = ts
	return nil
}
