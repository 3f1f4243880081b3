package feed

import (
	"context"

	"livebridge/internal/recorder"
	"livebridge/internal/schema"
)

// ReplaySource emits the ticks recorded in a WAL directory, skipping every
// other event type.
type ReplaySource struct {
	replayer *recorder.Replayer
}

// NewReplaySource opens a replayer over cfg.
func NewReplaySource(cfg recorder.ReplayConfig) (*ReplaySource, error) {
	r, err := recorder.NewReplayer(cfg)
	if err != nil {
		return nil, err
	}
	return &ReplaySource{replayer: r}, nil
}

// WithClock swaps the pacing clock.
func (s *ReplaySource) WithClock(clock recorder.Clock) *ReplaySource {
	s.replayer.WithClock(clock)
	return s
}

func (s *ReplaySource) Run(ctx context.Context, emit func(schema.Tick) error) error {
	return s.replayer.Run(ctx, func(rec recorder.Record) error {
		tick, ok := rec.Value.(schema.Tick)
		if !ok {
			return nil
		}
		return emit(tick)
	})
}
