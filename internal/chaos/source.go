package chaos

import (
	"context"

	"livebridge/internal/feed"
	"livebridge/internal/schema"
)

type source struct {
	src feed.Source
	eng *Engine
}

// Wrap passes every tick of src through eng. Ticks held for reordering are
// delivered when src ends cleanly.
func Wrap(src feed.Source, eng *Engine) feed.Source {
	return &source{src: src, eng: eng}
}

func (s *source) Run(ctx context.Context, emit func(schema.Tick) error) error {
	err := s.src.Run(ctx, func(t schema.Tick) error {
		for _, out := range s.eng.Process(t) {
			if err := emit(out); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, out := range s.eng.Flush() {
		if err := emit(out); err != nil {
			return err
		}
	}
	return nil
}
