package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"livebridge/internal/schema"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

// WebSocketConfig describes a generic JSON trade stream. Every text message
// that decodes into a RawTick with a symbol is a tick; anything else is ignored.
type WebSocketConfig struct {
	URL           string          `json:"url" yaml:"url"`
	Subscribe     json.RawMessage `json:"subscribe,omitempty" yaml:"-"`
	ReadTimeout   time.Duration   `json:"readTimeout" yaml:"read_timeout"`
	ReconnectWait time.Duration   `json:"reconnectWait" yaml:"reconnect_wait"`
}

// WebSocketSource reads ticks from a websocket, reconnecting after
// ReconnectWait when the connection drops.
type WebSocketSource struct {
	cfg    WebSocketConfig
	norm   *Normalizer
	dialer *websocket.Dialer
}

type emitError struct{ err error }

func (e emitError) Error() string { return e.err.Error() }

func (e emitError) Unwrap() error { return e.err }

// NewWebSocketSource validates cfg.
func NewWebSocketSource(reg *schema.Registry, cfg WebSocketConfig) (*WebSocketSource, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("websocket feed: url is empty")
	}
	return &WebSocketSource{
		cfg:    cfg,
		norm:   NewNormalizer(reg),
		dialer: websocket.DefaultDialer,
	}, nil
}

func (s *WebSocketSource) Run(ctx context.Context, emit func(schema.Tick) error) error {
	for {
		err := s.session(ctx, emit)
		if ctx.Err() != nil {
			return nil
		}
		var ee emitError
		if errors.As(err, &ee) {
			return ee.err
		}
		if s.cfg.ReconnectWait <= 0 {
			return err
		}
		logs.Errorf("websocket feed %s dropped, reconnect in %s, err: %+v", s.cfg.URL, s.cfg.ReconnectWait, err)

		t := time.NewTimer(s.cfg.ReconnectWait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-sys.Shutdown():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (s *WebSocketSource) session(ctx context.Context, emit func(schema.Tick) error) error {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-sys.Shutdown():
		case <-stop:
			return
		}
		_ = conn.Close()
	}()

	if len(s.cfg.Subscribe) > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, s.cfg.Subscribe); err != nil {
			return fmt.Errorf("write subscribe: %w", err)
		}
	}

	for {
		if s.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		var raw RawTick
		if err := json.Unmarshal(data, &raw); err != nil || raw.Symbol == "" {
			continue
		}
		tick, err := s.norm.Normalize(raw)
		if err != nil {
			continue
		}
		if err := emit(tick); err != nil {
			return emitError{err: err}
		}
	}
}
