package feed

import (
	"context"
	"fmt"
	"strings"

	"livebridge/internal/schema"
	"livebridge/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"
)

const BinanceStreamURL = "wss://stream.binance.com:9443/ws"

// BinanceSource reads the public trade stream of the given symbols.
type BinanceSource struct {
	url     string
	symbols []string
	norm    *Normalizer
}

// NewBinanceSource subscribes every symbol of the registry when symbols is empty.
func NewBinanceSource(reg *schema.Registry, url string, symbols []string) (*BinanceSource, error) {
	if reg == nil {
		return nil, exception.ErrNilInstance
	}
	if url == "" {
		url = BinanceStreamURL
	}
	if len(symbols) == 0 {
		for _, s := range reg.Symbols() {
			symbols = append(symbols, s.Name)
		}
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("binance feed: no symbols")
	}
	return &BinanceSource{url: url, symbols: symbols, norm: NewNormalizer(reg)}, nil
}

type binanceSubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type binanceSubscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

type binanceTrade struct {
	EventType string          `json:"e"`
	EventTime int64           `json:"E"`
	Symbol    string          `json:"s"`
	TradeID   int64           `json:"t"`
	Price     decimal.Decimal `json:"p"`
	Quantity  decimal.Decimal `json:"q"`
	TradeTime int64           `json:"T"` // milliseconds
}

func (t binanceTrade) raw() RawTick {
	return RawTick{
		Symbol:  t.Symbol,
		Price:   t.Price,
		Size:    t.Quantity,
		TsEvent: t.TradeTime * 1_000_000,
	}
}

func (s *BinanceSource) Run(ctx context.Context, emit func(schema.Tick) error) error {
	wss := ws.New(ctx, s.url)
	defer wss.Close()
	if err := wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}

	ch, cancel := wss.Subscribe()
	defer cancel()
	if err := s.subscribe(ctx, wss); err != nil {
		return err
	}

	for {
		select {
		case <-sys.Shutdown():
			return nil
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return fmt.Errorf("binance trade stream: %w", exception.ErrFeedClosed)
			}
			trade, ok := ws.ReadMessage[binanceTrade](m)
			if !ok || trade.EventType != "trade" {
				continue
			}
			tick, err := s.norm.Normalize(trade.raw())
			if err != nil {
				continue
			}
			if err := emit(tick); err != nil {
				return err
			}
		}
	}
}

func (s *BinanceSource) subscribe(ctx context.Context, wss *ws.WebSocket) error {
	params := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		params = append(params, fmt.Sprintf("%s@trade", strings.ToLower(sym)))
	}

	appendIntoRegister := true
	if err := wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, ws *ws.WebSocket) error {
			payload := binanceSubscribeRequest{Method: "SUBSCRIBE", Params: params, ID: 1}
			if err := ws.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp binanceSubscribeResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != 1 {
				return false, nil
			}
			if resp.Result != nil {
				return false, errors.Errorf("subscribe and wait, err: %+v", resp.Result)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}
	return nil
}
