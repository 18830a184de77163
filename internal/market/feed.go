package market

import (
	"context"
	"fmt"
	"time"

	binance "flowtrader/pkg/market/binance"
)

// Candle is one closed price bar.
type Candle struct {
	Symbol    string
	OpenTime  time.Time
	CloseTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Feed supplies recent candles, most recent last.
type Feed interface {
	LatestCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// BinanceFeed adapts the futures REST client to the Feed interface.
type BinanceFeed struct {
	Client *binance.Client
}

func (f *BinanceFeed) LatestCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	if f.Client == nil {
		return nil, fmt.Errorf("binance feed: client not configured")
	}
	klines, err := f.Client.GetKlines(ctx, symbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("binance feed %s: %w", symbol, err)
	}
	out := make([]Candle, 0, len(klines))
	for _, k := range klines {
		out = append(out, FromKline(k))
	}
	return out, nil
}

// FromKline converts a venue kline into the engine's candle type.
func FromKline(k binance.Kline) Candle {
	return Candle{
		Symbol:    k.Symbol,
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		CloseTime: time.UnixMilli(k.CloseTime).UTC(),
		Open:      k.Open,
		High:      k.High,
		Low:       k.Low,
		Close:     k.Close,
		Volume:    k.Volume,
	}
}
