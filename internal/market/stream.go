package market

import (
	"context"
	"log"
	"sync"
	"time"

	binance "flowtrader/pkg/market/binance"
)

// streamKeep bounds the per-symbol candle buffer; enough for any indicator
// lookback plus warmup headroom.
const streamKeep = 600

// StreamFeed serves candles pushed from the websocket kline stream, falling
// back to the REST feed until the buffer is warm. The tick and decision
// loops keep polling a Feed; this implementation just makes the answer come
// from the push stream instead of a REST round trip.
type StreamFeed struct {
	REST   Feed
	Stream *binance.StreamClient

	mu      sync.Mutex
	buffers map[string][]Candle
}

// NewStreamFeed wraps a REST feed with stream-backed delivery.
func NewStreamFeed(rest Feed, stream *binance.StreamClient) *StreamFeed {
	return &StreamFeed{
		REST:    rest,
		Stream:  stream,
		buffers: make(map[string][]Candle),
	}
}

// Start subscribes one kline stream per symbol. Each subscription
// reconnects with a flat backoff until ctx is cancelled.
func (f *StreamFeed) Start(ctx context.Context, symbols []string, interval string) {
	for _, sym := range symbols {
		go f.consume(ctx, sym, interval)
	}
}

func (f *StreamFeed) consume(ctx context.Context, symbol, interval string) {
	for {
		if ctx.Err() != nil {
			return
		}
		ch, stop, err := f.Stream.SubscribeKlines(ctx, symbol, interval)
		if err != nil {
			log.Printf("Stream: subscribe %s failed, retrying: %v", symbol, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		for k := range ch {
			f.ingest(FromKline(k))
		}
		stop()
		log.Printf("Stream: %s kline stream closed, reconnecting", symbol)
	}
}

// ingest appends a closed bar, replacing a bar with the same open time so
// a reconnect replay cannot duplicate it.
func (f *StreamFeed) ingest(c Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := f.buffers[c.Symbol]
	if n := len(buf); n > 0 && buf[n-1].OpenTime.Equal(c.OpenTime) {
		buf[n-1] = c
	} else {
		buf = append(buf, c)
	}
	if len(buf) > streamKeep {
		buf = buf[len(buf)-streamKeep:]
	}
	f.buffers[c.Symbol] = buf
}

// LatestCandles serves from the stream buffer once it holds enough bars;
// before that it falls through to REST and seeds the buffer from the
// response so the switchover point is seamless.
func (f *StreamFeed) LatestCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	f.mu.Lock()
	buf := f.buffers[symbol]
	if len(buf) >= limit && limit > 0 {
		out := make([]Candle, limit)
		copy(out, buf[len(buf)-limit:])
		f.mu.Unlock()
		return out, nil
	}
	f.mu.Unlock()

	candles, err := f.REST.LatestCandles(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	f.seed(symbol, candles)

	// serve the merged buffer so streamed bars win over stale REST copies
	f.mu.Lock()
	defer f.mu.Unlock()
	buf = f.buffers[symbol]
	if limit > 0 && len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	out := make([]Candle, len(buf))
	copy(out, buf)
	return out, nil
}

// seed backfills the buffer with REST history older than anything streamed.
func (f *StreamFeed) seed(symbol string, candles []Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := f.buffers[symbol]
	if len(buf) > 0 {
		// the stream already owns the tail; only prepend strictly older bars
		oldest := buf[0].OpenTime
		var older []Candle
		for _, c := range candles {
			if c.OpenTime.Before(oldest) {
				older = append(older, c)
			}
		}
		buf = append(older, buf...)
	} else {
		buf = append(buf, candles...)
	}
	if len(buf) > streamKeep {
		buf = buf[len(buf)-streamKeep:]
	}
	f.buffers[symbol] = buf
}
