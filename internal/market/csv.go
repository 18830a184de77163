package market

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"
)

// CSVFeed serves candles loaded from a file, used by backtests. Candles are
// held sorted by open time.
type CSVFeed struct {
	candles map[string][]Candle
}

// LoadCandlesCSV reads a candle file with the layout
// "timestamp_ms,open,high,low,close,volume" plus a header row. All rows
// belong to symbol.
func LoadCandlesCSV(path, symbol string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candle csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read candle csv %s: %w", path, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("candle csv %s: no data rows", path)
	}

	out := make([]Candle, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) < 6 {
			return nil, fmt.Errorf("candle csv %s row %d: %d columns, need 6", path, i+2, len(row))
		}
		ms, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("candle csv %s row %d: timestamp %q: %w", path, i+2, row[0], err)
		}
		vals := make([]float64, 5)
		for j := 1; j <= 5; j++ {
			v, err := strconv.ParseFloat(row[j], 64)
			if err != nil {
				return nil, fmt.Errorf("candle csv %s row %d col %d: %w", path, i+2, j, err)
			}
			vals[j-1] = v
		}
		open := time.UnixMilli(ms).UTC()
		out = append(out, Candle{
			Symbol:   symbol,
			OpenTime: open,
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out, nil
}

// NewCSVFeed builds a feed over preloaded candle sets.
func NewCSVFeed() *CSVFeed {
	return &CSVFeed{candles: make(map[string][]Candle)}
}

// Add registers candles for a symbol, keeping open-time order.
func (f *CSVFeed) Add(symbol string, candles []Candle) {
	merged := append(f.candles[symbol], candles...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].OpenTime.Before(merged[j].OpenTime) })
	f.candles[symbol] = merged
}

// Candles returns the full ordered series for symbol.
func (f *CSVFeed) Candles(symbol string) []Candle {
	return f.candles[symbol]
}

// LatestCandles returns up to limit of the most recent candles, oldest
// first.
func (f *CSVFeed) LatestCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	all := f.candles[symbol]
	if len(all) == 0 {
		return nil, fmt.Errorf("csv feed: no candles for %s", symbol)
	}
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]Candle, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}
