package market

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// MockFeed produces a seeded random-walk candle series for local
// development and dry runs. The same seed yields the same series.
type MockFeed struct {
	StartPrice float64
	Step       float64
	Seed       int64

	mu     sync.Mutex
	states map[string]*walkState
}

type walkState struct {
	rng   *rand.Rand
	price float64
}

func (m *MockFeed) state(symbol string) *walkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states == nil {
		m.states = make(map[string]*walkState)
	}
	st, ok := m.states[symbol]
	if !ok {
		seed := m.Seed
		for _, c := range symbol {
			seed = seed*31 + int64(c)
		}
		price := m.StartPrice
		if price == 0 {
			price = 100
		}
		st = &walkState{rng: rand.New(rand.NewSource(seed)), price: price}
		m.states[symbol] = st
	}
	return st
}

func (m *MockFeed) LatestCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = 1
	}
	step := m.Step
	if step == 0 {
		step = 0.5
	}
	dur := intervalDuration(interval)

	st := m.state(symbol)
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC().Truncate(dur)
	out := make([]Candle, 0, limit)
	for i := 0; i < limit; i++ {
		open := st.price
		st.price += (st.rng.Float64()*2 - 1) * step
		if st.price <= 0 {
			st.price = open
		}
		high := open
		low := open
		if st.price > high {
			high = st.price
		}
		if st.price < low {
			low = st.price
		}
		openTime := now.Add(time.Duration(i-limit) * dur)
		out = append(out, Candle{
			Symbol:    symbol,
			OpenTime:  openTime,
			CloseTime: openTime.Add(dur),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     st.price,
			Volume:    st.rng.Float64() * 100,
		})
	}
	return out, nil
}

func intervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return 5 * time.Minute
	}
}
