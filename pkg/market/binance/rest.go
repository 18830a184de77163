package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"flowtrader/pkg/exchange"
)

const usedWeightHeader = "X-Mbx-Used-Weight-1m"

// Client wraps REST access to the Binance USD-M futures market data API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Limiter    *exchange.RateLimiter
}

// NewClient builds a futures REST client; testnet toggles the base URL.
func NewClient(testnet bool) *Client {
	base := "https://fapi.binance.com"
	if testnet {
		base = "https://testnet.binancefuture.com"
	}
	return &Client{
		BaseURL:    base,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Limiter:    exchange.NewRateLimiter(2400, time.Minute),
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return exchange.MarkRetryable(err)
	}
	defer res.Body.Close()

	if c.Limiter != nil {
		c.Limiter.UpdateFromHeader(res.Header.Get(usedWeightHeader))
	}
	if res.StatusCode != http.StatusOK {
		err := fmt.Errorf("binance %s status %d", path, res.StatusCode)
		if res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests {
			return exchange.MarkRetryable(err)
		}
		return err
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// GetKlines fetches the most recent closed klines, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var raw [][]any
	if err := c.get(ctx, "/fapi/v1/klines", params, &raw); err != nil {
		return nil, err
	}

	klines := make([]Kline, 0, len(raw))
	for _, item := range raw {
		if len(item) < 9 {
			continue
		}
		klines = append(klines, Kline{
			Symbol:    symbol,
			OpenTime:  toInt64(item[0]),
			Open:      toFloat(item[1]),
			High:      toFloat(item[2]),
			Low:       toFloat(item[3]),
			Close:     toFloat(item[4]),
			Volume:    toFloat(item[5]),
			CloseTime: toInt64(item[6]),
			Trades:    int(toInt64(item[8])),
		})
	}
	return klines, nil
}

// ExchangeInfo fetches per-contract precision metadata.
func (c *Client) ExchangeInfo(ctx context.Context) ([]SymbolInfo, error) {
	var raw struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			QuantityPrecision int    `json:"quantityPrecision"`
			PricePrecision    int    `json:"pricePrecision"`
		} `json:"symbols"`
	}
	if err := c.get(ctx, "/fapi/v1/exchangeInfo", nil, &raw); err != nil {
		return nil, err
	}

	out := make([]SymbolInfo, 0, len(raw.Symbols))
	for _, s := range raw.Symbols {
		out = append(out, SymbolInfo{
			Symbol:         s.Symbol,
			QtyPrecision:   s.QuantityPrecision,
			PricePrecision: s.PricePrecision,
		})
	}
	return out, nil
}

// ServerTime fetches the venue clock in milliseconds.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	var raw struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.get(ctx, "/fapi/v1/time", nil, &raw); err != nil {
		return 0, err
	}
	return raw.ServerTime, nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case float64:
		return t
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		i, _ := strconv.ParseInt(t, 10, 64)
		return i
	case json.Number:
		i, _ := t.Int64()
		return i
	default:
		return 0
	}
}
