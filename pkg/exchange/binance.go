package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	binanceFuturesURL        = "https://fapi.binance.com"
	binanceFuturesTestnetURL = "https://testnet.binancefuture.com"
)

// BinanceConfig holds credentials and connection settings for the USD-M
// futures venue.
type BinanceConfig struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64  // ms, defaults to 5000
	BaseURL    string // overrides the venue URL, used in tests
}

// BinanceGateway routes orders to Binance USD-M futures over signed REST.
// Instrument metadata is supplied at construction; the venue is never asked
// for it because precision and fallback prices come from strategy config.
type BinanceGateway struct {
	cfg        BinanceConfig
	baseURL    string
	httpClient *http.Client
	limiter    *RateLimiter

	instruments map[string]InstrumentMeta

	mu         sync.Mutex
	timeOffset int64          // serverTime - localTime, ms
	leverages  map[string]int // last leverage set per symbol
}

// NewBinanceGateway creates a gateway. Returns ErrConfiguration when
// credentials are missing.
func NewBinanceGateway(cfg BinanceConfig, instruments []InstrumentMeta) (*BinanceGateway, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("%w: binance API key/secret required", ErrConfiguration)
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5000
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = binanceFuturesURL
		if cfg.Testnet {
			baseURL = binanceFuturesTestnetURL
		}
	}
	im := make(map[string]InstrumentMeta, len(instruments))
	for _, m := range instruments {
		im[m.Symbol] = m
	}
	return &BinanceGateway{
		cfg:         cfg,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		limiter:     NewRateLimiter(2400, time.Minute),
		instruments: im,
		leverages:   make(map[string]int),
	}, nil
}

// Instrument implements InstrumentSource over the configured metadata.
func (g *BinanceGateway) Instrument(symbol string) (InstrumentMeta, error) {
	m, ok := g.instruments[symbol]
	if !ok {
		return InstrumentMeta{}, fmt.Errorf("%w: unknown symbol %s", ErrConfiguration, symbol)
	}
	return m, nil
}

// SyncTime aligns request timestamps with the venue clock. Call once at
// startup; a drifted clock makes every signed request fail with -1021.
func (g *BinanceGateway) SyncTime(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/fapi/v1/time", nil)
	if err != nil {
		return err
	}
	res, err := g.httpClient.Do(req)
	if err != nil {
		return MarkRetryable(err)
	}
	defer res.Body.Close()
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode server time: %w", err)
	}
	g.mu.Lock()
	g.timeOffset = out.ServerTime - time.Now().UnixMilli()
	g.mu.Unlock()
	return nil
}

func (g *BinanceGateway) now() int64 {
	g.mu.Lock()
	off := g.timeOffset
	g.mu.Unlock()
	return time.Now().UnixMilli() + off
}

// AccountState fetches the futures account snapshot.
func (g *BinanceGateway) AccountState(ctx context.Context) (AccountState, error) {
	body, err := g.doSigned(ctx, http.MethodGet, "/fapi/v2/account", url.Values{})
	if err != nil {
		return AccountState{}, err
	}
	var out struct {
		TotalWalletBalance    string `json:"totalWalletBalance"`
		AvailableBalance      string `json:"availableBalance"`
		TotalUnrealizedProfit string `json:"totalUnrealizedProfit"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return AccountState{}, fmt.Errorf("decode account: %w", err)
	}
	return AccountState{
		TotalBalance:     parseFloat(out.TotalWalletBalance),
		AvailableBalance: parseFloat(out.AvailableBalance),
		UnrealizedPnL:    parseFloat(out.TotalUnrealizedProfit),
	}, nil
}

// OpenPositions returns non-flat venue positions.
func (g *BinanceGateway) OpenPositions(ctx context.Context) ([]PositionRecord, error) {
	body, err := g.doSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", url.Values{})
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
		EntryPrice  string `json:"entryPrice"`
		Leverage    string `json:"leverage"`
		MarkPrice   string `json:"markPrice"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	var out []PositionRecord
	for _, p := range raw {
		qty := parseFloat(p.PositionAmt)
		if qty == 0 {
			continue
		}
		out = append(out, PositionRecord{
			Symbol:     p.Symbol,
			Qty:        qty,
			EntryPrice: parseFloat(p.EntryPrice),
			Leverage:   parseFloat(p.Leverage),
			MarkPrice:  parseFloat(p.MarkPrice),
		})
	}
	return out, nil
}

// PlaceOrder submits an entry or close order. Leverage is set lazily per
// symbol before the first order that names it.
func (g *BinanceGateway) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	if req.Leverage > 0 {
		if err := g.ensureLeverage(ctx, req.Symbol, req.Leverage); err != nil {
			return "", err
		}
	}
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", formatFloat(req.Qty))
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if req.Type == OrderTypeLimit {
		params.Set("price", formatFloat(req.Price))
		tif := req.TimeInForce
		if tif == "" {
			tif = TIFGTC
		}
		params.Set("timeInForce", string(tif))
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	return g.submitOrder(ctx, params)
}

// PlaceConditionalOrder submits a reduce-only stop or take-profit market
// order that triggers at StopPrice.
func (g *BinanceGateway) PlaceConditionalOrder(ctx context.Context, req ConditionalOrderRequest) (string, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Kind))
	params.Set("stopPrice", formatFloat(req.StopPrice))
	params.Set("quantity", formatFloat(req.Qty))
	params.Set("reduceOnly", "true")
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	return g.submitOrder(ctx, params)
}

func (g *BinanceGateway) submitOrder(ctx context.Context, params url.Values) (string, error) {
	body, err := g.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		var ve venueError
		if errors.As(err, &ve) && ve.status < 500 && ve.status != http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: %s", ErrOrderRejected, ve.msg)
		}
		return "", err
	}
	var out struct {
		OrderID int64  `json:"orderId"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode order response: %w", err)
	}
	if out.Status == "REJECTED" || out.Status == "EXPIRED" {
		return "", fmt.Errorf("%w: status %s", ErrOrderRejected, out.Status)
	}
	return strconv.FormatInt(out.OrderID, 10), nil
}

// CancelOrder cancels a working order by venue ID.
func (g *BinanceGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	_, err := g.doSigned(ctx, http.MethodDelete, "/fapi/v1/order", params)
	return err
}

// OpenOrders returns working orders, optionally filtered by symbol.
func (g *BinanceGateway) OpenOrders(ctx context.Context, symbol string) ([]OrderRecord, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := g.doSigned(ctx, http.MethodGet, "/fapi/v1/openOrders", params)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		OrderID   int64  `json:"orderId"`
		Symbol    string `json:"symbol"`
		Side      string `json:"side"`
		Type      string `json:"type"`
		StopPrice string `json:"stopPrice"`
		OrigQty   string `json:"origQty"`
		Time      int64  `json:"time"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	out := make([]OrderRecord, 0, len(raw))
	for _, o := range raw {
		out = append(out, OrderRecord{
			OrderID:   strconv.FormatInt(o.OrderID, 10),
			Symbol:    o.Symbol,
			Side:      Side(o.Side),
			Type:      o.Type,
			StopPrice: parseFloat(o.StopPrice),
			Qty:       parseFloat(o.OrigQty),
			CreatedAt: time.UnixMilli(o.Time),
		})
	}
	return out, nil
}

func (g *BinanceGateway) ensureLeverage(ctx context.Context, symbol string, leverage int) error {
	g.mu.Lock()
	cur := g.leverages[symbol]
	g.mu.Unlock()
	if cur == leverage {
		return nil
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	if _, err := g.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", params); err != nil {
		return err
	}
	g.mu.Lock()
	g.leverages[symbol] = leverage
	g.mu.Unlock()
	return nil
}

// venueError preserves the HTTP status so callers can tell rejections from
// transient failures.
type venueError struct {
	status int
	msg    string
}

func (e venueError) Error() string { return fmt.Sprintf("venue status %d: %s", e.status, e.msg) }

func (g *BinanceGateway) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	params.Set("timestamp", strconv.FormatInt(g.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(g.cfg.RecvWindow, 10))
	params.Set("signature", signPayload(params.Encode(), g.cfg.APISecret))
	encoded := params.Encode()

	var (
		req *http.Request
		err error
	)
	endpoint := g.baseURL + path
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", g.cfg.APIKey)

	res, err := g.httpClient.Do(req)
	if err != nil {
		return nil, MarkRetryable(fmt.Errorf("binance %s %s: %w", method, path, err))
	}
	defer res.Body.Close()

	g.limiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		msg := venueMessage(body)
		ve := venueError{status: res.StatusCode, msg: msg}
		if res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests {
			return nil, MarkRetryable(ve)
		}
		return nil, ve
	}
	return body, nil
}

func venueMessage(body []byte) string {
	var out struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &out); err == nil && out.Msg != "" {
		return fmt.Sprintf("code %d: %s", out.Code, out.Msg)
	}
	return strings.TrimSpace(string(body))
}

func signPayload(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
