package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// StreamClient consumes the public futures kline websocket stream.
type StreamClient struct {
	StreamURL string
	dialer    *websocket.Dialer
}

// NewStreamClient builds a websocket client; testnet toggles the host.
func NewStreamClient(testnet bool) *StreamClient {
	host := "fstream.binance.com"
	if testnet {
		host = "stream.binancefuture.com"
	}
	return &StreamClient{
		StreamURL: (&url.URL{Scheme: "wss", Host: host, Path: "/ws"}).String(),
		dialer:    websocket.DefaultDialer,
	}
}

// SubscribeKlines streams klines for one symbol and interval. Only closed
// bars are emitted, so bar-aligned consumers see each bar once. The
// returned stop function closes the connection and the channel.
func (c *StreamClient) SubscribeKlines(ctx context.Context, symbol, interval string) (<-chan Kline, func(), error) {
	stream := fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), interval)
	conn, _, err := c.dialer.DialContext(ctx, fmt.Sprintf("%s/%s", c.StreamURL, stream), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial kline stream %s: %w", stream, err)
	}

	out := make(chan Kline, 64)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
			close(out)
		})
	}

	go func() {
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
					strings.Contains(err.Error(), "use of closed network connection") {
					return
				}
				log.Printf("Binance ws: read %s: %v", stream, err)
				return
			}

			k, closed, err := parseKlineEvent(msg)
			if err != nil {
				log.Printf("Binance ws: parse %s: %v", stream, err)
				continue
			}
			if !closed {
				continue
			}
			select {
			case out <- k:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, stop, nil
}

func parseKlineEvent(msg []byte) (Kline, bool, error) {
	var raw struct {
		Data struct {
			OpenTime  int64  `json:"t"`
			CloseTime int64  `json:"T"`
			Symbol    string `json:"s"`
			Open      string `json:"o"`
			Close     string `json:"c"`
			High      string `json:"h"`
			Low       string `json:"l"`
			Volume    string `json:"v"`
			Trades    int    `json:"n"`
			Closed    bool   `json:"x"`
		} `json:"k"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return Kline{}, false, err
	}
	k := raw.Data
	return Kline{
		Symbol:    k.Symbol,
		OpenTime:  k.OpenTime,
		CloseTime: k.CloseTime,
		Open:      toFloat(k.Open),
		High:      toFloat(k.High),
		Low:       toFloat(k.Low),
		Close:     toFloat(k.Close),
		Volume:    toFloat(k.Volume),
		Trades:    k.Trades,
	}, k.Closed, nil
}
