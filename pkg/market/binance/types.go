package binance

// Kline is one futures candlestick as returned by the klines endpoint.
type Kline struct {
	Symbol    string
	OpenTime  int64 // ms
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64 // ms
	Trades    int
}

// SymbolInfo carries the per-contract precision metadata from the futures
// exchange-info endpoint.
type SymbolInfo struct {
	Symbol         string
	QtyPrecision   int
	PricePrecision int
}
