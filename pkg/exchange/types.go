package exchange

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes entry order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// ConditionalKind distinguishes the two reduce-only protective orders.
type ConditionalKind string

const (
	ConditionalStop       ConditionalKind = "STOP_MARKET"
	ConditionalTakeProfit ConditionalKind = "TAKE_PROFIT_MARKET"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// OrderRequest captures an entry or close order intent.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         float64
	Price       float64 // required for LIMIT
	TimeInForce TimeInForce
	Leverage    int
	ReduceOnly  bool
	ClientID    string
}

// ConditionalOrderRequest captures a reduce-only stop or take-profit order.
type ConditionalOrderRequest struct {
	Symbol    string
	Side      Side
	Kind      ConditionalKind
	StopPrice float64
	Qty       float64
	ClientID  string
}

// OrderRecord is an exchange-reported working order.
type OrderRecord struct {
	OrderID   string
	Symbol    string
	Side      Side
	Type      string
	StopPrice float64
	Qty       float64
	CreatedAt time.Time
}

// PositionRecord is an exchange-reported position. Qty is signed: positive
// for long, negative for short, zero when flat.
type PositionRecord struct {
	Symbol     string
	Qty        float64
	EntryPrice float64
	Leverage   float64
	MarkPrice  float64
}

// AccountState is the exchange-reported account snapshot. The engine never
// mutates it; derived balances exist only in the simulated venue.
type AccountState struct {
	TotalBalance     float64
	AvailableBalance float64
	UnrealizedPnL    float64
}

// InstrumentMeta holds per-symbol exchange metadata needed for sizing and
// price rounding, plus the fixed fallback price used in degraded operation.
type InstrumentMeta struct {
	Symbol         string
	QtyPrecision   int
	PricePrecision int
	FallbackPrice  float64
}
