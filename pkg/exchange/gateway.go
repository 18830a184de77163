package exchange

import "context"

// Gateway abstracts a derivatives venue. All calls are blocking and must be
// given a deadline by the caller; implementations do not retry internally.
type Gateway interface {
	AccountState(ctx context.Context) (AccountState, error)
	OpenPositions(ctx context.Context) ([]PositionRecord, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	PlaceConditionalOrder(ctx context.Context, req ConditionalOrderRequest) (string, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	OpenOrders(ctx context.Context, symbol string) ([]OrderRecord, error)
}

// InstrumentSource resolves per-symbol metadata. Separate from Gateway so
// the backtester can supply static metadata without a venue.
type InstrumentSource interface {
	Instrument(symbol string) (InstrumentMeta, error)
}
