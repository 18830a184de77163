package events

// Event enumerates high-level topics inside the trading engine.
type Event string

const (
	EventPriceTick      Event = "price_tick"
	EventSignal         Event = "signal"
	EventPositionOpened Event = "position.opened"
	EventPositionClosed Event = "position.closed"
	EventTrade          Event = "trade"
	EventOrderRejected  Event = "order.rejected"
	EventReconcileDrift Event = "reconcile.drift"
	EventRiskAlert      Event = "risk_alert"
	EventDegradedMode   Event = "degraded_mode"
)
