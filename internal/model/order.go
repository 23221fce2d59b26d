package model

import "time"

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType is the broker order type. Only market orders are submitted.
type OrderType string

const OrderTypeMarket OrderType = "market"

// TimeInForce controls how long an order rests at the broker.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceDay TimeInForce = "day"
)

// OrderRequest is what the dispatcher hands to the order execution collaborator.
type OrderRequest struct {
	Symbol      string      `json:"symbol"`
	Qty         int64       `json:"qty"`
	Side        Side        `json:"side"`
	Type        OrderType   `json:"type"`
	TimeInForce TimeInForce `json:"time_in_force"`
}

// OrderConfirmation is the broker's acknowledgement of a submitted order.
// Filled is true only when the broker reports the order as executed;
// a live broker usually returns an accepted-but-unfilled order.
type OrderConfirmation struct {
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Qty         int64     `json:"qty"`
	Status      string    `json:"status"` // new, accepted, filled, ...
	Filled      bool      `json:"filled"`
	FillPrice   float64   `json:"fill_price,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}
