package model

// BrokerPosition is one open position as reported by the position query
// collaborator.
type BrokerPosition struct {
	Symbol string `json:"symbol"`
	Qty    int64  `json:"qty"`  // positive = long, negative = short
	Side   string `json:"side"` // "long" or "short"
}

// IsLong reports whether the position holds a positive quantity.
func (p BrokerPosition) IsLong() bool {
	return p.Qty > 0
}
