// Package indicator provides streaming technical indicator calculations over
// closing prices.
//
// All primitive indicators implement the Indicator interface, receiving one
// close at a time and producing float64 values. A Series composes them into
// the per-instrument snapshot consumed by the signal evaluator.
package indicator

// Indicator is the interface for all primitive technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "EMA", "RSI").
	Name() string

	// Update feeds a new closing price and recalculates.
	Update(price float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

var (
	_ Indicator = (*EMA)(nil)
	_ Indicator = (*RSI)(nil)
	_ Indicator = (*MACD)(nil)
	_ Indicator = (*SMA)(nil)
)
