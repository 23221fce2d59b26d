package indicator

// EMA calculates an Exponential Moving Average with alpha = 2/(span+1).
// The first close seeds the average (ema[0] = close[0]), so the value is
// defined from the first sample onwards.
// O(1) per update, no window storage.
type EMA struct {
	period  int
	alpha   float64
	current float64
	count   int
}

// NewEMA creates a new EMA indicator with the given span.
func NewEMA(period int) *EMA {
	return &EMA{
		period: period,
		alpha:  2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA" }

func (e *EMA) Update(price float64) {
	e.count++
	if e.count == 1 {
		e.current = price
		return
	}
	// EMA = price*alpha + EMA_prev*(1-alpha)
	e.current = price*e.alpha + e.current*(1-e.alpha)
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count > 0 }

// Period returns the configured span.
func (e *EMA) Period() int { return e.period }
