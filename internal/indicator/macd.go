package indicator

// MACD is the difference between a fast and a slow EMA, paired with an EMA
// of that difference (the signal line). Both EMAs follow the close[0] seed
// recurrence, so the line is defined from the first close.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
	line   float64
}

// NewMACD creates a MACD with the given fast, slow and signal spans
// (typically 12, 26, 9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
	}
}

func (m *MACD) Name() string { return "MACD" }

func (m *MACD) Update(price float64) {
	m.fast.Update(price)
	m.slow.Update(price)
	m.line = m.fast.Value() - m.slow.Value()
	m.signal.Update(m.line)
}

// Value returns the MACD line.
func (m *MACD) Value() float64 { return m.line }

// Signal returns the signal line.
func (m *MACD) Signal() float64 { return m.signal.Value() }

// Hist returns line minus signal.
func (m *MACD) Hist() float64 { return m.line - m.signal.Value() }

func (m *MACD) Ready() bool { return m.signal.Ready() }
