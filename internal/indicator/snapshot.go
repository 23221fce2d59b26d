package indicator

import "encoding/json"

// Snapshot is the indicator state of one instrument after the latest bar.
// It is only produced once the series is ready, so every field is defined.
type Snapshot struct {
	EMAShort   float64 `json:"ema_short"`
	EMALong    float64 `json:"ema_long"`
	RSI        float64 `json:"rsi"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	Samples    int     `json:"samples"` // closes seen by the series
}

// MACDHist returns MACD minus its signal line.
func (s Snapshot) MACDHist() float64 { return s.MACD - s.MACDSignal }

// JSON returns the JSON-encoded snapshot (ignoring errors for hot-path usage).
func (s Snapshot) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
