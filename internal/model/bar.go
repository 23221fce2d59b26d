package model

import (
	"encoding/json"
	"time"
)

// Bar is one sampled price observation for an instrument.
// Only the closing price is consumed by the indicator engine.
type Bar struct {
	TS    time.Time `json:"ts"`    // event time (UTC)
	Close float64   `json:"close"` // closing price
}

// BarEvent is a bar keyed by the instrument it belongs to.
type BarEvent struct {
	Symbol string `json:"symbol"`
	Bar    Bar    `json:"bar"`
}

// BarFromMillis builds a bar from an epoch-millisecond timestamp, the
// encoding used by the minute-aggregate stream.
func BarFromMillis(ms int64, close float64) Bar {
	return Bar{TS: time.UnixMilli(ms).UTC(), Close: close}
}

// JSON returns the JSON-encoded event (ignoring errors for hot-path usage).
func (e *BarEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}
