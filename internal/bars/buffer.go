// Package bars holds the per-instrument bar buffers that feed the indicator
// engine.
//
// A Buffer is an append-only, timestamp-ordered sequence of closes. With a
// positive retention it keeps only the newest samples in a preallocated ring,
// so memory stays bounded for long-running processes.
package bars

import (
	"errors"
	"fmt"
	"math"
	"time"

	"signalbot/internal/model"
)

var (
	// ErrOutOfOrder is matched by every OutOfOrderError.
	ErrOutOfOrder = errors.New("bars: out-of-order bar")

	// ErrInvalidBar is returned for non-positive or non-finite closes.
	ErrInvalidBar = errors.New("bars: invalid close price")
)

// OutOfOrderError reports a bar older than the last stored bar.
type OutOfOrderError struct {
	Symbol string
	Last   time.Time
	Got    time.Time
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("bars: %s bar at %s is older than last stored %s",
		e.Symbol, e.Got.Format(time.RFC3339), e.Last.Format(time.RFC3339))
}

func (e *OutOfOrderError) Is(target error) bool { return target == ErrOutOfOrder }

// Buffer stores bars for one instrument.
// Equal timestamps are accepted and stored as a separate sample.
// Not safe for concurrent use; Set adds locking.
type Buffer struct {
	symbol    string
	retention int // 0 = unbounded

	buf   []model.Bar
	head  int // next write position when bounded
	count int // retained samples
	total int // samples ever appended
	last  model.Bar
}

// NewBuffer creates a buffer. retention <= 0 keeps every bar.
func NewBuffer(symbol string, retention int) *Buffer {
	b := &Buffer{symbol: symbol}
	if retention > 0 {
		b.retention = retention
		b.buf = make([]model.Bar, retention)
	}
	return b
}

// Symbol returns the instrument this buffer belongs to.
func (b *Buffer) Symbol() string { return b.symbol }

// Append stores bar after validating its close and ordering.
func (b *Buffer) Append(bar model.Bar) error {
	if bar.Close <= 0 || math.IsNaN(bar.Close) || math.IsInf(bar.Close, 0) {
		return fmt.Errorf("%w: %s close=%v", ErrInvalidBar, b.symbol, bar.Close)
	}
	if b.total > 0 && bar.TS.Before(b.last.TS) {
		return &OutOfOrderError{Symbol: b.symbol, Last: b.last.TS, Got: bar.TS}
	}

	if b.retention == 0 {
		b.buf = append(b.buf, bar)
		b.count++
	} else {
		b.buf[b.head] = bar
		b.head = (b.head + 1) % b.retention
		if b.count < b.retention {
			b.count++
		}
	}
	b.total++
	b.last = bar
	return nil
}

// Len returns the number of retained samples.
func (b *Buffer) Len() int { return b.count }

// Total returns the number of samples ever appended, including trimmed ones.
func (b *Buffer) Total() int { return b.total }

// Last returns the most recently appended bar.
func (b *Buffer) Last() (model.Bar, bool) {
	if b.total == 0 {
		return model.Bar{}, false
	}
	return b.last, true
}

// Bars returns a copy of the retained bars, oldest first.
func (b *Buffer) Bars() []model.Bar {
	out := make([]model.Bar, 0, b.count)
	if b.retention == 0 {
		return append(out, b.buf...)
	}
	start := (b.head - b.count + b.retention) % b.retention
	for i := 0; i < b.count; i++ {
		out = append(out, b.buf[(start+i)%b.retention])
	}
	return out
}

// Closes returns the retained closing prices, oldest first.
func (b *Buffer) Closes() []float64 {
	bars := b.Bars()
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}
	return closes
}
