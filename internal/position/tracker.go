// Package position tracks whether a long position is open per instrument.
//
// The broker is the source of truth: the engine syncs the tracker from one
// position query per cycle. Between syncs, accepted orders mark the
// instrument optimistically so a second rule in the same cycle sees the new
// state.
package position

import (
	"sort"
	"strings"
	"sync"

	"signalbot/internal/model"
)

// Position is the tracked state of one instrument.
type Position struct {
	Symbol string `json:"symbol"`
	Qty    int64  `json:"qty"` // positive = long, negative = short
}

// IsLong reports whether the position holds shares.
func (p Position) IsLong() bool { return p.Qty > 0 }

// Tracker is safe for concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]int64 // key = upper-case symbol
}

// NewTracker creates an empty tracker (every instrument flat).
func NewTracker() *Tracker {
	return &Tracker{positions: make(map[string]int64)}
}

func key(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// IsOpen reports whether a long position is open for symbol.
func (t *Tracker) IsOpen(symbol string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.positions[key(symbol)] > 0
}

// Qty returns the tracked quantity for symbol.
func (t *Tracker) Qty(symbol string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.positions[key(symbol)]
}

// Sync replaces the tracked state with the broker's position list.
// Instruments absent from the list become flat.
func (t *Tracker) Sync(positions []model.BrokerPosition) {
	next := make(map[string]int64, len(positions))
	for _, p := range positions {
		if p.Qty == 0 {
			continue
		}
		next[key(p.Symbol)] += p.Qty
	}
	t.mu.Lock()
	t.positions = next
	t.mu.Unlock()
}

// MarkOpen records an accepted buy of qty shares.
func (t *Tracker) MarkOpen(symbol string, qty int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key(symbol)
	if t.positions[k] < 0 {
		t.positions[k] = 0
	}
	t.positions[k] += qty
}

// MarkClosed records an accepted sell that flattens symbol.
func (t *Tracker) MarkClosed(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.positions, key(symbol))
}

// Apply updates the tracker from an accepted order.
func (t *Tracker) Apply(conf model.OrderConfirmation) {
	switch conf.Side {
	case model.SideBuy:
		t.MarkOpen(conf.Symbol, conf.Qty)
	case model.SideSell:
		t.MarkClosed(conf.Symbol)
	}
}

// Snapshot returns all non-flat positions sorted by symbol.
func (t *Tracker) Snapshot() []Position {
	t.mu.RLock()
	out := make([]Position, 0, len(t.positions))
	for s, q := range t.positions {
		out = append(out, Position{Symbol: s, Qty: q})
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
