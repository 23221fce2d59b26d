package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"signalbot/internal/model"
)

// ErrNoPrice is returned when an order arrives for a symbol that has never
// been marked.
var ErrNoPrice = errors.New("paper: no price for symbol")

// ErrInsufficientPosition is returned for a sell larger than the holding.
var ErrInsufficientPosition = errors.New("paper: insufficient position")

// Fill represents a simulated order fill.
type Fill struct {
	OrderID   string     `json:"order_id"`
	Symbol    string     `json:"symbol"`
	Side      model.Side `json:"side"`
	Qty       int64      `json:"qty"`
	FillPrice float64    `json:"fill_price"`
	Slippage  float64    `json:"slippage"` // per share
	FilledAt  time.Time  `json:"filled_at"`
}

type mark struct {
	price float64
	ts    time.Time
}

// PaperBroker simulates a broker without real API calls. It implements
// model.Broker: market orders fill immediately at the last marked close,
// adjusted by slippage.
type PaperBroker struct {
	mu        sync.RWMutex
	marks     map[string]mark
	positions map[string]int64
	fills     []Fill
	orderSeq  int64

	clock       model.Clock
	slippageBps float64 // basis points of slippage (e.g., 5 = 0.05%)
}

// NewPaperBroker creates a paper broker. clock may be nil, in which case the
// market is always open.
func NewPaperBroker(clock model.Clock, slippageBps float64) *PaperBroker {
	return &PaperBroker{
		marks:       make(map[string]mark),
		positions:   make(map[string]int64),
		fills:       make([]Fill, 0, 256),
		clock:       clock,
		slippageBps: slippageBps,
	}
}

// Mark records the latest price for symbol. Fills use it as the reference.
func (p *PaperBroker) Mark(symbol string, price float64, ts time.Time) {
	p.mu.Lock()
	p.marks[strings.ToUpper(symbol)] = mark{price: price, ts: ts}
	p.mu.Unlock()
}

// IsOpen implements model.Clock.
func (p *PaperBroker) IsOpen(ctx context.Context) (bool, error) {
	if p.clock == nil {
		return true, ctx.Err()
	}
	return p.clock.IsOpen(ctx)
}

// ListOpenPositions implements model.PositionQuery.
func (p *PaperBroker) ListOpenPositions(ctx context.Context) ([]model.BrokerPosition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	out := make([]model.BrokerPosition, 0, len(p.positions))
	for s, q := range p.positions {
		out = append(out, model.BrokerPosition{Symbol: s, Qty: q, Side: "long"})
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// SubmitOrder implements model.OrderExecutor.
func (p *PaperBroker) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.OrderConfirmation, error) {
	if err := ctx.Err(); err != nil {
		return model.OrderConfirmation{}, err
	}
	if req.Qty <= 0 {
		return model.OrderConfirmation{}, fmt.Errorf("paper: invalid qty %d", req.Qty)
	}
	sym := strings.ToUpper(req.Symbol)

	p.mu.Lock()
	m, ok := p.marks[sym]
	if !ok {
		p.mu.Unlock()
		return model.OrderConfirmation{}, fmt.Errorf("%w %s", ErrNoPrice, sym)
	}
	if req.Side == model.SideSell && p.positions[sym] < req.Qty {
		held := p.positions[sym]
		p.mu.Unlock()
		return model.OrderConfirmation{}, fmt.Errorf("%w: sell %d %s, holding %d", ErrInsufficientPosition, req.Qty, sym, held)
	}

	slippage := m.price * p.slippageBps / 10000
	fillPrice := m.price
	switch req.Side {
	case model.SideBuy:
		fillPrice += slippage // buy higher
		p.positions[sym] += req.Qty
	case model.SideSell:
		fillPrice -= slippage // sell lower
		p.positions[sym] -= req.Qty
		if p.positions[sym] == 0 {
			delete(p.positions, sym)
		}
	default:
		p.mu.Unlock()
		return model.OrderConfirmation{}, fmt.Errorf("paper: unknown side %q", req.Side)
	}

	p.orderSeq++
	filledAt := m.ts
	if filledAt.IsZero() {
		filledAt = time.Now().UTC()
	}
	fill := Fill{
		OrderID:   fmt.Sprintf("PAPER-%d", p.orderSeq),
		Symbol:    sym,
		Side:      req.Side,
		Qty:       req.Qty,
		FillPrice: fillPrice,
		Slippage:  slippage,
		FilledAt:  filledAt,
	}
	p.fills = append(p.fills, fill)
	p.mu.Unlock()

	log.Printf("[paper] %s %s qty=%d price=%.4f (slip=%.4f) order=%s",
		req.Side, sym, req.Qty, fillPrice, slippage, fill.OrderID)

	return model.OrderConfirmation{
		OrderID:     fill.OrderID,
		Symbol:      sym,
		Side:        req.Side,
		Qty:         req.Qty,
		Status:      "filled",
		Filled:      true,
		FillPrice:   fillPrice,
		SubmittedAt: filledAt,
	}, nil
}

// GetFills returns a snapshot of all fills.
func (p *PaperBroker) GetFills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}
