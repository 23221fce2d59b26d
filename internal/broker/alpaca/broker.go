// Package alpaca adapts the Alpaca trading and market-data APIs to the
// engine's collaborator interfaces.
//
// Every call goes through a circuit breaker and every failure is returned as
// a *model.CollaboratorError, so the engine can drop the cycle without
// knowing about HTTP.
package alpaca

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"signalbot/internal/breaker"
	"signalbot/internal/model"
)

const (
	// PaperURL is the paper-trading REST endpoint.
	PaperURL = "https://paper-api.alpaca.markets"
	// LiveURL is the live-trading REST endpoint.
	LiveURL = "https://api.alpaca.markets"
)

// Config holds Alpaca credentials.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string // default PaperURL
}

// tradingAPI is the subset of *alpaca.Client used here.
type tradingAPI interface {
	GetClock() (*alpaca.Clock, error)
	GetPositions() ([]alpaca.Position, error)
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
}

// Broker implements model.Broker against the Alpaca trading API.
type Broker struct {
	api tradingAPI
	cb  *breaker.Breaker
}

var _ model.Broker = (*Broker)(nil)

// NewBroker creates a broker client. cb may be nil.
func NewBroker(cfg Config, cb *breaker.Breaker) *Broker {
	if cfg.BaseURL == "" {
		cfg.BaseURL = PaperURL
	}
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	})
	return newBroker(client, cb)
}

func newBroker(api tradingAPI, cb *breaker.Breaker) *Broker {
	if cb == nil {
		cb = breaker.New("alpaca", 5, 30*time.Second)
	}
	return &Broker{api: api, cb: cb}
}

// call runs fn through the breaker, honouring ctx before the request.
func (b *Broker) call(ctx context.Context, collaborator, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return model.NewCollaboratorError(collaborator, op, err)
	}
	return model.NewCollaboratorError(collaborator, op, b.cb.Execute(fn))
}

// IsOpen implements model.Clock.
func (b *Broker) IsOpen(ctx context.Context) (bool, error) {
	var clock *alpaca.Clock
	err := b.call(ctx, "clock", "get_clock", func() error {
		var err error
		clock, err = b.api.GetClock()
		return err
	})
	if err != nil {
		return false, err
	}
	if clock == nil {
		return false, model.NewCollaboratorError("clock", "get_clock", fmt.Errorf("empty response"))
	}
	return clock.IsOpen, nil
}

// ListOpenPositions implements model.PositionQuery.
func (b *Broker) ListOpenPositions(ctx context.Context) ([]model.BrokerPosition, error) {
	var positions []alpaca.Position
	err := b.call(ctx, "positions", "list", func() error {
		var err error
		positions, err = b.api.GetPositions()
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.BrokerPosition, 0, len(positions))
	for _, p := range positions {
		qty := p.Qty.IntPart()
		if strings.EqualFold(p.Side, "short") && qty > 0 {
			qty = -qty
		}
		out = append(out, model.BrokerPosition{Symbol: p.Symbol, Qty: qty, Side: p.Side})
	}
	return out, nil
}

// SubmitOrder implements model.OrderExecutor.
func (b *Broker) SubmitOrder(ctx context.Context, req model.OrderRequest) (model.OrderConfirmation, error) {
	qty := decimal.NewFromInt(req.Qty)
	areq := alpaca.PlaceOrderRequest{
		Symbol:      req.Symbol,
		Qty:         &qty,
		Side:        toSide(req.Side),
		Type:        alpaca.OrderType(req.Type),
		TimeInForce: alpaca.TimeInForce(req.TimeInForce),
	}

	var order *alpaca.Order
	err := b.call(ctx, "orders", "submit", func() error {
		var err error
		order, err = b.api.PlaceOrder(areq)
		return err
	})
	if err != nil {
		return model.OrderConfirmation{}, err
	}
	if order == nil {
		return model.OrderConfirmation{}, model.NewCollaboratorError("orders", "submit", fmt.Errorf("empty response"))
	}
	return confirmation(req, order), nil
}

func toSide(s model.Side) alpaca.Side {
	if s == model.SideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func confirmation(req model.OrderRequest, o *alpaca.Order) model.OrderConfirmation {
	conf := model.OrderConfirmation{
		OrderID:     o.ID,
		Symbol:      o.Symbol,
		Side:        req.Side,
		Qty:         req.Qty,
		Status:      o.Status,
		Filled:      o.Status == "filled",
		SubmittedAt: o.SubmittedAt.UTC(),
	}
	if conf.Symbol == "" {
		conf.Symbol = req.Symbol
	}
	if o.Qty != nil {
		conf.Qty = o.Qty.IntPart()
	}
	if o.FilledAvgPrice != nil {
		conf.FillPrice = o.FilledAvgPrice.InexactFloat64()
	}
	return conf
}
