package alpaca

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"signalbot/internal/breaker"
	"signalbot/internal/model"
)

type fakeTrading struct {
	clock     *alpaca.Clock
	positions []alpaca.Position
	order     *alpaca.Order
	err       error

	lastOrder alpaca.PlaceOrderRequest
	calls     int
}

func (f *fakeTrading) GetClock() (*alpaca.Clock, error) {
	f.calls++
	return f.clock, f.err
}

func (f *fakeTrading) GetPositions() ([]alpaca.Position, error) {
	f.calls++
	return f.positions, f.err
}

func (f *fakeTrading) PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error) {
	f.calls++
	f.lastOrder = req
	return f.order, f.err
}

func TestBroker_IsOpen(t *testing.T) {
	b := newBroker(&fakeTrading{clock: &alpaca.Clock{IsOpen: true}}, nil)
	open, err := b.IsOpen(context.Background())
	if err != nil || !open {
		t.Errorf("IsOpen = %v, %v", open, err)
	}
}

func TestBroker_ListOpenPositions(t *testing.T) {
	api := &fakeTrading{positions: []alpaca.Position{
		{Symbol: "AAPL", Qty: decimal.NewFromInt(10), Side: "long"},
		{Symbol: "MSFT", Qty: decimal.NewFromInt(5), Side: "short"},
	}}
	got, err := newBroker(api, nil).ListOpenPositions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Qty != 10 || !got[0].IsLong() || got[1].Qty != -5 {
		t.Errorf("unexpected positions: %+v", got)
	}
}

func TestBroker_SubmitOrder(t *testing.T) {
	fillPrice := decimal.NewFromFloat(187.25)
	qty := decimal.NewFromInt(10)
	submitted := time.Date(2026, 10, 13, 14, 0, 0, 0, time.UTC)
	api := &fakeTrading{order: &alpaca.Order{
		ID: "abc-123", Symbol: "AAPL", Qty: &qty, Status: "filled",
		FilledAvgPrice: &fillPrice, SubmittedAt: submitted,
	}}

	conf, err := newBroker(api, nil).SubmitOrder(context.Background(), model.OrderRequest{
		Symbol: "AAPL", Qty: 10, Side: model.SideBuy,
		Type: model.OrderTypeMarket, TimeInForce: model.TimeInForceGTC,
	})
	if err != nil {
		t.Fatal(err)
	}

	req := api.lastOrder
	if req.Symbol != "AAPL" || req.Side != alpaca.Buy || req.Type != alpaca.Market || req.TimeInForce != alpaca.GTC {
		t.Errorf("unexpected request: %+v", req)
	}
	if req.Qty == nil || !req.Qty.Equal(decimal.NewFromInt(10)) {
		t.Errorf("qty = %v, want 10", req.Qty)
	}
	if conf.OrderID != "abc-123" || !conf.Filled || conf.FillPrice != 187.25 || conf.Qty != 10 {
		t.Errorf("unexpected confirmation: %+v", conf)
	}
	if !conf.SubmittedAt.Equal(submitted) {
		t.Errorf("submitted_at = %s", conf.SubmittedAt)
	}
}

func TestBroker_FailuresAreCollaboratorErrors(t *testing.T) {
	api := &fakeTrading{err: errors.New("403 forbidden")}
	b := newBroker(api, breaker.New("alpaca", 2, time.Hour))
	ctx := context.Background()

	_, err := b.ListOpenPositions(ctx)
	var ce *model.CollaboratorError
	if !errors.As(err, &ce) || ce.Collaborator != "positions" {
		t.Fatalf("expected positions collaborator error, got %v", err)
	}

	_, err = b.SubmitOrder(ctx, model.OrderRequest{Symbol: "AAPL", Qty: 1, Side: model.SideSell})
	if !errors.Is(err, model.ErrCollaboratorUnavailable) {
		t.Fatalf("expected collaborator error, got %v", err)
	}

	// Breaker is now open: the API is not called.
	before := api.calls
	_, err = b.IsOpen(ctx)
	if !errors.Is(err, breaker.ErrOpen) || !errors.Is(err, model.ErrCollaboratorUnavailable) {
		t.Errorf("expected open breaker as collaborator error, got %v", err)
	}
	if api.calls != before {
		t.Error("API called while breaker open")
	}
}

func TestBroker_CancelledContext(t *testing.T) {
	api := &fakeTrading{clock: &alpaca.Clock{IsOpen: true}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newBroker(api, nil).IsOpen(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if api.calls != 0 {
		t.Error("API must not be called with a cancelled context")
	}
}

type fakeBars struct {
	req  marketdata.GetBarsRequest
	bars []marketdata.Bar
	err  error
}

func (f *fakeBars) GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	f.req = req
	return f.bars, f.err
}

func TestHistory_Bars(t *testing.T) {
	day := time.Date(2021, 1, 4, 5, 0, 0, 0, time.UTC)
	api := &fakeBars{bars: []marketdata.Bar{
		{Timestamp: day, Close: 129.41},
		{Timestamp: day.AddDate(0, 0, 1), Close: 131.01},
	}}
	h := newHistory(api, nil, marketdata.OneDay)

	from := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := h.Bars(context.Background(), "AAPL", from, to)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Close != 129.41 || !got[1].TS.Equal(day.AddDate(0, 0, 1)) {
		t.Errorf("unexpected bars: %+v", got)
	}
	if api.req.TimeFrame != marketdata.OneDay || !api.req.Start.Equal(from) || !api.req.End.Equal(to) {
		t.Errorf("unexpected request: %+v", api.req)
	}

	api.err = errors.New("429 too many requests")
	if _, err := h.Bars(context.Background(), "AAPL", from, to); !errors.Is(err, model.ErrCollaboratorUnavailable) {
		t.Errorf("expected collaborator error, got %v", err)
	}
}

func TestHistory_WithTimeFrame(t *testing.T) {
	api := &fakeBars{}
	daily := newHistory(api, nil, marketdata.OneDay)
	intraday := daily.WithTimeFrame(marketdata.OneMin)

	from := time.Date(2026, 10, 12, 13, 30, 0, 0, time.UTC)
	if _, err := intraday.Bars(context.Background(), "MSFT", from, from.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if api.req.TimeFrame != marketdata.OneMin {
		t.Errorf("timeframe = %v, want 1Min", api.req.TimeFrame)
	}

	// the original feed is unchanged
	if _, err := daily.Bars(context.Background(), "MSFT", from, from.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if api.req.TimeFrame != marketdata.OneDay {
		t.Errorf("timeframe = %v, want 1Day", api.req.TimeFrame)
	}
}
