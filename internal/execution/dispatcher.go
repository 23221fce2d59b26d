// Package execution turns strategy decisions into broker orders.
//
// The Dispatcher submits market orders through a model.OrderExecutor,
// journals every attempt and notifies on the outcome. PaperBroker is an
// in-memory broker for paper trading and backtests.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"signalbot/internal/model"
	"signalbot/internal/notification"
	"signalbot/internal/position"
	"signalbot/internal/strategy"
)

// ErrNoAction is returned when a Hold decision is dispatched.
var ErrNoAction = errors.New("execution: decision carries no action")

// Recorder persists order attempts. *Journal implements it.
type Recorder interface {
	RecordOrder(rec OrderRecord) error
}

// DispatcherConfig configures order sizing.
type DispatcherConfig struct {
	Qty         int64             // shares per order (default 10)
	TimeInForce model.TimeInForce // default gtc
}

// Dispatcher submits one order per non-Hold decision.
type Dispatcher struct {
	orders   model.OrderExecutor
	tracker  *position.Tracker
	journal  Recorder              // optional
	notifier notification.Notifier // optional
	cfg      DispatcherConfig
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. tracker may be nil when position state
// is managed elsewhere (e.g. the backtest loop).
func NewDispatcher(orders model.OrderExecutor, tracker *position.Tracker, cfg DispatcherConfig) *Dispatcher {
	if cfg.Qty <= 0 {
		cfg.Qty = 10
	}
	if cfg.TimeInForce == "" {
		cfg.TimeInForce = model.TimeInForceGTC
	}
	return &Dispatcher{
		orders:  orders,
		tracker: tracker,
		cfg:     cfg,
		now:     time.Now,
	}
}

// WithJournal attaches an order journal.
func (d *Dispatcher) WithJournal(r Recorder) *Dispatcher {
	d.journal = r
	return d
}

// WithNotifier attaches an alert channel.
func (d *Dispatcher) WithNotifier(n notification.Notifier) *Dispatcher {
	d.notifier = n
	return d
}

// Qty returns the configured order size.
func (d *Dispatcher) Qty() int64 { return d.cfg.Qty }

// Dispatch submits a market order for dec. A failed submission is returned
// as a *model.CollaboratorError and is not retried.
func (d *Dispatcher) Dispatch(ctx context.Context, symbol string, dec strategy.Decision) (model.OrderConfirmation, error) {
	side, ok := dec.Action.Side()
	if !ok {
		return model.OrderConfirmation{}, ErrNoAction
	}

	req := model.OrderRequest{
		Symbol:      symbol,
		Qty:         d.cfg.Qty,
		Side:        side,
		Type:        model.OrderTypeMarket,
		TimeInForce: d.cfg.TimeInForce,
	}

	conf, err := d.orders.SubmitOrder(ctx, req)
	if err != nil {
		if !errors.Is(err, model.ErrCollaboratorUnavailable) {
			err = model.NewCollaboratorError("orders", "submit", err)
		}
		d.record(req, dec, model.OrderConfirmation{Status: "error"}, err)
		d.notify(ctx, notification.Alert{
			Level:   notification.AlertWarning,
			Title:   "Order failed",
			Message: fmt.Sprintf("%s %d %s: %v", side, req.Qty, symbol, err),
			Fields:  fields(req, dec, ""),
		})
		return model.OrderConfirmation{}, err
	}

	if conf.Symbol == "" {
		conf.Symbol = symbol
	}
	if conf.Side == "" {
		conf.Side = side
	}
	if conf.Qty == 0 {
		conf.Qty = req.Qty
	}
	if conf.SubmittedAt.IsZero() {
		conf.SubmittedAt = d.now().UTC()
	}

	if d.tracker != nil {
		d.tracker.Apply(conf)
	}
	d.record(req, dec, conf, nil)

	log.Printf("[dispatch] %s %s qty=%d order=%s status=%s rule=%s reason=%q",
		side, symbol, conf.Qty, conf.OrderID, conf.Status, dec.Rule, dec.Reason)

	d.notify(ctx, notification.Alert{
		Level:   notification.AlertInfo,
		Title:   "Order submitted",
		Message: fmt.Sprintf("%s %d %s (%s)", side, conf.Qty, symbol, dec.Reason),
		Fields:  fields(req, dec, conf.OrderID),
	})
	return conf, nil
}

func (d *Dispatcher) record(req model.OrderRequest, dec strategy.Decision, conf model.OrderConfirmation, err error) {
	if d.journal == nil {
		return
	}
	rec := OrderRecord{
		OrderID:     conf.OrderID,
		Symbol:      req.Symbol,
		Side:        string(req.Side),
		Qty:         req.Qty,
		Rule:        dec.Rule,
		Reason:      dec.Reason,
		Status:      conf.Status,
		FillPrice:   conf.FillPrice,
		SubmittedAt: conf.SubmittedAt,
	}
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = d.now().UTC()
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if jerr := d.journal.RecordOrder(rec); jerr != nil {
		log.Printf("[dispatch] journal write failed: %v", jerr)
	}
}

func (d *Dispatcher) notify(ctx context.Context, a notification.Alert) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.Send(ctx, a); err != nil {
		log.Printf("[dispatch] notify failed: %v", err)
	}
}

func fields(req model.OrderRequest, dec strategy.Decision, orderID string) map[string]string {
	f := map[string]string{
		"symbol": req.Symbol,
		"side":   string(req.Side),
		"qty":    strconv.FormatInt(req.Qty, 10),
		"rule":   dec.Rule,
	}
	if orderID != "" {
		f["order_id"] = orderID
	}
	return f
}
