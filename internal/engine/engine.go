// Package engine runs the per-bar cycle of the signal bot: buffer the bar,
// update the instrument's indicators, gate on the market clock, refresh the
// position view, evaluate the rules and dispatch orders.
//
// Every instrument has its own state. A failure for one instrument (an
// out-of-order bar, a rejected order) never touches another.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"signalbot/internal/bars"
	"signalbot/internal/indicator"
	"signalbot/internal/logger"
	"signalbot/internal/model"
	"signalbot/internal/position"
	"signalbot/internal/strategy"
)

// ErrUnknownSymbol is returned for bars of an instrument that is not
// configured.
var ErrUnknownSymbol = errors.New("engine: unknown symbol")

// Dispatcher submits orders for decisions. *execution.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, symbol string, dec strategy.Decision) (model.OrderConfirmation, error)
}

// Publisher receives snapshots and decisions on a best-effort basis.
// *redis.BufferedPublisher implements it.
type Publisher interface {
	PublishSnapshot(ctx context.Context, symbol string, ts time.Time, snap indicator.Snapshot) error
	PublishDecision(ctx context.Context, symbol string, ts time.Time, dec strategy.Decision) error
}

// PriceMarker is told about every accepted bar before evaluation.
// The paper broker uses it as its fill reference.
type PriceMarker interface {
	Mark(symbol string, price float64, ts time.Time)
}

// Config configures the engine.
type Config struct {
	Symbols    []string         // allowed instruments; empty accepts any
	Indicators indicator.Config // windows; LongWindow is the readiness threshold
	Retention  int              // bars kept per instrument, 0 = unbounded
}

// Deps are the engine's collaborators.
type Deps struct {
	Clock      model.Clock
	Positions  model.PositionQuery
	Dispatcher Dispatcher
	Evaluator  *strategy.Evaluator
	Tracker    *position.Tracker // created when nil
	Publisher  Publisher         // optional
	Marker     PriceMarker       // optional
	Logger     *slog.Logger      // defaults to slog.Default()
}

// Hooks are optional callbacks, used for metrics.
type Hooks struct {
	OnBarProcessed      func(symbol string, d time.Duration)
	OnSnapshot          func(symbol string, ts time.Time, snap indicator.Snapshot)
	OnDecision          func(symbol string, dec strategy.Decision)
	OnOrder             func(conf model.OrderConfirmation)
	OnCollaboratorError func(collaborator string, err error)
	OnOutOfOrder        func(symbol string)
}

// Outcome describes what one bar cycle did.
type Outcome struct {
	Symbol     string
	Bar        model.Bar
	Ready      bool // indicators were ready
	Snapshot   indicator.Snapshot
	MarketOpen bool
	Evaluated  bool // rules ran
	Decisions  []strategy.Decision
	Orders     []model.OrderConfirmation
}

type instrument struct {
	series *indicator.Series
	last   indicator.Snapshot
	ready  bool
}

// Engine owns per-instrument state. OnBar calls are serialized.
type Engine struct {
	cfg  Config
	deps Deps
	bank *indicator.Bank
	log  *slog.Logger

	Hooks Hooks

	mu          sync.Mutex
	bars        *bars.Set
	instruments map[string]*instrument
	allowed     map[string]bool
}

// New validates cfg and deps and returns an engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	bank, err := indicator.NewBank(cfg.Indicators)
	if err != nil {
		return nil, err
	}
	switch {
	case deps.Clock == nil:
		return nil, errors.New("engine: clock is required")
	case deps.Positions == nil:
		return nil, errors.New("engine: position query is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("engine: dispatcher is required")
	case deps.Evaluator == nil:
		return nil, errors.New("engine: evaluator is required")
	}
	if deps.Tracker == nil {
		deps.Tracker = position.NewTracker()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	e := &Engine{
		cfg:         cfg,
		deps:        deps,
		bank:        bank,
		log:         deps.Logger.With(slog.String("component", "engine")),
		bars:        bars.NewSet(cfg.Retention),
		instruments: make(map[string]*instrument),
	}
	if len(cfg.Symbols) > 0 {
		e.allowed = make(map[string]bool, len(cfg.Symbols))
		for _, s := range cfg.Symbols {
			e.allowed[normalize(s)] = true
		}
	}
	return e, nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Tracker returns the engine's position tracker.
func (e *Engine) Tracker() *position.Tracker { return e.deps.Tracker }

// Bars returns the engine's bar buffers.
func (e *Engine) Bars() *bars.Set { return e.bars }

// Snapshot returns the latest ready snapshot of symbol.
func (e *Engine) Snapshot(symbol string) (indicator.Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instruments[normalize(symbol)]
	if !ok || !inst.ready {
		return indicator.Snapshot{}, false
	}
	return inst.last, true
}

// state returns the instrument state, creating it on first use.
// Caller holds e.mu.
func (e *Engine) state(symbol string) (*instrument, error) {
	if e.allowed != nil && !e.allowed[symbol] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	inst, ok := e.instruments[symbol]
	if !ok {
		inst = &instrument{series: e.bank.NewSeries()}
		e.instruments[symbol] = inst
	}
	return inst, nil
}

// ingest appends bar and updates the series. Caller holds e.mu.
func (e *Engine) ingest(symbol string, bar model.Bar) (*instrument, error) {
	inst, err := e.state(symbol)
	if err != nil {
		return nil, err
	}
	if err := e.bars.Append(symbol, bar); err != nil {
		if errors.Is(err, bars.ErrOutOfOrder) && e.Hooks.OnOutOfOrder != nil {
			e.Hooks.OnOutOfOrder(symbol)
		}
		return nil, err
	}
	inst.series.Update(bar.Close)
	if snap, err := inst.series.Snapshot(); err == nil {
		inst.last = snap
		inst.ready = true
	}
	return inst, nil
}

// Warm preloads history for symbol without evaluating rules or placing
// orders. Bars that are not newer than what is already buffered are skipped.
// Returns the number of bars ingested.
func (e *Engine) Warm(symbol string, history []model.Bar) (int, error) {
	symbol = normalize(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, b := range history {
		_, err := e.ingest(symbol, b)
		if errors.Is(err, bars.ErrOutOfOrder) || errors.Is(err, bars.ErrInvalidBar) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// OnBar runs one cycle for ev.
//
// Bar errors (out of order, invalid, unknown symbol) are returned before any
// collaborator is called. A failing clock or position query drops the cycle
// and returns a *model.CollaboratorError. Failed orders are returned joined;
// the other decisions of the cycle are still dispatched.
func (e *Engine) OnBar(ctx context.Context, ev model.BarEvent) (Outcome, error) {
	start := time.Now()
	symbol := normalize(ev.Symbol)
	out := Outcome{Symbol: symbol, Bar: ev.Bar}
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(symbol, ev.Bar.TS))

	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if e.Hooks.OnBarProcessed != nil {
			e.Hooks.OnBarProcessed(symbol, time.Since(start))
		}
	}()

	inst, err := e.ingest(symbol, ev.Bar)
	if err != nil {
		return out, err
	}
	if e.deps.Marker != nil {
		e.deps.Marker.Mark(symbol, ev.Bar.Close, ev.Bar.TS)
	}
	if !inst.ready {
		return out, nil
	}
	out.Ready = true
	out.Snapshot = inst.last

	if e.Hooks.OnSnapshot != nil {
		e.Hooks.OnSnapshot(symbol, ev.Bar.TS, inst.last)
	}
	if e.deps.Publisher != nil {
		if err := e.deps.Publisher.PublishSnapshot(ctx, symbol, ev.Bar.TS, inst.last); err != nil {
			e.log.Warn("publish snapshot failed", "symbol", symbol, "error", err)
		}
	}

	open, err := e.deps.Clock.IsOpen(ctx)
	if err != nil {
		return out, e.collaboratorFailure("clock", "is_open", symbol, err)
	}
	out.MarketOpen = open
	if !open {
		e.log.Debug("market closed, skipping evaluation", "symbol", symbol)
		return out, nil
	}

	positions, err := e.deps.Positions.ListOpenPositions(ctx)
	if err != nil {
		return out, e.collaboratorFailure("positions", "list", symbol, err)
	}
	e.deps.Tracker.Sync(positions)

	// Rules run one at a time: each sees the position left by the previous
	// accepted order.
	long := e.deps.Tracker.IsOpen(symbol)
	out.Evaluated = true

	var errs []error
	e.deps.Evaluator.Walk(inst.last, func() bool { return long }, func(dec strategy.Decision) {
		out.Decisions = append(out.Decisions, dec)
		if e.Hooks.OnDecision != nil {
			e.Hooks.OnDecision(symbol, dec)
		}
		if e.deps.Publisher != nil {
			if err := e.deps.Publisher.PublishDecision(ctx, symbol, ev.Bar.TS, dec); err != nil {
				e.log.Warn("publish decision failed", "symbol", symbol, "error", err)
			}
		}

		e.log.Info("signal", append([]any{
			"symbol", symbol, "action", dec.Action.String(), "rule", dec.Rule,
			"reason", dec.Reason, "close", ev.Bar.Close}, logger.LogWithTrace(ctx)...)...)

		conf, err := e.deps.Dispatcher.Dispatch(ctx, symbol, dec)
		if err != nil {
			if e.Hooks.OnCollaboratorError != nil {
				e.Hooks.OnCollaboratorError("orders", err)
			}
			e.log.Error("order failed", append([]any{
				"symbol", symbol, "action", dec.Action.String(), "error", err}, logger.LogWithTrace(ctx)...)...)
			errs = append(errs, err)
			return
		}
		long = dec.Action == strategy.Buy
		// The dispatcher may already share this tracker.
		if e.deps.Tracker.IsOpen(symbol) != long {
			e.deps.Tracker.Apply(conf)
		}
		if e.Hooks.OnOrder != nil {
			e.Hooks.OnOrder(conf)
		}
		out.Orders = append(out.Orders, conf)
	})
	return out, errors.Join(errs...)
}

func (e *Engine) collaboratorFailure(collaborator, op, symbol string, err error) error {
	if !errors.Is(err, model.ErrCollaboratorUnavailable) {
		err = model.NewCollaboratorError(collaborator, op, err)
	}
	if e.Hooks.OnCollaboratorError != nil {
		e.Hooks.OnCollaboratorError(collaborator, err)
	}
	e.log.Warn("collaborator failed, cycle dropped",
		"collaborator", collaborator, "symbol", symbol, "error", err)
	return err
}

// Run processes events sequentially until ctx is cancelled or barCh is
// closed. Errors are logged per instrument and never stop the loop.
func (e *Engine) Run(ctx context.Context, barCh <-chan model.BarEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-barCh:
			if !ok {
				return
			}
			if _, err := e.OnBar(ctx, ev); err != nil {
				switch {
				case errors.Is(err, bars.ErrOutOfOrder), errors.Is(err, bars.ErrInvalidBar), errors.Is(err, ErrUnknownSymbol):
					e.log.Warn("bar rejected", "symbol", ev.Symbol, "error", err)
				case errors.Is(err, model.ErrCollaboratorUnavailable):
					// already logged
				default:
					e.log.Error("bar cycle failed", "symbol", ev.Symbol, "error", err)
				}
			}
		}
	}
}
