// Package backtest replays historical bars through a strategy against the
// paper broker and reports what it would have traded.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	"signalbot/internal/engine"
	"signalbot/internal/execution"
	"signalbot/internal/indicator"
	"signalbot/internal/marketdata/replay"
	"signalbot/internal/model"
	"signalbot/internal/position"
	"signalbot/internal/strategy"
)

// Strategy names.
const (
	StrategySMA    = "sma"    // SMA fast/slow crossover
	StrategySignal = "signal" // the live bot's indicator rules
)

// Config describes one backtest run.
type Config struct {
	Symbols  []string
	From, To time.Time
	Strategy string

	// sma
	Short, Long int

	// signal
	Indicators indicator.Config
	Policy     strategy.Policy
	Rules      []strategy.Rule

	Qty         int64
	SlippageBps float64

	// Speed is the replay multiplier; 0 replays as fast as possible.
	Speed float64

	// OnDecision is called for every non-Hold decision (optional).
	OnDecision func(ev model.BarEvent, dec strategy.Decision)

	// OnProgress is called every ProgressEvery replayed bars (optional).
	ProgressEvery int
	OnProgress    func(replayed int, last model.BarEvent)
}

// Report summarizes a run.
type Report struct {
	Bars      int
	Decisions map[strategy.Action]int
	Fills     []execution.Fill
	Failed    int
	Open      []position.Position
	Started   time.Time
	Elapsed   time.Duration
}

// Run replays bars from feed and trades them through the paper broker.
func Run(ctx context.Context, feed model.HistoricalFeed, cfg Config) (Report, error) {
	if len(cfg.Symbols) == 0 {
		return Report{}, errors.New("backtest: no symbols")
	}
	if !cfg.To.After(cfg.From) {
		return Report{}, fmt.Errorf("backtest: empty range %s..%s", cfg.From.Format("2006-01-02"), cfg.To.Format("2006-01-02"))
	}
	if cfg.Qty <= 0 {
		cfg.Qty = 10
	}

	// nil clock: every replayed bar is inside the session
	paper := execution.NewPaperBroker(nil, cfg.SlippageBps)
	tracker := position.NewTracker()
	dispatcher := execution.NewDispatcher(paper, tracker, execution.DispatcherConfig{Qty: cfg.Qty})

	step, err := newStepper(cfg, paper, tracker, dispatcher)
	if err != nil {
		return Report{}, err
	}

	report := Report{Decisions: make(map[strategy.Action]int), Started: time.Now()}
	barCh := make(chan model.BarEvent, 1024)
	replayErr := make(chan error, 1)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	replayer := replay.New(feed)
	if cfg.OnProgress != nil && cfg.ProgressEvery > 0 {
		replayed := 0
		replayer.OnBar = func(ev model.BarEvent) {
			replayed++
			if replayed%cfg.ProgressEvery == 0 {
				cfg.OnProgress(replayed, ev)
			}
		}
	}
	go func() {
		_, err := replayer.Run(ctx, cfg.Symbols, cfg.From, cfg.To, cfg.Speed, barCh)
		close(barCh)
		replayErr <- err
	}()

	for ev := range barCh {
		report.Bars++
		decisions, failed := step(ctx, ev)
		report.Failed += failed
		for _, dec := range decisions {
			report.Decisions[dec.Action]++
			if cfg.OnDecision != nil {
				cfg.OnDecision(ev, dec)
			}
		}
	}
	if err := <-replayErr; err != nil {
		return report, err
	}

	report.Fills = paper.GetFills()
	report.Open = tracker.Snapshot()
	report.Elapsed = time.Since(report.Started)
	return report, nil
}

// stepper processes one bar and returns the decisions it produced and how
// many orders failed.
type stepper func(ctx context.Context, ev model.BarEvent) ([]strategy.Decision, int)

func newStepper(cfg Config, paper *execution.PaperBroker, tracker *position.Tracker, d *execution.Dispatcher) (stepper, error) {
	switch strings.ToLower(cfg.Strategy) {
	case "", StrategySMA:
		return smaStepper(cfg, paper, tracker, d)
	case StrategySignal:
		return signalStepper(cfg, paper, tracker, d)
	}
	return nil, fmt.Errorf("backtest: unknown strategy %q", cfg.Strategy)
}

func smaStepper(cfg Config, paper *execution.PaperBroker, tracker *position.Tracker, d *execution.Dispatcher) (stepper, error) {
	short, long := cfg.Short, cfg.Long
	if short == 0 && long == 0 {
		short, long = 50, 200
	}
	crossers := make(map[string]*strategy.SMACrossover, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		c, err := strategy.NewSMACrossover(short, long)
		if err != nil {
			return nil, err
		}
		crossers[strings.ToUpper(sym)] = c
	}

	return func(ctx context.Context, ev model.BarEvent) ([]strategy.Decision, int) {
		c, ok := crossers[ev.Symbol]
		if !ok {
			return nil, 0
		}
		paper.Mark(ev.Symbol, ev.Bar.Close, ev.Bar.TS)
		dec := c.OnBar(ev.Bar.Close, tracker.IsOpen(ev.Symbol))
		if dec.IsHold() {
			return nil, 0
		}
		if _, err := d.Dispatch(ctx, ev.Symbol, dec); err != nil {
			log.Printf("[backtest] %s %s failed: %v", ev.Symbol, dec.Action, err)
			return []strategy.Decision{dec}, 1
		}
		return []strategy.Decision{dec}, 0
	}, nil
}

func signalStepper(cfg Config, paper *execution.PaperBroker, tracker *position.Tracker, d *execution.Dispatcher) (stepper, error) {
	rules := cfg.Rules
	if len(rules) == 0 {
		var err error
		if rules, err = strategy.BuildRules(nil, strategy.DefaultThresholds()); err != nil {
			return nil, err
		}
	}
	ind := cfg.Indicators
	if ind == (indicator.Config{}) {
		ind = indicator.DefaultConfig()
	}

	eng, err := engine.New(engine.Config{Symbols: cfg.Symbols, Indicators: ind}, engine.Deps{
		Clock:      paper,
		Positions:  paper,
		Dispatcher: d,
		Evaluator:  strategy.NewEvaluator(cfg.Policy, rules...),
		Tracker:    tracker,
		Marker:     paper,
		Logger:     slog.Default(),
	})
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, ev model.BarEvent) ([]strategy.Decision, int) {
		out, err := eng.OnBar(ctx, ev)
		failed := 0
		if err != nil {
			log.Printf("[backtest] %s at %s: %v", ev.Symbol, ev.Bar.TS.Format("2006-01-02"), err)
			failed = len(out.Decisions) - len(out.Orders)
		}
		return out.Decisions, failed
	}, nil
}
