package backtest

import (
	"context"
	"testing"
	"time"

	"signalbot/internal/indicator"
	"signalbot/internal/model"
	"signalbot/internal/strategy"
)

type sliceFeed map[string][]model.Bar

func (f sliceFeed) Bars(_ context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	var out []model.Bar
	for _, b := range f[symbol] {
		if !b.TS.Before(from) && !b.TS.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

var day0 = time.Date(2021, 1, 4, 21, 0, 0, 0, time.UTC)

func daily(closes ...float64) []model.Bar {
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		bars[i] = model.Bar{TS: day0.AddDate(0, 0, i), Close: c}
	}
	return bars
}

func TestRun_SMACrossover(t *testing.T) {
	feed := sliceFeed{"AAPL": daily(10, 10, 10, 10, 10, 11, 12, 13, 9, 8, 7, 6)}

	var seen []strategy.Action
	var progress []int
	report, err := Run(context.Background(), feed, Config{
		Symbols:  []string{"AAPL"},
		From:     day0,
		To:       day0.AddDate(1, 0, 0),
		Strategy: StrategySMA,
		Short:    3,
		Long:     5,
		OnDecision: func(_ model.BarEvent, dec strategy.Decision) {
			seen = append(seen, dec.Action)
		},
		ProgressEvery: 5,
		OnProgress: func(replayed int, _ model.BarEvent) {
			progress = append(progress, replayed)
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if report.Bars != 12 {
		t.Errorf("bars = %d, want 12", report.Bars)
	}
	if len(progress) != 2 || progress[0] != 5 || progress[1] != 10 {
		t.Errorf("progress = %v, want [5 10]", progress)
	}
	if len(seen) != 2 || seen[0] != strategy.Buy || seen[1] != strategy.Sell {
		t.Fatalf("decisions = %v, want [BUY SELL]", seen)
	}
	if len(report.Fills) != 2 {
		t.Fatalf("fills = %d, want 2", len(report.Fills))
	}
	if report.Fills[0].FillPrice != 11 || report.Fills[1].FillPrice != 8 {
		t.Errorf("fill prices = %v, %v", report.Fills[0].FillPrice, report.Fills[1].FillPrice)
	}
	if report.Fills[0].Qty != 10 {
		t.Errorf("default qty = %d, want 10", report.Fills[0].Qty)
	}
	if len(report.Open) != 0 {
		t.Errorf("expected flat book, got %+v", report.Open)
	}
}

func TestRun_SignalRules(t *testing.T) {
	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = 100 - float64(i)
	}
	rules, err := strategy.BuildRules([]string{"rsi"}, strategy.DefaultThresholds())
	if err != nil {
		t.Fatal(err)
	}

	report, err := Run(context.Background(), sliceFeed{"MSFT": daily(closes...)}, Config{
		Symbols:    []string{"MSFT"},
		From:       day0,
		To:         day0.AddDate(0, 1, 0),
		Strategy:   StrategySignal,
		Indicators: indicator.Config{ShortWindow: 2, LongWindow: 5, RSIPeriod: 3, MACDFast: 2, MACDSlow: 4, MACDSignal: 2},
		Rules:      rules,
		Qty:        3,
	})
	if err != nil {
		t.Fatal(err)
	}

	if report.Decisions[strategy.Buy] != 1 || report.Decisions[strategy.Sell] != 0 {
		t.Errorf("decisions = %v", report.Decisions)
	}
	if len(report.Fills) != 1 || report.Fills[0].FillPrice != 96 {
		t.Fatalf("fills = %+v, want one buy at 96", report.Fills)
	}
	if len(report.Open) != 1 || report.Open[0].Symbol != "MSFT" || report.Open[0].Qty != 3 {
		t.Errorf("open = %+v", report.Open)
	}
}

func TestRun_Validation(t *testing.T) {
	feed := sliceFeed{}
	ctx := context.Background()

	if _, err := Run(ctx, feed, Config{From: day0, To: day0.AddDate(0, 0, 1)}); err == nil {
		t.Error("expected error for no symbols")
	}
	if _, err := Run(ctx, feed, Config{Symbols: []string{"AAPL"}, From: day0, To: day0}); err == nil {
		t.Error("expected error for empty range")
	}
	if _, err := Run(ctx, feed, Config{Symbols: []string{"AAPL"}, From: day0, To: day0.AddDate(0, 0, 1), Strategy: "momentum"}); err == nil {
		t.Error("expected error for unknown strategy")
	}
	if _, err := Run(ctx, feed, Config{Symbols: []string{"AAPL"}, From: day0, To: day0.AddDate(0, 0, 1), Short: 200, Long: 50}); err == nil {
		t.Error("expected error for short >= long")
	}
}
