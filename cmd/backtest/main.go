// cmd/backtest replays historical daily bars through a strategy against the
// paper broker to see what it would have traded.
//
// Usage:
//
//	go run ./cmd/backtest -symbols=AAPL -from=2021-01-01 -to=2022-01-01 -strategy=sma -short=50 -long=200
//	go run ./cmd/backtest -source=sqlite -db=data/bars.db -strategy=signal
//
// The alpaca source reads ALPACA_API_KEY and ALPACA_SECRET_KEY from the
// environment or a .env file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"signalbot/internal/backtest"
	alpacabroker "signalbot/internal/broker/alpaca"
	"signalbot/internal/model"
	sqlitestore "signalbot/internal/store/sqlite"
	"signalbot/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	godotenv.Load()

	source := flag.String("source", "alpaca", "Bar source: alpaca (daily bars) or sqlite")
	dbPath := flag.String("db", "data/bars.db", "Path to SQLite database (source=sqlite)")
	symbolsStr := flag.String("symbols", "AAPL", "Comma-separated symbols")
	fromStr := flag.String("from", "2021-01-01", "Start date (YYYY-MM-DD)")
	toStr := flag.String("to", "2022-01-01", "End date (YYYY-MM-DD)")
	strat := flag.String("strategy", backtest.StrategySMA, "Strategy: sma or signal")
	short := flag.Int("short", 50, "Fast SMA period (strategy=sma)")
	long := flag.Int("long", 200, "Slow SMA period (strategy=sma)")
	policyStr := flag.String("policy", "first_match", "Signal policy: first_match or allow_both (strategy=signal)")
	qty := flag.Int64("qty", 10, "Shares per order")
	slippage := flag.Float64("slippage", 0, "Paper fill slippage in basis points")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max)")
	verbose := flag.Bool("v", false, "Print every decision")
	flag.Parse()

	from, err := time.Parse("2006-01-02", *fromStr)
	if err != nil {
		log.Fatalf("[backtest] bad -from: %v", err)
	}
	to, err := time.Parse("2006-01-02", *toStr)
	if err != nil {
		log.Fatalf("[backtest] bad -to: %v", err)
	}
	policy, err := strategy.ParsePolicy(*policyStr)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	var feed model.HistoricalFeed
	switch *source {
	case "sqlite":
		reader, err := sqlitestore.NewReader(*dbPath)
		if err != nil {
			log.Fatalf("[backtest] sqlite open failed: %v", err)
		}
		defer reader.Close()
		feed = reader
	case "alpaca":
		key, secret := os.Getenv("ALPACA_API_KEY"), os.Getenv("ALPACA_SECRET_KEY")
		if key == "" || secret == "" {
			log.Fatal("[backtest] ALPACA_API_KEY and ALPACA_SECRET_KEY are required for -source=alpaca")
		}
		feed = alpacabroker.NewHistory(alpacabroker.Config{APIKey: key, APISecret: secret}, nil)
	default:
		log.Fatalf("[backtest] unknown source %q", *source)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var symbols []string
	for _, s := range strings.Split(*symbolsStr, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}

	report, err := backtest.Run(ctx, feed, backtest.Config{
		Symbols:     symbols,
		From:        from,
		To:          to,
		Strategy:    *strat,
		Short:       *short,
		Long:        *long,
		Policy:      policy,
		Qty:         *qty,
		SlippageBps: *slippage,
		Speed:       *speed,
		OnDecision: func(ev model.BarEvent, dec strategy.Decision) {
			if *verbose {
				fmt.Printf("  [%s] %-5s %-4s %-12s %s\n",
					ev.Bar.TS.Format("2006-01-02"), ev.Symbol, dec.Action, dec.Rule, dec.Reason)
			}
		},
		ProgressEvery: 5000,
		OnProgress: func(replayed int, last model.BarEvent) {
			log.Printf("[backtest] %d bars replayed (at %s)", replayed, last.Bar.TS.Format("2006-01-02 15:04"))
		},
	})
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Strategy:          %-16s ║\n", *strat)
	fmt.Printf("║  Bars processed:    %-16d ║\n", report.Bars)
	fmt.Printf("║  Buy signals:       %-16d ║\n", report.Decisions[strategy.Buy])
	fmt.Printf("║  Sell signals:      %-16d ║\n", report.Decisions[strategy.Sell])
	fmt.Printf("║  Fills:             %-16d ║\n", len(report.Fills))
	fmt.Printf("║  Failed orders:     %-16d ║\n", report.Failed)
	fmt.Printf("║  Elapsed:           %-16s ║\n", report.Elapsed.Round(time.Millisecond))
	fmt.Println("╚══════════════════════════════════════╝")

	for _, f := range report.Fills {
		fmt.Printf("  %s %-4s %-5s %4d @ %.2f\n", f.FilledAt.Format("2006-01-02"), f.Side, f.Symbol, f.Qty, f.FillPrice)
	}
	for _, p := range report.Open {
		fmt.Printf("  open: %s %d\n", p.Symbol, p.Qty)
	}
}
