// cmd/bot is the live signal bot: it streams minute bars, computes
// indicators per symbol and places market orders when a rule fires.
//
// Configuration comes from the environment, a .env file and an optional
// YAML file named by CONFIG_FILE (see package config).
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"signalbot/config"
	"signalbot/internal/breaker"
	alpacabroker "signalbot/internal/broker/alpaca"
	"signalbot/internal/engine"
	"signalbot/internal/execution"
	"signalbot/internal/indicator"
	"signalbot/internal/logger"
	"signalbot/internal/marketdata/bus"
	"signalbot/internal/marketdata/stream"
	"signalbot/internal/markethours"
	"signalbot/internal/metrics"
	"signalbot/internal/model"
	"signalbot/internal/notification"
	"signalbot/internal/position"
	redisstore "signalbot/internal/store/redis"
	sqlitestore "signalbot/internal/store/sqlite"
	"signalbot/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[bot] starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[bot] config: %v", err)
	}
	slogger := logger.Init("signalbot", logger.ParseLevel(cfg.LogLevel))
	symbols := cfg.NormalizedSymbols()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetSymbols(symbols)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, nil)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite bar store ----
	for _, p := range []string{cfg.SQLitePath, cfg.JournalPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			log.Fatalf("[bot] data dir for %s: %v", p, err)
		}
	}
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[bot] sqlite init failed: %v", err)
	}
	defer sqlWriter.Close()
	sqlWriter.OnCommit = func(int, time.Duration) { prom.SQLiteBatches.Inc() }
	health.SetSQLiteOK(true)

	// ---- Order journal ----
	journal, err := execution.NewJournal(cfg.JournalPath)
	if err != nil {
		log.Fatalf("[bot] journal init failed: %v", err)
	}
	defer journal.Close()

	// ---- Notifications ----
	notifier := notification.Multi{notification.NewLogNotifier()}
	if cfg.NotifyWebhookURL != "" {
		notifier = append(notifier, notification.NewWebhookNotifier(cfg.NotifyWebhookURL))
	}
	if cfg.NotifyTelegramToken != "" && cfg.NotifyTelegramChat != "" {
		notifier = append(notifier, notification.NewTelegramNotifier(cfg.NotifyTelegramToken, cfg.NotifyTelegramChat))
	}

	// ---- Broker: clock, positions, orders ----
	var (
		clock  model.Clock
		posQ   model.PositionQuery
		orders model.OrderExecutor
		marker engine.PriceMarker
	)
	switch cfg.Broker {
	case config.BrokerPaper:
		paper := execution.NewPaperBroker(&markethours.Clock{}, cfg.PaperSlippageBps)
		clock, posQ, orders, marker = paper, paper, paper, paper
		log.Printf("[bot] paper broker (slippage %.1f bps, NYSE session clock)", cfg.PaperSlippageBps)
	default:
		cb := breaker.New("alpaca", 5, 30*time.Second)
		observe := prom.ObserveBreaker()
		cb.OnStateChange = func(name string, from, to breaker.State) {
			observe(name, from, to)
			health.SetBrokerOK(to != breaker.StateOpen)
		}
		alp := alpacabroker.NewBroker(alpacabroker.Config{
			APIKey:    cfg.AlpacaAPIKey,
			APISecret: cfg.AlpacaSecretKey,
			BaseURL:   cfg.AlpacaBaseURL,
		}, cb)
		clock, posQ, orders = alp, alp, alp
		log.Printf("[bot] alpaca broker at %s", cfg.AlpacaBaseURL)
	}

	tracker := position.NewTracker()
	dispatcher := execution.NewDispatcher(orders, tracker, execution.DispatcherConfig{
		Qty:         cfg.OrderQty,
		TimeInForce: model.TimeInForce(cfg.TimeInForce),
	}).WithJournal(journal).WithNotifier(notifier)

	// ---- Redis publisher (optional) ----
	var publisher engine.Publisher
	var redisPub *redisstore.Publisher
	if cfg.RedisAddr != "" {
		health.SetRedisEnabled(true)
		redisPub, err = redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			log.Printf("[bot] WARNING: redis init failed: %v (continuing without redis)", err)
		} else {
			defer redisPub.Close()
			health.SetRedisConnected(true)
			cb := breaker.New("redis", 5, 10*time.Second)
			cb.OnStateChange = prom.ObserveBreaker()
			buffered := redisstore.NewBufferedPublisher(ctx, redisPub, cb, 10000)
			buffered.OnBuffer = prom.RedisBufferedWrites.Inc
			buffered.OnFlush = func(n int) { prom.RedisFlushedWrites.Add(float64(n)) }
			publisher = buffered
			log.Printf("[bot] publishing snapshots and signals to redis at %s", cfg.RedisAddr)
			lastPublished(ctx, redisPub, symbols)
		}
	}

	if redisPub != nil {
		health.StartLivenessChecker(ctx, redisPub.Client(), sqlWriter.DB(), cfg.ProbeInterval)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), cfg.ProbeInterval)
	}

	// ---- Engine ----
	rules, err := cfg.Rules()
	if err != nil {
		log.Fatalf("[bot] rules: %v", err)
	}
	eng, err := engine.New(engine.Config{
		Symbols:    symbols,
		Indicators: cfg.Indicators,
		Retention:  cfg.BarRetention,
	}, engine.Deps{
		Clock:      clock,
		Positions:  posQ,
		Dispatcher: dispatcher,
		Evaluator:  strategy.NewEvaluator(cfg.Policy(), rules...),
		Tracker:    tracker,
		Publisher:  publisher,
		Marker:     marker,
		Logger:     slogger,
	})
	if err != nil {
		log.Fatalf("[bot] engine init failed: %v", err)
	}
	instrument(eng, prom, sqlWriter)

	// Alpaca minute bars fill in when the local store is short.
	var fallback model.HistoricalFeed
	if cfg.AlpacaAPIKey != "" && cfg.AlpacaSecretKey != "" {
		cb := breaker.New("alpaca-data", 5, 30*time.Second)
		cb.OnStateChange = prom.ObserveBreaker()
		fallback = alpacabroker.NewHistory(alpacabroker.Config{
			APIKey:    cfg.AlpacaAPIKey,
			APISecret: cfg.AlpacaSecretKey,
		}, cb).WithTimeFrame(marketdata.OneMin)
	}
	warmStart(ctx, eng, symbols, cfg.Indicators, cfg.SQLitePath, fallback)

	// ---- Pipeline: stream → fan-out → (engine, sqlite) ----
	feedCh := make(chan model.BarEvent, 1000)
	fanout := bus.New(1000)
	fanout.OnDrop = func(subscriber string, _ model.BarEvent) {
		prom.BarsDropped.WithLabelValues(subscriber).Inc()
	}
	engineCh := fanout.Subscribe("engine")
	sqliteCh := fanout.Subscribe("sqlite")
	go fanout.Run(ctx, feedCh)
	go sqlWriter.Run(ctx, sqliteCh)
	go eng.Run(ctx, engineCh)

	feed, err := stream.New(stream.Config{
		URL:       cfg.StreamURL,
		KeyID:     cfg.AlpacaAPIKey,
		SecretKey: cfg.AlpacaSecretKey,
		Symbols:   symbols,
	})
	if err != nil {
		log.Fatalf("[bot] stream init failed: %v", err)
	}
	feed.OnConnect = func() {
		health.SetWSConnected(true)
		prom.WSConnected.Set(1)
	}
	feed.OnDisconnect = func(error) {
		health.SetWSConnected(false)
		prom.WSConnected.Set(0)
		prom.WSReconnects.Inc()
	}
	feed.OnBar = func(ev model.BarEvent) {
		prom.BarsReceived.WithLabelValues(ev.Symbol).Inc()
		prom.LastClose.WithLabelValues(ev.Symbol).Set(ev.Bar.Close)
		prom.BarLag.Set(time.Since(ev.Bar.TS).Seconds())
		health.SetLastBarTime(ev.Bar.TS)
	}
	feed.OnDrop = func(model.BarEvent) { prom.BarsDropped.WithLabelValues("stream").Inc() }

	feedErr := make(chan error, 1)
	go func() { feedErr <- feed.Run(ctx, feedCh) }()

	log.Printf("[bot] running: symbols=%v policy=%s rules=%v qty=%d stream=%s",
		symbols, cfg.Policy(), cfg.RuleOrder, cfg.OrderQty, cfg.StreamURL)
	go sessionStatus(ctx, prom)

	// ---- Wait for shutdown ----
	exitCode := 0
	select {
	case <-sigCh:
		log.Println("[bot] shutdown signal received, cleaning up...")
	case err := <-feedErr:
		if errors.Is(err, stream.ErrUnauthorized) {
			log.Printf("[bot] stream rejected credentials: %v", err)
			exitCode = 1
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	select {
	case <-sqlWriter.Done():
	case <-shutdownCtx.Done():
		log.Println("[bot] WARNING: sqlite writer did not finish its last batch")
	}
	log.Println("[bot] shutdown complete.")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// instrument wires engine hooks to metrics and persists snapshots.
func instrument(eng *engine.Engine, prom *metrics.Metrics, store *sqlitestore.Writer) {
	tracker := eng.Tracker()
	eng.Hooks = engine.Hooks{
		OnBarProcessed: func(symbol string, d time.Duration) {
			prom.BarCycleDur.Observe(d.Seconds())
		},
		OnSnapshot: func(symbol string, ts time.Time, snap indicator.Snapshot) {
			prom.IndicatorsReady.WithLabelValues(symbol).Set(1)
			if err := store.SaveSnapshot(symbol, ts, snap); err != nil {
				log.Printf("[bot] save snapshot %s: %v", symbol, err)
			}
		},
		OnDecision: func(symbol string, dec strategy.Decision) {
			prom.SignalsTotal.WithLabelValues(dec.Action.String(), dec.Rule).Inc()
		},
		OnOrder: func(conf model.OrderConfirmation) {
			prom.OrdersTotal.WithLabelValues(string(conf.Side)).Inc()
			prom.OpenPositions.Set(float64(len(tracker.Snapshot())))
		},
		OnCollaboratorError: func(collaborator string, err error) {
			prom.CollaboratorErrors.WithLabelValues(collaborator).Inc()
			if collaborator == "orders" {
				prom.OrderFailures.Inc()
			}
		},
		OnOutOfOrder: func(symbol string) {
			prom.BarsRejected.WithLabelValues("out_of_order").Inc()
		},
	}
}

// warmStart replays the most recent stored bars into the engine so
// indicators are ready on the first live bar after a restart. When the
// store holds fewer bars than needed and fallback is set, recent bars are
// fetched from it instead.
func warmStart(ctx context.Context, eng *engine.Engine, symbols []string, ind indicator.Config, dbPath string, fallback model.HistoricalFeed) {
	need := ind.LongWindow
	if need < ind.MACDSlow+ind.MACDSignal {
		need = ind.MACDSlow + ind.MACDSignal
	}
	need *= 2

	reader, err := sqlitestore.NewReader(dbPath)
	if err != nil {
		log.Printf("[bot] warm start: sqlite unavailable: %v", err)
		reader = nil
	} else {
		defer reader.Close()
	}

	for _, sym := range symbols {
		var history []model.Bar
		source := "sqlite"
		if reader != nil {
			history, err = reader.ReadRecent(ctx, sym, need)
			if err != nil {
				log.Printf("[bot] warm start %s: %v", sym, err)
			}
		}
		if len(history) < need && fallback != nil {
			// free data plans cannot query the last 15 minutes
			to := time.Now().Add(-15 * time.Minute)
			fetched, err := fallback.Bars(ctx, sym, to.AddDate(0, 0, -7), to)
			switch {
			case err != nil:
				log.Printf("[bot] warm start %s: alpaca history: %v", sym, err)
			case len(fetched) > len(history):
				if len(fetched) > need {
					fetched = fetched[len(fetched)-need:]
				}
				history, source = fetched, "alpaca"
			}
		}

		n, err := eng.Warm(sym, history)
		if err != nil {
			log.Printf("[bot] warm start %s: %v", sym, err)
			continue
		}
		if n > 0 {
			log.Printf("[bot] warm start %s: %d bars from %s", sym, n, source)
		}
	}
}

// lastPublished logs what the previous run left in Redis for each symbol.
func lastPublished(ctx context.Context, pub *redisstore.Publisher, symbols []string) {
	for _, sym := range symbols {
		snap, ok, err := pub.LatestSnapshot(ctx, sym)
		if err != nil {
			log.Printf("[bot] redis latest %s: %v", sym, err)
			continue
		}
		if !ok {
			continue
		}
		line := fmt.Sprintf("[bot] %s last snapshot at %s rsi=%.2f macd=%.4f",
			sym, time.UnixMilli(snap.TS).UTC().Format(time.RFC3339), snap.Data.RSI, snap.Data.MACD)
		if sigs, err := pub.RecentSignals(ctx, sym, 1); err == nil && len(sigs) > 0 {
			line += fmt.Sprintf(", last signal %s (%s)", sigs[0].Action, sigs[0].Reason)
		}
		log.Print(line)
	}
}

// sessionStatus logs NYSE session changes and tracks them in metrics.
func sessionStatus(ctx context.Context, prom *metrics.Metrics) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	wasOpen := false
	for first := true; ; first = false {
		now := time.Now()
		open := markethours.IsMarketOpen(now)
		if first || open != wasOpen {
			log.Printf("[bot] %s", markethours.StatusString(now))
		}
		wasOpen = open
		if open {
			prom.MarketState.Set(1)
		} else {
			prom.MarketState.Set(0)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
