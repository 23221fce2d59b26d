package redis

import (
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"signalbot/internal/indicator"
	"signalbot/internal/strategy"
)

func TestDecodeSnapshot_ReadsWhatIsPublished(t *testing.T) {
	snap := indicator.Snapshot{EMAShort: 101.5, EMALong: 99.25, RSI: 64.2, MACD: 0.4, MACDSignal: 0.3, Samples: 120}
	m := snapshotMessage("AAPL", ts, snap)

	got, err := decodeSnapshot(m.Data)
	if err != nil {
		t.Fatalf("decodeSnapshot: %v", err)
	}
	if got.Symbol != "AAPL" || got.TS != ts.UnixMilli() {
		t.Errorf("header = %s@%d", got.Symbol, got.TS)
	}
	if got.Data != snap {
		t.Errorf("data = %+v, want %+v", got.Data, snap)
	}

	if _, err := decodeSnapshot("{not json"); err == nil {
		t.Error("expected error for a corrupt value")
	}
}

func TestDecodeSignals_NewestFirstSkipsJunk(t *testing.T) {
	sell := signalMessage("AAPL", ts, strategy.Decision{Action: strategy.Sell, Rule: "rsi", Reason: "RSI 75.00 > 70"})
	buy := signalMessage("AAPL", ts.Add(-5 * time.Minute), strategy.Decision{Action: strategy.Buy, Rule: "macd", Reason: "MACD 0.20 > signal 0.10"})

	// XREVRANGE order: newest first.
	msgs := []goredis.XMessage{
		{ID: "2-0", Values: map[string]interface{}{"data": sell.Data}},
		{ID: "1-5", Values: map[string]interface{}{"other": "x"}},
		{ID: "1-1", Values: map[string]interface{}{"data": "garbage"}},
		{ID: "1-0", Values: map[string]interface{}{"data": buy.Data}},
	}
	got := decodeSignals(msgs)
	if len(got) != 2 {
		t.Fatalf("expected 2 signals, got %d: %+v", len(got), got)
	}
	if got[0].Action != strategy.Sell || got[0].Rule != "rsi" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Action != strategy.Buy || got[1].TS != ts.Add(-5 * time.Minute).UnixMilli() {
		t.Errorf("second = %+v", got[1])
	}
}
