package indicator

import (
	"testing"

	talib "github.com/markcheno/go-talib"
)

// Cross-checks against TA-Lib, the reference the original bot used for RSI.

func TestRSI_MatchesTALib(t *testing.T) {
	closes := wave(150)
	const period = 14
	want := talib.Rsi(closes, period)

	rsi := NewRSI(period)
	for i, c := range closes {
		rsi.Update(c)
		if i < period {
			if rsi.Ready() {
				t.Fatalf("close %d: ready before talib produces a value", i)
			}
			continue
		}
		assertClose(t, "RSI vs talib", rsi.Value(), want[i], 1e-6)
	}
}

func TestSMA_MatchesTALib(t *testing.T) {
	closes := wave(120)
	for _, period := range []int{5, 20, 50} {
		want := talib.Sma(closes, period)
		sma := NewSMA(period)
		for i, c := range closes {
			sma.Update(c)
			if i >= period-1 {
				assertClose(t, "SMA vs talib", sma.Value(), want[i], 1e-9)
			}
		}
	}
}
