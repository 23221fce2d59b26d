package strategy

import (
	"fmt"

	"signalbot/internal/indicator"
)

// SMACrossover is the backtest strategy: a fast and a slow simple moving
// average over daily closes.
//
// Buy signal: fast SMA above slow SMA while flat.
// Sell signal: fast SMA below slow SMA while long.
//
// Nothing is emitted until the slow SMA has a full window.
type SMACrossover struct {
	name string
	fast *indicator.SMA
	slow *indicator.SMA
}

// NewSMACrossover creates a crossover strategy.
// fastPeriod < slowPeriod (e.g., 50 and 200).
func NewSMACrossover(fastPeriod, slowPeriod int) (*SMACrossover, error) {
	if fastPeriod <= 0 || slowPeriod <= 0 || fastPeriod >= slowPeriod {
		return nil, fmt.Errorf("strategy: invalid sma periods fast=%d slow=%d", fastPeriod, slowPeriod)
	}
	return &SMACrossover{
		name: "sma_crossover",
		fast: indicator.NewSMA(fastPeriod),
		slow: indicator.NewSMA(slowPeriod),
	}, nil
}

func (s *SMACrossover) Name() string {
	return s.name
}

// Values returns the current fast and slow averages and whether both are ready.
func (s *SMACrossover) Values() (fast, slow float64, ready bool) {
	return s.fast.Value(), s.slow.Value(), s.slow.Ready()
}

// OnBar feeds one close and returns the decision for the current position.
func (s *SMACrossover) OnBar(close float64, isLongOpen bool) Decision {
	s.fast.Update(close)
	s.slow.Update(close)

	if !s.slow.Ready() {
		return Decision{}
	}

	fast, slow := s.fast.Value(), s.slow.Value()
	if fast > slow && !isLongOpen {
		return Decision{
			Action: Buy,
			Rule:   s.name,
			Reason: fmt.Sprintf("SMA fast %.2f > slow %.2f", fast, slow),
		}
	}
	if fast < slow && isLongOpen {
		return Decision{
			Action: Sell,
			Rule:   s.name,
			Reason: fmt.Sprintf("SMA fast %.2f < slow %.2f", fast, slow),
		}
	}
	return Decision{}
}
