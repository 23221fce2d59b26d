package indicator

import (
	"errors"
	"fmt"
)

// ErrInsufficientData means the series has not yet seen enough closes to
// produce a snapshot. It is a "not ready" state, not a failure.
var ErrInsufficientData = errors.New("indicator: insufficient data")

// Config holds the indicator windows. The engine never hardcodes a window
// pair; the live bot and the backtester pass their own.
type Config struct {
	ShortWindow int `yaml:"short_window"`
	LongWindow  int `yaml:"long_window"` // also the readiness threshold
	RSIPeriod   int `yaml:"rsi_period"`
	MACDFast    int `yaml:"macd_fast"`
	MACDSlow    int `yaml:"macd_slow"`
	MACDSignal  int `yaml:"macd_signal"`
}

// DefaultConfig returns the live bot defaults: EMA 20/50, RSI 14, MACD 12/26/9.
func DefaultConfig() Config {
	return Config{
		ShortWindow: 20,
		LongWindow:  50,
		RSIPeriod:   14,
		MACDFast:    12,
		MACDSlow:    26,
		MACDSignal:  9,
	}
}

// Validate checks that every window is usable.
func (c Config) Validate() error {
	switch {
	case c.ShortWindow <= 0 || c.LongWindow <= 0:
		return fmt.Errorf("indicator: windows must be positive (short=%d long=%d)", c.ShortWindow, c.LongWindow)
	case c.RSIPeriod < 2:
		return fmt.Errorf("indicator: rsi period must be >= 2, got %d", c.RSIPeriod)
	case c.MACDFast <= 0 || c.MACDSlow <= 0 || c.MACDSignal <= 0:
		return fmt.Errorf("indicator: macd periods must be positive (%d/%d/%d)", c.MACDFast, c.MACDSlow, c.MACDSignal)
	case c.MACDFast >= c.MACDSlow:
		return fmt.Errorf("indicator: macd fast (%d) must be below slow (%d)", c.MACDFast, c.MACDSlow)
	}
	return nil
}

// Series is the incremental indicator state of a single instrument.
// Not safe for concurrent use.
type Series struct {
	cfg      Config
	emaShort *EMA
	emaLong  *EMA
	rsi      *RSI
	macd     *MACD
	count    int
}

// NewSeries creates an empty series for cfg.
func NewSeries(cfg Config) *Series {
	return &Series{
		cfg:      cfg,
		emaShort: NewEMA(cfg.ShortWindow),
		emaLong:  NewEMA(cfg.LongWindow),
		rsi:      NewRSI(cfg.RSIPeriod),
		macd:     NewMACD(cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal),
	}
}

// Update feeds one close into every indicator.
func (s *Series) Update(close float64) {
	s.emaShort.Update(close)
	s.emaLong.Update(close)
	s.rsi.Update(close)
	s.macd.Update(close)
	s.count++
}

// Count returns the number of closes fed so far.
func (s *Series) Count() int { return s.count }

// Ready reports whether Snapshot will succeed.
func (s *Series) Ready() bool {
	return s.count >= s.cfg.LongWindow && s.rsi.Ready()
}

// Snapshot returns the current indicator values, or ErrInsufficientData
// until LongWindow closes (and at least RSIPeriod price changes) were seen.
func (s *Series) Snapshot() (Snapshot, error) {
	if !s.Ready() {
		need := s.cfg.LongWindow
		if s.cfg.RSIPeriod+1 > need {
			need = s.cfg.RSIPeriod + 1
		}
		return Snapshot{}, fmt.Errorf("%w: have %d closes, need %d", ErrInsufficientData, s.count, need)
	}
	return Snapshot{
		EMAShort:   s.emaShort.Value(),
		EMALong:    s.emaLong.Value(),
		RSI:        s.rsi.Value(),
		MACD:       s.macd.Value(),
		MACDSignal: s.macd.Signal(),
		Samples:    s.count,
	}, nil
}

// Bank creates series and recomputes snapshots for one indicator config.
type Bank struct {
	cfg Config
}

// NewBank validates cfg and returns a bank.
func NewBank(cfg Config) (*Bank, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Bank{cfg: cfg}, nil
}

// Config returns the bank's windows.
func (b *Bank) Config() Config { return b.cfg }

// NewSeries creates a fresh incremental series.
func (b *Bank) NewSeries() *Series { return NewSeries(b.cfg) }

// Compute recomputes the snapshot from a full close sequence, oldest first.
// It yields exactly what a Series fed the same closes would.
func (b *Bank) Compute(closes []float64) (Snapshot, error) {
	s := b.NewSeries()
	for _, c := range closes {
		s.Update(c)
	}
	return s.Snapshot()
}
