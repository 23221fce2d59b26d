package alpaca

import (
	"context"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"signalbot/internal/breaker"
	"signalbot/internal/model"
)

// barsAPI is the subset of *marketdata.Client used here.
type barsAPI interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// History implements model.HistoricalFeed with Alpaca bars.
type History struct {
	api       barsAPI
	cb        *breaker.Breaker
	timeFrame marketdata.TimeFrame
}

var _ model.HistoricalFeed = (*History)(nil)

// NewHistory creates a daily-bar history feed. cb may be nil.
func NewHistory(cfg Config, cb *breaker.Breaker) *History {
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	})
	return newHistory(client, cb, marketdata.OneDay)
}

func newHistory(api barsAPI, cb *breaker.Breaker, tf marketdata.TimeFrame) *History {
	if cb == nil {
		cb = breaker.New("alpaca-data", 5, 30*time.Second)
	}
	return &History{api: api, cb: cb, timeFrame: tf}
}

// WithTimeFrame returns a copy of h using tf (e.g. marketdata.OneMin for
// intraday warm starts).
func (h *History) WithTimeFrame(tf marketdata.TimeFrame) *History {
	cp := *h
	cp.timeFrame = tf
	return &cp
}

// Bars returns bars for symbol between from and to, oldest first.
func (h *History) Bars(ctx context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.NewCollaboratorError("history", "get_bars", err)
	}

	var raw []marketdata.Bar
	err := h.cb.Execute(func() error {
		var err error
		raw, err = h.api.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: h.timeFrame,
			Start:     from,
			End:       to,
		})
		return err
	})
	if err != nil {
		return nil, model.NewCollaboratorError("history", "get_bars", err)
	}

	out := make([]model.Bar, 0, len(raw))
	for _, b := range raw {
		out = append(out, model.Bar{TS: b.Timestamp.UTC(), Close: b.Close})
	}
	return out, nil
}
