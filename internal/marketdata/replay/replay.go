// Package replay feeds historical bars through the same channel the live
// stream uses, for backtests and dry runs.
package replay

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"

	"signalbot/internal/model"
)

// MaxGap caps the simulated wait between two consecutive bars.
const MaxGap = 5 * time.Second

// Replayer reads bars from a HistoricalFeed and replays them at a
// configurable speed multiplier.
type Replayer struct {
	feed model.HistoricalFeed

	// OnBar is called for each emitted bar.
	OnBar func(ev model.BarEvent)
}

// New creates a Replayer backed by any historical source (SQLite, broker).
func New(feed model.HistoricalFeed) *Replayer {
	return &Replayer{feed: feed}
}

// Load fetches bars for every symbol in [from, to] and merges them into a
// single time-ordered sequence. Ties keep the symbol order given.
func (r *Replayer) Load(ctx context.Context, symbols []string, from, to time.Time) ([]model.BarEvent, error) {
	var all []model.BarEvent
	for _, sym := range symbols {
		sym = strings.ToUpper(sym)
		bars, err := r.feed.Bars(ctx, sym, from, to)
		if err != nil {
			return nil, model.NewCollaboratorError("history", "bars "+sym, err)
		}
		for _, b := range bars {
			all = append(all, model.BarEvent{Symbol: sym, Bar: b})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Bar.TS.Before(all[j].Bar.TS) })
	return all, nil
}

// Run replays all bars for symbols in [from, to] into out.
// speed controls the playback rate: 1.0 = real-time, 60.0 = a minute per
// second, 0 = as fast as possible. out is not closed. Returns the number of
// bars emitted.
func (r *Replayer) Run(ctx context.Context, symbols []string, from, to time.Time, speed float64, out chan<- model.BarEvent) (int, error) {
	events, err := r.Load(ctx, symbols, from, to)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		log.Printf("[replay] no bars found for %v", symbols)
		return 0, nil
	}

	log.Printf("[replay] loaded %d bars across %d symbols, speed=%.1fx", len(events), len(symbols), speed)

	var prevTS time.Time
	emitted := 0
	for _, ev := range events {
		if speed > 0 && !prevTS.IsZero() {
			if gap := ev.Bar.TS.Sub(prevTS); gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > MaxGap {
					scaled = MaxGap
				}
				select {
				case <-ctx.Done():
					return emitted, ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = ev.Bar.TS

		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d bars", emitted)
			return emitted, ctx.Err()
		case out <- ev:
		}
		emitted++
		if r.OnBar != nil {
			r.OnBar(ev)
		}
	}

	log.Printf("[replay] completed: %d bars replayed", emitted)
	return emitted, nil
}
