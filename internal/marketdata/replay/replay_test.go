package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"signalbot/internal/model"
)

type fakeFeed struct {
	bars map[string][]model.Bar
	err  error
}

func (f *fakeFeed) Bars(_ context.Context, symbol string, from, to time.Time) ([]model.Bar, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Bar
	for _, b := range f.bars[symbol] {
		if !b.TS.Before(from) && !b.TS.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func minute(m int) time.Time {
	return time.Date(2024, 6, 3, 14, 30+m, 0, 0, time.UTC)
}

func TestReplayer_MergesSymbolsByTime(t *testing.T) {
	feed := &fakeFeed{bars: map[string][]model.Bar{
		"AAPL": {{TS: minute(0), Close: 1}, {TS: minute(2), Close: 3}},
		"MSFT": {{TS: minute(1), Close: 2}, {TS: minute(2), Close: 4}},
	}}
	r := New(feed)
	var seen []string
	r.OnBar = func(ev model.BarEvent) { seen = append(seen, ev.Symbol) }

	out := make(chan model.BarEvent, 10)
	n, err := r.Run(context.Background(), []string{"aapl", "MSFT"}, minute(0), minute(10), 0, out)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Fatalf("expected 4 bars, got %d", n)
	}
	if len(seen) != 4 || seen[0] != "AAPL" || seen[1] != "MSFT" {
		t.Errorf("OnBar saw %v", seen)
	}
	close(out)

	var got []float64
	var syms []string
	for ev := range out {
		got = append(got, ev.Bar.Close)
		syms = append(syms, ev.Symbol)
	}
	want := []float64{1, 2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	// equal timestamps keep the requested symbol order
	if syms[2] != "AAPL" || syms[3] != "MSFT" {
		t.Errorf("tie order = %v", syms)
	}
}

func TestReplayer_RangeFilter(t *testing.T) {
	feed := &fakeFeed{bars: map[string][]model.Bar{
		"AAPL": {{TS: minute(0), Close: 1}, {TS: minute(5), Close: 2}, {TS: minute(9), Close: 3}},
	}}
	events, err := New(feed).Load(context.Background(), []string{"AAPL"}, minute(1), minute(9))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Bar.Close != 2 {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestReplayer_SourceFailure(t *testing.T) {
	r := New(&fakeFeed{err: errors.New("boom")})
	_, err := r.Run(context.Background(), []string{"AAPL"}, minute(0), minute(1), 0, make(chan model.BarEvent, 1))
	if !errors.Is(err, model.ErrCollaboratorUnavailable) {
		t.Errorf("expected collaborator error, got %v", err)
	}
}

func TestReplayer_Cancel(t *testing.T) {
	feed := &fakeFeed{bars: map[string][]model.Bar{
		"AAPL": {{TS: minute(0), Close: 1}, {TS: minute(1), Close: 2}},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.BarEvent) // unbuffered and never read
	cancel()

	n, err := New(feed).Run(ctx, []string{"AAPL"}, minute(0), minute(5), 0, out)
	if !errors.Is(err, context.Canceled) || n != 0 {
		t.Errorf("n=%d err=%v", n, err)
	}
}
