package markethours

import (
	"context"
	"testing"
	"time"

	"signalbot/internal/model"
)

var _ model.Clock = (*Clock)(nil)

func ny(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, NewYork)
}

func TestIsMarketOpen(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"tuesday mid-session", ny(2026, time.October, 13, 11, 0), true},
		{"at open", ny(2026, time.October, 13, 9, 30), true},
		{"before open", ny(2026, time.October, 13, 9, 29), false},
		{"at close", ny(2026, time.October, 13, 16, 0), false},
		{"saturday", ny(2026, time.October, 17, 11, 0), false},
		{"thanksgiving", ny(2026, time.November, 26, 11, 0), false},
		{"observed july 4th", ny(2026, time.July, 3, 11, 0), false},
		{"utc input", time.Date(2026, time.October, 13, 15, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMarketOpen(tt.at); got != tt.want {
				t.Errorf("IsMarketOpen(%s) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestNextOpen(t *testing.T) {
	// Friday after close → Monday open.
	got := NextOpen(ny(2026, time.October, 16, 17, 0))
	want := ny(2026, time.October, 19, 9, 30)
	if !got.Equal(want) {
		t.Errorf("NextOpen = %s, want %s", got, want)
	}

	// Wednesday before Thanksgiving, after close → Friday open.
	got = NextOpen(ny(2026, time.November, 25, 16, 30))
	want = ny(2026, time.November, 27, 9, 30)
	if !got.Equal(want) {
		t.Errorf("NextOpen = %s, want %s", got, want)
	}

	// Pre-market on a trading day → same day.
	got = NextOpen(ny(2026, time.October, 13, 8, 0))
	want = ny(2026, time.October, 13, 9, 30)
	if !got.Equal(want) {
		t.Errorf("NextOpen = %s, want %s", got, want)
	}
}

func TestTimeUntilClose(t *testing.T) {
	if d := TimeUntilClose(ny(2026, time.October, 13, 15, 0)); d != time.Hour {
		t.Errorf("expected 1h, got %s", d)
	}
	if d := TimeUntilClose(ny(2026, time.October, 13, 17, 0)); d != 0 {
		t.Errorf("expected 0 after close, got %s", d)
	}
}

func TestClock(t *testing.T) {
	ctx := context.Background()

	c := &Clock{Now: func() time.Time { return ny(2026, time.October, 17, 11, 0) }}
	if open, err := c.IsOpen(ctx); err != nil || open {
		t.Errorf("weekend clock: open=%v err=%v", open, err)
	}

	c.AlwaysOpen = true
	if open, err := c.IsOpen(ctx); err != nil || !open {
		t.Errorf("always-open clock: open=%v err=%v", open, err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := c.IsOpen(cancelled); err == nil {
		t.Error("expected error on cancelled context")
	}
}
