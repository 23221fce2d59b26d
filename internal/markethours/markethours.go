// Package markethours answers whether the US equity market is open.
package markethours

import (
	"context"
	"fmt"
	"time"

	_ "time/tzdata"
)

// NewYork is the exchange time zone.
var NewYork = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("markethours: load %s: %v", name, err))
	}
	return loc
}

// Regular session in New York time.
const (
	OpenHour    = 9
	OpenMinute  = 30
	CloseHour   = 16
	CloseMinute = 0
)

// IsMarketOpen returns true if t falls within NYSE regular hours
// (9:30 AM – 4:00 PM ET, Mon–Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool {
	ny := t.In(NewYork)
	if !IsTradingDay(ny) {
		return false
	}
	hm := ny.Hour()*60 + ny.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsWeekday returns true if t is Mon–Fri.
func IsWeekday(t time.Time) bool {
	wd := t.In(NewYork).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	ny := t.In(NewYork)
	return IsWeekday(ny) && !IsHoliday(ny)
}

// NextOpen returns the next market open time (9:30 AM ET on next trading day).
// If t is before today's open on a trading day, returns today's open.
func NextOpen(t time.Time) time.Time {
	ny := t.In(NewYork)

	todayOpen := time.Date(ny.Year(), ny.Month(), ny.Day(), OpenHour, OpenMinute, 0, 0, NewYork)
	if ny.Before(todayOpen) && IsTradingDay(ny) {
		return todayOpen
	}

	d := ny.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ { // weekends plus a holiday never span 10 days
		if IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), OpenHour, OpenMinute, 0, 0, NewYork)
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(ny.Year(), ny.Month(), ny.Day()+1, OpenHour, OpenMinute, 0, 0, NewYork)
}

// TodayClose returns today's market close time (4:00 PM ET).
func TodayClose(t time.Time) time.Time {
	ny := t.In(NewYork)
	return time.Date(ny.Year(), ny.Month(), ny.Day(), CloseHour, CloseMinute, 0, 0, NewYork)
}

// TimeUntilClose returns the duration until today's close.
// Returns 0 if market is already closed.
func TimeUntilClose(t time.Time) time.Duration {
	d := TodayClose(t).Sub(t)
	if d < 0 {
		return 0
	}
	return d
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(TimeUntilClose(t)))
	}
	next := NextOpen(t)
	ny := next.In(NewYork)
	return fmt.Sprintf("Market Closed, opens %s %s (%s)",
		ny.Weekday().String()[:3], ny.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

// Clock is a local market clock. It never fails, which makes it the
// clock of choice for the paper broker and for replays.
type Clock struct {
	// Now defaults to time.Now.
	Now func() time.Time
	// AlwaysOpen skips the session check.
	AlwaysOpen bool
}

// IsOpen implements model.Clock.
func (c *Clock) IsOpen(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if c.AlwaysOpen {
		return true, nil
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return IsMarketOpen(now()), nil
}
