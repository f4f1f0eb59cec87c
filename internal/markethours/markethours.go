// Package markethours answers whether the Indian cash market is trading.
// NSE and BSE share one session window and holiday calendar.
package markethours

import (
	"fmt"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Normal session in IST.
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// IsMarketOpen returns true if t falls within the normal session
// (9:15 AM – 3:30 PM IST, Mon–Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool {
	ist := t.In(IST)
	if !IsTradingDay(ist) {
		return false
	}
	hm := ist.Hour()*60 + ist.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	wd := t.In(IST).Weekday()
	return wd != time.Saturday && wd != time.Sunday && !IsHoliday(t)
}

// NextOpen returns the next session open at or after t. If t is before
// today's open on a trading day, today's open is returned.
func NextOpen(t time.Time) time.Time {
	ist := t.In(IST)
	d := time.Date(ist.Year(), ist.Month(), ist.Day(), OpenHour, OpenMinute, 0, 0, IST)
	if !ist.Before(d) {
		d = d.AddDate(0, 0, 1)
	}
	// weekends plus the longest holiday run fit well inside two weeks
	for i := 0; i < 14; i++ {
		if IsTradingDay(d) {
			return d
		}
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// Gate reports whether quotes should be fetched at now. When the market is
// closed it also returns the next open so callers can sleep until then.
func Gate(now time.Time) (bool, time.Time) {
	if IsMarketOpen(now) {
		return true, time.Time{}
	}
	return false, NextOpen(now)
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		ist := t.In(IST)
		cl := time.Date(ist.Year(), ist.Month(), ist.Day(), CloseHour, CloseMinute, 0, 0, IST)
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(cl.Sub(ist)))
	}
	next := NextOpen(t)
	return fmt.Sprintf("Market Closed, opens %s %s (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
