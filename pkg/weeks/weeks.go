package weeks

import (
	"time"
)

// Epoch is the Monday all wave numbers are counted from. The week that
// contains Epoch is wave 1.
var Epoch = time.Date(2020, time.January, 6, 0, 0, 0, 0, time.UTC)

// WeekStart returns the canonical start of the week containing t:
// Monday 00:00 in loc, normalized to UTC for storage.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	offset := (int(lt.Weekday()) + 6) % 7 // Monday = 0
	monday := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	return monday.AddDate(0, 0, -offset).UTC()
}

// ClosingWeek returns the week a reset running at t is closing out.
// A job fired exactly on the Monday boundary closes the week that just ended,
// not the one that just began.
func ClosingWeek(t time.Time, loc *time.Location) time.Time {
	ws := WeekStart(t, loc)
	boundary := ws.In(loc)
	lt := t.In(loc)
	if lt.Equal(boundary) {
		return WeekStart(t.Add(-time.Minute), loc)
	}
	return ws
}

// WaveForWeek derives the wave number for a canonical week start.
// The mapping is a pure function of the calendar week, so re-deriving the
// wave for the same week always yields the same number.
func WaveForWeek(weekStart time.Time, loc *time.Location) int {
	ws := weekStart.In(loc)
	day := time.Date(ws.Year(), ws.Month(), ws.Day(), 0, 0, 0, 0, time.UTC)
	days := int(day.Sub(Epoch).Hours() / 24)
	return days/7 + 1
}

// WeekForWave is the inverse of WaveForWeek: the canonical UTC week start of
// wave n as observed in loc.
func WeekForWave(n int, loc *time.Location) time.Time {
	day := Epoch.AddDate(0, 0, (n-1)*7)
	return WeekStart(day.Add(12*time.Hour), loc)
}

// CyclePosition returns the 1-based position of wave within a rolling cycle
// of periodWeeks weeks. Position 1 marks the start of a fresh cycle.
func CyclePosition(wave, periodWeeks int) int {
	if periodWeeks <= 1 {
		return 1
	}
	return ((wave - 1) % periodWeeks) + 1
}

// CycleStartWave returns the first wave of the cycle that wave falls in.
func CycleStartWave(wave, periodWeeks int) int {
	return wave - CyclePosition(wave, periodWeeks) + 1
}

// NextReset returns the next instant after t at which the weekly reset fires:
// the given weekday at hour:00 in loc.
func NextReset(t time.Time, loc *time.Location, weekday time.Weekday, hour int) time.Time {
	lt := t.In(loc)
	candidate := time.Date(lt.Year(), lt.Month(), lt.Day(), hour, 0, 0, 0, loc)
	days := (int(weekday) - int(lt.Weekday()) + 7) % 7
	candidate = candidate.AddDate(0, 0, days)
	if !candidate.After(lt) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}
