package layout

import (
	"time"

	"daygrid/internal/model"
)

// DaysPerWeek is the number of DayLayouts returned by Week.
const DaysPerWeek = 7

// DayLayout is one calendar day: the all-day strip plus the packed timed
// events.
type DayLayout struct {
	// Date is local midnight of the day.
	Date   time.Time
	AllDay []model.Event
	Timed  []EventLayout
}

// Day lays out the events that touch the local calendar day containing
// day. Timed events are clipped to [00:00, next 00:00) before packing, so
// an overnight event only claims the part of its range that falls on this
// day. An instant exactly at next midnight belongs to the next day.
func Day(events []model.Event, day time.Time, loc *time.Location, opts Options) DayLayout {
	if loc == nil {
		loc = time.Local
	}
	start := StartOfDay(day, loc)
	end := start.AddDate(0, 0, 1)

	out := DayLayout{
		Date:   start,
		AllDay: make([]model.Event, 0),
	}

	items := make([]item, 0, len(events))
	for _, ev := range events {
		if ev.AllDay {
			if allDayTouches(ev, start) {
				out.AllDay = append(out.AllDay, ev)
			}
			continue
		}
		r, ok := clip(ev, start, end)
		if !ok {
			continue
		}
		items = append(items, item{event: ev, rng: r})
	}

	out.Timed = pack(items, opts)
	return out
}

// Week lays out seven consecutive days beginning at the local midnight of
// weekStart. Events spanning midnight show up on every day they touch.
func Week(events []model.Event, weekStart time.Time, loc *time.Location, opts Options) []DayLayout {
	if loc == nil {
		loc = time.Local
	}
	first := StartOfDay(weekStart, loc)

	days := make([]DayLayout, 0, DaysPerWeek)
	for i := 0; i < DaysPerWeek; i++ {
		days = append(days, Day(events, first.AddDate(0, 0, i), loc, opts))
	}
	return days
}

// StartOfDay returns local midnight of t's calendar date in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// StartOfWeek returns local midnight of the most recent first weekday on
// or before t.
func StartOfWeek(t time.Time, first time.Weekday, loc *time.Location) time.Time {
	day := StartOfDay(t, loc)
	back := (int(day.Weekday()) - int(first) + DaysPerWeek) % DaysPerWeek
	return day.AddDate(0, 0, -back)
}

func clip(ev model.Event, dayStart, dayEnd time.Time) (Range, bool) {
	n := ev.Normalized()
	if n.IsInstant() {
		if n.Start.Before(dayStart) || !n.Start.Before(dayEnd) {
			return Range{}, false
		}
		return Range{Start: n.Start, End: n.Start}, true
	}
	if !n.Start.Before(dayEnd) || !n.End.After(dayStart) {
		return Range{}, false
	}
	r := Range{Start: n.Start, End: n.End}
	if r.Start.Before(dayStart) {
		r.Start = dayStart
	}
	if r.End.After(dayEnd) {
		r.End = dayEnd
	}
	return r, true
}

// allDayTouches compares calendar dates, not instants: an all-day event
// covers the wall-clock dates from Start up to, but not including, End,
// whatever zone those were recorded in. A missing or inverted End means a
// single day.
func allDayTouches(ev model.Event, dayStart time.Time) bool {
	first := civilDate(ev.Start)
	last := civilDate(ev.End)
	if !last.After(first) {
		last = first.AddDate(0, 0, 1)
	}
	day := civilDate(dayStart)
	return !day.Before(first) && day.Before(last)
}

func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
