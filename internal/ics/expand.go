package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "daygrid/internal/log"
	"daygrid/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

var ErrInvalidRange = errors.New("expand: RangeEnd is before RangeStart")

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone all events are converted to.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd bound the window events must touch.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway rules. Zero means 5000.
	MaxOccurrencesPerEvent int
}

// ExpandResult holds the concrete events and the UIDs whose expansion hit
// the cap.
type ExpandResult struct {
	Events          []model.Event
	TruncatedEvents []string
}

// ExpandEvents turns parsed VEVENTs into concrete events inside the window.
// It handles:
//
//   - Single non-recurring events
//   - RRULE-based recurrence
//   - EXDATE exception removal
//   - RECURRENCE-ID overrides, including cancelled instances
//   - All-day semantics
//
// UIDs are processed in first-seen order so the output is deterministic.
func ExpandEvents(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, ErrInvalidRange
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and overrides by source and UID.
	type key struct{ source, uid string }
	var order []key
	baseByUID := make(map[key][]ParsedEvent)
	overridesByUID := make(map[key][]ParsedEvent)

	for _, ev := range events {
		k := key{ev.Source.ID, ev.UID}
		if _, ok := baseByUID[k]; !ok {
			if _, ok := overridesByUID[k]; !ok {
				order = append(order, k)
			}
		}
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[k] = append(overridesByUID[k], ev)
		} else {
			baseByUID[k] = append(baseByUID[k], ev)
		}
	}

	out := make([]model.Event, 0)
	for _, k := range order {
		ov := overridesByUID[k]
		truncated := false

		for _, ev := range baseByUID[k] {
			if ev.Cancelled {
				continue
			}
			occ, hitCap := expandEvent(ev, ov, cfg)
			if hitCap {
				truncated = true
			}
			out = append(out, occ...)
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, k.uid)
			appLog.Warn("expand: truncated occurrences for UID due to cap",
				"uid", k.uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	result.Events = out
	return result, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	if ev.RawRRule == "" {
		return expandSingleEvent(ev, overrides, cfg), false
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Event {
	instanceStart := ev.Start
	if o, ok := findOverrideForStart(overrides, ev.Start); ok {
		if o.Cancelled {
			return nil
		}
		ev = o
	}
	e := makeEvent(ev, instanceStart, ev.Start, ev.End, cfg.DisplayLocation)
	if !timeRangesOverlap(e.Start, e.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.Event{e}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	out := make([]model.Event, 0)

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	if dur < 0 {
		dur = 0
	}

	// Widen the lower bound by the duration so occurrences that started
	// before the window but are still running are kept.
	rangeStart := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	occTimes, hitCap := occurrencesBetween(&set, rangeStart, rangeEnd, cfg.MaxOccurrencesPerEvent)

	for _, occStart := range occTimes {
		var occEnd time.Time
		if ev.AllDay {
			// All-day: [date 00:00, date+days 00:00) in the event's zone.
			occStart = time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			days := int(dur.Hours()/24 + 0.5)
			if days < 1 {
				days = 1
			}
			occEnd = occStart.AddDate(0, 0, days)
		} else {
			occEnd = occStart.Add(dur)
		}

		base := ev
		start, end := occStart, occEnd
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			if o.Cancelled {
				continue
			}
			base = o
			start, end = o.Start, o.End
		}
		e := makeEvent(base, occStart, start, end, cfg.DisplayLocation)
		if !timeRangesOverlap(e.Start, e.End, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, e)
	}

	return out, hitCap
}

// occurrencesBetween walks the set lazily and keeps the occurrences in
// [from, to], stopping after limit of them. The bool reports whether more
// occurrences were left in the window.
func occurrencesBetween(set *rrule.Set, from, to time.Time, limit int) ([]time.Time, bool) {
	out := make([]time.Time, 0)
	next := set.Iterator()
	for {
		t, ok := next()
		if !ok || t.After(to) {
			return out, false
		}
		if t.Before(from) {
			continue
		}
		if len(out) == limit {
			return out, true
		}
		out = append(out, t)
	}
}

// findOverrideForStart finds the override whose RECURRENCE-ID is the same
// instant as instanceStart.
func findOverrideForStart(overrides []ParsedEvent, instanceStart time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.Equal(instanceStart) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// makeEvent builds the model event for one occurrence. The ID is derived
// from the UID and the original (pre-override) instance start so it stays
// stable when an instance is moved. All-day dates are floating: they keep
// their calendar date and become local midnights in displayLoc.
func makeEvent(ev ParsedEvent, instanceStart, start, end time.Time, displayLoc *time.Location) model.Event {
	color := ev.Color
	if color == "" {
		color = ev.Source.Color
	}
	if ev.AllDay {
		start, end = floatingDate(start, displayLoc), floatingDate(end, displayLoc)
	} else {
		start, end = start.In(displayLoc), end.In(displayLoc)
	}
	return model.Event{
		ID:            ev.UID + "/" + instanceStart.UTC().Format("20060102T150405Z"),
		SourceID:      ev.Source.ID,
		Title:         ev.Summary,
		Description:   ev.Description,
		Location:      ev.Location,
		CategoryColor: color,
		AllDay:        ev.AllDay,
		Start:         start,
		End:           end,
	}
}

// floatingDate is midnight in loc of t's own wall-clock date.
func floatingDate(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// timeRangesOverlap is inclusive on both ends so instants at the window
// edge are kept.
func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(aStart) {
		aEnd = aStart
	}
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
