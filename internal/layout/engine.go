// Package layout arranges a day's timed events into side-by-side columns.
//
// Events are packed first-fit in start order: each event takes the lowest
// column whose last occupant it does not overlap, and a new column is
// opened only when every existing one is busy. Column counts are computed
// per overlap cluster, so a crowded morning never narrows an unrelated
// afternoon meeting.
//
// Everything here is a pure function of its input: no state survives a
// call and input slices are never modified.
package layout

import (
	"sort"
	"time"

	"daygrid/internal/model"
)

// Range is the half-open time range an event occupies for layout purposes.
// A Range whose End is not after Start is an instant.
type Range struct {
	Start time.Time
	End   time.Time
}

// Instant reports whether r has no positive duration.
func (r Range) Instant() bool {
	return !r.End.After(r.Start)
}

// Duration is End-Start, zero for instants.
func (r Range) Duration() time.Duration {
	if r.Instant() {
		return 0
	}
	return r.End.Sub(r.Start)
}

// Overlaps reports whether two ranges collide. Touching ranges such as
// [09:00,10:00) and [10:00,11:00) do not. When either side is an instant
// the comparison is closed on both ends, so an instant collides with any
// range containing it, endpoints included, and with an instant at the same
// moment.
func (r Range) Overlaps(o Range) bool {
	if r.Instant() || o.Instant() {
		return !r.Start.After(o.End) && !o.Start.After(r.End)
	}
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

// EventLayout is the placement decision for one event.
type EventLayout struct {
	Event model.Event

	// Range is the span used for placement: the event's own range with
	// inverted ends clamped, further clipped to the day by Day and Week.
	Range Range

	// Column is zero-based and local to the cluster.
	Column int
	// TotalColumns is shared by every event of the same cluster.
	TotalColumns int
	// Span is how many columns, starting at Column, the block may cover.
	// Always 1 unless Options.Expand is set.
	Span int
	// Cluster numbers overlap clusters in time order, starting at 0.
	Cluster int
}

// Options tunes ComputeWithOptions.
type Options struct {
	// Expand lets a block grow rightwards into neighbouring columns of its
	// cluster that stay free for its whole range.
	Expand bool
}

// Compute lays out events with default options. The result holds exactly
// one EventLayout per input event, ordered by start time with ties kept in
// input order.
func Compute(events []model.Event) []EventLayout {
	return ComputeWithOptions(events, Options{})
}

// ComputeWithOptions is Compute with explicit options.
func ComputeWithOptions(events []model.Event, opts Options) []EventLayout {
	items := make([]item, len(events))
	for i, ev := range events {
		n := ev.Normalized()
		items[i] = item{event: ev, rng: Range{Start: n.Start, End: n.End}}
	}
	return pack(items, opts)
}

type item struct {
	event model.Event
	rng   Range
}

func pack(items []item, opts Options) []EventLayout {
	out := make([]EventLayout, 0, len(items))
	if len(items) == 0 {
		return out
	}

	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return items[order[a]].rng.Start.Before(items[order[b]].rng.Start)
	})

	// columns[i] is the range of the most recent event placed in column i.
	var columns []Range
	var cl sweep
	cluster := -1

	for k, idx := range order {
		it := items[idx]

		if cluster < 0 || !cl.reachesGroup(items, order[k:]) {
			if cluster >= 0 {
				finishCluster(out[cl.first:], opts)
			}
			cluster++
			cl = sweep{first: len(out)}
		}

		col := firstFree(columns, it.rng)
		if col == len(columns) {
			columns = append(columns, it.rng)
		} else {
			columns[col] = it.rng
		}

		out = append(out, EventLayout{
			Event:   it.event,
			Range:   it.rng,
			Column:  col,
			Span:    1,
			Cluster: cluster,
		})
		cl.add(it.rng)
	}
	finishCluster(out[cl.first:], opts)

	return out
}

func firstFree(columns []Range, r Range) int {
	for i, last := range columns {
		if !last.Overlaps(r) {
			return i
		}
	}
	return len(columns)
}

// sweep tracks the reach of the cluster being built. Events arrive in start
// order, so a run of events sharing a start joins the cluster iff one of
// them overlaps the member that ends last.
type sweep struct {
	first int
	end   time.Time
	// instantAtEnd is set when some member is an instant sitting exactly
	// at end; touching it still counts as overlap.
	instantAtEnd bool
	seen         bool
}

func (s *sweep) reaches(r Range) bool {
	if !s.seen {
		return true
	}
	if r.Start.Before(s.end) {
		return true
	}
	return r.Start.Equal(s.end) && (r.Instant() || s.instantAtEnd)
}

// reachesGroup decides for the whole run of events sharing the start of
// order[0]. An instant in that run touches both the members ending at the
// shared start and the other events of the run, so one reaching member is
// enough to pull the run into the cluster.
func (s *sweep) reachesGroup(items []item, order []int) bool {
	start := items[order[0]].rng.Start
	for _, idx := range order {
		r := items[idx].rng
		if !r.Start.Equal(start) {
			break
		}
		if s.reaches(r) {
			return true
		}
	}
	return false
}

func (s *sweep) add(r Range) {
	switch {
	case !s.seen || r.End.After(s.end):
		s.end = r.End
		s.instantAtEnd = r.Instant()
	case r.End.Equal(s.end) && r.Instant():
		s.instantAtEnd = true
	}
	s.seen = true
}

// finishCluster renumbers columns densely from zero, stamps TotalColumns
// and, when asked, works out how far each block can stretch.
func finishCluster(members []EventLayout, opts Options) {
	if len(members) == 0 {
		return
	}

	used := make([]int, 0, len(members))
	seen := make(map[int]struct{}, len(members))
	for _, m := range members {
		if _, ok := seen[m.Column]; ok {
			continue
		}
		seen[m.Column] = struct{}{}
		used = append(used, m.Column)
	}
	sort.Ints(used)

	rank := make(map[int]int, len(used))
	for i, c := range used {
		rank[c] = i
	}
	total := len(used)
	for i := range members {
		members[i].Column = rank[members[i].Column]
		members[i].TotalColumns = total
	}

	if opts.Expand && total > 1 {
		expand(members, total)
	}
}

func expand(members []EventLayout, total int) {
	byColumn := make([][]int, total)
	for i, m := range members {
		byColumn[m.Column] = append(byColumn[m.Column], i)
	}

	for i := range members {
		span := 1
	next:
		for c := members[i].Column + 1; c < total; c++ {
			for _, j := range byColumn[c] {
				if members[j].Range.Overlaps(members[i].Range) {
					break next
				}
			}
			span++
		}
		members[i].Span = span
	}
}
