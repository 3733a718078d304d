package model

import "time"

// Event is a single concrete calendar item as consumed by the layout engine.
// Recurring ICS events are expanded into one Event per occurrence before
// they reach this type; the engine only ever reads it.
type Event struct {
	// ID is stable across refreshes for the same occurrence.
	ID       string
	SourceID string // configured source that produced the event

	Title       string
	Description string
	Location    string

	// CategoryColor is passed through untouched (typically "#rrggbb").
	CategoryColor string

	AllDay bool

	// Start / End are in the configured display timezone.
	Start time.Time
	End   time.Time
}

// IsInstant reports whether the event has no positive duration.
func (e Event) IsInstant() bool {
	return !e.End.After(e.Start)
}

// Normalized returns a copy with End clamped to Start when the range is
// inverted.
func (e Event) Normalized() Event {
	if e.End.Before(e.Start) {
		e.End = e.Start
	}
	return e
}
