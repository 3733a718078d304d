// Package agenda owns the current event set and turns it into day and week
// views. Layouts are recomputed from scratch on every request; only the
// fetched events are kept between calls.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"daygrid/internal/config"
	"daygrid/internal/ics"
	"daygrid/internal/layout"
	appLog "daygrid/internal/log"
	"daygrid/internal/metrics"
	"daygrid/internal/model"
)

// DayView is one day ready for rendering.
type DayView struct {
	Date   time.Time
	AllDay []model.Event
	Blocks []layout.Block
	// Frame is the geometry the blocks were placed with.
	Frame layout.Frame
	// Height is the pixel height of the visible hours.
	Height float64
}

// WeekView is seven consecutive DayViews.
type WeekView struct {
	Start time.Time
	Days  []DayView
}

// Service holds the event set and computes views from it.
type Service struct {
	cfg     *config.Config
	loc     *time.Location
	fetcher *ics.Fetcher
	metrics *metrics.Registry
	now     func() time.Time

	mu          sync.RWMutex
	sources     []string
	bySource    map[string][]model.Event
	truncated   []string
	refreshedAt time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics records layout and feed metrics into m.
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Service) { s.metrics = m }
}

// New builds a Service. cfg should already be normalized; an unknown
// timezone falls back to UTC.
func New(cfg *config.Config, fetcher *ics.Fetcher, opts ...Option) *Service {
	loc, err := cfg.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to UTC", err, "name", cfg.Timezone)
	}
	if fetcher == nil {
		fetcher = ics.NewFetcher(cfg.CacheDir, nil)
	}
	s := &Service{
		cfg:      cfg,
		loc:      loc,
		fetcher:  fetcher,
		now:      time.Now,
		bySource: make(map[string][]model.Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location is the display timezone.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Now returns the service clock in the display timezone.
func (s *Service) Now() time.Time {
	return s.now().In(s.loc)
}

// Sources converts the configured ICS entries into fetcher sources,
// skipping entries without a URL.
func (s *Service) Sources() []ics.Source {
	out := make([]ics.Source, 0, len(s.cfg.ICS))
	for _, c := range s.cfg.ICS {
		if c.URL == "" {
			continue
		}
		out = append(out, ics.Source{ID: c.SourceID(), URL: c.URL, Color: c.Color})
	}
	return out
}

// Refresh fetches the configured sources and replaces the event set.
func (s *Service) Refresh(ctx context.Context) (int, error) {
	return s.RefreshSources(ctx, s.Sources())
}

// RefreshSources fetches, parses and expands sources over the configured
// window. A source that fails keeps the events it had before, so one flaky
// feed does not blank the calendar. The returned error joins every
// per-source failure; the count is the size of the new event set.
func (s *Service) RefreshSources(ctx context.Context, sources []ics.Source) (int, error) {
	now := s.Now()
	window := ics.ExpandConfig{
		DisplayLocation: s.loc,
		RangeStart:      layout.StartOfDay(now, s.loc).AddDate(0, 0, -s.cfg.BackfillDays),
		RangeEnd:        layout.StartOfDay(now, s.loc).AddDate(0, 0, s.cfg.HorizonDays+1),
	}

	results, fetchErrs := s.fetcher.FetchAll(ctx, sources)
	errs := append([]error(nil), fetchErrs...)

	fresh := make(map[string][]model.Event, len(results))
	var truncated []string
	for _, res := range results {
		s.countFetch(res.Source.ID, res.FromCache)

		parsed, err := ics.ParseICS(res.Source, res.Body)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", res.Source.ID, err))
			continue
		}
		expanded, err := ics.ExpandEvents(parsed, window)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", res.Source.ID, err))
			continue
		}
		fresh[res.Source.ID] = expanded.Events
		truncated = append(truncated, expanded.TruncatedEvents...)
	}
	for _, src := range sources {
		if !fetched(results, src.ID) {
			s.countFetchError(src.ID)
		}
	}

	s.mu.Lock()
	ids := make([]string, 0, len(sources))
	next := make(map[string][]model.Event, len(sources))
	for _, src := range sources {
		ids = append(ids, src.ID)
		if evs, ok := fresh[src.ID]; ok {
			next[src.ID] = evs
		} else if old, ok := s.bySource[src.ID]; ok {
			next[src.ID] = old
		}
	}
	s.sources = ids
	s.bySource = next
	s.truncated = truncated
	s.refreshedAt = s.now()
	total := 0
	for _, id := range ids {
		total += len(next[id])
		if s.metrics != nil {
			s.metrics.FeedEvents.WithLabelValues(id).Set(float64(len(next[id])))
		}
	}
	s.mu.Unlock()

	appLog.Info("agenda refreshed",
		"sources", len(sources),
		"events", total,
		"failed", len(errs),
		"range_start", window.RangeStart.Format(time.RFC3339),
		"range_end", window.RangeEnd.Format(time.RFC3339),
	)
	return total, errors.Join(errs...)
}

func (s *Service) countFetch(source string, fromCache bool) {
	if s.metrics == nil {
		return
	}
	result := "fresh"
	if fromCache {
		result = "cached"
	}
	s.metrics.FeedFetches.WithLabelValues(source, result).Inc()
}

func (s *Service) countFetchError(source string) {
	if s.metrics == nil {
		return
	}
	s.metrics.FeedFetches.WithLabelValues(source, "error").Inc()
}

func fetched(results []ics.FetchResult, id string) bool {
	for _, r := range results {
		if r.Source.ID == id {
			return true
		}
	}
	return false
}

// SetEvents replaces the whole event set with events under a single
// "local" source.
func (s *Service) SetEvents(events []model.Event) {
	cp := append([]model.Event(nil), events...)
	s.mu.Lock()
	s.sources = []string{"local"}
	s.bySource = map[string][]model.Event{"local": cp}
	s.truncated = nil
	s.refreshedAt = s.now()
	s.mu.Unlock()
}

// Events returns a copy of the current event set in source order.
func (s *Service) Events() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Event, 0)
	for _, id := range s.sources {
		out = append(out, s.bySource[id]...)
	}
	return out
}

// Status reports when the set was last replaced and which UIDs hit the
// recurrence cap.
func (s *Service) Status() (time.Time, []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshedAt, append([]string(nil), s.truncated...)
}

// Day computes the view for the local day containing date.
func (s *Service) Day(date time.Time) DayView {
	dl := layout.Day(s.Events(), date, s.loc, s.layoutOptions())
	s.observe("day", dl)
	return s.dayView(dl)
}

// Week computes the week containing date, starting on the configured
// first weekday.
func (s *Service) Week(date time.Time) WeekView {
	start := layout.StartOfWeek(date, s.cfg.FirstWeekday(), s.loc)
	days := layout.Week(s.Events(), start, s.loc, s.layoutOptions())

	out := WeekView{Start: start, Days: make([]DayView, 0, len(days))}
	for _, dl := range days {
		s.observe("week", dl)
		out.Days = append(out.Days, s.dayView(dl))
	}
	return out
}

func (s *Service) layoutOptions() layout.Options {
	return layout.Options{Expand: s.cfg.Layout.Expand}
}

// Frame returns the geometry for the day starting at local midnight day.
func (s *Service) Frame(day time.Time) layout.Frame {
	lc := s.cfg.Layout
	return layout.Frame{
		DayStart:        day.Add(time.Duration(lc.DayStartHour) * time.Hour),
		PixelsPerMinute: lc.PixelsPerMinute,
		Width:           lc.DayWidth,
		Gap:             lc.ColumnGap,
		MinHeight:       lc.MinBlockHeight,
	}
}

func (s *Service) dayView(dl layout.DayLayout) DayView {
	lc := s.cfg.Layout
	frame := s.Frame(dl.Date)
	v := DayView{
		Date:   dl.Date,
		AllDay: dl.AllDay,
		Blocks: frame.PlaceAll(dl.Timed),
		Frame:  frame,
		Height: float64((lc.DayEndHour-lc.DayStartHour)*60) * lc.PixelsPerMinute,
	}
	if !s.cfg.ShowAllDay {
		v.AllDay = []model.Event{}
	}
	return v
}

func (s *Service) observe(view string, dl layout.DayLayout) {
	if s.metrics == nil {
		return
	}
	s.metrics.LayoutRuns.WithLabelValues(view).Inc()
	s.metrics.LayoutEvents.Observe(float64(len(dl.Timed)))
	cluster := -1
	for _, l := range dl.Timed {
		if l.Cluster != cluster {
			cluster = l.Cluster
			s.metrics.LayoutColumns.Observe(float64(l.TotalColumns))
		}
	}
}
