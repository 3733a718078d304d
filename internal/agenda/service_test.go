package agenda

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"daygrid/internal/config"
	"daygrid/internal/ics"
	"daygrid/internal/metrics"
	"daygrid/internal/model"
)

var fixedNow = time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)

func calendar(events ...string) string {
	lines := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//daygrid//agenda test//EN"}
	for _, e := range events {
		lines = append(lines, "BEGIN:VEVENT")
		lines = append(lines, strings.Split(e, "\n")...)
		lines = append(lines, "END:VEVENT")
	}
	lines = append(lines, "END:VCALENDAR")
	return strings.Join(lines, "\r\n") + "\r\n"
}

var workCalendar = calendar(
	"UID:a\nSUMMARY:Planning\nDTSTART:20250312T090000Z\nDTEND:20250312T100000Z",
	"UID:b\nSUMMARY:Review\nDTSTART:20250312T093000Z\nDTEND:20250312T103000Z",
	"UID:c\nSUMMARY:Lunch\nDTSTART:20250312T110000Z\nDTEND:20250312T120000Z",
	"UID:d\nSUMMARY:Sprint day\nDTSTART;VALUE=DATE:20250312\nDTEND;VALUE=DATE:20250313",
)

func newTestService(t *testing.T, body string, m *metrics.Registry) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "work.ics")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write calendar: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.CacheDir = filepath.Join(dir, "cache")
	cfg.ICS = []config.ICSConfig{{ID: "work", URL: path, Color: "#3366ff"}}
	cfg.Layout = config.LayoutConfig{PixelsPerMinute: 1, ColumnGap: 4, DayWidth: 200, DayStartHour: 8, DayEndHour: 20}
	cfg.Normalize()

	opts := []Option{WithClock(func() time.Time { return fixedNow })}
	if m != nil {
		opts = append(opts, WithMetrics(m))
	}
	return New(cfg, ics.NewFetcher(cfg.CacheDir, nil), opts...), path
}

func TestRefreshAndDay(t *testing.T) {
	m := metrics.New()
	svc, _ := newTestService(t, workCalendar, m)

	n, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n != 4 {
		t.Fatalf("loaded %d events, want 4", n)
	}

	day := svc.Day(fixedNow)
	if len(day.AllDay) != 1 || day.AllDay[0].Title != "Sprint day" {
		t.Fatalf("all-day=%+v", day.AllDay)
	}
	if len(day.Blocks) != 3 {
		t.Fatalf("blocks=%d, want 3", len(day.Blocks))
	}
	if day.Height != 12*60 {
		t.Fatalf("height=%v", day.Height)
	}

	blocks := map[string]float64{}
	for _, b := range day.Blocks {
		blocks[b.Event.Title] = b.Rect.X
		if b.Event.CategoryColor != "#3366ff" {
			t.Fatalf("colour not propagated: %q", b.Event.CategoryColor)
		}
	}
	if blocks["Planning"] != 0 || blocks["Review"] != 102 || blocks["Lunch"] != 0 {
		t.Fatalf("x offsets=%v", blocks)
	}
	for _, b := range day.Blocks {
		if b.Event.Title == "Planning" && (b.Rect.Y != 60 || b.Rect.Width != 98) {
			t.Fatalf("planning rect=%+v", b.Rect)
		}
		if b.Event.Title == "Lunch" && b.Rect.Width != 200 {
			t.Fatalf("lunch rect=%+v", b.Rect)
		}
	}

	if got := testutil.ToFloat64(m.LayoutRuns.WithLabelValues("day")); got != 1 {
		t.Fatalf("day layout runs=%v", got)
	}
	if got := testutil.ToFloat64(m.FeedFetches.WithLabelValues("work", "fresh")); got != 1 {
		t.Fatalf("fresh fetches=%v", got)
	}
	if got := testutil.ToFloat64(m.FeedEvents.WithLabelValues("work")); got != 4 {
		t.Fatalf("feed events gauge=%v", got)
	}
}

func TestRefreshKeepsEventsOfFailedSource(t *testing.T) {
	m := metrics.New()
	svc, path := newTestService(t, workCalendar, m)
	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	n, err := svc.Refresh(context.Background())
	if err == nil {
		t.Fatalf("expected error for missing calendar")
	}
	if n != 4 || len(svc.Events()) != 4 {
		t.Fatalf("stale events dropped: n=%d", n)
	}
	if got := testutil.ToFloat64(m.FeedFetches.WithLabelValues("work", "error")); got != 1 {
		t.Fatalf("error fetches=%v", got)
	}
}

func TestWeekStartsOnConfiguredDay(t *testing.T) {
	svc, _ := newTestService(t, workCalendar, nil)
	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	week := svc.Week(fixedNow)
	if week.Start.Weekday() != time.Monday || week.Start.Day() != 10 {
		t.Fatalf("week start=%v", week.Start)
	}
	if len(week.Days) != 7 {
		t.Fatalf("days=%d", len(week.Days))
	}
	if len(week.Days[2].Blocks) != 3 || len(week.Days[0].Blocks) != 0 {
		t.Fatalf("blocks per day: mon=%d wed=%d", len(week.Days[0].Blocks), len(week.Days[2].Blocks))
	}

	svc.cfg.WeekStart = "sunday"
	if got := svc.Week(fixedNow).Start; got.Weekday() != time.Sunday || got.Day() != 9 {
		t.Fatalf("sunday week start=%v", got)
	}
}

func TestSetEventsAndHiddenAllDay(t *testing.T) {
	svc, _ := newTestService(t, workCalendar, nil)
	svc.cfg.ShowAllDay = false

	svc.SetEvents([]model.Event{
		{ID: "x", Title: "Holiday", AllDay: true, Start: time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC)},
		{ID: "y", Title: "Call", Start: fixedNow, End: fixedNow.Add(30 * time.Minute)},
	})

	day := svc.Day(fixedNow)
	if len(day.AllDay) != 0 {
		t.Fatalf("all-day shown despite show_all_day=false")
	}
	if len(day.Blocks) != 1 || day.Blocks[0].TotalColumns != 1 {
		t.Fatalf("blocks=%+v", day.Blocks)
	}
	if at, _ := svc.Status(); !at.Equal(fixedNow) {
		t.Fatalf("refreshed at=%v", at)
	}
}

func TestRefresher(t *testing.T) {
	svc, _ := newTestService(t, workCalendar, nil)

	if _, err := NewRefresher(svc, "not a schedule"); err == nil {
		t.Fatalf("expected invalid schedule error")
	}

	r, err := NewRefresher(svc, "@every 1h")
	if err != nil {
		t.Fatalf("new refresher: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop()

	if got := len(svc.Events()); got != 4 {
		t.Fatalf("initial refresh loaded %d events", got)
	}
}
