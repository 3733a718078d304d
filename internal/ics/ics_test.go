package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teambition/rrule-go"
)

func readFixture(t *testing.T) []byte {
	t.Helper()
	body, err := os.ReadFile(filepath.Join("testdata", "week.ics"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return body
}

func TestParseICS(t *testing.T) {
	src := Source{ID: "work", URL: "https://example.com/work.ics", Color: "#3366ff"}
	events, err := ParseICS(src, readFixture(t))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5", len(events))
	}

	var overrides, cancelled int
	var offsite, noUID *ParsedEvent
	for i := range events {
		e := &events[i]
		if e.IsOverride {
			overrides++
		}
		if e.Cancelled {
			cancelled++
		}
		switch e.Summary {
		case "Offsite":
			offsite = e
		case "No UID":
			noUID = e
		}
	}
	if overrides != 2 || cancelled != 1 {
		t.Fatalf("overrides=%d cancelled=%d", overrides, cancelled)
	}
	if offsite == nil || !offsite.AllDay || offsite.Color != "#ff0000" {
		t.Fatalf("offsite=%+v", offsite)
	}
	if noUID == nil || noUID.UID == "" {
		t.Fatalf("missing generated UID: %+v", noUID)
	}

	again, err := ParseICS(src, readFixture(t))
	if err != nil {
		t.Fatalf("parse again: %v", err)
	}
	for _, e := range again {
		if e.Summary == "No UID" && e.UID != noUID.UID {
			t.Fatalf("generated UID not stable: %s vs %s", e.UID, noUID.UID)
		}
	}
}

func TestParseICSEmpty(t *testing.T) {
	if _, err := ParseICS(Source{ID: "x"}, []byte("  \r\n")); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("err=%v", err)
	}
}

func TestExpandEvents(t *testing.T) {
	src := Source{ID: "work", Color: "#3366ff"}
	parsed, err := ParseICS(src, readFixture(t))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	res, err := ExpandEvents(parsed, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		RangeEnd:        time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}

	var standups []string
	titles := map[string]string{}
	for _, e := range res.Events {
		titles[e.Title] = e.CategoryColor
		if strings.HasPrefix(e.Title, "Standup") {
			standups = append(standups, e.Start.Format("02 15:04"))
		}
		if e.SourceID != "work" {
			t.Fatalf("source id=%q", e.SourceID)
		}
	}
	sort.Strings(standups)
	want := []string{"10 09:00", "11 10:00", "14 09:00"}
	if strings.Join(standups, ",") != strings.Join(want, ",") {
		t.Fatalf("standups=%v, want %v", standups, want)
	}
	if len(res.Events) != 5 {
		t.Fatalf("got %d events, want 5", len(res.Events))
	}
	if titles["Offsite"] != "#ff0000" || titles["No UID"] != "#3366ff" {
		t.Fatalf("colours=%v", titles)
	}

	ids := map[string]bool{}
	for _, e := range res.Events {
		if ids[e.ID] {
			t.Fatalf("duplicate id %s", e.ID)
		}
		ids[e.ID] = true
	}
	if !ids["standup/20250311T090000Z"] {
		t.Fatalf("moved instance should keep its original instance id: %v", ids)
	}
}

func TestExpandAllDayInDisplayZone(t *testing.T) {
	kst := time.FixedZone("KST", 9*3600)
	parsed, err := ParseICS(Source{ID: "work"}, readFixture(t))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	res, err := ExpandEvents(parsed, ExpandConfig{
		DisplayLocation: kst,
		RangeStart:      time.Date(2025, 3, 10, 0, 0, 0, 0, kst),
		RangeEnd:        time.Date(2025, 3, 17, 0, 0, 0, 0, kst),
	})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}

	for _, e := range res.Events {
		if e.Title != "Offsite" {
			if e.Start.Location() != kst {
				t.Fatalf("%s not converted to display zone", e.Title)
			}
			continue
		}
		wantStart := time.Date(2025, 3, 14, 0, 0, 0, 0, kst)
		if !e.Start.Equal(wantStart) || !e.End.Equal(wantStart.AddDate(0, 0, 1)) {
			t.Fatalf("offsite=%v..%v, want local midnights of 14th and 15th", e.Start, e.End)
		}
		return
	}
	t.Fatalf("offsite event missing")
}

func TestExpandAllDayRecurringInDisplayZone(t *testing.T) {
	west := time.FixedZone("UTC-5", -5*3600)
	ev := ParsedEvent{
		Source:   Source{ID: "s"},
		UID:      "gym",
		Summary:  "Gym day",
		AllDay:   true,
		Start:    time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
		RawRRule: "FREQ=DAILY;COUNT=3",
	}
	res, err := ExpandEvents([]ParsedEvent{ev}, ExpandConfig{
		DisplayLocation: west,
		RangeStart:      time.Date(2025, 3, 10, 0, 0, 0, 0, west),
		RangeEnd:        time.Date(2025, 3, 20, 0, 0, 0, 0, west),
	})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(res.Events) != 3 {
		t.Fatalf("got %d occurrences, want 3", len(res.Events))
	}
	for i, e := range res.Events {
		want := time.Date(2025, 3, 10+i, 0, 0, 0, 0, west)
		if !e.Start.Equal(want) || !e.End.Equal(want.AddDate(0, 0, 1)) {
			t.Fatalf("occurrence %d=%v..%v, want %v", i, e.Start, e.End, want)
		}
	}
}

func TestExpandCapStopsEarly(t *testing.T) {
	ev := ParsedEvent{
		Source:   Source{ID: "s"},
		UID:      "tick",
		Start:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC),
		RawRRule: "FREQ=SECONDLY",
	}
	// A month of seconds is ~2.7M occurrences; the cap must stop the walk
	// long before that.
	res, err := ExpandEvents([]ParsedEvent{ev}, ExpandConfig{
		DisplayLocation:        time.UTC,
		RangeStart:             time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:               time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		MaxOccurrencesPerEvent: 3,
	})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(res.Events) != 3 || len(res.TruncatedEvents) != 1 {
		t.Fatalf("events=%d truncated=%v", len(res.Events), res.TruncatedEvents)
	}

	var set rrule.Set
	r, err := rrule.StrToRRule("FREQ=DAILY;COUNT=4")
	if err != nil {
		t.Fatalf("rrule: %v", err)
	}
	r.DTStart(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	set.RRule(r)
	got, more := occurrencesBetween(&set, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), 3)
	if len(got) != 3 || more {
		t.Fatalf("got=%v more=%v, want 3 occurrences and nothing left", got, more)
	}
}

func TestExpandKeepsRunningOccurrence(t *testing.T) {
	ev := ParsedEvent{
		Source:   Source{ID: "s"},
		UID:      "night",
		Summary:  "Night shift",
		Start:    time.Date(2025, 3, 1, 22, 0, 0, 0, time.UTC),
		End:      time.Date(2025, 3, 2, 6, 0, 0, 0, time.UTC),
		RawRRule: "FREQ=DAILY",
	}
	res, err := ExpandEvents([]ParsedEvent{ev}, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		RangeEnd:        time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("got %d occurrences, want the one still running plus the one starting", len(res.Events))
	}
}

func TestExpandCap(t *testing.T) {
	ev := ParsedEvent{
		Source:   Source{ID: "s"},
		UID:      "tick",
		Start:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC),
		RawRRule: "FREQ=HOURLY",
	}
	res, err := ExpandEvents([]ParsedEvent{ev}, ExpandConfig{
		DisplayLocation:        time.UTC,
		RangeStart:             time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:               time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		MaxOccurrencesPerEvent: 10,
	})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(res.Events) != 10 || len(res.TruncatedEvents) != 1 || res.TruncatedEvents[0] != "tick" {
		t.Fatalf("events=%d truncated=%v", len(res.Events), res.TruncatedEvents)
	}
}

func TestExpandInvalidRange(t *testing.T) {
	now := time.Now()
	if _, err := ExpandEvents(nil, ExpandConfig{RangeStart: now, RangeEnd: now.Add(-time.Hour)}); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("err=%v", err)
	}
}

func TestFetchUsesConditionalCache(t *testing.T) {
	body := readFixture(t)
	var hits, conditional atomic.Int32
	fail := atomic.Bool{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "work", URL: srv.URL + "/private.ics?token=secret"}
	ctx := context.Background()

	first, err := f.FetchOne(ctx, src)
	if err != nil || first.FromCache || len(first.Body) != len(body) {
		t.Fatalf("first fetch: cache=%v len=%d err=%v", first.FromCache, len(first.Body), err)
	}

	second, err := f.FetchOne(ctx, src)
	if err != nil || !second.FromCache || conditional.Load() != 1 {
		t.Fatalf("second fetch: cache=%v conditional=%d err=%v", second.FromCache, conditional.Load(), err)
	}

	fail.Store(true)
	third, err := f.FetchOne(ctx, src)
	if err != nil || !third.FromCache || len(third.Body) != len(body) {
		t.Fatalf("fallback fetch: cache=%v err=%v", third.FromCache, err)
	}
	if hits.Load() != 3 {
		t.Fatalf("hits=%d", hits.Load())
	}
}

func TestFetchErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	if _, err := f.FetchOne(context.Background(), Source{ID: "x", URL: srv.URL}); !errors.Is(err, ErrNotModifiedNoCache) {
		t.Fatalf("err=%v", err)
	}

	results, errs := f.FetchAll(context.Background(), []Source{{ID: "x", URL: srv.URL}, {ID: "empty"}})
	if len(results) != 0 || len(errs) != 2 {
		t.Fatalf("results=%d errs=%d", len(results), len(errs))
	}
}

func TestFetchLocalFile(t *testing.T) {
	path, err := filepath.Abs(filepath.Join("testdata", "week.ics"))
	if err != nil {
		t.Fatalf("abs: %v", err)
	}
	f := NewFetcher(t.TempDir(), nil)
	for _, u := range []string{path, "file://" + path} {
		res, err := f.FetchOne(context.Background(), Source{ID: "local", URL: u})
		if err != nil || len(res.Body) == 0 {
			t.Fatalf("%s: err=%v", u, err)
		}
	}
}

func TestRedactURL(t *testing.T) {
	tests := map[string]string{
		"https://example.com/path/private.ics?token=abc": "https://example.com/...(redacted)",
		"/home/me/cal.ics":                               "file://cal.ics",
		"webcal://cal.example.org/x":                     "webcal://cal.example.org/...(redacted)",
	}
	for in, want := range tests {
		if got := redactURL(in); got != want {
			t.Fatalf("redactURL(%q)=%q, want %q", in, got, want)
		}
	}
}
