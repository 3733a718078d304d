package render

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"daygrid/internal/agenda"
	"daygrid/internal/layout"
	"daygrid/internal/model"
)

func sampleDay() agenda.DayView {
	day := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)
	frame := layout.Frame{
		DayStart:        day.Add(8 * time.Hour),
		PixelsPerMinute: 1,
		Width:           200,
		Gap:             4,
	}
	events := []model.Event{
		{ID: "a", Title: "Q&A <live>", CategoryColor: "#ff0000", Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)},
		{ID: "b", Title: "Review", CategoryColor: "red;stroke:black", Start: day.Add(9*time.Hour + 30*time.Minute), End: day.Add(10*time.Hour + 30*time.Minute)},
		{ID: "c", Title: "Early", Start: day.Add(6 * time.Hour), End: day.Add(7 * time.Hour)},
	}
	return agenda.DayView{
		Date:   day,
		AllDay: []model.Event{{ID: "d", Title: "Sprint", AllDay: true, Start: day, End: day.AddDate(0, 0, 1)}},
		Blocks: frame.PlaceAll(layout.Compute(events)),
		Frame:  frame,
		Height: 12 * 60,
	}
}

func TestDaySVG(t *testing.T) {
	out := DaySVG(sampleDay(), Options{})

	if err := xml.Unmarshal([]byte(out), new(struct{})); err != nil {
		t.Fatalf("not well-formed XML: %v", err)
	}
	if !strings.Contains(out, `data-ready="true"`) {
		t.Fatalf("missing data-ready marker")
	}
	if !strings.Contains(out, "Q&amp;A &lt;live&gt;") || strings.Contains(out, "<live>") {
		t.Fatalf("title not escaped")
	}
	if !strings.Contains(out, `fill="#ff0000"`) {
		t.Fatalf("category colour not used")
	}
	if strings.Contains(out, "stroke:black") {
		t.Fatalf("invalid colour leaked into output")
	}
	// Two visible timed blocks plus one all-day box; "Early" is above the grid.
	if got := strings.Count(out, `class="event"`); got != 3 {
		t.Fatalf("event rects=%d, want 3", got)
	}
	if strings.Contains(out, "<title>Early</title>") {
		t.Fatalf("block outside visible hours was drawn")
	}
	if got := strings.Count(out, "<line "); got != 13 {
		t.Fatalf("hour lines=%d, want 13", got)
	}
}

func TestWeekSVG(t *testing.T) {
	d := sampleDay()
	week := agenda.WeekView{Start: d.Date}
	for i := 0; i < layout.DaysPerWeek; i++ {
		day := d
		day.Date = d.Date.AddDate(0, 0, i)
		week.Days = append(week.Days, day)
	}

	out := WeekSVG(week, DefaultOptions())
	if got := strings.Count(out, `class="day"`); got != 7 {
		t.Fatalf("day groups=%d", got)
	}
	// 40 gutter + 7*200 + 6*8 gaps.
	if !strings.Contains(out, `width="1488.0"`) {
		t.Fatalf("unexpected document width: %s", out[:200])
	}
}

func TestIsHexColor(t *testing.T) {
	tests := map[string]bool{
		"#fff":     true,
		"#A1b2C3":  true,
		"fff":      false,
		"#ffff":    false,
		"#gggggg":  false,
		"":         false,
		"#12345g":  false,
		"#1234567": false,
	}
	for in, want := range tests {
		if got := IsHexColor(in); got != want {
			t.Fatalf("IsHexColor(%q)=%v, want %v", in, got, want)
		}
	}
}

func TestClipVertical(t *testing.T) {
	if _, _, ok := clipVertical(-50, 20, 100); ok {
		t.Fatalf("block above grid should be dropped")
	}
	y, h, ok := clipVertical(-10, 30, 100)
	if !ok || y != 0 || h != 20 {
		t.Fatalf("clip top: y=%v h=%v", y, h)
	}
	y, h, ok = clipVertical(90, 30, 100)
	if !ok || y != 90 || h != 10 {
		t.Fatalf("clip bottom: y=%v h=%v", y, h)
	}
}
