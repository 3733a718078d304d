// Package render draws agenda views as standalone SVG documents.
package render

import (
	"fmt"
	"math"
	"strings"
	"time"

	"daygrid/internal/agenda"
	"daygrid/internal/layout"
	"daygrid/internal/model"
)

// Options controls fonts, colours and the chrome around the time grid.
type Options struct {
	FontFamily string
	FontSize   int

	// Background, Text, GridLine and DefaultFill are CSS colours.
	Background  string
	Text        string
	GridLine    string
	DefaultFill string

	// GutterWidth is reserved left of the grid for hour labels.
	GutterWidth float64
	// HeaderHeight holds the date label above each day.
	HeaderHeight float64
	// AllDayRowHeight is the height of one all-day row.
	AllDayRowHeight float64
	// DayGap separates day columns in the week view.
	DayGap float64
}

// DefaultOptions returns a black-on-white theme.
func DefaultOptions() Options {
	return Options{
		FontFamily:      "sans-serif",
		FontSize:        11,
		Background:      "#ffffff",
		Text:            "#111111",
		GridLine:        "#dddddd",
		DefaultFill:     "#4a90d9",
		GutterWidth:     40,
		HeaderHeight:    24,
		AllDayRowHeight: 18,
		DayGap:          8,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.FontFamily == "" {
		o.FontFamily = d.FontFamily
	}
	if o.FontSize <= 0 {
		o.FontSize = d.FontSize
	}
	if o.Background == "" {
		o.Background = d.Background
	}
	if o.Text == "" {
		o.Text = d.Text
	}
	if o.GridLine == "" {
		o.GridLine = d.GridLine
	}
	if !IsHexColor(o.DefaultFill) {
		o.DefaultFill = d.DefaultFill
	}
	if o.GutterWidth < 0 {
		o.GutterWidth = 0
	}
	if o.HeaderHeight <= 0 {
		o.HeaderHeight = d.HeaderHeight
	}
	if o.AllDayRowHeight <= 0 {
		o.AllDayRowHeight = d.AllDayRowHeight
	}
	if o.DayGap < 0 {
		o.DayGap = 0
	}
	return o
}

// DaySVG renders a single day.
func DaySVG(view agenda.DayView, opts Options) string {
	return draw([]agenda.DayView{view}, opts)
}

// WeekSVG renders the days of a week side by side.
func WeekSVG(view agenda.WeekView, opts Options) string {
	return draw(view.Days, opts)
}

func draw(days []agenda.DayView, opts Options) string {
	opts = opts.withDefaults()

	allDayRows := 0
	gridHeight := 0.0
	dayWidth := 0.0
	for _, d := range days {
		allDayRows = max(allDayRows, len(d.AllDay))
		gridHeight = max(gridHeight, d.Height)
		dayWidth = max(dayWidth, d.Frame.Width)
	}
	stripHeight := float64(allDayRows) * opts.AllDayRowHeight
	gridTop := opts.HeaderHeight + stripHeight

	width := opts.GutterWidth + float64(len(days))*dayWidth
	if len(days) > 1 {
		width += float64(len(days)-1) * opts.DayGap
	}
	height := gridTop + gridHeight

	var svg strings.Builder
	fmt.Fprintf(&svg, `<?xml version="1.0" encoding="UTF-8"?>
<svg width="%s" height="%s" xmlns="http://www.w3.org/2000/svg" data-ready="true">
<rect width="100%%" height="100%%" fill="%s"/>
<defs>
<style>
.label { font-family: %s; font-size: %dpx; fill: %s; }
.title { font-family: %s; font-size: %dpx; fill: #ffffff; }
</style>
</defs>
`, num(width), num(height), opts.Background,
		escapeXML(opts.FontFamily), opts.FontSize, opts.Text,
		escapeXML(opts.FontFamily), opts.FontSize)

	if len(days) > 0 {
		drawHours(&svg, days[0].Frame, gridTop, gridHeight, width, opts)
	}
	for i, d := range days {
		x0 := opts.GutterWidth + float64(i)*(dayWidth+opts.DayGap)
		drawDay(&svg, d, x0, gridTop, opts)
	}

	svg.WriteString("</svg>\n")
	return svg.String()
}

func drawHours(svg *strings.Builder, frame layout.Frame, top, height, width float64, opts Options) {
	step := 60 * frame.PixelsPerMinute
	if step <= 0 {
		return
	}
	for i := 0; float64(i)*step <= height; i++ {
		y := top + float64(i)*step
		fmt.Fprintf(svg, `<line x1="%s" y1="%s" x2="%s" y2="%s" stroke="%s" stroke-width="1"/>`+"\n",
			num(opts.GutterWidth), num(y), num(width), num(y), opts.GridLine)
		label := frame.DayStart.Add(time.Duration(i) * time.Hour).Format("15:04")
		fmt.Fprintf(svg, `<text class="label" x="2" y="%s">%s</text>`+"\n",
			num(y+float64(opts.FontSize)), label)
	}
}

func drawDay(svg *strings.Builder, d agenda.DayView, x0, gridTop float64, opts Options) {
	fmt.Fprintf(svg, `<g class="day" data-date="%s">`+"\n", d.Date.Format("2006-01-02"))
	fmt.Fprintf(svg, `<text class="label" x="%s" y="%s">%s</text>`+"\n",
		num(x0+2), num(opts.HeaderHeight-6), d.Date.Format("Mon 02 Jan"))

	for i, e := range d.AllDay {
		y := opts.HeaderHeight + float64(i)*opts.AllDayRowHeight
		drawBox(svg, e, x0, y+1, d.Frame.Width, opts.AllDayRowHeight-2, opts)
	}

	for _, b := range d.Blocks {
		y, h, ok := clipVertical(b.Rect.Y, b.Rect.Height, d.Height)
		if !ok {
			continue
		}
		drawBox(svg, b.Event, x0+b.Rect.X, gridTop+y, b.Rect.Width, h, opts)
	}
	svg.WriteString("</g>\n")
}

func drawBox(svg *strings.Builder, e model.Event, x, y, w, h float64, opts Options) {
	fill := opts.DefaultFill
	if IsHexColor(e.CategoryColor) {
		fill = e.CategoryColor
	}
	fmt.Fprintf(svg, `<rect class="event" x="%s" y="%s" width="%s" height="%s" rx="2" fill="%s"><title>%s</title></rect>`+"\n",
		num(x), num(y), num(w), num(h), fill, escapeXML(e.Title))
	if h >= float64(opts.FontSize) {
		fmt.Fprintf(svg, `<text class="title" x="%s" y="%s">%s</text>`+"\n",
			num(x+2), num(y+float64(opts.FontSize)), escapeXML(e.Title))
	}
}

// clipVertical trims a block to [0, limit]. Blocks entirely outside the
// visible hours are dropped.
func clipVertical(y, h, limit float64) (float64, float64, bool) {
	top := math.Max(y, 0)
	bottom := math.Min(y+h, limit)
	if bottom <= top {
		return 0, 0, false
	}
	return top, bottom - top, true
}

// IsHexColor accepts #rgb and #rrggbb.
func IsHexColor(s string) bool {
	if len(s) != 4 && len(s) != 7 {
		return false
	}
	if s[0] != '#' {
		return false
	}
	for _, c := range s[1:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func num(f float64) string {
	return fmt.Sprintf("%.1f", f)
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}
