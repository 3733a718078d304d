package layout

import "time"

// Frame maps layouts onto a vertical time axis of a fixed pixel width.
type Frame struct {
	// DayStart is the instant drawn at y=0.
	DayStart time.Time
	// PixelsPerMinute scales durations to heights.
	PixelsPerMinute float64
	// Width is the horizontal space shared by the columns of a cluster.
	Width float64
	// Gap separates neighbouring columns.
	Gap float64
	// MinHeight keeps instants and very short events visible. Zero means
	// heights are purely proportional.
	MinHeight float64
}

// Rect is a block's position relative to the frame origin.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Block pairs a layout with its geometry.
type Block struct {
	EventLayout
	Rect Rect
}

// ColumnWidth is the width of one column when total columns share the
// frame: (Width - Gap*(total-1)) / total.
func (f Frame) ColumnWidth(total int) float64 {
	if total < 1 {
		total = 1
	}
	w := (f.Width - f.Gap*float64(total-1)) / float64(total)
	if w < 0 {
		return 0
	}
	return w
}

// Place computes the rectangle for l.
func (f Frame) Place(l EventLayout) Rect {
	total := l.TotalColumns
	if total < 1 {
		total = 1
	}
	span := l.Span
	if span < 1 {
		span = 1
	}
	if l.Column+span > total {
		span = total - l.Column
		if span < 1 {
			span = 1
		}
	}

	colW := f.ColumnWidth(total)
	height := l.Range.Duration().Minutes() * f.PixelsPerMinute
	if height < f.MinHeight {
		height = f.MinHeight
	}

	return Rect{
		X:      float64(l.Column) * (colW + f.Gap),
		Y:      l.Range.Start.Sub(f.DayStart).Minutes() * f.PixelsPerMinute,
		Width:  colW*float64(span) + f.Gap*float64(span-1),
		Height: height,
	}
}

// PlaceAll places every layout, preserving order.
func (f Frame) PlaceAll(layouts []EventLayout) []Block {
	out := make([]Block, len(layouts))
	for i, l := range layouts {
		out[i] = Block{EventLayout: l, Rect: f.Place(l)}
	}
	return out
}
