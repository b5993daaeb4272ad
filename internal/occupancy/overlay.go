package occupancy

import (
	"image"
	"image/color"
	"strconv"

	"gocv.io/x/gocv"
)

// LabelStyle selects the text drawn next to each space.
type LabelStyle int

const (
	// LabelID draws the 1-based space number above the rectangle.
	LabelID LabelStyle = iota
	// LabelCount draws the raw pixel count inside the rectangle.
	LabelCount
)

var (
	freeColor     = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	occupiedColor = color.RGBA{R: 0, G: 0, B: 255, A: 0}
	countColor    = color.RGBA{R: 0, G: 255, B: 255, A: 0}
)

// StateColor returns the rectangle color for a state.
func StateColor(occupied bool) color.RGBA {
	if occupied {
		return occupiedColor
	}
	return freeColor
}

// Annotate draws spaces and their states onto frame in place.
// spaces and states are matched by index.
func Annotate(frame *gocv.Mat, spaces []Space, states []SpaceState, style LabelStyle) {
	for i, s := range spaces {
		if i >= len(states) {
			return
		}
		st := states[i]
		c := StateColor(st.Occupied)
		gocv.Rectangle(frame, s.Rect, c, 2)

		switch style {
		case LabelCount:
			org := image.Pt(s.Rect.Min.X, s.Rect.Max.Y-10)
			gocv.PutText(frame, strconv.Itoa(st.Count), org, gocv.FontHersheySimplex, 0.5, countColor, 1)
		default:
			org := image.Pt(s.Rect.Min.X, s.Rect.Min.Y-10)
			gocv.PutText(frame, strconv.Itoa(s.ID+1), org, gocv.FontHersheySimplex, 0.5, c, 2)
		}
	}
}
