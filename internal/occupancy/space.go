package occupancy

import "image"

// Space is one parking slot: a fixed rectangle of the frame.
type Space struct {
	ID   int
	Rect image.Rectangle
}

// SpaceState is the classification of a Space for the most recent frame.
// The JSON shape matches the /estado_espacios contract.
type SpaceState struct {
	ID       int  `json:"id"`
	Occupied bool `json:"ocupado"`
	Count    int  `json:"count"`
}

// NewSpaces numbers rectangles in input order, starting at 0.
func NewSpaces(rects []image.Rectangle) []Space {
	spaces := make([]Space, len(rects))
	for i, r := range rects {
		spaces[i] = Space{ID: i, Rect: r}
	}
	return spaces
}

// OccupiedCount returns how many states are occupied.
func OccupiedCount(states []SpaceState) int {
	n := 0
	for _, s := range states {
		if s.Occupied {
			n++
		}
	}
	return n
}
