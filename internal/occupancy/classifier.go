package occupancy

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// ErrEmptyFrame is returned when Classify is handed a frame with no pixels.
var ErrEmptyFrame = errors.New("empty frame")

// Classifier turns frames into per-space occupancy. It is safe for concurrent
// use: one mutex covers each classification step and each snapshot.
type Classifier struct {
	spaces []Space
	params Params

	mu     sync.Mutex
	states []SpaceState
	frames uint64

	// Scratch buffers reused across frames, guarded by mu.
	gray    gocv.Mat
	thresh  gocv.Mat
	median  gocv.Mat
	dilated gocv.Mat
	kernel  gocv.Mat
}

// New creates a classifier for a fixed list of spaces.
func New(spaces []Space, params Params) (*Classifier, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if len(spaces) == 0 {
		return nil, errors.New("no spaces defined")
	}

	own := make([]Space, len(spaces))
	copy(own, spaces)

	states := make([]SpaceState, len(own))
	for i, s := range own {
		states[i] = SpaceState{ID: s.ID}
	}

	return &Classifier{
		spaces:  own,
		params:  params,
		states:  states,
		gray:    gocv.NewMat(),
		thresh:  gocv.NewMat(),
		median:  gocv.NewMat(),
		dilated: gocv.NewMat(),
		kernel:  gocv.GetStructuringElement(gocv.MorphRect, image.Pt(params.DilateKernel, params.DilateKernel)),
	}, nil
}

// Classify runs the pipeline on one BGR (or gray) frame and overwrites the
// stored states. The returned slice is a copy.
func (c *Classifier) Classify(frame gocv.Mat) ([]SpaceState, error) {
	if frame.Empty() {
		return nil, ErrEmptyFrame
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch frame.Channels() {
	case 1:
		frame.CopyTo(&c.gray)
	case 4:
		gocv.CvtColor(frame, &c.gray, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(frame, &c.gray, gocv.ColorBGRToGray)
	}

	gocv.AdaptiveThreshold(c.gray, &c.thresh, 255,
		gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinaryInv,
		c.params.BlockSize, float32(c.params.Offset))
	gocv.MedianBlur(c.thresh, &c.median, c.params.MedianKernel)
	gocv.Dilate(c.median, &c.dilated, c.kernel)
	for i := 1; i < c.params.DilateIterations; i++ {
		gocv.Dilate(c.dilated, &c.dilated, c.kernel)
	}

	bounds := image.Rect(0, 0, c.dilated.Cols(), c.dilated.Rows())
	for i, s := range c.spaces {
		count := countNonZero(c.dilated, s.Rect.Intersect(bounds))
		c.states[i] = SpaceState{
			ID:       s.ID,
			Occupied: c.params.Occupied(count),
			Count:    count,
		}
	}
	c.frames++

	return c.snapshotLocked(), nil
}

func countNonZero(binary gocv.Mat, r image.Rectangle) int {
	if r.Empty() {
		return 0
	}
	region := binary.Region(r)
	defer region.Close()
	return gocv.CountNonZero(region)
}

// Snapshot returns a copy of the most recent states.
func (c *Classifier) Snapshot() []SpaceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Classifier) snapshotLocked() []SpaceState {
	out := make([]SpaceState, len(c.states))
	copy(out, c.states)
	return out
}

// Frames returns how many frames have been classified.
func (c *Classifier) Frames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Spaces returns the space geometry in id order.
func (c *Classifier) Spaces() []Space {
	out := make([]Space, len(c.spaces))
	copy(out, c.spaces)
	return out
}

func (c *Classifier) Params() Params { return c.params }

// Close releases the scratch buffers.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range []*gocv.Mat{&c.gray, &c.thresh, &c.median, &c.dilated, &c.kernel} {
		m.Close()
	}
	return nil
}
