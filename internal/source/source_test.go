package source

import (
	"image"
	"testing"

	"github.com/dj-oyu/parking-monitor/internal/occupancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// clip is a fake capture that plays a fixed list of frames. A nil entry
// yields a successful read with an empty Mat.
type clip struct {
	frames []*gocv.Mat
	pos    int
	broken bool
	closed bool
}

func (c *clip) Read(m *gocv.Mat) bool {
	if c.broken || c.pos >= len(c.frames) {
		return false
	}
	f := c.frames[c.pos]
	c.pos++
	if f == nil {
		m.Close()
		*m = gocv.NewMat()
		return true
	}
	f.CopyTo(m)
	return true
}

func (c *clip) Set(prop gocv.VideoCaptureProperties, param float64) {
	if prop == gocv.VideoCapturePosFrames {
		c.pos = int(param)
	}
}

func (c *clip) IsOpened() bool { return !c.closed }

func (c *clip) Close() error {
	c.closed = true
	return nil
}

func solid(t *testing.T, v float64) *gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, v, v, 0), 120, 160, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return &m
}

func checker(t *testing.T) *gocv.Mat {
	t.Helper()
	gray := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 120, 160, gocv.MatTypeCV8UC1)
	defer gray.Close()
	for y := 20; y < 100; y++ {
		for x := 20; x < 100; x++ {
			if (x+y)%2 == 0 {
				gray.SetUCharAt(y, x, 255)
			}
		}
	}
	m := gocv.NewMat()
	gocv.CvtColor(gray, &m, gocv.ColorGrayToBGR)
	t.Cleanup(func() { m.Close() })
	return &m
}

func TestRewindsAtEndOfStream(t *testing.T) {
	c := &clip{frames: []*gocv.Mat{solid(t, 10), solid(t, 20)}}
	src := NewLooping(c)
	dst := gocv.NewMat()
	defer dst.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, src.Next(&dst))
	}
	assert.Equal(t, uint64(5), src.Frames())
	assert.Equal(t, uint64(2), src.Rewinds())
}

func TestUnreadableSource(t *testing.T) {
	src := NewLooping(&clip{broken: true})
	dst := gocv.NewMat()
	defer dst.Close()

	assert.ErrorIs(t, src.Next(&dst), ErrUnreadable)
	assert.Zero(t, src.Frames())
}

func TestEmptyClipIsUnreadable(t *testing.T) {
	src := NewLooping(&clip{})
	dst := gocv.NewMat()
	defer dst.Close()
	assert.ErrorIs(t, src.Next(&dst), ErrUnreadable)
}

func TestBadFrameIsSkippable(t *testing.T) {
	c := &clip{frames: []*gocv.Mat{solid(t, 10), nil, solid(t, 30)}}
	src := NewLooping(c)
	dst := gocv.NewMat()
	defer dst.Close()

	require.NoError(t, src.Next(&dst))
	assert.ErrorIs(t, src.Next(&dst), ErrBadFrame)
	require.NoError(t, src.Next(&dst))
	assert.Equal(t, uint64(2), src.Frames())
}

func TestRepeatedPassesClassifyIdentically(t *testing.T) {
	c := &clip{frames: []*gocv.Mat{checker(t), solid(t, 0), checker(t)}}
	src := NewLooping(c)
	defer src.Close()

	cls, err := occupancy.New(occupancy.NewSpaces([]image.Rectangle{
		image.Rect(40, 40, 80, 80),
		image.Rect(120, 20, 150, 60),
	}), occupancy.DefaultParams())
	require.NoError(t, err)
	defer cls.Close()

	dst := gocv.NewMat()
	defer dst.Close()

	pass := func() [][]occupancy.SpaceState {
		var out [][]occupancy.SpaceState
		for range c.frames {
			require.NoError(t, src.Next(&dst))
			states, err := cls.Classify(dst)
			require.NoError(t, err)
			out = append(out, states)
		}
		return out
	}

	first := pass()
	second := pass()
	third := pass()
	assert.Equal(t, first, second)
	assert.Equal(t, first, third)
	assert.True(t, first[0][0].Occupied)
	assert.False(t, first[1][0].Occupied)
}

func TestCloseReleasesCapture(t *testing.T) {
	c := &clip{}
	require.NoError(t, NewLooping(c).Close())
	assert.True(t, c.closed)
}
