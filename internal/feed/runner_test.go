package feed

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/dj-oyu/parking-monitor/internal/metrics"
	"github.com/dj-oyu/parking-monitor/internal/occupancy"
	"github.com/dj-oyu/parking-monitor/internal/source"
	"github.com/dj-oyu/parking-monitor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// scriptedSource returns the scripted errors in order, then a gray frame forever.
type scriptedSource struct {
	mu     sync.Mutex
	script []error
	reads  int
}

func (s *scriptedSource) Next(dst *gocv.Mat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if len(s.script) > 0 {
		err := s.script[0]
		s.script = s.script[1:]
		if err != nil {
			return err
		}
	}
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(90, 90, 90, 0), 120, 160, gocv.MatTypeCV8UC3)
	defer frame.Close()
	frame.CopyTo(dst)
	return nil
}

func (s *scriptedSource) Rewinds() uint64 { return 0 }

type frameSink struct {
	mu     sync.Mutex
	want   bool
	frames []*types.EncodedFrame
}

func (f *frameSink) Wants() bool { return f.want }

func (f *frameSink) Publish(frame *types.EncodedFrame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
}

func (f *frameSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type stateSink struct {
	mu     sync.Mutex
	latest []occupancy.SpaceState
	calls  int
}

func (s *stateSink) PublishStates(states []occupancy.SpaceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = states
	s.calls++
}

func newRunner(t *testing.T, src Source) (*Runner, *metrics.Metrics) {
	t.Helper()
	cls, err := occupancy.New(occupancy.NewSpaces([]image.Rectangle{
		image.Rect(10, 10, 50, 50),
		image.Rect(80, 10, 120, 50),
	}), occupancy.DefaultParams())
	require.NoError(t, err)
	t.Cleanup(func() { cls.Close() })

	m := metrics.New()
	return NewRunner(src, cls, m, time.Millisecond), m
}

func TestStepSkipsEncodingWithoutViewers(t *testing.T) {
	r, m := newRunner(t, &scriptedSource{})
	idle := &frameSink{want: false}
	states := &stateSink{}
	r.AddSink(idle)
	r.AddStateSink(states)

	frame := gocv.NewMat()
	defer frame.Close()
	require.NoError(t, r.Step(&frame))

	assert.Zero(t, idle.count())
	assert.Equal(t, 1, states.calls)
	assert.Len(t, states.latest, 2)
	assert.Equal(t, uint64(1), m.FramesClassified.Load())
	assert.Zero(t, m.FramesPublished.Load())
}

func TestStepPublishesJPEG(t *testing.T) {
	r, m := newRunner(t, &scriptedSource{})
	viewer := &frameSink{want: true}
	r.AddSink(viewer)

	frame := gocv.NewMat()
	defer frame.Close()
	require.NoError(t, r.Step(&frame))
	require.NoError(t, r.Step(&frame))

	require.Equal(t, 2, viewer.count())
	got := viewer.frames[1]
	require.Greater(t, len(got.Data), 2)
	assert.Equal(t, []byte{0xFF, 0xD8}, got.Data[:2])
	assert.Equal(t, uint64(2), got.FrameNum)
	assert.Equal(t, 160, got.Width)
	assert.Equal(t, 120, got.Height)
	assert.Equal(t, 2, got.Total)
	assert.Equal(t, uint64(2), m.FramesPublished.Load())
}

func TestRunSkipsBadFramesAndStopsOnUnreadable(t *testing.T) {
	src := &scriptedSource{script: []error{nil, source.ErrBadFrame, nil, source.ErrUnreadable}}
	r, m := newRunner(t, src)

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, source.ErrUnreadable)
	assert.Equal(t, 4, src.reads)
	assert.Equal(t, uint64(2), m.FramesClassified.Load())
	assert.Equal(t, uint64(1), m.BadFrames.Load())
}

func TestRunStopsOnCancel(t *testing.T) {
	r, m := newRunner(t, &scriptedSource{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return m.FramesClassified.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestRecoverable(t *testing.T) {
	assert.True(t, Recoverable(source.ErrBadFrame))
	assert.True(t, Recoverable(occupancy.ErrEmptyFrame))
	assert.True(t, Recoverable(ErrEncode))
	assert.False(t, Recoverable(source.ErrUnreadable))
	assert.False(t, Recoverable(context.Canceled))
}
