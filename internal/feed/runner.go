// Package feed drives the frame classifier from a video source and hands the
// results to the delivery layer: raw states to state sinks, annotated JPEG
// frames to frame sinks. Pacing lives here, not in the classifier.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dj-oyu/parking-monitor/internal/logger"
	"github.com/dj-oyu/parking-monitor/internal/metrics"
	"github.com/dj-oyu/parking-monitor/internal/occupancy"
	"github.com/dj-oyu/parking-monitor/internal/source"
	"github.com/dj-oyu/parking-monitor/pkg/types"
	"gocv.io/x/gocv"
)

// ErrEncode marks a frame that could not be JPEG encoded. It is recoverable.
var ErrEncode = errors.New("jpeg encode failed")

// Source yields frames in order.
type Source interface {
	Next(dst *gocv.Mat) error
	Rewinds() uint64
}

// Classifier is satisfied by *occupancy.Classifier.
type Classifier interface {
	Classify(frame gocv.Mat) ([]occupancy.SpaceState, error)
	Spaces() []occupancy.Space
}

// Sink receives annotated frames. Wants lets the runner skip annotation and
// encoding when nobody is watching.
type Sink interface {
	Wants() bool
	Publish(frame *types.EncodedFrame)
}

// StateSink receives every classification result.
type StateSink interface {
	PublishStates(states []occupancy.SpaceState)
}

// Runner pulls one frame per tick.
type Runner struct {
	src        Source
	cls        Classifier
	spaces     []occupancy.Space
	metrics    *metrics.Metrics
	interval   time.Duration
	quality    int
	sinks      []Sink
	stateSinks []StateSink
	frameNum   uint64
}

// NewRunner creates a runner. m may be nil.
func NewRunner(src Source, cls Classifier, m *metrics.Metrics, interval time.Duration) *Runner {
	if m == nil {
		m = metrics.New()
	}
	return &Runner{
		src:      src,
		cls:      cls,
		spaces:   cls.Spaces(),
		metrics:  m,
		interval: interval,
		quality:  80,
	}
}

// SetJPEGQuality sets the encoder quality (1-100).
func (r *Runner) SetJPEGQuality(q int) {
	if q >= 1 && q <= 100 {
		r.quality = q
	}
}

// AddSink registers a frame sink. Not safe to call while Run is active.
func (r *Runner) AddSink(s Sink) { r.sinks = append(r.sinks, s) }

// AddStateSink registers a state sink. Not safe to call while Run is active.
func (r *Runner) AddStateSink(s StateSink) { r.stateSinks = append(r.stateSinks, s) }

// Run loops until ctx is done or the source fails for good. Bad frames and
// encode failures are skipped.
func (r *Runner) Run(ctx context.Context) error {
	frame := gocv.NewMat()
	defer frame.Close()

	interval := r.interval
	if interval <= 0 {
		interval = 33 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Feed", "Starting frame loop (interval=%v, spaces=%d)", interval, len(r.spaces))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		err := r.Step(&frame)
		switch {
		case err == nil:
		case Recoverable(err):
			logger.Debug("Feed", "Skipping frame: %v", err)
		default:
			logger.Error("Feed", "Frame loop stopped: %v", err)
			return err
		}
	}
}

// Recoverable reports whether the loop may continue after err.
func Recoverable(err error) bool {
	return errors.Is(err, source.ErrBadFrame) ||
		errors.Is(err, occupancy.ErrEmptyFrame) ||
		errors.Is(err, ErrEncode)
}

// Step reads, classifies and publishes a single frame.
func (r *Runner) Step(frame *gocv.Mat) error {
	err := r.src.Next(frame)
	r.metrics.Rewinds.Store(r.src.Rewinds())
	if err != nil {
		if errors.Is(err, source.ErrBadFrame) {
			r.metrics.BadFrames.Add(1)
		}
		return err
	}
	r.metrics.FramesRead.Add(1)

	start := time.Now()
	states, err := r.cls.Classify(*frame)
	if err != nil {
		r.metrics.BadFrames.Add(1)
		return err
	}
	r.metrics.ObserveStates(states, time.Since(start))
	r.frameNum++

	for _, s := range r.stateSinks {
		s.PublishStates(states)
	}

	var wanted []Sink
	for _, s := range r.sinks {
		if s.Wants() {
			wanted = append(wanted, s)
		}
	}
	if len(wanted) == 0 {
		return nil
	}

	occupancy.Annotate(frame, r.spaces, states, occupancy.LabelID)

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, *frame, []int{gocv.IMWriteJpegQuality, r.quality})
	if err != nil {
		r.metrics.EncodeErrors.Add(1)
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	buf.Close()

	if len(data) == 0 {
		r.metrics.EncodeErrors.Add(1)
		return ErrEncode
	}

	encoded := &types.EncodedFrame{
		Data:      data,
		Timestamp: time.Now(),
		FrameNum:  r.frameNum,
		Width:     frame.Cols(),
		Height:    frame.Rows(),
		Occupied:  occupancy.OccupiedCount(states),
		Total:     len(states),
	}
	for _, s := range wanted {
		s.Publish(encoded)
		r.metrics.FramesPublished.Add(1)
	}
	return nil
}
