// Package source wraps a gocv capture as an endless frame sequence. A
// recording that reaches its end is rewound to the first frame so it can
// stand in for a live camera.
package source

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/dj-oyu/parking-monitor/internal/logger"
	"gocv.io/x/gocv"
)

var (
	// ErrBadFrame means a read succeeded but produced no pixels. Skip it.
	ErrBadFrame = errors.New("frame could not be decoded")
	// ErrUnreadable means the source failed even right after a rewind.
	ErrUnreadable = errors.New("video source unreadable")
)

// Capture is the subset of *gocv.VideoCapture the source needs.
type Capture interface {
	Read(m *gocv.Mat) bool
	Set(prop gocv.VideoCaptureProperties, param float64)
	IsOpened() bool
	Close() error
}

// Open opens a device when uri is an integer and a file or URL otherwise.
func Open(uri string) (*Looping, error) {
	var target interface{} = uri
	if id, err := strconv.Atoi(uri); err == nil {
		target = id
	}

	vc, err := gocv.OpenVideoCapture(target)
	if err != nil {
		return nil, fmt.Errorf("failed to open video source %q: %w", uri, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("video source %q did not open", uri)
	}
	return NewLooping(vc), nil
}

// Looping pulls frames sequentially and rewinds at end of stream.
type Looping struct {
	mu      sync.Mutex
	capture Capture
	frames  uint64
	rewinds uint64
}

// NewLooping wraps an already opened capture.
func NewLooping(c Capture) *Looping {
	return &Looping{capture: c}
}

// Next reads the next frame into dst.
func (l *Looping) Next(dst *gocv.Mat) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.capture.Read(dst) {
		// End of stream: rewind and try once more.
		l.capture.Set(gocv.VideoCapturePosFrames, 0)
		l.rewinds++
		logger.Debug("Source", "End of stream after %d frames, rewound (rewinds=%d)", l.frames, l.rewinds)
		if !l.capture.Read(dst) {
			return ErrUnreadable
		}
	}

	if dst.Empty() {
		return ErrBadFrame
	}
	l.frames++
	return nil
}

// Frames returns the number of frames delivered.
func (l *Looping) Frames() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames
}

// Rewinds returns how many times the source wrapped around.
func (l *Looping) Rewinds() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rewinds
}

// Close releases the underlying capture.
func (l *Looping) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capture.Close()
}
