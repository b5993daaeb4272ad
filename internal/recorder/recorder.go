package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dj-oyu/parking-monitor/internal/logger"
	"github.com/dj-oyu/parking-monitor/internal/metrics"
	"github.com/dj-oyu/parking-monitor/pkg/types"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// Recorder writes annotated JPEG frames back to back into an .mjpeg clip
type Recorder struct {
	mu           sync.RWMutex
	file         *os.File
	filename     string
	basePath     string
	recording    bool
	frameCount   uint64
	bytesWritten uint64
	writeErrors  uint64
	startTime    time.Time
	frameChan    chan *types.EncodedFrame
	done         chan struct{}
	wg           sync.WaitGroup
	metrics      *metrics.Metrics
}

// NewRecorder creates a new recorder
func NewRecorder(basePath string) *Recorder {
	return &Recorder{
		basePath: basePath,
	}
}

// SetMetrics reports write errors to m. Call before the first Start.
func (r *Recorder) SetMetrics(m *metrics.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// Start starts recording to a new file
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return ErrAlreadyRecording
	}

	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create recording directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("recording_%s.mjpeg", timestamp)
	file, err := os.Create(filepath.Join(r.basePath, filename))
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	r.file = file
	r.filename = filename
	r.recording = true
	r.frameCount = 0
	r.bytesWritten = 0
	r.writeErrors = 0
	r.startTime = time.Now()
	r.frameChan = make(chan *types.EncodedFrame, 60) // ~2 seconds at 30fps
	r.done = make(chan struct{})

	r.wg.Add(1)
	go r.writeFrames(r.frameChan, r.done)

	logger.Info("Recorder", "Recording to %s", filename)
	return nil
}

// Stop stops recording and closes the clip
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.recording = false
	close(r.done)
	r.mu.Unlock()

	// Wait for write goroutine to drain
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		if err := r.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync file: %w", err)
		}
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("failed to close file: %w", err)
		}
		r.file = nil
	}

	logger.Info("Recorder", "Stopped %s (%d frames, %d bytes)", r.filename, r.frameCount, r.bytesWritten)
	return nil
}

// Wants reports whether the recorder needs encoded frames.
func (r *Recorder) Wants() bool {
	return r.IsRecording()
}

// Publish hands a frame to the recorder without blocking. Frames are dropped
// when the writer falls behind.
func (r *Recorder) Publish(frame *types.EncodedFrame) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.recording {
		return
	}

	select {
	case r.frameChan <- frame:
	default:
	}
}

func (r *Recorder) writeFrames(frames <-chan *types.EncodedFrame, done <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case frame := <-frames:
			r.writeFrame(frame)
		case <-done:
			// Drain remaining frames
			for {
				select {
				case frame := <-frames:
					r.writeFrame(frame)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) writeFrame(frame *types.EncodedFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return
	}

	n, err := r.file.Write(frame.Data)
	if err != nil {
		r.writeErrors++
		if r.metrics != nil {
			r.metrics.RecorderErrors.Add(1)
		}
		logger.Warn("Recorder", "Write failed for frame #%d: %v", frame.FrameNum, err)
		return
	}

	r.bytesWritten += uint64(n)
	r.frameCount++
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// Status returns the current recording status
func (r *Recorder) Status() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}

	return RecordingStatus{
		Recording:    r.recording,
		Filename:     r.filename,
		FrameCount:   r.frameCount,
		BytesWritten: r.bytesWritten,
		WriteErrors:  r.writeErrors,
		DurationMs:   duration.Milliseconds(),
		StartTime:    r.startTime,
	}
}

// Close stops an active recording
func (r *Recorder) Close() error {
	if r.IsRecording() {
		return r.Stop()
	}
	return nil
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording    bool      `json:"recording"`
	Filename     string    `json:"filename"`
	FrameCount   uint64    `json:"frame_count"`
	BytesWritten uint64    `json:"bytes_written"`
	WriteErrors  uint64    `json:"write_errors"`
	DurationMs   int64     `json:"duration_ms"`
	StartTime    time.Time `json:"start_time"`
}
