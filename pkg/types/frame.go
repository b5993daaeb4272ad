package types

import "time"

// EncodedFrame is one annotated frame ready for delivery
type EncodedFrame struct {
	Data      []byte    // JPEG bytes
	Timestamp time.Time // Classification time
	FrameNum  uint64    // Sequential frame number since start
	Width     int       // Frame width
	Height    int       // Frame height
	Occupied  int       // Occupied spaces in this frame
	Total     int       // Total spaces
}

// MJPEG multipart framing used by the HTTP stream
const (
	MJPEGBoundary    = "frame"
	MJPEGContentType = "multipart/x-mixed-replace; boundary=" + MJPEGBoundary
	MJPEGPartHeader  = "--" + MJPEGBoundary + "\r\nContent-Type: image/jpeg\r\n\r\n"
	MJPEGPartTrailer = "\r\n"
)
