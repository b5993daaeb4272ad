package webmonitor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/dj-oyu/parking-monitor/internal/logger"
	"github.com/dj-oyu/parking-monitor/pkg/types"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

func writeSSE(w http.ResponseWriter, data []byte) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// placeholderJPEG renders the frame sent while no classified frame is available.
func placeholderJPEG(width, height int, text string) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 32, G: 32, B: 32, A: 255}}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 230, G: 230, B: 230, A: 255}),
		Face: face,
	}
	textWidth := d.MeasureString(text).Ceil()
	d.Dot = fixed.P((width-textWidth)/2, height/2)
	d.DrawString(text)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeMJPEGPart(w http.ResponseWriter, data []byte) error {
	if _, err := w.Write([]byte(types.MJPEGPartHeader)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte(types.MJPEGPartTrailer))
	return err
}

// streamMJPEGFromChannel streams MJPEG from a channel (fanout pattern).
// It returns when the channel closes, the client goes away, or ctx ends.
func streamMJPEGFromChannel(ctx context.Context, w http.ResponseWriter, frameCh <-chan *types.EncodedFrame, placeholder []byte, keepAlive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", types.MJPEGContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	timer := time.NewTimer(keepAlive)
	defer timer.Stop()

	for {
		var jpegData []byte
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frameCh:
			if !ok {
				// Feed ended, client should disconnect
				return
			}
			jpegData = frame.Data
		case <-timer.C:
			// No frame for a while, send placeholder to keep connection alive
			jpegData = placeholder
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(keepAlive)

		if len(jpegData) == 0 {
			continue
		}
		if err := writeMJPEGPart(w, jpegData); err != nil {
			logger.Debug("MJPEG", "Client disconnected during write: %v", err)
			return
		}
		flusher.Flush()
	}
}

// streamStatesFromChannel streams pre-serialized state events to an SSE client.
// initial is sent first so the client does not wait for the next frame.
func streamStatesFromChannel(ctx context.Context, w http.ResponseWriter, eventCh <-chan *SerializedEvent, initial *SerializedEvent, useProtobuf bool, keepAlive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}

	pick := func(event *SerializedEvent) []byte {
		if useProtobuf {
			return event.ProtobufData
		}
		return event.JSONData
	}

	if initial != nil {
		if err := writeSSE(w, pick(initial)); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if err := writeSSE(w, pick(event)); err != nil {
				logger.Debug("SSE", "Client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
