package webmonitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/parking-monitor/internal/logger"
	"github.com/dj-oyu/parking-monitor/internal/occupancy"
	"github.com/dj-oyu/parking-monitor/internal/recorder"
	"github.com/dj-oyu/parking-monitor/internal/webrtc"
)

const maxOfferBytes = 64 << 10

// Deps are the components the server reads from. Recorder, WebRTC and
// Latency are optional.
type Deps struct {
	States   StateProvider
	Spaces   []occupancy.Space
	Frames   *FrameBroadcaster
	Events   *StateBroadcaster
	Recorder Recorder
	WebRTC   OfferHandler
	Latency  LatencyReporter
}

// Server serves the parking monitor endpoints.
type Server struct {
	cfg         Config
	deps        Deps
	placeholder []byte
	feedRunning atomic.Bool
}

// NewServer returns a configured monitor server.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.States == nil {
		return nil, errors.New("webmonitor: state provider is required")
	}
	if deps.Frames == nil {
		deps.Frames = NewFrameBroadcaster(cfg.ClientBuffer, nil)
	}
	if deps.Events == nil {
		deps.Events = NewStateBroadcaster(nil)
	}
	cfg = cfg.withDefaults()

	placeholder, err := placeholderJPEG(640, 360, "NO SIGNAL")
	if err != nil {
		return nil, fmt.Errorf("render placeholder: %w", err)
	}

	s := &Server{
		cfg:         cfg,
		deps:        deps,
		placeholder: placeholder,
	}
	s.feedRunning.Store(true)
	return s, nil
}

// FeedStopped marks the feed as terminated and ends every video stream.
func (s *Server) FeedStopped(err error) {
	if !s.feedRunning.Swap(false) {
		return
	}
	if err != nil {
		logger.Error("WebMonitor", "Feed stopped: %v", err)
	} else {
		logger.Info("WebMonitor", "Feed stopped")
	}
	s.deps.Frames.Close()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	assets := newAssetHandler(s.cfg.AssetsDir)

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/mapa", s.handleMapa)
	mux.Handle("/assets/", http.StripPrefix("/assets/", assets))
	mux.HandleFunc("/video_feed", s.handleStream)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/estado_espacios", s.handleStates)
	mux.HandleFunc("/estado_espacios/stream", s.handleStatesStream)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("/api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("/api/recording/status", s.handleRecordingStatus)
	mux.HandleFunc("/offer", s.handleWebRTCOffer)

	return s.withCORS(mux)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	if len(s.cfg.AllowedOrigins) == 0 {
		return next
	}
	allowed := make(map[string]bool, len(s.cfg.AllowedOrigins))
	for _, o := range s.cfg.AllowedOrigins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed["*"] || allowed[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
			w.Header().Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) renderPage(w http.ResponseWriter, name string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := pageData{Title: s.cfg.Title, Spaces: s.deps.Spaces}
	if err := pageTemplates.ExecuteTemplate(w, name, data); err != nil {
		logger.Error("WebMonitor", "Render %s: %v", name, err)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.renderPage(w, "index")
}

func (s *Server) handleMapa(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, "mapa")
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.deps.Frames.Subscribe()
	if id >= 0 {
		defer s.deps.Frames.Unsubscribe(id)
	}
	streamMJPEGFromChannel(r.Context(), w, frameCh, s.placeholder, s.cfg.KeepAlive)
}

func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	states := s.deps.States.Snapshot()
	if !wantsProtobuf(r) {
		writeJSON(w, nonNil(states))
		return
	}

	data, err := marshalStatesProto(states)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/protobuf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleStatesStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.deps.Events.Subscribe()
	if id >= 0 {
		defer s.deps.Events.Unsubscribe(id)
	}

	initial, err := serializeStates(s.deps.States.Snapshot())
	if err != nil {
		logger.Warn("WebMonitor", "Serialize initial states: %v", err)
		initial = nil
	}
	streamStatesFromChannel(r.Context(), w, eventCh, initial, wantsProtobuf(r), s.cfg.KeepAlive)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	states := s.deps.States.Snapshot()
	status := HealthStatus{
		Status:        "ok",
		Spaces:        len(states),
		Occupied:      occupancy.OccupiedCount(states),
		StreamClients: s.deps.Frames.ClientCount(),
		StateClients:  s.deps.Events.ClientCount(),
		FeedRunning:   s.feedRunning.Load(),
	}
	if !status.FeedRunning {
		status.Status = "degraded"
	}
	if s.deps.WebRTC != nil {
		status.WebRTCClients = s.deps.WebRTC.GetClientCount()
	}
	if s.deps.Recorder != nil {
		status.Recording = s.deps.Recorder.IsRecording()
	}
	if s.deps.Latency != nil {
		mean, std := s.deps.Latency.ClassifyLatency()
		status.Latency = LatencyInfo{Mean: mean, StdDev: std}
	}
	writeJSON(w, status)
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recorder is not configured"}, http.StatusServiceUnavailable)
		return
	}

	if err := s.deps.Recorder.Start(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, recorder.ErrAlreadyRecording) {
			status = http.StatusConflict
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}

	st := s.deps.Recorder.Status()
	writeJSON(w, map[string]any{
		"status":     "recording",
		"file":       st.Filename,
		"started_at": float64(st.StartTime.Unix()),
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recorder is not configured"}, http.StatusServiceUnavailable)
		return
	}

	before := s.deps.Recorder.Status()
	if err := s.deps.Recorder.Stop(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, recorder.ErrNotRecording) {
			status = http.StatusConflict
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}

	writeJSON(w, map[string]any{
		"status":     "stopped",
		"file":       before.Filename,
		"stats":      s.deps.Recorder.Status(),
		"stopped_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recorder == nil {
		writeJSON(w, recorder.RecordingStatus{})
		return
	}
	writeJSON(w, s.deps.Recorder.Status())
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.WebRTC == nil {
		writeJSONWithStatus(w, map[string]any{"error": "webrtc is not configured"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxOfferBytes))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}
	if payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.deps.WebRTC.HandleOffer(body)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, webrtc.ErrClientLimit) {
			status = http.StatusServiceUnavailable
		}
		logger.Warn("WebMonitor", "WebRTC offer rejected: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(answer)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
