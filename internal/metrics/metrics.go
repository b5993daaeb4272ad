package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/parking-monitor/internal/occupancy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gonum.org/v1/gonum/stat"
)

// latencyWindow is the number of classify latencies kept for mean/stddev.
const latencyWindow = 120

// Metrics holds all application metrics
type Metrics struct {
	// Frame pipeline counters
	FramesRead       atomic.Uint64
	FramesClassified atomic.Uint64
	FramesPublished  atomic.Uint64
	FramesDropped    atomic.Uint64 // dropped for slow stream clients
	Rewinds          atomic.Uint64

	// Error counters
	BadFrames      atomic.Uint64
	EncodeErrors   atomic.Uint64
	RecorderErrors atomic.Uint64

	// Occupancy
	SpacesTotal    atomic.Uint64
	SpacesOccupied atomic.Uint64

	// Clients
	StreamClients atomic.Uint64
	WebRTCClients atomic.Uint64

	latencyMu sync.Mutex
	latencies []float64 // milliseconds, ring buffer
	latencyAt int

	spaceCount    *prometheus.GaugeVec
	spaceOccupied *prometheus.GaugeVec

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		latencies: make([]float64, 0, latencyWindow),
		spaceCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parking_space_pixel_count",
			Help: "Foreground pixel count of each space in the last classified frame",
		}, []string{"space"}),
		spaceOccupied: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parking_space_occupied",
			Help: "Occupancy of each space in the last classified frame (0=free, 1=occupied)",
		}, []string{"space"}),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.counter("parking_frames_read_total", "Total frames read from the video source", &m.FramesRead)
	m.counter("parking_frames_classified_total", "Total frames classified", &m.FramesClassified)
	m.counter("parking_frames_published_total", "Total annotated frames published to sinks", &m.FramesPublished)
	m.counter("parking_frames_dropped_total", "Total frames dropped for slow stream clients", &m.FramesDropped)
	m.counter("parking_source_rewinds_total", "Total rewinds of the video source", &m.Rewinds)
	m.counter("parking_bad_frames_total", "Total frames skipped because they could not be decoded", &m.BadFrames)
	m.counter("parking_encode_errors_total", "Total frames skipped because JPEG encoding failed", &m.EncodeErrors)
	m.counter("parking_recorder_errors_total", "Total recorder write errors", &m.RecorderErrors)

	m.gauge("parking_spaces_total", "Number of configured spaces",
		func() float64 { return float64(m.SpacesTotal.Load()) })
	m.gauge("parking_spaces_occupied", "Occupied spaces in the last classified frame",
		func() float64 { return float64(m.SpacesOccupied.Load()) })
	m.gauge("parking_stream_clients", "Connected MJPEG and SSE clients",
		func() float64 { return float64(m.StreamClients.Load()) })
	m.gauge("parking_webrtc_clients", "Connected WebRTC data channel clients",
		func() float64 { return float64(m.WebRTCClients.Load()) })
	m.gauge("parking_classify_latency_mean_ms", "Mean classification latency over the recent window",
		func() float64 { mean, _ := m.ClassifyLatency(); return mean })
	m.gauge("parking_classify_latency_stddev_ms", "Standard deviation of classification latency over the recent window",
		func() float64 { _, std := m.ClassifyLatency(); return std })

	m.registry.MustRegister(m.spaceCount, m.spaceOccupied)
}

// ObserveStates records the result of one classified frame.
func (m *Metrics) ObserveStates(states []occupancy.SpaceState, took time.Duration) {
	m.FramesClassified.Add(1)
	m.SpacesTotal.Store(uint64(len(states)))
	m.SpacesOccupied.Store(uint64(occupancy.OccupiedCount(states)))

	for _, s := range states {
		label := strconv.Itoa(s.ID)
		m.spaceCount.WithLabelValues(label).Set(float64(s.Count))
		occupied := 0.0
		if s.Occupied {
			occupied = 1
		}
		m.spaceOccupied.WithLabelValues(label).Set(occupied)
	}

	m.latencyMu.Lock()
	ms := float64(took.Microseconds()) / 1000
	if len(m.latencies) < latencyWindow {
		m.latencies = append(m.latencies, ms)
	} else {
		m.latencies[m.latencyAt] = ms
	}
	m.latencyAt = (m.latencyAt + 1) % latencyWindow
	m.latencyMu.Unlock()
}

// ClassifyLatency returns mean and standard deviation in milliseconds over
// the recent window.
func (m *Metrics) ClassifyLatency() (mean, std float64) {
	m.latencyMu.Lock()
	defer m.latencyMu.Unlock()

	switch len(m.latencies) {
	case 0:
		return 0, 0
	case 1:
		return m.latencies[0], 0
	}
	return stat.MeanStdDev(m.latencies, nil)
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
