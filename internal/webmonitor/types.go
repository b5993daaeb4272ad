package webmonitor

import (
	"github.com/dj-oyu/parking-monitor/internal/occupancy"
	"github.com/dj-oyu/parking-monitor/internal/recorder"
)

// StateProvider returns the most recent classification.
type StateProvider interface {
	Snapshot() []occupancy.SpaceState
}

// Recorder is the clip recorder controlled over HTTP.
type Recorder interface {
	Start() error
	Stop() error
	IsRecording() bool
	Status() recorder.RecordingStatus
}

// OfferHandler answers WebRTC offers.
type OfferHandler interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
	GetClientCount() int
}

// LatencyReporter exposes classify latency statistics.
type LatencyReporter interface {
	ClassifyLatency() (mean, std float64)
}

// HealthStatus is the /health payload.
type HealthStatus struct {
	Status        string      `json:"status"`
	Spaces        int         `json:"spaces"`
	Occupied      int         `json:"occupied"`
	StreamClients int         `json:"stream_clients"`
	StateClients  int         `json:"state_clients"`
	WebRTCClients int         `json:"webrtc_clients"`
	Recording     bool        `json:"recording"`
	FeedRunning   bool        `json:"feed_running"`
	Latency       LatencyInfo `json:"classify_latency_ms"`
}

// LatencyInfo is mean and standard deviation in milliseconds.
type LatencyInfo struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// pageData feeds the HTML templates.
type pageData struct {
	Title  string
	Spaces []occupancy.Space
}
