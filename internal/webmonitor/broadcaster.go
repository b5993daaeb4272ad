package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/dj-oyu/parking-monitor/internal/logger"
	"github.com/dj-oyu/parking-monitor/internal/metrics"
	"github.com/dj-oyu/parking-monitor/internal/occupancy"
	"github.com/dj-oyu/parking-monitor/pkg/types"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// FrameBroadcaster manages fanout of JPEG frames to multiple clients.
// It is a feed sink: the feed only encodes frames while someone is subscribed.
type FrameBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *types.EncodedFrame
	nextID  int
	buffer  int
	closed  bool
	metrics *metrics.Metrics
}

// NewFrameBroadcaster creates a broadcaster with a per-client buffer. m may be nil.
func NewFrameBroadcaster(buffer int, m *metrics.Metrics) *FrameBroadcaster {
	if buffer <= 0 {
		buffer = 2
	}
	return &FrameBroadcaster{
		clients: make(map[int]chan *types.EncodedFrame),
		buffer:  buffer,
		metrics: m,
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
// After Close the returned channel is already closed.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan *types.EncodedFrame) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	ch := make(chan *types.EncodedFrame, fb.buffer)
	if fb.closed {
		close(ch)
		return -1, ch
	}

	id := fb.nextID
	fb.nextID++
	fb.clients[id] = ch
	if fb.metrics != nil {
		fb.metrics.StreamClients.Add(1)
	}

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		if fb.metrics != nil {
			fb.metrics.StreamClients.Add(^uint64(0))
		}
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))

		if len(fb.clients) == 0 {
			logger.Info("FrameBroadcaster", "No clients remaining - frame encoding will be skipped")
		}
	}
}

// Wants reports whether any client is subscribed.
func (fb *FrameBroadcaster) Wants() bool {
	return fb.ClientCount() > 0
}

// ClientCount returns the number of subscribed clients.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Publish delivers a frame to every client, skipping clients whose buffer is full.
func (fb *FrameBroadcaster) Publish(frame *types.EncodedFrame) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- frame:
		default:
			// Client too slow, skip this frame for this client
			if fb.metrics != nil {
				fb.metrics.FramesDropped.Add(1)
			}
		}
	}
}

// Close ends every stream. Later subscribers get a closed channel.
func (fb *FrameBroadcaster) Close() {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.closed {
		return
	}
	fb.closed = true
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
		if fb.metrics != nil {
			fb.metrics.StreamClients.Add(^uint64(0))
		}
	}
	logger.Info("FrameBroadcaster", "Closed all streams")
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// StateBroadcaster fans occupancy updates out to SSE clients.
type StateBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	closed  bool
	metrics *metrics.Metrics
}

// NewStateBroadcaster creates a broadcaster for state events. m may be nil.
func NewStateBroadcaster(m *metrics.Metrics) *StateBroadcaster {
	return &StateBroadcaster{
		clients: make(map[int]chan *SerializedEvent),
		metrics: m,
	}
}

// Subscribe adds a new client and returns a channel for receiving state events.
func (sb *StateBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	ch := make(chan *SerializedEvent, 2)
	if sb.closed {
		close(ch)
		return -1, ch
	}

	id := sb.nextID
	sb.nextID++
	sb.clients[id] = ch
	if sb.metrics != nil {
		sb.metrics.StreamClients.Add(1)
	}

	logger.Debug("StateBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(sb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (sb *StateBroadcaster) Unsubscribe(id int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ch, ok := sb.clients[id]; ok {
		close(ch)
		delete(sb.clients, id)
		if sb.metrics != nil {
			sb.metrics.StreamClients.Add(^uint64(0))
		}
		logger.Debug("StateBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(sb.clients))
	}
}

// ClientCount returns the number of subscribed clients.
func (sb *StateBroadcaster) ClientCount() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return len(sb.clients)
}

// PublishStates serializes states once and broadcasts them.
func (sb *StateBroadcaster) PublishStates(states []occupancy.SpaceState) {
	if sb.ClientCount() == 0 {
		return
	}

	event, err := serializeStates(states)
	if err != nil {
		logger.Error("StateBroadcaster", "Serialize error: %v", err)
		return
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	for _, ch := range sb.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, it will get the next update
		}
	}
}

// Close ends every state stream.
func (sb *StateBroadcaster) Close() {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.closed {
		return
	}
	sb.closed = true
	for id, ch := range sb.clients {
		close(ch)
		delete(sb.clients, id)
		if sb.metrics != nil {
			sb.metrics.StreamClients.Add(^uint64(0))
		}
	}
}

func serializeStates(states []occupancy.SpaceState) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(nonNil(states))
	if err != nil {
		return nil, err
	}

	pbData, err := marshalStatesProto(states)
	if err != nil {
		return nil, err
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// statesToProto converts states to a protobuf ListValue with the same
// field names as the JSON payload.
func statesToProto(states []occupancy.SpaceState) (*structpb.ListValue, error) {
	items := make([]interface{}, len(states))
	for i, s := range states {
		items[i] = map[string]interface{}{
			"id":      s.ID,
			"ocupado": s.Occupied,
			"count":   s.Count,
		}
	}
	return structpb.NewList(items)
}

func marshalStatesProto(states []occupancy.SpaceState) ([]byte, error) {
	list, err := statesToProto(states)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(list)
}

func nonNil(states []occupancy.SpaceState) []occupancy.SpaceState {
	if states == nil {
		return []occupancy.SpaceState{}
	}
	return states
}
