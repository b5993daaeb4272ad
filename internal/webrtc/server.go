package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dj-oyu/parking-monitor/internal/logger"
	"github.com/dj-oyu/parking-monitor/internal/occupancy"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

// ChannelLabel is the data channel browsers open to receive occupancy.
const ChannelLabel = "occupancy"

// ErrClientLimit is returned when an offer arrives while the server is full.
var ErrClientLimit = errors.New("maximum clients reached")

// textSender is the part of *webrtc.DataChannel used to push updates
type textSender interface {
	SendText(s string) error
}

// Client represents a connected WebRTC client
type Client struct {
	id       string
	peerConn *webrtc.PeerConnection
	sendChan chan []byte
	close    chan struct{}
	ready    bool
	sent     uint64
	dropped  uint64
}

// Server pushes occupancy updates to browsers over data channels
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
}

// NewServer creates a new WebRTC server
func NewServer(stunServers []string, maxClients int) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		if url == "" {
			continue
		}
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
	}
}

// HandleOffer handles a WebRTC offer and returns an answer
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.SDP == "" {
		return nil, fmt.Errorf("offer has no SDP")
	}

	if s.GetClientCount() >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrClientLimit, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:       uuid.NewString(),
		peerConn: peerConn,
		sendChan: make(chan []byte, 8),
		close:    make(chan struct{}),
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			logger.Debug("WebRTC", "Client %s opened unexpected channel %q", client.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			s.clientsMu.Lock()
			client.ready = true
			s.clientsMu.Unlock()
			logger.Info("WebRTC", "Client %s data channel open", client.id)
			go s.sendLoop(client, dc)
		})
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())

		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (%s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)

	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	<-gatherComplete
	logger.Debug("WebRTC", "ICE gathering complete for client %s", client.id)

	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.clientsMu.Unlock()

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("no local description available")
	}

	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	logger.Info("WebRTC", "Client %s connected", client.id)
	return answerJSON, nil
}

// PublishStates pushes the latest states to every open data channel
func (s *Server) PublishStates(states []occupancy.SpaceState) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	if len(s.clients) == 0 {
		return
	}

	payload, err := json.Marshal(states)
	if err != nil {
		logger.Error("WebRTC", "JSON marshal error: %v", err)
		return
	}

	for _, client := range s.clients {
		if !client.ready {
			continue
		}
		select {
		case client.sendChan <- payload:
			client.sent++
		default:
			client.dropped++
		}
	}
}

func (s *Server) sendLoop(client *Client, dc textSender) {
	for {
		select {
		case <-client.close:
			return
		case payload := <-client.sendChan:
			if err := dc.SendText(string(payload)); err != nil {
				logger.Warn("WebRTC", "Send to client %s failed: %v", client.id, err)
				return
			}
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()

	if !exists {
		return
	}
	s.closeClient(client)
}

func (s *Server) closeClient(client *Client) {
	close(client.close)
	if client.peerConn != nil {
		client.peerConn.Close()
	}
	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)",
		client.id, client.sent, client.dropped)
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for id, c := range s.clients {
		clients = append(clients, c)
		delete(s.clients, id)
	}
	s.clientsMu.Unlock()

	for _, c := range clients {
		s.closeClient(c)
	}
	return nil
}
